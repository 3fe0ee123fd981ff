package logger

import (
	"log/slog"
	"sync/atomic"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// sampledOut — сколько записей zap отбросил сэмплером с момента старта.
var sampledOut atomic.Uint64

func SampledOut() uint64 { return sampledOut.Load() }

func newZapHandler(cfg Config) slog.Handler {
	lvl := cfg.level()

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(cfg.Output)), zap.NewAtomicLevelAt(toZapLevel(lvl)))

	// шторм событий подписки не должен забить stderr
	first, thereafter := cfg.SampleInitial, cfg.SampleThereafter
	if first <= 0 {
		first = 100
	}
	if thereafter <= 0 {
		thereafter = 10
	}
	core = zapcore.NewSamplerWithOptions(core, time.Second, first, thereafter,
		zapcore.SamplerHook(func(_ zapcore.Entry, dec zapcore.SamplingDecision) {
			if dec&zapcore.LogDropped != 0 {
				sampledOut.Add(1)
			}
		}),
	)

	opts := []zap.Option{zap.ErrorOutput(zapcore.AddSync(cfg.Output))}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	return slogzap.Option{Level: lvl, Logger: zap.New(core, opts...)}.NewZapHandler()
}

func toZapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl < slog.LevelInfo:
		return zapcore.DebugLevel
	case lvl < slog.LevelWarn:
		return zapcore.InfoLevel
	case lvl < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
