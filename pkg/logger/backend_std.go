package logger

import (
	"log/slog"
)

// В dev пишем текст, в stage/prod JSON.
func newStdHandler(cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     cfg.level(),
		AddSource: cfg.AddSource,
	}
	if cfg.Env == EnvDev {
		return slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.NewJSONHandler(cfg.Output, opts)
}
