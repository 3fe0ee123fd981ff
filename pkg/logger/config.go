package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

type Backend string

const (
	BackendStd Backend = "std" // text в dev; JSON в stage/prod
	BackendZap Backend = "zap" // slog-zap
)

type Config struct {
	// Метаданные для логгера
	Service    string
	Version    string
	InstanceID string

	// Управление выводом
	Level   slog.Level
	Env     Env
	Backend Backend // default: zap для stage/prod, std для dev
	Debug   bool

	// Output: куда пишем логи. stdout занят чатом, поэтому по умолчанию stderr.
	Output io.Writer

	// Zap sampling
	SampleInitial    int
	SampleThereafter int

	AddSource bool
}

func (c Config) level() slog.Level {
	if c.Debug && c.Level == 0 {
		return slog.LevelDebug
	}
	return c.Level
}

// withInstanceID: hostname + короткий uuid, если id не задан явно.
func (c Config) withInstanceID() Config {
	if c.InstanceID == "" {
		hn, _ := os.Hostname()
		c.InstanceID = hn + "-" + uuid.NewString()[:8]
	}
	return c
}

// attrs возвращает общие поля каждой записи.
func (c Config) attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("service", c.Service),
		slog.String("env", string(c.Env)),
		slog.String("version", c.Version),
		slog.String("instance_id", c.InstanceID),
		slog.Time("started_at", time.Now()),
	}
}
