package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cwrk-planet/chat-client/config"
	"github.com/cwrk-planet/chat-client/pkg/logger"

	"github.com/docopt/docopt-go"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const version = "0.1.0"

const usage = `Chat client for a GraphQL chat endpoint.

Usage:
    chatclient rooms [--config=<path>]
    chatclient open <room_id>... [--config=<path>]
    chatclient send <room_id> <text> [--config=<path>]
    chatclient -h | --help
    chatclient --version

In "open" mode every line read from stdin is sent to the first room.

Options:
    -h --help         Show this screen.
    --version         Show version.
    --config=<path>   Config file. Default: $CONFIG_PATH or ./config/config.yaml.`

// errUsage: неверные аргументы, код выхода 2.
var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		slog.Error("chatclient stopped with error", "err", err)
		os.Exit(1)
	}
}

// run выполняет команду. Все defer отрабатывают до выхода из процесса.
func run(args []string) error {
	opts, err := docopt.ParseArgs(usage, args, version)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	// 1) config
	cfgPath, _ := opts.String("--config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2) logger (stderr: stdout занят лентой сообщений)
	logger.Init(loggerConfig(cfg))

	// 3) tracing: без экспортёра, ради trace_id/span_id в логах
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ids, err := roomIDs(opts["<room_id>"])
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("client init failed: %w", err)
	}
	defer a.close()

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case flag(opts, "rooms"):
		err = a.listRooms(ctx, os.Stdout)
	case flag(opts, "open"):
		err = a.open(ctx, ids, os.Stdin, os.Stdout)
	case flag(opts, "send"):
		text, _ := opts.String("<text>")
		err = a.send(ctx, ids[0], text, os.Stdout)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loggerConfig: пустые env/backend оставляем логгеру (APP_ENV, backend по среде).
func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	}
}

func flag(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

// roomIDs: docopt отдаёт string для одиночного аргумента и []string для <room_id>...
func roomIDs(v any) ([]int, error) {
	var raw []string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []string{t}
	case []string:
		raw = t
	default:
		return nil, fmt.Errorf("unexpected <room_id> value %T", v)
	}

	ids := make([]int, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.Atoi(s)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid room id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
