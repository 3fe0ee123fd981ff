package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/cwrk-planet/chat-client/config"
	"github.com/cwrk-planet/chat-client/internal/cache"
	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/metrics"
	serverhttp "github.com/cwrk-planet/chat-client/internal/server/http"
	"github.com/cwrk-planet/chat-client/internal/service"
	"github.com/cwrk-planet/chat-client/internal/subscription"
	gqlhttp "github.com/cwrk-planet/chat-client/internal/transport/http"
	"github.com/cwrk-planet/chat-client/internal/transport/ws"
	"github.com/cwrk-planet/chat-client/internal/view"
	"github.com/cwrk-planet/chat-client/pkg/errs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

type app struct {
	cfg *config.Config
	reg *prometheus.Registry

	store *cache.Store
	subs  *subscription.Manager
	rooms *service.RoomService
	chat  *service.ChatService

	closeOnce sync.Once
}

func newApp(cfg *config.Config) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client, err := gqlhttp.New(gqlhttp.Options{
		Endpoint: cfg.Endpoint.HTTP,
		Timeout:  cfg.Endpoint.Timeout,
	})
	if err != nil {
		return nil, err
	}
	dialer, err := ws.NewDialer(ws.Options{
		URL:        cfg.Endpoint.WS,
		AckTimeout: cfg.Subscription.AckTimeout,
		PingEvery:  cfg.Subscription.PingEvery,
	})
	if err != nil {
		return nil, err
	}

	store := cache.New()
	subs := subscription.NewManager(dialer, store, subscription.Options{
		Retry: subscription.RetryPolicy{
			InitialInterval: cfg.Subscription.Retry.InitialInterval,
			MaxInterval:     cfg.Subscription.Retry.MaxInterval,
			Multiplier:      cfg.Subscription.Retry.Multiplier,
			MaxElapsedTime:  cfg.Subscription.Retry.MaxElapsedTime,
		},
		Metrics: m,
	})

	return &app{
		cfg:   cfg,
		reg:   reg,
		store: store,
		subs:  subs,
		rooms: service.NewRoomService(client, subs, store),
		chat: service.NewChatService(client, service.ChatOptions{
			UserID:           cfg.Client.UserID,
			MaxMessageLength: cfg.Client.MaxMessageLength,
			Metrics:          m,
		}),
	}, nil
}

func (a *app) close() {
	a.closeOnce.Do(func() {
		a.rooms.Close()
		a.subs.Close()
	})
}

func (a *app) listRooms(ctx context.Context, out io.Writer) error {
	rooms, err := a.rooms.ListRooms(ctx)
	if err != nil {
		return err
	}
	return view.RoomList(out, rooms)
}

func (a *app) send(ctx context.Context, roomID int, text string, out io.Writer) error {
	if err := a.chat.Send(ctx, roomID, text); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, "sent")
	return err
}

// open открывает комнаты, печатает их ленты и отправляет строки из in
// в первую комнату. Работает до отмены ctx.
func (a *app) open(ctx context.Context, ids []int, in io.Reader, out io.Writer) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no rooms to open", errs.ErrInvalidInput)
	}

	g, ctx := errgroup.WithContext(ctx)
	defer a.rooms.Close()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := serverhttp.New(serverhttp.Config{Addr: addr}, serverhttp.NewRouter(serverhttp.Deps{
			Subscriptions: a.subs,
			Gatherer:      a.reg,
		}))
		g.Go(func() error { return srv.Run(ctx) })
	}

	for _, id := range ids {
		room, err := a.rooms.OpenRoom(ctx, id)
		if err != nil {
			return err
		}
		th := view.NewThread(out, id, len(ids) > 1)
		updates, cancel := room.Watch()

		g.Go(func() error {
			defer cancel()
			for {
				select {
				case res, ok := <-updates:
					if !ok {
						return nil
					}
					if _, err := th.Render(res); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	draft := a.chat.NewDraft(ids[0])
	lines := readLines(ctx, in)
	prompt := in == io.Reader(os.Stdin) && view.IsTerminal(os.Stdin)

	g.Go(func() error {
		for {
			if prompt {
				fmt.Fprint(os.Stderr, "> ")
			}
			select {
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				draft.Set(line)
				if err := draft.Submit(ctx); err != nil {
					if errors.Is(err, domain.ErrEmptyMessage) {
						continue
					}
					fmt.Fprintln(os.Stderr, "not sent:", err)
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	slog.Info("closing rooms", "rooms", a.rooms.OpenRooms())

	return err
}

// readLines читает строки в отдельной горутине: Read по stdin не отменяется.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
