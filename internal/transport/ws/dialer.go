// Package ws: клиент подписок GraphQL по протоколу graphql-transport-ws.
// Один сокет на одну подписку.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-client/internal/gql"
	"github.com/cwrk-planet/chat-client/pkg/errs"
	"github.com/cwrk-planet/chat-client/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Stream — поток результатов одной подписки.
type Stream interface {
	// Next блокирует до следующего результата. nil без ошибки означает пустой payload
	// (data: null или отсутствует).
	Next() (json.RawMessage, error)
	Close() error
}

type Options struct {
	URL        string        // ws://localhost:4010/graphql
	AckTimeout time.Duration // ожидание connection_ack
	PingEvery  time.Duration // keepalive ping
	Header     http.Header
}

type Dialer struct {
	url        string
	ackTimeout time.Duration
	pingEvery  time.Duration
	header     http.Header
	dialer     websocket.Dialer
}

func NewDialer(opts Options) (*Dialer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: ws dialer: empty url", errs.ErrInvalidInput)
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.PingEvery <= 0 {
		opts.PingEvery = 15 * time.Second
	}

	return &Dialer{
		url:        opts.URL,
		ackTimeout: opts.AckTimeout,
		pingEvery:  opts.PingEvery,
		header:     opts.Header,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.AckTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			Subprotocols:     []string{Subprotocol},
		},
	}, nil
}

// Subscribe: dial -> connection_init -> connection_ack -> subscribe -> ping/pong.
// Сервер обрабатывает сообщения сокета по порядку, поэтому pong после subscribe
// значит, что подписка на сервере уже зарегистрирована. Отмена ctx закрывает сокет.
func (d *Dialer) Subscribe(ctx context.Context, op gql.Operation, vars map[string]any) (Stream, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %v (status %d)", errs.ErrTransport, d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", errs.ErrTransport, d.url, err)
	}
	if conn.Subprotocol() != Subprotocol {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: server does not speak %s", errs.ErrTransport, Subprotocol)
	}

	s := newStream(conn, uuid.NewString(), d.pingEvery)
	s.log = logger.FromContext(ctx).With(slog.String("op", op.Name), slog.String("sub_id", s.id))

	if err := s.handshake(d.ackTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	msg, err := NewMessage(s.id, TypeSubscribe, gql.NewRequest(op, vars))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: encode subscribe: %v", errs.ErrInvalidInput, err)
	}
	if err := s.send(msg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", errs.ErrTransport, err)
	}
	if err := s.confirm(d.ackTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go s.keepalive(ctx)

	return s, nil
}

type stream struct {
	conn      *websocket.Conn
	id        string
	pingEvery time.Duration
	log       *slog.Logger

	sendMu  chan struct{}
	closed  chan struct{}
	pending []Message // пришли до pong в confirm
	once   sync.Once
	ctxErr error
}

func newStream(c *websocket.Conn, id string, pingEvery time.Duration) *stream {
	return &stream{
		conn:      c,
		id:        id,
		pingEvery: pingEvery,
		log:       logger.L(),
		sendMu:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (s *stream) handshake(ackTimeout time.Duration) error {
	if err := s.send(Message{Type: TypeConnectionInit}); err != nil {
		return fmt.Errorf("%w: connection_init: %v", errs.ErrTransport, err)
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(ackTimeout))
	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: waiting connection_ack: %v", errs.ErrTransport, err)
		}
		switch msg.Type {
		case TypeConnectionAck:
			s.conn.SetReadLimit(1 << 20)
			_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
			s.conn.SetPongHandler(func(string) error {
				return s.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
			})
			return nil
		case TypePing:
			if err := s.send(Message{Type: TypePong}); err != nil {
				return fmt.Errorf("%w: pong: %v", errs.ErrTransport, err)
			}
		default:
			return fmt.Errorf("%w: unexpected %q before connection_ack", errs.ErrTransport, msg.Type)
		}
	}
}

// confirm шлёт ping и ждёт pong. Сообщения подписки, пришедшие раньше pong,
// откладываются для Next.
func (s *stream) confirm(timeout time.Duration) error {
	if err := s.send(Message{Type: TypePing}); err != nil {
		return fmt.Errorf("%w: ping: %v", errs.ErrTransport, err)
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: waiting subscribe confirmation: %v", errs.ErrTransport, err)
		}
		switch {
		case msg.Type == TypePong:
			_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
			return nil
		case msg.Type == TypePing:
			if err := s.send(Message{Type: TypePong}); err != nil {
				return fmt.Errorf("%w: pong: %v", errs.ErrTransport, err)
			}
		case msg.ID == s.id:
			s.pending = append(s.pending, msg)
		}
	}
}

func (s *stream) Next() (json.RawMessage, error) {
	for len(s.pending) > 0 {
		msg := s.pending[0]
		s.pending = s.pending[1:]
		if data, ok, err := s.handle(msg); ok {
			return data, err
		}
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				if s.ctxErr != nil {
					return nil, fmt.Errorf("%w: %w", errs.ErrTransport, s.ctxErr)
				}
				return nil, fmt.Errorf("%w: stream closed", errs.ErrTransport)
			default:
			}
			return nil, fmt.Errorf("%w: %v", errs.ErrTransport, err)
		}
		// что-то пришло: сервер жив
		_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("ws: skip malformed message", slog.Any("err", err))
			continue
		}

		switch msg.Type {
		case TypePing:
			if err := s.send(Message{Type: TypePong}); err != nil {
				return nil, fmt.Errorf("%w: pong: %v", errs.ErrTransport, err)
			}
			continue
		case TypePong:
			continue
		}
		if msg.ID != s.id {
			continue
		}
		if data, ok, err := s.handle(msg); ok {
			return data, err
		}
	}
}

// handle разбирает сообщение этой подписки. ok == false: сообщение пропускаем.
func (s *stream) handle(msg Message) (json.RawMessage, bool, error) {
	switch msg.Type {
	case TypeNext:
		var res gql.Response
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &res); err != nil {
				s.log.Debug("ws: malformed next payload", slog.Any("err", err))
				return nil, true, nil
			}
		}
		if len(res.Errors) > 0 {
			s.log.Warn("ws: next payload carries errors", slog.String("errors", res.Errors.Error()))
		}
		if !res.HasData() {
			return nil, true, nil
		}
		return res.Data, true, nil
	case TypeError:
		var ge gql.Errors
		_ = json.Unmarshal(msg.Payload, &ge)
		return nil, true, fmt.Errorf("%w: %w", errs.ErrGraphQL, ge)
	case TypeComplete:
		return nil, true, fmt.Errorf("%w: subscription completed by server", errs.ErrTransport)
	default:
		return nil, false, nil
	}
}

// Close шлёт complete и закрывает сокет. Повторный вызов ничего не делает.
func (s *stream) Close() error {
	return s.close(nil)
}

func (s *stream) close(cause error) error {
	var err error
	s.once.Do(func() {
		s.ctxErr = cause
		close(s.closed)
		if cause == nil {
			_ = s.send(Message{ID: s.id, Type: TypeComplete})
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		err = s.conn.Close()
	})
	return err
}

func (s *stream) keepalive(ctx context.Context) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.log.Debug("ws: ping failed", slog.Any("err", err))
			}
		case <-ctx.Done():
			_ = s.close(ctx.Err())
			return
		case <-s.closed:
			return
		}
	}
}

func (s *stream) send(msg Message) error {
	s.sendMu <- struct{}{}
	defer func() { <-s.sendMu }()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return s.conn.WriteJSON(msg)
}
