package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/gql"
	"github.com/cwrk-planet/chat-client/internal/metrics"
	"github.com/cwrk-planet/chat-client/pkg/errs"
	"github.com/cwrk-planet/chat-client/pkg/logger"
)

const (
	DefaultUserID           = 1
	DefaultMaxMessageLength = 4000
)

type Mutator interface {
	Mutate(ctx context.Context, op gql.Operation, vars map[string]any, out any) error
}

type ChatOptions struct {
	UserID           int
	MaxMessageLength int // в символах
	Metrics          *metrics.Metrics
}

type ChatService struct {
	m       Mutator
	userID  int
	maxLen  int
	metrics *metrics.Metrics
}

func NewChatService(m Mutator, opts ChatOptions) *ChatService {
	if opts.UserID <= 0 {
		opts.UserID = DefaultUserID
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &ChatService{
		m:       m,
		userID:  opts.UserID,
		maxLen:  opts.MaxMessageLength,
		metrics: opts.Metrics,
	}
}

// Send отправляет сообщение мутацией addMessage. Кэш не трогает: сообщение
// придёт обратно через подписку комнаты.
func (s *ChatService) Send(ctx context.Context, roomID int, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: %w", errs.ErrInvalidInput, domain.ErrEmptyMessage)
	}
	if n := utf8.RuneCountInString(text); n > s.maxLen {
		return fmt.Errorf("%w: %w: %d > %d", errs.ErrInvalidInput, domain.ErrMessageTooLong, n, s.maxLen)
	}

	var out gql.AddMessageResult
	if err := s.m.Mutate(ctx, gql.AddMessageMutation, gql.AddMessageVars(text, s.userID, roomID), &out); err != nil {
		s.metrics.Mutations.WithLabelValues(errs.Kind(err)).Inc()
		return fmt.Errorf("%w: %w", errs.ErrMutationFailure, err)
	}
	s.metrics.Mutations.WithLabelValues("ok").Inc()

	return nil
}

// Draft — буфер поля ввода одной комнаты.
type Draft struct {
	svc    *ChatService
	roomID int

	mu   sync.Mutex
	text string
}

func (s *ChatService) NewDraft(roomID int) *Draft {
	return &Draft{svc: s, roomID: roomID}
}

func (d *Draft) RoomID() int { return d.roomID }

func (d *Draft) Set(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.text = text
}

func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.text
}

// Submit отправляет текущий текст. Успех очищает буфер (если его не
// поменяли, пока шла мутация), ошибка оставляет текст как был.
func (d *Draft) Submit(ctx context.Context) error {
	text := d.Text()

	if err := d.svc.Send(ctx, d.roomID, text); err != nil {
		log := logger.FromContext(ctx).With(slog.Int("room_id", d.roomID), slog.String("kind", errs.Kind(err)))
		if errors.Is(err, errs.ErrInvalidInput) {
			// пустая строка или слишком длинный текст: до сервера не дошли
			log.Debug("submit message rejected", slog.Any("err", err))
			return err
		}
		log.Error("submit message failed", slog.Any("err", err))
		return err
	}

	d.mu.Lock()
	if d.text == text {
		d.text = ""
	}
	d.mu.Unlock()

	return nil
}
