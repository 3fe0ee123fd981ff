// Package subscription держит подписки onMessageAdded по комнатам и вливает
// их события в кэш результатов.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-client/internal/cache"
	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/gql"
	"github.com/cwrk-planet/chat-client/internal/merge"
	"github.com/cwrk-planet/chat-client/internal/metrics"
	"github.com/cwrk-planet/chat-client/internal/transport/ws"
	"github.com/cwrk-planet/chat-client/pkg/errs"
	"github.com/cwrk-planet/chat-client/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// maxPending: сколько событий держим до записи снапшота комнаты.
const maxPending = 256

type Transport interface {
	Subscribe(ctx context.Context, op gql.Operation, vars map[string]any) (ws.Stream, error)
}

type Options struct {
	Retry   RetryPolicy
	Metrics *metrics.Metrics
}

type Manager struct {
	transport Transport
	store     *cache.Store
	retry     RetryPolicy
	metrics   *metrics.Metrics

	mu   sync.Mutex
	subs map[int]*Subscription // roomID -> live subscription
}

func NewManager(t Transport, store *cache.Store, opts Options) *Manager {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &Manager{
		transport: t,
		store:     store,
		retry:     opts.Retry.withDefaults(),
		metrics:   opts.Metrics,
		subs:      make(map[int]*Subscription),
	}
}

// Open регистрирует подписку комнаты. Повторный Open живой комнаты возвращает
// тот же handle, второй подписки не создаётся. ctx ограничивает жизнь подписки,
// поэтому передавать сюда нужно ctx владельца комнаты, а не запроса.
func (m *Manager) Open(ctx context.Context, roomID int) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.subs[roomID]; ok && s.ctx.Err() == nil {
		return s
	}

	s := newSubscription(ctx, m, roomID)
	m.subs[roomID] = s
	go s.run()

	return s
}

func (m *Manager) Get(roomID int) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[roomID]
	return s, ok
}

// States возвращает снимок состояний по комнатам (для /debug/subscriptions).
func (m *Manager) States() map[int]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int]State, len(m.subs))
	for id, s := range m.subs {
		out[id] = s.State()
	}
	return out
}

// Status — строка /debug/subscriptions.
type Status struct {
	State   State  `json:"state"`
	Version uint64 `json:"version"` // версия снапшота комнаты в кэше, 0: снапшота нет
	Pending int    `json:"pending"` // события, ждущие снапшота
	Error   string `json:"error,omitempty"`
}

func (m *Manager) Statuses() map[int]Status {
	m.mu.Lock()
	subs := make(map[int]*Subscription, len(m.subs))
	for id, s := range m.subs {
		subs[id] = s
	}
	m.mu.Unlock()

	out := make(map[int]Status, len(subs))
	for id, s := range subs {
		st := Status{
			State:   s.State(),
			Version: m.store.Version(gql.ChatroomKey(id)),
			Pending: s.Pending(),
		}
		if err := s.Err(); err != nil && st.State == Errored {
			st.Error = err.Error()
		}
		out[id] = st
	}
	return out
}

func (m *Manager) Rooms() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Close отменяет все подписки и дожидается их горутин.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

func (m *Manager) unregister(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.subs[s.roomID]; ok && cur == s {
		delete(m.subs, s.roomID)
	}
}

// Subscription — handle подписки одной комнаты.
type Subscription struct {
	id     string
	roomID int
	m      *Manager
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	state   State
	err     error
	changed chan struct{}

	// applyMu упорядочивает применение событий и Replay
	applyMu sync.Mutex
	pending []domain.MessageAdded
}

func newSubscription(parent context.Context, m *Manager, roomID int) *Subscription {
	id := uuid.NewString()
	log := logger.FromContext(parent).With(slog.Int("room_id", roomID), slog.String("sub_id", id))
	ctx, cancel := context.WithCancel(logger.WithContext(parent, log))

	return &Subscription{
		id:      id,
		roomID:  roomID,
		m:       m,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   Subscribing,
		changed: make(chan struct{}),
	}
}

func (s *Subscription) ID() string  { return s.id }
func (s *Subscription) RoomID() int { return s.roomID }

func (s *Subscription) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Err возвращает последнюю ошибку, из-за которой подписка ушла в Errored.
func (s *Subscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.err
}

// Done закрывается, когда горутина подписки завершилась.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel отменяет подписку и ждёт её горутину. Повторный вызов ничего не делает.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Wait ждёт состояния want или завершения ctx.
func (s *Subscription) Wait(ctx context.Context, want State) error {
	for {
		s.mu.RLock()
		st, ch := s.state, s.changed
		s.mu.RUnlock()

		if st == want {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Ready ждёт первого Active. Если подписка раньше ушла в Errored или
// завершилась, возвращает ошибку.
func (s *Subscription) Ready(ctx context.Context) error {
	for {
		s.mu.RLock()
		st, err, ch := s.state, s.err, s.changed
		s.mu.RUnlock()

		switch st {
		case Active:
			return nil
		case Errored:
			return err
		}
		select {
		case <-ch:
		case <-s.done:
			return fmt.Errorf("%w: subscription closed", errs.ErrTransport)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending — число событий, ждущих снапшота комнаты.
func (s *Subscription) Pending() int {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	return len(s.pending)
}

// Replay применяет события, пришедшие до записи снапшота комнаты.
// Вызывается после store.Write начального запроса.
func (s *Subscription) Replay() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.flushLocked()
}

func (s *Subscription) setState(st State, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	if st == Errored {
		s.err = err
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if prev == st {
		return
	}
	switch {
	case st == Active:
		s.m.metrics.ActiveSubscriptions.Inc()
	case prev == Active:
		s.m.metrics.ActiveSubscriptions.Dec()
	}
	s.log.Debug("subscription state", slog.String("from", prev.String()), slog.String("to", st.String()))
}

func (s *Subscription) run() {
	defer func() {
		s.setState(Unsubscribed, nil)
		s.m.unregister(s)
		close(s.done)
	}()

	bo := s.m.retry.newBackOff()
	for {
		s.setState(Subscribing, nil)

		stream, err := s.m.transport.Subscribe(s.ctx, gql.MessageAddedSubscription, gql.MessageAddedVars(s.roomID))
		if err == nil {
			s.setState(Active, nil)
			bo.Reset()
			err = s.consume(stream)
			_ = stream.Close()
		}
		if s.ctx.Err() != nil {
			return
		}

		s.setState(Errored, err)
		if !errs.Retryable(err) {
			s.log.Error("subscription failed permanently", slog.String("kind", errs.Kind(err)), slog.Any("err", err))
			<-s.ctx.Done()
			return
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			s.log.Error("subscription retry budget exhausted", slog.Any("err", err))
			<-s.ctx.Done()
			return
		}
		s.log.Warn("subscription lost, resubscribing", slog.Duration("in", wait), slog.Any("err", err))

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return
		}
		s.m.metrics.Reconnects.Inc()
	}
}

// consume применяет события по порядку доставки до первой ошибки потока.
func (s *Subscription) consume(stream ws.Stream) error {
	for {
		data, err := stream.Next()
		if err != nil {
			return err
		}
		s.m.metrics.EventsReceived.Inc()
		s.apply(data)
	}
}

func (s *Subscription) apply(data json.RawMessage) {
	ev := domain.MessageAdded{ChatroomID: s.roomID}
	if data != nil {
		var res gql.MessageAddedResult
		if err := json.Unmarshal(data, &res); err != nil {
			s.m.metrics.EventsDropped.WithLabelValues(metrics.DropDecode).Inc()
			s.log.Warn("messageAdded: undecodable payload", slog.Any("err", err))
			return
		}
		ev.Message = res.MessageAdded
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.flushLocked()
	if len(s.pending) > 0 {
		// снапшота всё ещё нет, порядок сохраняем
		s.hold(ev)
		return
	}
	s.merge(ev)
}

func (s *Subscription) flushLocked() {
	if len(s.pending) == 0 {
		return
	}
	if _, ok := s.m.store.Read(gql.ChatroomKey(s.roomID)); !ok {
		return
	}
	evs := s.pending
	s.pending = nil
	s.log.Debug("messageAdded: replaying held events", slog.Int("count", len(evs)))
	for _, ev := range evs {
		s.merge(ev)
	}
}

// hold откладывает событие до записи снапшота. Самое старое выбрасывается,
// если очередь полна.
func (s *Subscription) hold(ev domain.MessageAdded) {
	if len(s.pending) >= maxPending {
		s.pending = s.pending[1:]
		s.m.metrics.EventsDropped.WithLabelValues(metrics.DropNotCached).Inc()
		s.log.Warn("messageAdded: too many events before snapshot, dropping oldest")
	}
	s.pending = append(s.pending, ev)
}

func (s *Subscription) merge(ev domain.MessageAdded) {
	_, err := s.m.store.Update(gql.ChatroomKey(s.roomID), merge.Updater(ev))
	switch {
	case err == nil:
		s.m.metrics.EventsMerged.Inc()
	case errors.Is(err, domain.ErrEmptyPayload):
		s.m.metrics.EventsDropped.WithLabelValues(metrics.DropEmptyPayload).Inc()
		s.log.Debug("messageAdded: empty payload")
	case errors.Is(err, domain.ErrDuplicateMessage):
		s.m.metrics.EventsDropped.WithLabelValues(metrics.DropDuplicate).Inc()
		s.log.Debug("messageAdded: duplicate delivery", slog.Any("err", err))
	case errors.Is(err, cache.ErrNotCached):
		// initial query ещё не записан
		s.hold(ev)
		s.log.Debug("messageAdded: chatroom not cached yet, holding")
	default:
		s.m.metrics.EventsDropped.WithLabelValues(metrics.DropShapeMismatch).Inc()
		s.log.Warn("messageAdded: cache shape mismatch, keeping previous", slog.Any("err", err))
	}
}
