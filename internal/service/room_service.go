package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/cwrk-planet/chat-client/internal/cache"
	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/gql"
	"github.com/cwrk-planet/chat-client/internal/subscription"
	"github.com/cwrk-planet/chat-client/pkg/errs"
	"github.com/cwrk-planet/chat-client/pkg/logger"

	"golang.org/x/sync/singleflight"
)

type Querier interface {
	Query(ctx context.Context, op gql.Operation, vars map[string]any, out any) error
}

type Subscriptions interface {
	Open(ctx context.Context, roomID int) *subscription.Subscription
}

type RoomService struct {
	q     Querier
	subs  Subscriptions
	store *cache.Store

	// root ограничивает жизнь подписок: от ctx вызова OpenRoom они не зависят
	root context.Context
	stop context.CancelFunc

	mu    sync.Mutex
	rooms map[int]*Room
	sf    singleflight.Group
}

func NewRoomService(q Querier, subs Subscriptions, store *cache.Store) *RoomService {
	root, stop := context.WithCancel(context.Background())
	return &RoomService{
		q:     q,
		subs:  subs,
		store: store,
		root:  root,
		stop:  stop,
		rooms: make(map[int]*Room),
	}
}

// ListRooms запрашивает список комнат и кладёт его в кэш. При ошибке
// возвращает последний закэшированный список (если есть) вместе с ошибкой.
func (s *RoomService) ListRooms(ctx context.Context) ([]domain.Chatroom, error) {
	var out gql.ChatroomsResult
	if err := s.q.Query(ctx, gql.ChatroomsQuery, nil, &out); err != nil {
		logger.FromContext(ctx).Warn("list chatrooms failed", slog.String("kind", errs.Kind(err)), slog.Any("err", err))
		if cached, ok := cache.Get[gql.ChatroomsResult](s.store, gql.ChatroomsKey()); ok {
			return cached.Chatrooms, err
		}
		return nil, err
	}
	s.store.Write(gql.ChatroomsKey(), out)

	return out.Chatrooms, nil
}

// OpenRoom активирует комнату: ждёт, пока подписка станет активной, затем
// запрашивает сообщения, пишет снапшот в кэш и доигрывает события, пришедшие
// между подпиской и ответом на запрос. Повторный вызов для открытой комнаты
// возвращает тот же Room. ctx ограничивает только открытие: подписка живёт
// до CloseRoom или Close.
func (s *RoomService) OpenRoom(ctx context.Context, id int) (*Room, error) {
	if r, ok := s.liveRoom(id); ok {
		return r, nil
	}

	v, err, _ := s.sf.Do(strconv.Itoa(id), func() (any, error) {
		if r, ok := s.liveRoom(id); ok {
			return r, nil
		}
		return s.open(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

func (s *RoomService) open(ctx context.Context, id int) (*Room, error) {
	log := logger.FromContext(ctx).With(slog.Int("room_id", id))

	sub := s.subs.Open(logger.WithContext(s.root, logger.FromContext(ctx)), id)
	if err := sub.Ready(ctx); err != nil {
		sub.Cancel()
		log.Warn("open room: subscribe failed", slog.String("kind", errs.Kind(err)), slog.Any("err", err))
		return nil, fmt.Errorf("open room %d: subscribe: %w", id, err)
	}

	var out gql.ChatroomResult
	if err := s.q.Query(ctx, gql.ChatroomQuery, gql.ChatroomVars(id), &out); err != nil {
		sub.Cancel()
		log.Warn("open room: detail query failed", slog.String("kind", errs.Kind(err)), slog.Any("err", err))
		return nil, fmt.Errorf("open room %d: %w", id, err)
	}
	if out.Chatroom == nil {
		sub.Cancel()
		return nil, fmt.Errorf("open room %d: %w: chatroom is null", id, errs.ErrNoData)
	}
	s.store.Write(gql.ChatroomKey(id), out)
	sub.Replay()

	r := &Room{id: id, svc: s, sub: sub}
	s.mu.Lock()
	s.rooms[id] = r
	s.mu.Unlock()

	log.Info("room opened", slog.Int("messages", len(out.Chatroom.Messages)))

	return r, nil
}

func (s *RoomService) Room(id int) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	return r, ok
}

// liveRoom возвращает открытую комнату с живой подпиской. Комнату, чья
// подписка уже завершилась, освобождает.
func (s *RoomService) liveRoom(id int) (*Room, bool) {
	r, ok := s.Room(id)
	if !ok {
		return nil, false
	}
	select {
	case <-r.sub.Done():
		logger.L().Warn("room subscription ended, reopening", slog.Int("room_id", id))
		r.Close()
		return nil, false
	default:
		return r, true
	}
}

func (s *RoomService) IsOpen(id int) bool {
	_, ok := s.Room(id)
	return ok
}

func (s *RoomService) OpenRooms() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CloseRoom отменяет подписку и выбрасывает снапшот комнаты.
func (s *RoomService) CloseRoom(id int) error {
	s.mu.Lock()
	r, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrRoomNotOpen, id)
	}
	r.release()

	return nil
}

// Close закрывает все открытые комнаты. Открыть комнату после Close нельзя.
func (s *RoomService) Close() {
	for _, id := range s.OpenRooms() {
		_ = s.CloseRoom(id)
	}
	s.stop()
}

// Room — открытая комната. Чтение идёт из кэша, запись в кэш делает подписка.
type Room struct {
	id   int
	svc  *RoomService
	sub  *subscription.Subscription
	once sync.Once
}

func (r *Room) ID() int { return r.id }

func (r *Room) State() subscription.State { return r.sub.State() }

func (r *Room) Snapshot() (gql.ChatroomResult, bool) {
	return cache.Get[gql.ChatroomResult](r.svc.store, gql.ChatroomKey(r.id))
}

func (r *Room) Messages() []domain.Message {
	res, ok := r.Snapshot()
	if !ok || res.Chatroom == nil {
		return nil
	}
	return res.Chatroom.Messages
}

// Watch отдаёт новые снапшоты комнаты (только последний, если читатель
// отстаёт). Канал закрывается при закрытии комнаты или вызове cancel.
func (r *Room) Watch() (<-chan gql.ChatroomResult, func()) {
	src, cancel := r.svc.store.Watch(gql.ChatroomKey(r.id))
	out := make(chan gql.ChatroomResult, 1)

	go func() {
		defer close(out)
		for v := range src {
			res, ok := v.(gql.ChatroomResult)
			if !ok {
				continue
			}
			select {
			case <-out:
			default:
			}
			out <- res
		}
	}()

	return out, cancel
}

// Close освобождает комнату. Повторный вызов ничего не делает, комнату с тем же id,
// открытую заново, не трогает.
func (r *Room) Close() {
	r.svc.mu.Lock()
	if cur, ok := r.svc.rooms[r.id]; ok && cur == r {
		delete(r.svc.rooms, r.id)
	}
	r.svc.mu.Unlock()

	r.release()
}

func (r *Room) release() {
	r.once.Do(func() {
		r.sub.Cancel()
		r.svc.store.Evict(gql.ChatroomKey(r.id))
	})
}
