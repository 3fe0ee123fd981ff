package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-client/internal/cache"
	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/gql"
	"github.com/cwrk-planet/chat-client/internal/gqltest"
	"github.com/cwrk-planet/chat-client/internal/subscription"
	gqlhttp "github.com/cwrk-planet/chat-client/internal/transport/http"
	"github.com/cwrk-planet/chat-client/internal/transport/ws"
	"github.com/cwrk-planet/chat-client/pkg/errs"
)

type env struct {
	srv   *gqltest.Server
	hc    *gqlhttp.Client
	rooms *RoomService
	chat  *ChatService
	subs  *subscription.Manager
	store *cache.Store
}

func setup(t *testing.T, rooms ...domain.Chatroom) env {
	t.Helper()

	srv := gqltest.NewServer(rooms...)
	t.Cleanup(srv.Close)

	hc, err := gqlhttp.New(gqlhttp.Options{Endpoint: srv.URL(), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	d, err := ws.NewDialer(ws.Options{URL: srv.WSURL(), AckTimeout: time.Second, PingEvery: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	store := cache.New()
	subs := subscription.NewManager(d, store, subscription.Options{
		Retry: subscription.RetryPolicy{InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond, Multiplier: 2},
	})
	t.Cleanup(subs.Close)

	rs := NewRoomService(hc, subs, store)
	t.Cleanup(rs.Close)

	return env{srv: srv, hc: hc, rooms: rs, chat: NewChatService(hc, ChatOptions{}), subs: subs, store: store}
}

func general() domain.Chatroom {
	return domain.Chatroom{
		ID:       1,
		Title:    "general",
		Users:    []domain.User{{DisplayName: "ann"}, {DisplayName: "bob"}},
		Messages: []domain.Message{{ID: 1, Text: "hi"}},
	}
}

func waitActive(t *testing.T, e env, r *Room) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.sub.Wait(ctx, subscription.Active); err != nil {
		t.Fatalf("room %d not active: %s", r.ID(), r.State())
	}
	if !e.srv.WaitSubscribers(r.ID(), 1, 2*time.Second) {
		t.Fatalf("server has %d subscribers for room %d", e.srv.Subscribers(r.ID()), r.ID())
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestListRooms_CachesAndFallsBack(t *testing.T) {
	e := setup(t, general(), domain.Chatroom{ID: 2, Title: "random"})
	ctx := context.Background()

	rooms, err := e.rooms.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 2 || rooms[0].Title != "general" || rooms[0].Participants()[1] != "bob" {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
	if _, ok := e.store.Read(gql.ChatroomsKey()); !ok {
		t.Fatalf("list not cached")
	}

	e.srv.SetFailQueries(true)
	stale, err := e.rooms.ListRooms(ctx)
	if !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if !reflect.DeepEqual(stale, rooms) {
		t.Fatalf("last good list not returned: %+v", stale)
	}
}

func TestOpenRoom_LoadsThreadAndAppendsLiveMessages(t *testing.T) {
	e := setup(t, general())
	ctx := context.Background()

	r, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !reflect.DeepEqual(r.Messages(), []domain.Message{{ID: 1, Text: "hi"}}) {
		t.Fatalf("initial thread = %+v", r.Messages())
	}
	waitActive(t, e, r)

	if err := e.chat.Send(ctx, 1, "yo"); err != nil {
		t.Fatalf("send: %v", err)
	}

	want := []domain.Message{{ID: 1, Text: "hi"}, {ID: 2, Text: "yo"}}
	eventually(t, func() bool { return reflect.DeepEqual(r.Messages(), want) })
}

func TestOpenRoom_IsIdempotent(t *testing.T) {
	e := setup(t, general())
	ctx := context.Background()

	a, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	waitActive(t, e, a)
	b, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	if a != b {
		t.Fatalf("second OpenRoom returned a new room")
	}
	if e.srv.Dials() != 1 || e.srv.Subscribers(1) != 1 {
		t.Fatalf("dials=%d subscribers=%d", e.srv.Dials(), e.srv.Subscribers(1))
	}
}

func TestOpenRoom_QueryFailureReleasesSubscription(t *testing.T) {
	e := setup(t, general())
	e.srv.SetFailQueries(true)

	if _, err := e.rooms.OpenRoom(context.Background(), 1); !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if e.rooms.IsOpen(1) {
		t.Fatalf("room registered after failure")
	}
	if len(e.subs.States()) != 0 {
		t.Fatalf("subscription leaked: %v", e.subs.States())
	}
	if !e.srv.WaitSubscribers(1, 0, 2*time.Second) {
		t.Fatalf("server still holds the subscription")
	}
}

func TestOpenRoom_UnknownRoom(t *testing.T) {
	e := setup(t, general())

	_, err := e.rooms.OpenRoom(context.Background(), 99)
	if !errors.Is(err, errs.ErrGraphQL) {
		t.Fatalf("expected ErrGraphQL, got %v", err)
	}
}

func TestCloseRoom_EvictsAndUnsubscribes(t *testing.T) {
	e := setup(t, general())

	r, err := e.rooms.OpenRoom(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	waitActive(t, e, r)

	if err := e.rooms.CloseRoom(1); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := e.store.Read(gql.ChatroomKey(1)); ok {
		t.Fatalf("snapshot not evicted")
	}
	if r.State() != subscription.Unsubscribed {
		t.Fatalf("state = %s", r.State())
	}
	if !e.srv.WaitSubscribers(1, 0, 2*time.Second) {
		t.Fatalf("server still holds the subscription")
	}
	if err := e.rooms.CloseRoom(1); !errors.Is(err, domain.ErrRoomNotOpen) {
		t.Fatalf("expected ErrRoomNotOpen, got %v", err)
	}
	r.Close()
}

func TestRoomClose_DoesNotTouchReopenedRoom(t *testing.T) {
	e := setup(t, general())
	ctx := context.Background()

	old, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	old.Close()

	fresh, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	old.Close()

	if !e.rooms.IsOpen(1) || fresh.State() == subscription.Unsubscribed {
		t.Fatalf("stale handle closed the reopened room")
	}
}

func TestRoomWatch_SeesUpdatesAndCloses(t *testing.T) {
	e := setup(t, general())

	r, err := e.rooms.OpenRoom(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	waitActive(t, e, r)

	ch, cancel := r.Watch()
	defer cancel()

	first := <-ch
	if len(first.Chatroom.Messages) != 1 {
		t.Fatalf("first snapshot = %+v", first.Chatroom)
	}

	e.srv.Publish(1, domain.Message{ID: 5, Text: "x"})
	select {
	case next := <-ch:
		if len(next.Chatroom.Messages) != 2 || next.Chatroom.Messages[1].Text != "x" {
			t.Fatalf("update = %+v", next.Chatroom.Messages)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no update")
	}

	r.Close()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch channel not closed")
	}
}

func TestRooms_AreIndependent(t *testing.T) {
	e := setup(t, general(), domain.Chatroom{ID: 2, Title: "random"})
	ctx := context.Background()

	one, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	two, err := e.rooms.OpenRoom(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	waitActive(t, e, one)
	waitActive(t, e, two)

	e.srv.Publish(2, domain.Message{ID: 10, Text: "only two"})

	eventually(t, func() bool { return len(two.Messages()) == 1 })
	if len(one.Messages()) != 1 || one.Messages()[0].Text != "hi" {
		t.Fatalf("room 1 changed: %+v", one.Messages())
	}
	if !reflect.DeepEqual(e.rooms.OpenRooms(), []int{1, 2}) {
		t.Fatalf("open rooms = %v", e.rooms.OpenRooms())
	}
}

func TestDuplicateDelivery_AppendsOnce(t *testing.T) {
	e := setup(t, general())

	r, err := e.rooms.OpenRoom(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	waitActive(t, e, r)

	msg := domain.Message{ID: 2, Text: "yo"}
	e.srv.Publish(1, msg)
	e.srv.Publish(1, msg)
	e.srv.PublishNull(1)
	e.srv.Publish(1, domain.Message{ID: 3, Text: "end"})

	want := []domain.Message{{ID: 1, Text: "hi"}, {ID: 2, Text: "yo"}, {ID: 3, Text: "end"}}
	eventually(t, func() bool { return reflect.DeepEqual(r.Messages(), want) })
}

func TestSubscription_RecoversAfterDrop(t *testing.T) {
	e := setup(t, general())

	r, err := e.rooms.OpenRoom(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	waitActive(t, e, r)

	e.srv.DropConnections()
	eventually(t, func() bool { return e.srv.Dials() >= 2 })
	waitActive(t, e, r)

	e.srv.Publish(1, domain.Message{ID: 2, Text: "after"})
	eventually(t, func() bool { return len(r.Messages()) == 2 })
}

func TestSubmit_EndToEnd(t *testing.T) {
	e := setup(t, general())
	ctx := context.Background()

	r, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	waitActive(t, e, r)

	d := e.chat.NewDraft(1)
	d.Set("hello")
	if err := d.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Text() != "" {
		t.Fatalf("draft = %q", d.Text())
	}
	eventually(t, func() bool {
		msgs := r.Messages()
		return len(msgs) == 2 && msgs[1].Text == "hello"
	})

	e.srv.SetFailMutations(true)
	d.Set("hello")
	if err := d.Submit(ctx); !errors.Is(err, errs.ErrMutationFailure) || !errors.Is(err, errs.ErrGraphQL) {
		t.Fatalf("expected mutation failure, got %v", err)
	}
	if d.Text() != "hello" {
		t.Fatalf("draft = %q after failure", d.Text())
	}
	if e.srv.Mutations() != 2 {
		t.Fatalf("mutations = %d", e.srv.Mutations())
	}
}

func TestOpenRoom_MessageRightAfterOpenIsKept(t *testing.T) {
	e := setup(t, general())

	r, err := e.rooms.OpenRoom(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	// без waitActive: OpenRoom возвращается с уже активной подпиской
	if r.State() != subscription.Active || e.srv.Subscribers(1) != 1 {
		t.Fatalf("state=%s subscribers=%d right after OpenRoom", r.State(), e.srv.Subscribers(1))
	}
	e.srv.Publish(1, domain.Message{ID: 2, Text: "yo"})

	want := []domain.Message{{ID: 1, Text: "hi"}, {ID: 2, Text: "yo"}}
	eventually(t, func() bool { return reflect.DeepEqual(r.Messages(), want) })
}

// afterQuery вызывает hook после ответа сервера, до записи снапшота.
type afterQuery struct {
	Querier
	hook func()
}

func (a afterQuery) Query(ctx context.Context, op gql.Operation, vars map[string]any, out any) error {
	err := a.Querier.Query(ctx, op, vars, out)
	if err == nil && op.Name == gql.ChatroomQuery.Name && a.hook != nil {
		a.hook()
	}
	return err
}

func TestOpenRoom_EventBetweenQueryAndWriteIsReplayed(t *testing.T) {
	e := setup(t, general())

	rs := NewRoomService(afterQuery{Querier: e.hc, hook: func() {
		e.srv.Publish(1, domain.Message{ID: 2, Text: "yo"})
		eventually(t, func() bool {
			sub, ok := e.subs.Get(1)
			return ok && sub.Pending() == 1
		})
	}}, e.subs, e.store)
	t.Cleanup(rs.Close)

	r, err := rs.OpenRoom(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Message{{ID: 1, Text: "hi"}, {ID: 2, Text: "yo"}}
	if !reflect.DeepEqual(r.Messages(), want) {
		t.Fatalf("messages = %+v, want %+v", r.Messages(), want)
	}
}

func TestOpenRoom_OutlivesCallerContext(t *testing.T) {
	e := setup(t, general())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	r, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)

	if r.State() != subscription.Active {
		t.Fatalf("subscription ended with the caller ctx: %s", r.State())
	}
	e.srv.Publish(1, domain.Message{ID: 2, Text: "yo"})
	eventually(t, func() bool { return len(r.Messages()) == 2 })
}

func TestOpenRoom_ReopensRoomWithDeadSubscription(t *testing.T) {
	e := setup(t, general())
	ctx := context.Background()

	old, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	e.subs.Close()
	<-old.sub.Done()

	fresh, err := e.rooms.OpenRoom(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if fresh == old {
		t.Fatalf("dead room handle returned")
	}
	if fresh.State() != subscription.Active || !e.rooms.IsOpen(1) {
		t.Fatalf("reopened room state = %s", fresh.State())
	}

	e.srv.Publish(1, domain.Message{ID: 2, Text: "yo"})
	eventually(t, func() bool { return len(fresh.Messages()) == 2 })
}

func TestOpenRoom_RejectedSubscriptionIsVisible(t *testing.T) {
	e := setup(t, general())
	e.srv.SetRejectSubscriptions(true)

	// отказ приходит сразу после subscribe: либо OpenRoom его уже видит,
	// либо комната открывается и уходит в Errored
	r, err := e.rooms.OpenRoom(context.Background(), 1)
	if err != nil {
		if !errors.Is(err, errs.ErrGraphQL) || e.rooms.IsOpen(1) {
			t.Fatalf("err=%v open=%v", err, e.rooms.IsOpen(1))
		}
		return
	}
	eventually(t, func() bool { return r.State() == subscription.Errored })
	if !errors.Is(r.sub.Err(), errs.ErrGraphQL) {
		t.Fatalf("sub err = %v", r.sub.Err())
	}
}
