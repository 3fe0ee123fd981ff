// Package gqltest реализует фейковый GraphQL endpoint чата для тестов.
//
// POST /graphql отвечает на chatrooms, chatRoom и add. GET /graphql
// поднимает graphql-transport-ws и обслуживает onMessageAdded. Это не
// исполнитель GraphQL: операции различаются только по operationName.
package gqltest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/gql"
	"github.com/cwrk-planet/chat-client/internal/transport/ws"
	"github.com/cwrk-planet/chat-client/pkg/errs"
	"github.com/cwrk-planet/chat-client/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

var errQueriesDisabled = fmt.Errorf("%w: queries disabled", errs.ErrTransport)

type Server struct {
	mu     sync.Mutex
	rooms  map[int]*domain.Chatroom
	nextID int

	hub      *Hub
	upgrader websocket.Upgrader
	srv      *httptest.Server

	failQueries   atomic.Bool
	failMutations atomic.Bool
	rejectSubs    atomic.Bool
	dials         atomic.Int64
	mutations     atomic.Int64
}

// NewServer поднимает endpoint с заданными комнатами. Close обязателен.
func NewServer(rooms ...domain.Chatroom) *Server {
	s := &Server{
		rooms: make(map[int]*domain.Chatroom),
		hub:   NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{ws.Subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for i := range rooms {
		r := rooms[i]
		r.Messages = append([]domain.Message(nil), r.Messages...)
		s.rooms[r.ID] = &r
		for _, m := range r.Messages {
			if m.ID > s.nextID {
				s.nextID = m.ID
			}
		}
	}
	s.srv = httptest.NewServer(s.router())

	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareLogging)

	r.Post("/graphql", s.handleHTTP)
	r.Get("/graphql", s.handleWS)

	return r
}

func (s *Server) Close() {
	s.hub.CloseAll()
	s.srv.Close()
}

// URL — HTTP endpoint для query/mutation.
func (s *Server) URL() string { return s.srv.URL + "/graphql" }

// WSURL — endpoint подписок.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/graphql"
}

func (s *Server) SetFailQueries(v bool)   { s.failQueries.Store(v) }
func (s *Server) SetFailMutations(v bool) { s.failMutations.Store(v) }

// SetRejectSubscriptions: subscribe получает error вместо подписки.
func (s *Server) SetRejectSubscriptions(v bool) { s.rejectSubs.Store(v) }

// Dials возвращает, сколько WS-соединений было принято.
func (s *Server) Dials() int64 { return s.dials.Load() }

func (s *Server) Mutations() int64 { return s.mutations.Load() }

func (s *Server) Subscribers(roomID int) int { return s.hub.Count(roomID) }

// WaitSubscribers ждёт, пока у комнаты станет ровно n подписок.
func (s *Server) WaitSubscribers(roomID, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.hub.Count(roomID) == n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.hub.Count(roomID) == n
}

func (s *Server) Messages(roomID int) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]domain.Message(nil), r.Messages...)
}

// Publish сохраняет сообщение (если такого id ещё нет) и рассылает его
// подписчикам комнаты. Повторный Publish того же сообщения даёт повторную доставка.
func (s *Server) Publish(roomID int, msg domain.Message) {
	s.mu.Lock()
	if r, ok := s.rooms[roomID]; ok {
		dup := false
		for _, m := range r.Messages {
			if m.ID == msg.ID {
				dup = true
				break
			}
		}
		if !dup {
			r.Messages = append(r.Messages, msg)
		}
		if msg.ID > s.nextID {
			s.nextID = msg.ID
		}
	}
	s.mu.Unlock()

	s.PublishRaw(roomID, gql.MessageAddedResult{MessageAdded: &msg})
}

// PublishRaw рассылает next с произвольным data.
func (s *Server) PublishRaw(roomID int, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	s.hub.Broadcast(roomID, ws.TypeNext, gql.Response{Data: b})
}

// PublishNull рассылает next с data: null.
func (s *Server) PublishNull(roomID int) {
	s.hub.Broadcast(roomID, ws.TypeNext, json.RawMessage(`{"data":null}`))
}

// SendError рассылает error (ошибка GraphQL, подписка завершена сервером).
func (s *Server) SendError(roomID int, message string) {
	s.hub.Broadcast(roomID, ws.TypeError, gql.Errors{{Message: message}})
}

func (s *Server) Complete(roomID int) {
	s.hub.Broadcast(roomID, ws.TypeComplete, nil)
}

// DropConnections рвёт все WS-соединения.
func (s *Server) DropConnections() { s.hub.CloseAll() }

// --- HTTP ---

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	var req gql.Request
	if err := httputil.DecodeJSON(w, r, &req, 1<<20); err != nil {
		httputil.Fail(w, err)
		return
	}

	switch req.OperationName {
	case gql.ChatroomsQuery.Name:
		if s.failQueries.Load() {
			httputil.Fail(w, errQueriesDisabled)
			return
		}
		writeData(w, gql.ChatroomsResult{Chatrooms: s.listRooms()})
	case gql.ChatroomQuery.Name:
		if s.failQueries.Load() {
			httputil.Fail(w, errQueriesDisabled)
			return
		}
		id, _ := intVar(req.Variables, "id")
		room, ok := s.room(id)
		if !ok {
			writeErrors(w, fmt.Sprintf("chatroom %d not found", id), "chatroom")
			return
		}
		writeData(w, gql.ChatroomResult{Chatroom: room})
	case gql.AddMessageMutation.Name:
		s.mutations.Add(1)
		if s.failMutations.Load() {
			writeErrors(w, "mutation rejected", "addMessage")
			return
		}
		s.handleAdd(w, req.Variables)
	default:
		writeErrors(w, fmt.Sprintf("unknown operation %q", req.OperationName), "")
	}
}

func (s *Server) handleAdd(w http.ResponseWriter, vars map[string]any) {
	roomID, _ := intVar(vars, "chatroomId")
	text, _ := vars["text"].(string)

	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		writeErrors(w, fmt.Sprintf("chatroom %d not found", roomID), "addMessage")
		return
	}
	s.nextID++
	msg := domain.Message{ID: s.nextID, Text: text}
	r.Messages = append(r.Messages, msg)
	s.mu.Unlock()

	s.PublishRaw(roomID, gql.MessageAddedResult{MessageAdded: &msg})

	var out gql.AddMessageResult
	out.AddMessage.Text = text
	writeData(w, out)
}

func (s *Server) listRooms() []domain.Chatroom {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Chatroom, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, domain.Chatroom{ID: r.ID, Title: r.Title, Users: r.Users})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (s *Server) room(id int) (*domain.Chatroom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, false
	}
	return &domain.Chatroom{
		ID:       r.ID,
		Messages: append([]domain.Message{}, r.Messages...),
	}, true
}

func writeData(w http.ResponseWriter, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		httputil.Fail(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, gql.Response{Data: b})
}

func writeErrors(w http.ResponseWriter, msg, path string) {
	e := gql.Error{Message: msg}
	if path != "" {
		e.Path = []any{path}
	}
	httputil.JSON(w, http.StatusOK, gql.Response{Errors: gql.Errors{e}})
}

func intVar(vars map[string]any, name string) (int, bool) {
	switch v := vars[name].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// --- WS ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gqltest: ws upgrade failed", "err", err)
		return
	}
	s.dials.Add(1)

	c := newWsConn(conn)
	s.hub.AddConn(c)
	defer func() {
		s.hub.RemoveConn(c)
		_ = c.Close()
	}()

	s.readLoop(c)
}

func (s *Server) readLoop(c *wsConn) {
	c.conn.SetReadLimit(1 << 20)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case ws.TypeConnectionInit:
			_ = c.Send(ws.Message{Type: ws.TypeConnectionAck})
		case ws.TypePing:
			_ = c.Send(ws.Message{Type: ws.TypePong})
		case ws.TypeSubscribe:
			s.subscribe(c, msg)
		case ws.TypeComplete:
			s.hub.Remove(c, msg.ID)
		default:
			// ignore
		}
	}
}

func (s *Server) subscribe(c *wsConn, msg ws.Message) {
	var req gql.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.OperationName != gql.MessageAddedSubscription.Name {
		out, _ := ws.NewMessage(msg.ID, ws.TypeError, gql.Errors{{Message: "unsupported subscription"}})
		_ = c.Send(out)
		return
	}
	if s.rejectSubs.Load() {
		out, _ := ws.NewMessage(msg.ID, ws.TypeError, gql.Errors{{Message: "subscriptions rejected"}})
		_ = c.Send(out)
		return
	}
	roomID, _ := intVar(req.Variables, "chatroomId")
	s.hub.Add(&subscriber{conn: c, id: msg.ID, roomID: roomID})
}
