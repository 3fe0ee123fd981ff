package gqltest

import (
	"sync"
	"time"

	"github.com/cwrk-planet/chat-client/internal/transport/ws"

	"github.com/gorilla/websocket"
)

// subscriber — одна активная подписка onMessageAdded на сокете.
type subscriber struct {
	conn   *wsConn
	id     string
	roomID int
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[int]map[*subscriber]struct{} // roomID -> set of subscribers
	conns map[*wsConn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int]map[*subscriber]struct{}),
		conns: make(map[*wsConn]struct{}),
	}
}

func (h *Hub) AddConn(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c] = struct{}{}
}

// RemoveConn убирает сокет и все его подписки.
func (h *Hub) RemoveConn(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c)
	for roomID, rs := range h.rooms {
		for sub := range rs {
			if sub.conn == c {
				delete(rs, sub)
			}
		}
		if len(rs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) Add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[sub.roomID]
	if !ok {
		rs = make(map[*subscriber]struct{})
		h.rooms[sub.roomID] = rs
	}
	rs[sub] = struct{}{}
}

func (h *Hub) Remove(c *wsConn, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, rs := range h.rooms {
		for sub := range rs {
			if sub.conn == c && sub.id == id {
				delete(rs, sub)
			}
		}
		if len(rs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast отправляет сообщение типа typ всем подпискам комнаты.
// payload собирается один раз, id подставляется свой для каждой подписки.
func (h *Hub) Broadcast(roomID int, typ string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.rooms[roomID] {
		msg, err := ws.NewMessage(sub.id, typ, payload)
		if err != nil {
			continue
		}
		_ = sub.conn.Send(msg) // best-effort
	}
}

func (h *Hub) Count(roomID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[roomID])
}

// CloseAll рвёт все сокеты без close frame.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

type wsConn struct {
	conn   *websocket.Conn
	sendMu chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newWsConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   c,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg ws.Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
