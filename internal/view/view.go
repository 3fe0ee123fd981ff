// Package view печатает комнаты и ленты сообщений в терминал.
package view

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/gql"

	"github.com/samber/lo"
	"golang.org/x/term"
)

// IsTerminal возвращает true, если f подключён к терминалу (печатаем prompt).
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// RoomList печатает список комнат с участниками.
func RoomList(w io.Writer, rooms []domain.Chatroom) error {
	if len(rooms) == 0 {
		_, err := fmt.Fprintln(w, "no chatrooms")
		return err
	}
	for _, r := range rooms {
		line := fmt.Sprintf("#%d %s", r.ID, r.Title)
		if names := lo.Filter(r.Participants(), func(n string, _ int) bool { return n != "" }); len(names) > 0 {
			line += " (" + strings.Join(names, ", ") + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Thread дописывает в w сообщения комнаты, которые ещё не печатались.
// Каждое сообщение (по id) выводится не больше одного раза, в порядке списка.
type Thread struct {
	w      io.Writer
	prefix string

	mu      sync.Mutex
	printed map[int]struct{}
}

func NewThread(w io.Writer, roomID int, withPrefix bool) *Thread {
	t := &Thread{w: w, printed: make(map[int]struct{})}
	if withPrefix {
		t.prefix = fmt.Sprintf("[%d] ", roomID)
	}
	return t
}

// Render печатает новые сообщения снапшота и возвращает их количество.
func (t *Thread) Render(res gql.ChatroomResult) (int, error) {
	if res.Chatroom == nil {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fresh := lo.Filter(res.Chatroom.Messages, func(m domain.Message, _ int) bool {
		_, seen := t.printed[m.ID]
		return !seen
	})
	for _, m := range fresh {
		if _, err := fmt.Fprintf(t.w, "%s%s\n", t.prefix, m.Text); err != nil {
			return 0, err
		}
		t.printed[m.ID] = struct{}{}
	}

	return len(fresh), nil
}

func (t *Thread) Printed() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.printed)
}
