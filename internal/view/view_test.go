package view

import (
	"bytes"
	"os"
	"testing"

	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/gql"
)

func result(msgs ...domain.Message) gql.ChatroomResult {
	return gql.ChatroomResult{Chatroom: &domain.Chatroom{ID: 1, Messages: msgs}}
}

func TestThread_PrintsEachMessageOnce(t *testing.T) {
	var buf bytes.Buffer
	th := NewThread(&buf, 1, false)

	n, err := th.Render(result(domain.Message{ID: 1, Text: "hi"}))
	if err != nil || n != 1 {
		t.Fatalf("first render: n=%d err=%v", n, err)
	}
	n, err = th.Render(result(domain.Message{ID: 1, Text: "hi"}, domain.Message{ID: 2, Text: "yo"}))
	if err != nil || n != 1 {
		t.Fatalf("second render: n=%d err=%v", n, err)
	}

	if buf.String() != "hi\nyo\n" {
		t.Fatalf("output = %q", buf.String())
	}
	if th.Printed() != 2 {
		t.Fatalf("printed = %d", th.Printed())
	}
}

func TestThread_PrefixAndEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	th := NewThread(&buf, 3, true)

	if n, _ := th.Render(gql.ChatroomResult{}); n != 0 {
		t.Fatalf("nil chatroom rendered %d", n)
	}
	if _, err := th.Render(result(domain.Message{ID: 9, Text: "x"})); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "[3] x\n" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestRoomList(t *testing.T) {
	var buf bytes.Buffer
	err := RoomList(&buf, []domain.Chatroom{
		{ID: 1, Title: "general", Users: []domain.User{{DisplayName: "ann"}, {DisplayName: "bob"}}},
		{ID: 2, Title: "random"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "#1 general (ann, bob)\n#2 random\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	_ = RoomList(&buf, nil)
	if buf.String() != "no chatrooms\n" {
		t.Fatalf("empty output = %q", buf.String())
	}
}

func TestIsTerminal_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if IsTerminal(f) {
		t.Fatalf("regular file reported as terminal")
	}
}
