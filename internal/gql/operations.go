// Package gql содержит канонические GraphQL-операции клиента и формы их результатов.
package gql

import (
	"github.com/cwrk-planet/chat-client/internal/cache"
	"github.com/cwrk-planet/chat-client/internal/domain"
)

type Operation struct {
	Name     string
	Document string
}

var (
	ChatroomsQuery = Operation{
		Name: "chatrooms",
		Document: `query chatrooms {
  chatrooms {
    id
    title
    users {
      displayName
    }
  }
}`,
	}

	ChatroomQuery = Operation{
		Name: "chatRoom",
		Document: `query chatRoom($id: Int!) {
  chatroom(id: $id) {
    id
    messages {
      id
      text
    }
  }
}`,
	}

	AddMessageMutation = Operation{
		Name: "add",
		Document: `mutation add($text: String!, $userId: Int!, $chatroomId: Int!) {
  addMessage(text: $text, userId: $userId, chatroomId: $chatroomId) {
    text
  }
}`,
	}

	MessageAddedSubscription = Operation{
		Name: "onMessageAdded",
		Document: `subscription onMessageAdded($chatroomId: Int!) {
  messageAdded(chatroomId: $chatroomId) {
    id
    text
  }
}`,
	}
)

type ChatroomsResult struct {
	Chatrooms []domain.Chatroom `json:"chatrooms"`
}

type ChatroomResult struct {
	Chatroom *domain.Chatroom `json:"chatroom"`
}

type AddMessageResult struct {
	AddMessage struct {
		Text string `json:"text"`
	} `json:"addMessage"`
}

type MessageAddedResult struct {
	MessageAdded *domain.Message `json:"messageAdded"`
}

func ChatroomVars(id int) map[string]any {
	return map[string]any{"id": id}
}

func AddMessageVars(text string, userID, chatroomID int) map[string]any {
	return map[string]any{
		"text":       text,
		"userId":     userID,
		"chatroomId": chatroomID,
	}
}

func MessageAddedVars(chatroomID int) map[string]any {
	return map[string]any{"chatroomId": chatroomID}
}

func ChatroomsKey() cache.Key {
	return cache.NewKey(ChatroomsQuery.Name, nil)
}

func ChatroomKey(id int) cache.Key {
	return cache.NewKey(ChatroomQuery.Name, ChatroomVars(id))
}
