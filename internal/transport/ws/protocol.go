package ws

import "encoding/json"

// Subprotocol — graphql-transport-ws (graphql-ws v5+).
const Subprotocol = "graphql-transport-ws"

// Типы сообщений протокола
const (
	TypeConnectionInit = "connection_init" // client -> server
	TypeConnectionAck  = "connection_ack"  // server -> client
	TypePing           = "ping"            // в обе стороны
	TypePong           = "pong"            // в обе стороны
	TypeSubscribe      = "subscribe"       // client -> server
	TypeNext           = "next"            // server -> client, результат
	TypeError          = "error"           // server -> client, ошибки GraphQL
	TypeComplete       = "complete"        // в обе стороны
)

type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewMessage(id, typ string, payload any) (Message, error) {
	msg := Message{ID: id, Type: typ}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = b

	return msg, nil
}
