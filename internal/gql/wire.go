package gql

import (
	"encoding/json"
	"strings"
)

// Request — тело запроса GraphQL (HTTP и payload subscribe в WS).
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

func NewRequest(op Operation, vars map[string]any) Request {
	return Request{Query: op.Document, OperationName: op.Name, Variables: vars}
}

// Response — общий конверт ответа.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors Errors          `json:"errors,omitempty"`
}

// HasData: отсутствующее поле и явный null считаются пустыми.
func (r Response) HasData() bool {
	return len(r.Data) > 0 && string(r.Data) != "null"
}

type Error struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

type Errors []Error

func (e Errors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, it := range e {
		msgs = append(msgs, it.Message)
	}
	return strings.Join(msgs, "; ")
}
