package domain

// Message без timestamp: порядок определяется только порядком добавления.
type Message struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// MessageAdded — одна доставка подписки messageAdded.
// Message == nil означает пустой/прерванный data.
type MessageAdded struct {
	ChatroomID int
	Message    *Message
}
