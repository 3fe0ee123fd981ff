package domain

import "github.com/samber/lo"

type Chatroom struct {
	ID       int       `json:"id"`
	Title    string    `json:"title,omitempty"`
	Users    []User    `json:"users,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

type User struct {
	DisplayName string `json:"displayName"`
}

// Participants возвращает display names в порядке ответа сервера.
func (c Chatroom) Participants() []string {
	return lo.Map(c.Users, func(u User, _ int) string { return u.DisplayName })
}
