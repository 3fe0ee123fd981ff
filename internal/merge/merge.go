// Package merge вливает события подписки messageAdded в закэшированный
// результат запроса chatRoom.
//
// Функции пакета чистые: без I/O и скрытого состояния. Предыдущий результат
// никогда не модифицируется: возвращается новый, разделяющий с ним все
// неизменённые поддеревья (Users и т.п.). Новое сообщение всегда
// добавляется в конец списка.
package merge

import (
	"errors"
	"fmt"

	"github.com/cwrk-planet/chat-client/internal/cache"
	"github.com/cwrk-planet/chat-client/internal/domain"
	"github.com/cwrk-planet/chat-client/internal/gql"

	"github.com/samber/lo"
)

// MessageAdded возвращает prev с ev.Message в конце списка сообщений.
//
// В no-op случаях (пустой payload, повторная доставка того же id) возвращается
// prev без изменений и ошибка, для которой IsNoop == true. Если в prev нет
// комнаты ev.ChatroomID, возвращаются prev и ошибка domain.ErrShapeMismatch.
func MessageAdded(prev gql.ChatroomResult, ev domain.MessageAdded) (gql.ChatroomResult, error) {
	if ev.Message == nil {
		return prev, domain.ErrEmptyPayload
	}
	if prev.Chatroom == nil {
		return prev, fmt.Errorf("%w: chatroom %d, cached result is empty", domain.ErrShapeMismatch, ev.ChatroomID)
	}
	if prev.Chatroom.ID != ev.ChatroomID {
		return prev, fmt.Errorf("%w: chatroom %d, cached %d", domain.ErrShapeMismatch, ev.ChatroomID, prev.Chatroom.ID)
	}

	id := ev.Message.ID
	if lo.ContainsBy(prev.Chatroom.Messages, func(m domain.Message) bool { return m.ID == id }) {
		return prev, fmt.Errorf("%w: message %d", domain.ErrDuplicateMessage, id)
	}

	// Новый backing array: append в prev.Chatroom.Messages мог бы
	// переписать общий массив при свободной capacity.
	msgs := make([]domain.Message, len(prev.Chatroom.Messages), len(prev.Chatroom.Messages)+1)
	copy(msgs, prev.Chatroom.Messages)
	msgs = append(msgs, *ev.Message)

	room := *prev.Chatroom
	room.Messages = msgs

	return gql.ChatroomResult{Chatroom: &room}, nil
}

// IsNoop: событие проглочено, кэш менять не нужно.
func IsNoop(err error) bool {
	return errors.Is(err, domain.ErrEmptyPayload) || errors.Is(err, domain.ErrDuplicateMessage)
}

// Updater адаптирует MessageAdded к cache.Store.Update.
func Updater(ev domain.MessageAdded) cache.UpdateFunc {
	return func(prev any) (any, error) {
		res, ok := prev.(gql.ChatroomResult)
		if !ok {
			return prev, fmt.Errorf("%w: cached %T", domain.ErrShapeMismatch, prev)
		}
		return MessageAdded(res, ev)
	}
}
