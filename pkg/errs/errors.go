package errs

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransport — сеть/сокет/HTTP статус. Повторяемая.
	ErrTransport = errors.New("transport error")
	// ErrGraphQL — сервер ответил ошибками GraphQL. Повтор не поможет.
	ErrGraphQL = errors.New("graphql error")
	// ErrNoData: ответ без поля data.
	ErrNoData = errors.New("response has no data")

	ErrMutationFailure = errors.New("mutation failed")
)

// Retryable сообщает, имеет ли смысл повторить операцию (переподписаться).
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) && !errors.Is(err, ErrGraphQL)
}

// Kind возвращает короткую метку для логов и метрик.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMutationFailure):
		return "mutation_failure"
	case errors.Is(err, ErrGraphQL):
		return "graphql"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
