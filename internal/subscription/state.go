package subscription

// State — состояние подписки одной комнаты.
//
//	Unsubscribed -> Subscribing -> Active -> Unsubscribed
//	Subscribing|Active -> Errored -> (backoff) -> Subscribing
//	любое -> Unsubscribed при Cancel или завершении ctx
type State int32

const (
	Unsubscribed State = iota
	Subscribing
	Active
	Errored
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
