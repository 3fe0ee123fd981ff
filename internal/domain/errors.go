package domain

import "errors"

var (
	ErrEmptyPayload     = errors.New("subscription payload is empty")
	ErrShapeMismatch    = errors.New("cached result does not contain the chatroom")
	ErrDuplicateMessage = errors.New("message already in the chatroom")

	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
	ErrRoomNotOpen    = errors.New("room is not open")
)
