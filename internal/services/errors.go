package services

import "errors"

var (
	ErrInvalidJoin       = errors.New("roomId and userId are required")
	ErrInvalidMessage    = errors.New("sender and receiver are required")
	ErrInvalidCommand    = errors.New("invalid command payload")
	ErrUnknownConnection = errors.New("connection is not registered")
	// ErrUserMismatch is returned when a connection joins under a second user id.
	ErrUserMismatch = errors.New("connection already joined as another user")
)
