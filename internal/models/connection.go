package models

// Connection is one live transport. Send must not block; implementations
// queue the frame and report an error when the connection cannot take it.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}
