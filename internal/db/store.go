package db

import (
	"context"
	"errors"
	"fmt"

	"presence-backend/internal/models"
)

var (
	// ErrStoreOffline is returned by the gate without touching the store.
	ErrStoreOffline = errors.New("store offline")
	// ErrStoreUnavailable marks a driver error that means the connection is gone.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// MessageStore persists whispers. Implementations wrap connection-loss errors
// with ErrStoreUnavailable so the gate can flip.
type MessageStore interface {
	Insert(ctx context.Context, msg models.Message) error
	// QueryByUser returns messages sent or received by userID, newest first.
	QueryByUser(ctx context.Context, userID string, limit int) ([]models.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a fresh store connection.
type Dialer func(ctx context.Context) (MessageStore, error)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
