package db

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type gateState int

const (
	stateDisconnected gateState = iota
	stateConnecting
	stateConnected
)

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Gate is the process-wide availability flag plus the live store handle.
// It never dials; the Connector owns connect and retry.
type Gate struct {
	mu    sync.RWMutex
	state gateState
	store MessageStore
	lost  chan MessageStore
	log   *slog.Logger
}

func NewGate(log *slog.Logger) *Gate {
	return &Gate{
		lost: make(chan MessageStore, 1),
		log:  log,
	}
}

// Available reports whether a store is connected right now.
func (g *Gate) Available() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state == stateConnected
}

// Status is either "connected" or "disconnected"; connecting is reported as disconnected.
func (g *Gate) Status() string {
	if g.Available() {
		return StatusConnected
	}
	return StatusDisconnected
}

// WithStore runs fn against the live store, or returns ErrStoreOffline
// without calling fn.
func (g *Gate) WithStore(ctx context.Context, fn func(ctx context.Context, store MessageStore) error) error {
	g.mu.RLock()
	store := g.store
	ok := g.state == stateConnected && store != nil
	g.mu.RUnlock()
	if !ok {
		return ErrStoreOffline
	}

	err := fn(ctx, store)
	if err != nil && errors.Is(err, ErrStoreUnavailable) {
		g.Disconnect(store, err)
	}
	return err
}

// Connect publishes a freshly dialed store.
func (g *Gate) Connect(store MessageStore) {
	g.mu.Lock()
	g.store = store
	g.state = stateConnected
	g.mu.Unlock()
	g.log.Info("message store connected")
}

// Disconnect flips the gate if store is still the live handle. The dropped
// store is handed to the connector for closing.
func (g *Gate) Disconnect(store MessageStore, cause error) {
	g.mu.Lock()
	if g.store != store || g.state != stateConnected {
		g.mu.Unlock()
		return
	}
	g.store = nil
	g.state = stateDisconnected
	g.mu.Unlock()

	g.log.Warn("message store disconnected", "error", cause)
	select {
	case g.lost <- store:
	default:
		_ = store.Close()
	}
}

// Lost delivers stores dropped by Disconnect.
func (g *Gate) Lost() <-chan MessageStore {
	return g.lost
}

// Close disconnects and closes the live store, if any.
func (g *Gate) Close() error {
	g.mu.Lock()
	store := g.store
	g.store = nil
	g.state = stateDisconnected
	g.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Close()
}

func (g *Gate) setState(s gateState) {
	g.mu.Lock()
	if g.state != stateConnected {
		g.state = s
	}
	g.mu.Unlock()
}
