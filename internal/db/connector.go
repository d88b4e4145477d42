package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Connector owns the connect/retry loop for a Gate.
type Connector struct {
	gate         *Gate
	dial         Dialer
	retryMin     time.Duration
	retryMax     time.Duration
	pingInterval time.Duration
	opTimeout    time.Duration
	log          *slog.Logger
}

type ConnectorConfig struct {
	RetryMin     time.Duration
	RetryMax     time.Duration
	PingInterval time.Duration
	OpTimeout    time.Duration
}

func NewConnector(gate *Gate, dial Dialer, cfg ConnectorConfig, log *slog.Logger) *Connector {
	return &Connector{
		gate:         gate,
		dial:         dial,
		retryMin:     cfg.RetryMin,
		retryMax:     cfg.RetryMax,
		pingInterval: cfg.PingInterval,
		opTimeout:    cfg.OpTimeout,
		log:          log,
	}
}

// Run dials until ctx is done, keeping the gate up to date. It never holds a
// room lock and never blocks request handling.
func (c *Connector) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.retryMin
	retry.MaxInterval = c.retryMax
	for {
		if ctx.Err() != nil {
			return c.gate.Close()
		}

		c.gate.setState(stateConnecting)
		dialCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		store, err := c.dial(dialCtx)
		cancel()
		if err != nil {
			c.gate.setState(stateDisconnected)
			delay := retry.NextBackOff()
			c.log.Warn("message store connect failed", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return c.gate.Close()
			}
			continue
		}

		retry.Reset()
		c.gate.Connect(store)
		if !c.supervise(ctx, store) {
			return c.gate.Close()
		}
	}
}

// supervise pings the live store until it is lost. It returns false when ctx ends.
func (c *Connector) supervise(ctx context.Context, store MessageStore) bool {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case dropped := <-c.gate.Lost():
			if err := dropped.Close(); err != nil {
				c.log.Debug("closing dropped store", "error", err)
			}
			return true
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
			err := store.Ping(pingCtx)
			cancel()
			if err != nil {
				c.gate.Disconnect(store, err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
