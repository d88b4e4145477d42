package handlers

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

// Client is one websocket connection. Fiber's websocket is not safe for
// concurrent writes, so every frame goes through the write pump, which is
// also the only goroutine that closes the socket.
type Client struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

func NewClient(id string, ws *websocket.Conn, bufferSize int, log *slog.Logger) *Client {
	return &Client{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, bufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log.With("connectionId", id),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues a frame without blocking.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close asks the write pump to send a close frame and release the socket.
// Wait on Stopped before the fiber handler returns: the socket is pooled
// and reused as soon as it does.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Stopped is closed once the write pump has exited and no longer touches the socket.
func (c *Client) Stopped() <-chan struct{} {
	return c.stopped
}

// readPump blocks until the peer goes away, handing every text frame to handle.
func (c *Client) readPump(maxMessageSize int, handle func(frame []byte)) {
	c.ws.SetReadLimit(int64(maxMessageSize))
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		// Unblocks readPump when the pump exits on a write error.
		_ = c.ws.Close()
		close(c.stopped)
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
