package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveclass/pkg/types"
)

const (
	DefaultSendBuffer   = 100
	DefaultWriteTimeout = 5 * time.Second
)

// Connection wraps one client socket. All frames go through a single writer
// goroutine; Send only enqueues and never waits on the network.
type Connection struct {
	conn         *websocket.Conn
	id           string
	identity     types.User
	writeCh      chan []byte
	writeTimeout time.Duration
	logger       zerolog.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection starts the writer goroutine for conn.
// sendBuffer and writeTimeout fall back to defaults when not positive.
func NewConnection(conn *websocket.Conn, id string, identity types.User, sendBuffer int, writeTimeout time.Duration, logger *zerolog.Logger) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		id:           id,
		identity:     identity,
		writeCh:      make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		logger: logger.With().
			Str("component", "connection").
			Str("socketId", id).
			Str("userId", identity.ID).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("set write deadline")
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection id handed to clients as socketId
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the user attached at upgrade time
func (c *Connection) Identity() types.User {
	return c.identity
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send encodes v and queues it. A full buffer drops the frame and returns
// ErrSendBufferFull rather than blocking the caller.
func (c *Connection) Send(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		c.logger.Warn().Int("buffer", cap(c.writeCh)).Msg("send buffer full, dropping frame")
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
