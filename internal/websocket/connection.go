package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

// Connection implements interfaces.Connection over a gorilla websocket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions.
// Send only enqueues, so callers holding a room lock never wait on the network.
type Connection struct {
	id       string
	identity types.Identity

	conn      *websocket.Conn
	writeCh   chan []byte
	writeWait time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	log *logrus.Entry
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps an upgraded socket for an already verified identity
func NewConnection(conn *websocket.Conn, identity types.Identity, bufferSize int, writeWait time.Duration, logger *logrus.Logger) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeWait <= 0 {
		writeWait = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Connection{
		id:        id,
		identity:  identity,
		conn:      conn,
		writeCh:   make(chan []byte, bufferSize),
		writeWait: writeWait,
		ctx:       ctx,
		cancel:    cancel,
		log: logger.WithFields(logrus.Fields{
			"component": "websocket",
			"conn_id":   id,
			"user_id":   identity.UserID,
		}),
	}

	go c.writeLoop()
	return c
}

func (c *Connection) ID() string               { return c.id }
func (c *Connection) Identity() types.Identity { return c.identity }

// Done is closed once the connection shuts down
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	defer func() { _ = c.Close() }()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.WithError(err).Debug("write failed, closing connection")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send enqueues event without blocking. A full buffer drops the event.
func (c *Connection) Send(event types.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.log.WithField("type", event.Type).Warn("send buffer full, event dropped")
		return ErrSendBufferFull
	}
}

// ping writes a control frame; gorilla allows it concurrently with the writer
func (c *Connection) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close stops the writer and closes the socket; safe to call repeatedly
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
