package server

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	sendQueueSize = 64
	writeTimeout  = 10 * time.Second
)

var (
	// ErrConnClosed is returned by Send after the connection closed.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendQueueFull is returned when the outbound queue is saturated;
	// the frame is dropped rather than blocking the caller.
	ErrSendQueueFull = errors.New("send queue full")
)

// wsConn wraps a WebSocket with a buffered send queue drained by a single
// writer goroutine, so no caller ever blocks on network I/O and writes never
// interleave.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	out    chan any
	done   chan struct{}
	closed atomic.Bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		id:   uuid.New().String(),
		ws:   ws,
		out:  make(chan any, sendQueueSize),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case v := <-c.out:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.markClosed()
				return
			}
			if err := c.ws.WriteJSON(v); err != nil {
				logrus.WithError(err).WithField("conn", c.id).Debug("Write failed; marking connection closed")
				c.markClosed()
				return
			}
		}
	}
}

// Send implements session.Conn.
func (c *wsConn) Send(v any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.out <- v:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		logrus.WithField("conn", c.id).Warn("Send queue full; dropping frame")
		return ErrSendQueueFull
	}
}

// Close implements session.Conn. It sends a close frame with the given code
// before tearing the socket down.
func (c *wsConn) Close(code int, reason string) {
	if c.closed.Load() {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err != nil {
		logrus.WithError(err).WithField("conn", c.id).Debug("Failed to write close frame")
	}
	c.markClosed()
	_ = c.ws.Close()
}

// Open implements session.Conn.
func (c *wsConn) Open() bool {
	return !c.closed.Load()
}

// ID implements session.Conn.
func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) markClosed() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}
