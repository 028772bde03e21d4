package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Liveness of a connection as tracked by the ping loop.
type Liveness int32

const (
	Alive Liveness = iota
	AwaitingPong
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case AwaitingPong:
		return "awaiting_pong"
	default:
		return "dead"
	}
}

// Transport is the subset of *websocket.Conn a Conn drives.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is one live websocket owned by a single user.
//
// Outbound frames go through a bounded queue drained by WritePump, so Send never
// blocks the caller. Once closed, Send fails with ErrConnClosed.
type Conn struct {
	id        string
	userID    string
	transport Transport
	writeWait time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	state    atomic.Int32
	lastPong atomic.Int64
}

func NewConn(t Transport, userID string, sendBuffer int, writeWait time.Duration) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		userID:    userID,
		transport: t,
		writeWait: writeWait,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
	c.lastPong.Store(time.Now().UnixNano())
	t.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})
	return c
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Liveness() Liveness { return Liveness(c.state.Load()) }

func (c *Conn) LastPong() time.Time { return time.Unix(0, c.lastPong.Load()) }

// Send queues data for the write pump.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// ReadMessage blocks for the next data frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.transport.ReadMessage()
	return data, err
}

func (c *Conn) SetReadLimit(limit int64) { c.transport.SetReadLimit(limit) }

// WritePump writes queued frames until the connection closes or a write fails.
func (c *Conn) WritePump() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// Ping sends a ping. It returns false without pinging when the previous ping
// is still unanswered, meaning the peer is gone.
func (c *Conn) Ping() bool {
	if !c.state.CompareAndSwap(int32(Alive), int32(AwaitingPong)) {
		return false
	}
	err := c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
	return err == nil
}

// MarkAlive records a pong.
func (c *Conn) MarkAlive() {
	c.lastPong.Store(time.Now().UnixNano())
	c.state.CompareAndSwap(int32(AwaitingPong), int32(Alive))
}

// Close marks the connection dead and closes the transport. Safe to call repeatedly.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(Dead))
		close(c.done)
		_ = c.transport.Close()
	})
}
