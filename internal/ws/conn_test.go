package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	writes [][]byte
	pings  int
	closed bool
	pong   func(string) error
	fail   error
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("not readable")
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.PingMessage {
		f.pings++
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error    { return nil }
func (f *fakeTransport) SetReadLimit(int64)                  {}
func (f *fakeTransport) SetPongHandler(h func(string) error) { f.pong = h }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) written() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestConn_SendDrainsThroughPump(t *testing.T) {
	tr := &fakeTransport{}
	c := NewConn(tr, "u", 4, time.Second)
	go c.WritePump()
	defer c.Close()

	require.NoError(t, c.Send([]byte("hello")))
	require.Eventually(t, func() bool { return tr.written() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConn_SendBufferFull(t *testing.T) {
	req := require.New(t)
	c := NewConn(&fakeTransport{}, "u", 1, time.Second)

	// No pump running, so the second frame has nowhere to go
	req.NoError(c.Send([]byte("a")))
	req.ErrorIs(c.Send([]byte("b")), ErrSendBufferFull)
}

func TestConn_SendAfterClose(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{}
	c := NewConn(tr, "u", 1, time.Second)

	c.Close()
	c.Close()

	req.ErrorIs(c.Send([]byte("a")), ErrConnClosed)
	req.Equal(Dead, c.Liveness())
	req.True(tr.isClosed())
}

func TestConn_PumpClosesOnWriteError(t *testing.T) {
	tr := &fakeTransport{fail: errors.New("broken pipe")}
	c := NewConn(tr, "u", 1, time.Second)
	go c.WritePump()

	require.NoError(t, c.Send([]byte("a")))
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not closed after write failure")
	}
}

func TestConn_PingLiveness(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{}
	c := NewConn(tr, "u", 1, time.Second)

	// Given a fresh connection, the first ping goes out
	req.True(c.Ping())
	req.Equal(AwaitingPong, c.Liveness())

	// When no pong arrives, the next ping reports the peer gone
	req.False(c.Ping())

	// When a pong arrives, pinging resumes
	req.NoError(tr.pong(""))
	req.Equal(Alive, c.Liveness())
	req.True(c.Ping())
	req.Equal(2, tr.pings)
}
