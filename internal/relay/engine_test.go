package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Vasu1712/scenyx-relay/internal/logging"
	"github.com/Vasu1712/scenyx-relay/internal/models"
	"github.com/Vasu1712/scenyx-relay/internal/storage/memory"
	"github.com/Vasu1712/scenyx-relay/internal/ws"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	id     string
	userID string
	fail   error

	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConn) ID() string     { return c.id }
func (c *recordingConn) UserID() string { return c.userID }

func (c *recordingConn) Send(data []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *recordingConn) notifications(t *testing.T) []Notification {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.frames))
	for _, f := range c.frames {
		var n Notification
		require.NoError(t, json.Unmarshal(f, &n))
		out = append(out, n)
	}
	return out
}

func errorCode(t *testing.T, n Notification) string {
	t.Helper()
	require.Equal(t, TypeError, n.Type)
	payload, ok := n.Payload.(map[string]any)
	require.True(t, ok)
	return payload["code"].(string)
}

type brokenStore struct {
	*memory.DMStore
}

func (brokenStore) CreateMessage(context.Context, string, string, string, string) (*models.Message, error) {
	return nil, errors.New("disk full")
}

type fixture struct {
	engine   *Engine
	registry *ws.Registry
	store    *memory.DMStore
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()
	mem := seededStore(t)
	if store == nil {
		store = mem
	}
	registry := ws.NewRegistry()
	engine := NewEngine(registry, NewGate(store, false), store, logging.Discard(), nil, Config{})
	return &fixture{engine: engine, registry: registry, store: mem}
}

func (f *fixture) connect(id, userID string) *recordingConn {
	c := &recordingConn{id: id, userID: userID}
	f.registry.Register(userID, c)
	return c
}

func (f *fixture) stored(t *testing.T) []models.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), "c1", "", 0)
	require.NoError(t, err)
	return msgs
}

func TestEngine_DispatchToBothParticipants(t *testing.T) {
	req := require.New(t)

	// Given A on two devices and B on one
	f := newFixture(t, nil)
	a1 := f.connect("a1", "A")
	a2 := f.connect("a2", "A")
	b1 := f.connect("b1", "B")

	// When A sends from the first device
	f.engine.HandleFrame(context.Background(), a1, sendFrame("hi"))

	// Then the message is stored once
	msgs := f.stored(t)
	req.Len(msgs, 1)
	req.Equal("A", msgs[0].SenderID)
	req.Equal("B", msgs[0].RecipientID)
	req.NotNil(msgs[0].DeliveredAt)

	// And every live connection of both users gets exactly one copy
	for _, c := range []*recordingConn{a1, a2, b1} {
		got := c.notifications(t)
		req.Len(got, 1, "connection %s", c.id)
		req.Equal(TypeNew, got[0].Type)
		payload := got[0].Payload.(map[string]any)
		req.Equal(msgs[0].ID, payload["id"])
		req.Equal("hi", payload["content"])
		req.Equal("c1", payload["conversationId"])
	}
	req.Equal(3.0, testutil.ToFloat64(f.engine.Metrics().Dispatched))
}

func TestEngine_SendToSelfIsDeliveredOnce(t *testing.T) {
	f := newFixture(t, nil)
	a1 := f.connect("a1", "A")
	a2 := f.connect("a2", "A")

	f.engine.HandleFrame(context.Background(), a1,
		[]byte(`{"type":"send","payload":{"conversationId":"c1","recipientId":"A","content":"note to self"}}`))

	require.Len(t, a1.notifications(t), 1)
	require.Len(t, a2.notifications(t), 1)
}

func TestEngine_ForbiddenIsNeverPersisted(t *testing.T) {
	req := require.New(t)

	// Given C, who is not part of c1, and a connected recipient
	f := newFixture(t, nil)
	c1 := f.connect("c1-conn", "C")
	b1 := f.connect("b1", "B")

	// When C sends into c1
	f.engine.HandleFrame(context.Background(), c1, sendFrame("let me in"))

	// Then C is told it is unauthorized and nothing else happens
	got := c1.notifications(t)
	req.Len(got, 1)
	req.Equal(CodeUnauthorized, errorCode(t, got[0]))
	req.Empty(f.stored(t))
	req.Empty(b1.notifications(t))
}

func TestEngine_InvalidFrame(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	a1 := f.connect("a1", "A")
	b1 := f.connect("b1", "B")

	for _, raw := range []string{`not json`, `{"type":"send","payload":{"conversationId":"c1","recipientId":"B","content":""}}`} {
		f.engine.HandleFrame(context.Background(), a1, []byte(raw))
	}

	got := a1.notifications(t)
	req.Len(got, 2)
	for _, n := range got {
		req.Equal(CodeInvalidMessage, errorCode(t, n))
	}
	req.Empty(f.stored(t))
	req.Empty(b1.notifications(t))
}

func TestEngine_StoreFailure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, brokenStore{DMStore: seededStore(t)})
	a1 := f.connect("a1", "A")
	b1 := f.connect("b1", "B")

	f.engine.HandleFrame(context.Background(), a1, sendFrame("hi"))

	got := a1.notifications(t)
	req.Len(got, 1)
	req.Equal(CodeSendFailed, errorCode(t, got[0]))
	req.Empty(b1.notifications(t))
}

func TestEngine_FailingConnectionDoesNotBlockOthers(t *testing.T) {
	req := require.New(t)

	// Given B's only connection cannot accept writes
	f := newFixture(t, nil)
	a1 := f.connect("a1", "A")
	f.registry.Register("B", &recordingConn{id: "b-dead", userID: "B", fail: ws.ErrConnClosed})

	// When A sends
	msg, err := f.engine.Send(context.Background(), "A", SendMessage{ConversationID: "c1", RecipientID: "B", Content: "hi"})

	// Then the message stays stored and the sender still gets its echo
	req.NoError(err)
	req.Equal(msg.ID, f.stored(t)[0].ID)
	req.Len(a1.notifications(t), 1)
	req.Equal(1.0, testutil.ToFloat64(f.engine.Metrics().DispatchFailures))
}

func TestEngine_OfflineRecipient(t *testing.T) {
	f := newFixture(t, nil)
	a1 := f.connect("a1", "A")

	f.engine.HandleFrame(context.Background(), a1, sendFrame("are you there"))

	require.Len(t, f.stored(t), 1)
	require.Len(t, a1.notifications(t), 1)
	require.False(t, f.registry.Has("B"))
}

func TestEngine_PresenceIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	a1 := f.connect("a1", "A")

	f.engine.HandleFrame(context.Background(), a1, []byte(`{"type":"presence","payload":{"status":"away"}}`))

	require.Empty(t, a1.notifications(t))
	require.Empty(t, f.stored(t))
}

func TestEngine_FramesInOrder(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	a1 := f.connect("a1", "A")
	b1 := f.connect("b1", "B")

	for _, content := range []string{"one", "two", "three"} {
		f.engine.HandleFrame(context.Background(), a1, sendFrame(content))
	}

	got := b1.notifications(t)
	req.Len(got, 3)
	for i, want := range []string{"one", "two", "three"} {
		req.Equal(want, got[i].Payload.(map[string]any)["content"])
	}
}
