package dms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vasu1712/scenyx-relay/internal/auth"
	"github.com/Vasu1712/scenyx-relay/internal/logging"
	"github.com/Vasu1712/scenyx-relay/internal/models"
	"github.com/Vasu1712/scenyx-relay/internal/relay"
	"github.com/Vasu1712/scenyx-relay/internal/storage/memory"
	"github.com/Vasu1712/scenyx-relay/internal/ws"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

const secret = "rest-secret"

type captureConn struct {
	id, userID string
	mu         sync.Mutex
	frames     int
}

func (c *captureConn) ID() string     { return c.id }
func (c *captureConn) UserID() string { return c.userID }
func (c *captureConn) Send([]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	return nil
}

type fixture struct {
	router   *mux.Router
	store    *memory.DMStore
	registry *ws.Registry
	issuer   *auth.Issuer
	alice    *models.User
	bob      *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewDMStore()
	alice, err := store.UpsertUser(ctx, "alice@example.com", "Alice", "")
	require.NoError(t, err)
	bob, err := store.UpsertUser(ctx, "bob@example.com", "Bob", "")
	require.NoError(t, err)
	_, err = store.EnsureConversation(ctx, "c1", [2]string{alice.ID, bob.ID})
	require.NoError(t, err)

	registry := ws.NewRegistry()
	gate := relay.NewGate(store, false)
	engine := relay.NewEngine(registry, gate, store, logging.Discard(), nil, relay.Config{})
	handler := &DMHandler{
		Store:    store,
		Gate:     gate,
		Engine:   engine,
		Issuer:   auth.NewIssuer(secret, time.Hour),
		Resolver: auth.NewResolver(auth.NewVerifier(secret), "session"),
	}
	router := mux.NewRouter()
	RegisterDMRoutes(router, handler)
	return &fixture{router: router, store: store, registry: registry, issuer: handler.Issuer, alice: alice, bob: bob}
}

func (f *fixture) do(t *testing.T, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		token, _, err := f.issuer.Issue(userID)
		require.NoError(t, err)
		r.AddCookie(&http.Cookie{Name: "session", Value: token})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	return rec
}

func TestGetMessages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	for i := 0; i < 51; i++ {
		_, err := f.store.CreateMessage(context.Background(), "c1", f.alice.ID, f.bob.ID, fmt.Sprintf("m%d", i))
		req.NoError(err)
	}

	// First page is full and points at the next one
	rec := f.do(t, http.MethodGet, "/api/messages?conversationId=c1", f.bob.ID, "")
	req.Equal(http.StatusOK, rec.Code)
	var page messagesResponse
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	req.Len(page.Messages, 50)
	req.Equal("m0", page.Messages[0].Content)
	req.NotEmpty(page.NextCursor)

	// Second page holds the remainder
	rec = f.do(t, http.MethodGet, "/api/messages?conversationId=c1&cursor="+page.NextCursor, f.bob.ID, "")
	req.Equal(http.StatusOK, rec.Code)
	page = messagesResponse{}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	req.Len(page.Messages, 1)
	req.Equal("m50", page.Messages[0].Content)
	req.Empty(page.NextCursor)
}

func TestGetMessages_Rejections(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/messages?conversationId=c1", "", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/messages", f.alice.ID, "").Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/messages?conversationId=c1", "mallory", "").Code)
}

func TestSendMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	bobConn := &captureConn{id: "b1", userID: f.bob.ID}
	f.registry.Register(f.bob.ID, bobConn)

	body := fmt.Sprintf(`{"conversationId":"c1","recipientId":%q,"content":"over http"}`, f.bob.ID)
	rec := f.do(t, http.MethodPost, "/api/messages", f.alice.ID, body)

	req.Equal(http.StatusOK, rec.Code)
	var msg models.Message
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &msg))
	req.Equal(f.alice.ID, msg.SenderID)
	req.Equal("over http", msg.Content)
	req.Equal(&models.UserSummary{ID: f.alice.ID, Name: "Alice", Email: "alice@example.com"}, msg.Sender)
	req.Equal(&models.UserSummary{ID: f.bob.ID, Name: "Bob", Email: "bob@example.com"}, msg.Recipient)
	req.Equal(1, bobConn.frames)

	stored, err := f.store.ListMessages(context.Background(), "c1", "", 0)
	req.NoError(err)
	req.Len(stored, 1)
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture(t)
	valid := fmt.Sprintf(`{"conversationId":"c1","recipientId":%q,"content":"hi"}`, f.bob.ID)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/messages", f.alice.ID, `{`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/messages", f.alice.ID,
		`{"conversationId":"c1","recipientId":"x","content":""}`).Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/messages", "mallory", valid).Code)

	stored, err := f.store.ListMessages(context.Background(), "c1", "", 0)
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestGetOtherUser(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/conversation/c1/other-user", f.alice.ID, "")
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(fmt.Sprintf(`{"otherUserId":%q,"otherUserName":"Bob"}`, f.bob.ID), rec.Body.String())

	req.Equal(http.StatusForbidden, f.do(t, http.MethodGet, "/api/conversation/c1/other-user", "mallory", "").Code)
}

func TestIssueWSToken(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.Equal(http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/ws-token", "", "").Code)

	rec := f.do(t, http.MethodPost, "/api/ws-token", f.alice.ID, "")
	req.Equal(http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	userID, err := auth.NewVerifier(secret).Verify(body.Token)
	req.NoError(err)
	req.Equal(f.alice.ID, userID)
}

func TestGetSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/session", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":null}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/session", f.bob.ID, "")
	require.JSONEq(t, fmt.Sprintf(`{"user":{"id":%q}}`, f.bob.ID), rec.Body.String())
}
