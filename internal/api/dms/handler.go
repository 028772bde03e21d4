package dms

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Vasu1712/scenyx-relay/internal/auth"
	"github.com/Vasu1712/scenyx-relay/internal/logging"
	"github.com/Vasu1712/scenyx-relay/internal/middleware"
	"github.com/Vasu1712/scenyx-relay/internal/models"
	"github.com/Vasu1712/scenyx-relay/internal/relay"
	"github.com/Vasu1712/scenyx-relay/internal/storage"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

// DMHandler serves the REST side of direct messages: history, sends that go
// through the same pipeline as websocket frames, and token exchange.
type DMHandler struct {
	Store    storage.Store
	Gate     *relay.Gate
	Engine   *relay.Engine
	Issuer   *auth.Issuer
	Resolver *auth.Resolver
}

type messagesResponse struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type otherUserResponse struct {
	OtherUserID   string `json:"otherUserId"`
	OtherUserName string `json:"otherUserName"`
}

type sessionUser struct {
	ID string `json:"id"`
}

type sessionResponse struct {
	User *sessionUser `json:"user"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// authorize maps a gate result onto an HTTP status. It reports whether the request may proceed.
func (h *DMHandler) authorize(w http.ResponseWriter, r *http.Request, userID, conversationID string) bool {
	err := h.Gate.Authorize(r.Context(), userID, conversationID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, relay.ErrForbidden):
		writeError(w, http.StatusForbidden, "Unauthorized")
	default:
		logging.FromContext(r.Context()).Error("membership lookup failed", logging.Conversation(conversationID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
	return false
}

// GetMessages returns one page of a conversation's history, oldest first.
func (h *DMHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if !h.authorize(w, r, userID, conversationID) {
		return
	}

	msgs, err := h.Store.ListMessages(r.Context(), conversationID, r.URL.Query().Get("cursor"), storage.DefaultPageSize)
	if err != nil {
		logging.FromContext(r.Context()).Error("list messages failed", logging.Conversation(conversationID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp := messagesResponse{Messages: msgs}
	if len(msgs) == storage.DefaultPageSize {
		resp.NextCursor = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// SendMessage persists a message posted over HTTP and pushes it to live connections.
func (h *DMHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	var req relay.SendMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.Engine.Send(r.Context(), userID, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, msg)
	case errors.Is(err, relay.ErrForbidden):
		writeError(w, http.StatusForbidden, "Unauthorized")
	default:
		logging.FromContext(r.Context()).Error("send failed", logging.User(userID), logging.Conversation(req.ConversationID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// GetOtherUser names the caller's counterpart in a conversation.
func (h *DMHandler) GetOtherUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	conversationID := mux.Vars(r)["conversationId"]
	if !h.authorize(w, r, userID, conversationID) {
		return
	}

	participants, err := h.Store.ListParticipants(r.Context(), conversationID)
	if err != nil {
		logging.FromContext(r.Context()).Error("list participants failed", logging.Conversation(conversationID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	other, ok := lo.Find(participants, func(p models.Participant) bool { return p.UserID != userID })
	if !ok {
		writeError(w, http.StatusNotFound, "Other user not found")
		return
	}
	writeJSON(w, http.StatusOK, otherUserResponse{OtherUserID: other.UserID, OtherUserName: other.UserName})
}

// IssueWSToken exchanges a session cookie for a short-lived bearer token the
// browser can put on the websocket URL.
func (h *DMHandler) IssueWSToken(w http.ResponseWriter, r *http.Request) {
	userID, err := h.Resolver.Session(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	token, exp, err := h.Issuer.Issue(userID)
	if err != nil {
		logging.FromContext(r.Context()).Error("issue token failed", logging.User(userID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	logging.FromContext(r.Context()).Debug("issued websocket token", logging.User(userID), slog.Time("expires_at", exp))
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// GetSession reports who the session cookie belongs to, if anyone.
func (h *DMHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, err := h.Resolver.Session(r)
	if err != nil {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: &sessionUser{ID: userID}})
}
