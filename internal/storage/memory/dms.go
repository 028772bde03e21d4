package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-relay/internal/models"
	"github.com/Vasu1712/scenyx-relay/internal/storage"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// DMStore keeps conversations, participants and messages in process memory.
type DMStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation // dmID -> conversation
	participants  map[string]map[string]time.Time // dmID -> userID -> joinedAt
	messages      map[string][]models.Message     // dmID -> messages in creation order
	users         map[string]*models.User         // userID -> user
	emailIndex    map[string]string               // email -> userID
}

func NewDMStore() *DMStore {
	return &DMStore{
		conversations: make(map[string]*models.Conversation),
		participants:  make(map[string]map[string]time.Time),
		messages:      make(map[string][]models.Message),
		users:         make(map[string]*models.User),
		emailIndex:    make(map[string]string),
	}
}

func (s *DMStore) FindParticipant(ctx context.Context, userID, dmID string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	joinedAt, ok := s.participants[dmID][userID]
	if !ok {
		return nil, nil
	}
	return &models.Participant{UserID: userID, ConversationID: dmID, JoinedAt: joinedAt}, nil
}

func (s *DMStore) CreateMessage(ctx context.Context, dmID, senderID, recipientID, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: dmID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		CreatedAt:      now,
		DeliveredAt:    &now,
		Sender:         s.summary(senderID),
		Recipient:      s.summary(recipientID),
	}
	s.messages[dmID] = append(s.messages[dmID], msg)
	return &msg, nil
}

func (s *DMStore) ListMessages(ctx context.Context, dmID, cursor string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[dmID]
	start := 0
	if cursor != "" {
		_, i, ok := lo.FindIndexOf(all, func(m models.Message) bool { return m.ID == cursor })
		if !ok {
			// Unknown cursors yield nothing rather than replaying from the start
			return []models.Message{}, nil
		}
		start = i + 1
	}
	end := min(start+limit, len(all))
	out := make([]models.Message, end-start)
	copy(out, all[start:end])
	return out, nil
}

// summary must be called with s.mu held.
func (s *DMStore) summary(userID string) *models.UserSummary {
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	return &models.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

func (s *DMStore) ListParticipants(ctx context.Context, dmID string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Participant
	for userID, joinedAt := range s.participants[dmID] {
		p := models.Participant{UserID: userID, ConversationID: dmID, JoinedAt: joinedAt}
		if u, ok := s.users[userID]; ok {
			p.UserName = u.Name
		}
		result = append(result, p)
	}
	return result, nil
}

// UpsertUser creates the user for email or returns the existing one unchanged.
func (s *DMStore) UpsertUser(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(email)
	if id, ok := s.emailIndex[email]; ok {
		u := *s.users[id]
		return &u, nil
	}
	u := &models.User{ID: uuid.NewString(), Email: email, Name: name, PasswordHash: passwordHash}
	s.users[u.ID] = u
	s.emailIndex[email] = u.ID
	cp := *u
	return &cp, nil
}

// EnsureConversation creates the conversation and both participant rows if missing.
func (s *DMStore) EnsureConversation(ctx context.Context, dmID string, userIDs [2]string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[dmID]; ok {
		cp := *conv
		return &cp, nil
	}
	now := time.Now().UTC()
	conv := &models.Conversation{ID: dmID, Participants: userIDs, CreatedAt: now}
	s.conversations[dmID] = conv
	s.participants[dmID] = map[string]time.Time{userIDs[0]: now, userIDs[1]: now}
	cp := *conv
	return &cp, nil
}

func (s *DMStore) Close() error { return nil }
