// Package valkey stores conversations and messages in Valkey.
//
// Key layout:
//
//	dm:{id}:participants   set of user ids
//	dm:{id}:joined         hash user id -> RFC3339 join time
//	dm:{id}:messages       list of JSON-encoded messages, oldest first
//	dm:{id}:index          hash message id -> position in dm:{id}:messages
//	user:{id}              hash email/name/password_hash
//	user:email:{email}     user id
package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Vasu1712/scenyx-relay/internal/models"
	"github.com/Vasu1712/scenyx-relay/internal/storage"
	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

type ValkeyDMStore struct {
	client valkey.Client
	log    *slog.Logger
}

func NewValkeyDMStore(ctx context.Context, log *slog.Logger, addr string) (*ValkeyDMStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", addr, err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping failed: %w", err)
	}
	log.Info("connected to valkey for DMs", "addr", addr)
	return &ValkeyDMStore{client: client, log: log}, nil
}

func participantsKey(dmID string) string { return "dm:" + dmID + ":participants" }
func joinedKey(dmID string) string       { return "dm:" + dmID + ":joined" }
func messagesKey(dmID string) string     { return "dm:" + dmID + ":messages" }
func indexKey(dmID string) string        { return "dm:" + dmID + ":index" }
func userKey(userID string) string       { return "user:" + userID }
func emailKey(email string) string       { return "user:email:" + strings.ToLower(email) }

func (s *ValkeyDMStore) FindParticipant(ctx context.Context, userID, dmID string) (*models.Participant, error) {
	ok, err := s.client.Do(ctx, s.client.B().Sismember().Key(participantsKey(dmID)).Member(userID).Build()).AsBool()
	if err != nil {
		return nil, fmt.Errorf("%w: find participant: %v", storage.ErrUnavailable, err)
	}
	if !ok {
		return nil, nil
	}
	p := &models.Participant{UserID: userID, ConversationID: dmID}
	joined, err := s.client.Do(ctx, s.client.B().Hget().Key(joinedKey(dmID)).Field(userID).Build()).ToString()
	switch {
	case valkey.IsValkeyNil(err):
	case err != nil:
		s.log.WarnContext(ctx, "read join time failed", "conversation_id", dmID, "user_id", userID, "error", err)
	default:
		p.JoinedAt = s.parseJoined(ctx, dmID, userID, joined)
	}
	return p, nil
}

func (s *ValkeyDMStore) parseJoined(ctx context.Context, dmID, userID, raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.log.WarnContext(ctx, "malformed join time", "conversation_id", dmID, "user_id", userID, "value", raw, "error", err)
	}
	return t
}

// summaries loads the sender and recipient user hashes. A missing user yields nil.
func (s *ValkeyDMStore) summaries(ctx context.Context, userIDs ...string) []*models.UserSummary {
	cmds := make(valkey.Commands, 0, len(userIDs))
	for _, id := range userIDs {
		cmds = append(cmds, s.client.B().Hgetall().Key(userKey(id)).Build())
	}
	out := make([]*models.UserSummary, len(userIDs))
	for i, resp := range s.client.DoMulti(ctx, cmds...) {
		fields, err := resp.AsStrMap()
		if err != nil {
			s.log.WarnContext(ctx, "load user summary failed", "user_id", userIDs[i], "error", err)
			continue
		}
		if len(fields) == 0 {
			continue
		}
		out[i] = &models.UserSummary{ID: userIDs[i], Name: fields["name"], Email: fields["email"]}
	}
	return out
}

func (s *ValkeyDMStore) CreateMessage(ctx context.Context, dmID, senderID, recipientID, content string) (*models.Message, error) {
	now := time.Now().UTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: dmID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		CreatedAt:      now,
		DeliveredAt:    &now,
	}
	users := s.summaries(ctx, senderID, recipientID)
	msg.Sender, msg.Recipient = users[0], users[1]
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	// A single RPUSH is atomic, so the message is either stored once or not at all.
	n, err := s.client.Do(ctx, s.client.B().Rpush().Key(messagesKey(dmID)).Element(string(raw)).Build()).AsInt64()
	if err != nil {
		return nil, fmt.Errorf("%w: create message: %v", storage.ErrUnavailable, err)
	}
	// The list only grows at the tail, so the new length pins this message's position.
	cmd := s.client.B().Hset().Key(indexKey(dmID)).FieldValue().FieldValue(msg.ID, strconv.FormatInt(n-1, 10)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		s.log.WarnContext(ctx, "index message failed", "conversation_id", dmID, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// ListMessages reads one LRANGE window after the cursor's indexed position.
// An unknown cursor yields an empty page.
func (s *ValkeyDMStore) ListMessages(ctx context.Context, dmID, cursor string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}
	var start int64
	if cursor != "" {
		pos, err := s.client.Do(ctx, s.client.B().Hget().Key(indexKey(dmID)).Field(cursor).Build()).AsInt64()
		if valkey.IsValkeyNil(err) {
			return []models.Message{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list messages: %v", storage.ErrUnavailable, err)
		}
		start = pos + 1
	}
	cmd := s.client.B().Lrange().Key(messagesKey(dmID)).Start(start).Stop(start + int64(limit) - 1).Build()
	raws, err := s.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", storage.ErrUnavailable, err)
	}
	msgs := make([]models.Message, 0, len(raws))
	for _, raw := range raws {
		var m models.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.log.WarnContext(ctx, "skipping undecodable message", "conversation_id", dmID, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *ValkeyDMStore) ListParticipants(ctx context.Context, dmID string) ([]models.Participant, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(participantsKey(dmID)).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: list participants: %v", storage.ErrUnavailable, err)
	}
	joined, err := s.client.Do(ctx, s.client.B().Hgetall().Key(joinedKey(dmID)).Build()).AsStrMap()
	if err != nil {
		s.log.WarnContext(ctx, "read join times failed", "conversation_id", dmID, "error", err)
	}
	var result []models.Participant
	for _, id := range ids {
		p := models.Participant{UserID: id, ConversationID: dmID}
		if raw, ok := joined[id]; ok {
			p.JoinedAt = s.parseJoined(ctx, dmID, id, raw)
		}
		if name, err := s.client.Do(ctx, s.client.B().Hget().Key(userKey(id)).Field("name").Build()).ToString(); err == nil {
			p.UserName = name
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *ValkeyDMStore) UpsertUser(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	id := uuid.NewString()
	// SET NX keeps the first id registered for an email.
	err := s.client.Do(ctx, s.client.B().Set().Key(emailKey(email)).Value(id).Nx().Build()).Error()
	if err != nil && !valkey.IsValkeyNil(err) {
		return nil, fmt.Errorf("upsert user %s: %w", email, err)
	}
	existing, err := s.client.Do(ctx, s.client.B().Get().Key(emailKey(email)).Build()).ToString()
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", email, err)
	}
	if existing != id {
		fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(userKey(existing)).Build()).AsStrMap()
		if err != nil {
			return nil, err
		}
		return &models.User{ID: existing, Email: fields["email"], Name: fields["name"], PasswordHash: fields["password_hash"]}, nil
	}
	cmd := s.client.B().Hset().Key(userKey(id)).FieldValue().
		FieldValue("email", strings.ToLower(email)).
		FieldValue("name", name).
		FieldValue("password_hash", passwordHash).
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", email, err)
	}
	return &models.User{ID: id, Email: strings.ToLower(email), Name: name, PasswordHash: passwordHash}, nil
}

func (s *ValkeyDMStore) EnsureConversation(ctx context.Context, dmID string, userIDs [2]string) (*models.Conversation, error) {
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	cmds := valkey.Commands{
		s.client.B().Sadd().Key(participantsKey(dmID)).Member(userIDs[0], userIDs[1]).Build(),
		s.client.B().Hsetnx().Key(joinedKey(dmID)).Field(userIDs[0]).Value(stamp).Build(),
		s.client.B().Hsetnx().Key(joinedKey(dmID)).Field(userIDs[1]).Value(stamp).Build(),
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return nil, fmt.Errorf("ensure conversation %s: %w", dmID, err)
		}
	}
	return &models.Conversation{ID: dmID, Participants: userIDs, CreatedAt: now}, nil
}

func (s *ValkeyDMStore) Close() error {
	s.client.Close()
	return nil
}
