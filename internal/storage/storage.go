// Package storage defines the persistence contract shared by the memory,
// postgres and valkey backends.
package storage

import (
	"context"
	"errors"

	"github.com/Vasu1712/scenyx-relay/internal/models"
)

// DefaultPageSize bounds ListMessages when the caller passes a non-positive limit.
const DefaultPageSize = 50

// ErrUnavailable is returned by backends when the underlying store cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// Store is the persistence collaborator of the relay.
type Store interface {
	// FindParticipant returns nil, nil when the user is not a participant of the conversation.
	FindParticipant(ctx context.Context, userID, conversationID string) (*models.Participant, error)
	// CreateMessage persists a message exactly once and stamps it delivered.
	CreateMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (*models.Message, error)
	// ListMessages returns up to limit messages in creation order, starting after cursor (a message id).
	ListMessages(ctx context.Context, conversationID, cursor string, limit int) ([]models.Message, error)
	// ListParticipants returns the participants of a conversation with their display names.
	ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error)
	Close() error
}

// Seeder is implemented by backends that can be populated with demo data.
type Seeder interface {
	UpsertUser(ctx context.Context, email, name, passwordHash string) (*models.User, error)
	EnsureConversation(ctx context.Context, conversationID string, userIDs [2]string) (*models.Conversation, error)
}
