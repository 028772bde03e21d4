package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Vasu1712/scenyx-relay/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const DemoConversationID = "demo-conversation"

// DemoUser is a seeded login.
type DemoUser struct {
	Email    string
	Name     string
	Password string
}

var DemoUsers = [2]DemoUser{
	{Email: "alice@example.com", Name: "alice", Password: "password"},
	{Email: "bob@example.com", Name: "bob", Password: "password"},
}

// SeedDemo creates the two demo users and the conversation between them.
// Running it again leaves existing rows untouched.
func SeedDemo(ctx context.Context, s Seeder, log *slog.Logger) (*models.Conversation, [2]*models.User, error) {
	var users [2]*models.User
	for i, du := range DemoUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(du.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, users, fmt.Errorf("hash password for %s: %w", du.Email, err)
		}
		u, err := s.UpsertUser(ctx, du.Email, du.Name, string(hash))
		if err != nil {
			return nil, users, fmt.Errorf("seed user %s: %w", du.Email, err)
		}
		users[i] = u
	}
	conv, err := s.EnsureConversation(ctx, DemoConversationID, [2]string{users[0].ID, users[1].ID})
	if err != nil {
		return nil, users, fmt.Errorf("seed conversation: %w", err)
	}
	log.Info("seeded demo data",
		slog.String("conversation_id", conv.ID),
		slog.String("user_a", users[0].Email),
		slog.String("user_b", users[1].Email),
	)
	return conv, users, nil
}
