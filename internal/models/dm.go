package models

import "time"

// Conversation is a direct conversation between exactly two users.
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"` // Always 2 for DM
	CreatedAt    time.Time `json:"createdAt"`
}

// Participant authorizes a user to exchange messages in a conversation.
type Participant struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	UserName       string    `json:"userName,omitempty"` // Joined from users, read endpoints only
	JoinedAt       time.Time `json:"joinedAt"`
}

// Message is a persisted direct message. It is immutable once created.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	RecipientID    string     `json:"recipientId"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeliveredAt    *time.Time `json:"deliveredAt"`

	// Sender and Recipient are nil when the store has no user row for the id
	Sender    *UserSummary `json:"sender"`
	Recipient *UserSummary `json:"recipient"`
}

// UserSummary is the public part of a user embedded in message payloads.
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// User is the minimal identity record kept for seeding and display names.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
}
