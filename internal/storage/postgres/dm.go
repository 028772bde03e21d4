package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort" // participant rows are written in a stable order
	"strings"
	"time"

	"github.com/Vasu1712/scenyx-relay/internal/models"
	"github.com/Vasu1712/scenyx-relay/internal/storage"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresDMStore implements storage.Store using PostgreSQL.
type PostgresDMStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgresDMStore opens and pings the database behind dataSourceName.
func NewPostgresDMStore(ctx context.Context, log *slog.Logger, dataSourceName string) (*PostgresDMStore, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection for DMs: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database for DMs: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info("connected to PostgreSQL for DMs")

	return &PostgresDMStore{db: db, log: log}, nil
}

func (s *PostgresDMStore) FindParticipant(ctx context.Context, userID, dmID string) (*models.Participant, error) {
	p := &models.Participant{}
	query := `
		SELECT user_id, conversation_id, joined_at
		FROM participants
		WHERE user_id = $1 AND conversation_id = $2
	`
	err := s.db.QueryRowContext(ctx, query, userID, dmID).Scan(&p.UserID, &p.ConversationID, &p.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find participant: %v", storage.ErrUnavailable, err)
	}
	return p, nil
}

const messageColumns = `
	m.id, m.conversation_id, m.sender_id, m.recipient_id, m.content, m.created_at, m.delivered_at,
	su.id, su.name, su.email, ru.id, ru.name, ru.email`

const messageJoins = `
	LEFT JOIN users su ON su.id = m.sender_id
	LEFT JOIN users ru ON ru.id = m.recipient_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var sender, recipient [3]sql.NullString
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.RecipientID, &msg.Content, &msg.CreatedAt, &msg.DeliveredAt,
		&sender[0], &sender[1], &sender[2], &recipient[0], &recipient[1], &recipient[2],
	)
	if err != nil {
		return msg, err
	}
	msg.Sender = userSummary(sender)
	msg.Recipient = userSummary(recipient)
	return msg, nil
}

// userSummary maps an id, name, email column triple from a LEFT JOIN.
func userSummary(cols [3]sql.NullString) *models.UserSummary {
	if !cols[0].Valid {
		return nil
	}
	return &models.UserSummary{ID: cols[0].String, Name: cols[1].String, Email: cols[2].String}
}

// CreateMessage inserts the message and bumps the conversation's updated_at.
func (s *PostgresDMStore) CreateMessage(ctx context.Context, dmID, senderID, recipientID, content string) (*models.Message, error) {
	query := `
		WITH m AS (
			INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, delivered_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			RETURNING id, conversation_id, sender_id, recipient_id, content, created_at, delivered_at
		)
		SELECT ` + messageColumns + `
		FROM m` + messageJoins
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, uuid.NewString(), dmID, senderID, recipientID, content))
	if err != nil {
		return nil, fmt.Errorf("%w: create message: %v", storage.ErrUnavailable, err)
	}

	// Non-fatal: the message row is already committed
	if _, err = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, dmID); err != nil {
		s.log.WarnContext(ctx, "update conversation timestamp failed", "conversation_id", dmID, "error", err)
	}
	return &msg, nil
}

// ListMessages pages forward from cursor. An unknown cursor matches no rows.
func (s *PostgresDMStore) ListMessages(ctx context.Context, dmID, cursor string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages m` + messageJoins + `
		WHERE m.conversation_id = $1
		  AND ($2 = '' OR (m.created_at, m.id) > (SELECT created_at, id FROM messages WHERE id = $2 AND conversation_id = $1))
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, dmID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *PostgresDMStore) ListParticipants(ctx context.Context, dmID string) ([]models.Participant, error) {
	query := `
		SELECT p.user_id, p.conversation_id, COALESCE(u.name, ''), p.joined_at
		FROM participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, dmID)
	if err != nil {
		return nil, fmt.Errorf("%w: list participants: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var result []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.UserID, &p.ConversationID, &p.UserName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// UpsertUser inserts the user or returns the existing row for the same email.
func (s *PostgresDMStore) UpsertUser(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	u := &models.User{}
	query := `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, name, COALESCE(password_hash, '')
	`
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), strings.ToLower(email), name, passwordHash).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", email, err)
	}
	return u, nil
}

// EnsureConversation creates the conversation and its two participants in one transaction.
func (s *PostgresDMStore) EnsureConversation(ctx context.Context, dmID string, userIDs [2]string) (*models.Conversation, error) {
	participants := userIDs[:]
	sort.Strings(participants)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	conv := &models.Conversation{ID: dmID}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING created_at
	`, dmID).Scan(&conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation %s: %w", dmID, err)
	}
	for i, userID := range participants {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO participants (user_id, conversation_id) VALUES ($1, $2)
			ON CONFLICT (user_id, conversation_id) DO NOTHING
		`, userID, dmID); err != nil {
			return nil, fmt.Errorf("ensure participant %s: %w", userID, err)
		}
		conv.Participants[i] = userID
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return conv, nil
}

// Close closes the database connection.
func (s *PostgresDMStore) Close() error {
	return s.db.Close()
}
