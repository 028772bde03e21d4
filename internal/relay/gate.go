package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/Vasu1712/scenyx-relay/internal/models"
)

var (
	ErrForbidden = errors.New("not a participant in this conversation")
	ErrStore     = errors.New("message store unavailable")
)

// ParticipantFinder is the membership lookup the gate needs. A nil participant
// with a nil error means "not a member".
type ParticipantFinder interface {
	FindParticipant(ctx context.Context, userID, conversationID string) (*models.Participant, error)
}

// Gate decides whether a user may act in a conversation. It is the only
// authorization check between a validated frame and persistence.
type Gate struct {
	finder          ParticipantFinder
	strictRecipient bool
}

func NewGate(finder ParticipantFinder, strictRecipient bool) *Gate {
	return &Gate{finder: finder, strictRecipient: strictRecipient}
}

// Authorize returns nil when userID participates in conversationID, ErrForbidden
// when it does not, and an error wrapping ErrStore when the lookup failed.
func (g *Gate) Authorize(ctx context.Context, userID, conversationID string) error {
	p, err := g.finder.FindParticipant(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if p == nil {
		return ErrForbidden
	}
	return nil
}

// AuthorizeSend checks the sender and, in strict mode, the addressed recipient.
func (g *Gate) AuthorizeSend(ctx context.Context, senderID string, msg SendMessage) error {
	if err := g.Authorize(ctx, senderID, msg.ConversationID); err != nil {
		return err
	}
	if !g.strictRecipient {
		return nil
	}
	if msg.RecipientID == senderID {
		return ErrForbidden
	}
	return g.Authorize(ctx, msg.RecipientID, msg.ConversationID)
}
