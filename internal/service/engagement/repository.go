package engagement

import (
	"context"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// TokenResolver maps an opaque tracking token to its campaign and recipient.
// Resolve is a pure read. It returns ErrTokenNotFound for unknown tokens and
// for tokens whose campaign no longer exists.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (domain.TokenTarget, error)
}

// EventStore owns the event log and the recipient state projection.
// Implementations must be safe for concurrent use from many processes:
// counters are incremented and timestamps merged inside the datastore,
// never read-modify-written by the caller.
type EventStore interface {
	// Record appends e and folds it into the recipient's state as one atomic
	// unit. It returns false, with no state change, when an event with the
	// same ID was already recorded.
	Record(ctx context.Context, e domain.EngagementEvent) (bool, error)

	// RecipientState returns the current projection for one recipient.
	// Returns ErrStateNotFound if no event was recorded for it yet.
	RecipientState(ctx context.Context, campaignID, recipientID string) (*domain.RecipientState, error)
}

// DirtyMarker is told about campaigns that received new events so the
// analytics refresher can recompute them.
type DirtyMarker interface {
	MarkDirty(ctx context.Context, campaignID string) error
}
