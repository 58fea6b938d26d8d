package analytics

import (
	"context"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// Snapshot is a consistent read of everything a recompute folds.
type Snapshot struct {
	CampaignID string
	// TotalRecipients is the number of distinct recipients holding a
	// tracking token for the campaign.
	TotalRecipients int64
	States          []domain.RecipientState
	// LastEventAt is max(created_at) over the campaign's event log.
	LastEventAt *time.Time
}

// Repository defines the data access contract for the aggregator.
// Implementations must be safe for concurrent use.
type Repository interface {
	// LoadSnapshot reads the campaign's recipient states, recipient count and
	// latest event time as of one point in time. Returns ErrCampaignNotFound
	// for unknown or deleted campaigns.
	LoadSnapshot(ctx context.Context, campaignID string) (*Snapshot, error)

	// SaveAnalytics replaces the campaign's analytics row with a and returns
	// the stored row. UpdatedAt is only advanced when a computed field
	// differs from the stored row.
	SaveAnalytics(ctx context.Context, a domain.CampaignAnalytics) (*domain.CampaignAnalytics, error)

	// GetAnalytics returns the stored row. Returns ErrAnalyticsNotFound if
	// the campaign was never recomputed.
	GetAnalytics(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error)

	// ListRecipientStates pages through a campaign's recipient states ordered
	// by recipient id, returning the page and the total row count.
	ListRecipientStates(ctx context.Context, campaignID string, limit, offset int) ([]domain.RecipientState, int, error)
}

// Archiver receives every successfully written analytics row.
type Archiver interface {
	Archive(ctx context.Context, a domain.CampaignAnalytics) error
}
