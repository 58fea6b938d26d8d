package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/pkg/metrics"
)

var log = logger.With("analytics")

// Service implements the aggregator. All public methods are safe for
// concurrent use if the underlying repository is concurrency-safe; two
// overlapping recomputes of the same campaign write the same row.
type Service struct {
	repo     Repository
	archiver Archiver
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithArchiver registers an archive sink for written rows.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithClock overrides the wall clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an analytics service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Recompute folds the campaign's current state into a fresh analytics row,
// writes it as a full replace and returns the stored row. On any error the
// previously stored row is left untouched.
func (s *Service) Recompute(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error) {
	return s.recompute(ctx, campaignID, "on_demand")
}

// Refresh is Recompute as invoked by the background refresher.
func (s *Service) Refresh(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error) {
	return s.recompute(ctx, campaignID, "scheduled")
}

func (s *Service) recompute(ctx context.Context, campaignID, trigger string) (out *domain.CampaignAnalytics, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RecomputeTotal.WithLabelValues(trigger, outcome).Inc()
		metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
	}()

	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, ErrMissingCampaignID
	}

	snap, err := s.repo.LoadSnapshot(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	row := Fold(*snap, s.now())
	if !row.Consistent() {
		// Fold cannot produce this from well-formed states; refuse to
		// overwrite a good row with it.
		return nil, fmt.Errorf("inconsistent aggregate for campaign %s", campaignID)
	}

	saved, err := s.repo.SaveAnalytics(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("save analytics: %w", err)
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, *saved); err != nil {
			log.Warn("archive analytics failed", "campaign_id", campaignID, "error", err)
		}
	}
	return saved, nil
}

// Get returns the stored analytics row without recomputing.
func (s *Service) Get(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, ErrMissingCampaignID
	}
	return s.repo.GetAnalytics(ctx, campaignID)
}

// Recipients pages through a campaign's recipient states.
func (s *Service) Recipients(ctx context.Context, campaignID string, limit, offset int) ([]domain.RecipientState, int, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, 0, ErrMissingCampaignID
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListRecipientStates(ctx, campaignID, limit, offset)
}

// Fold derives the analytics row from a snapshot. It is pure: the same
// snapshot and clock always give the same row.
func Fold(snap Snapshot, now time.Time) domain.CampaignAnalytics {
	a := domain.CampaignAnalytics{
		CampaignID:      snap.CampaignID,
		TotalRecipients: snap.TotalRecipients,
		UpdatedAt:       now.UTC().Truncate(time.Microsecond),
	}
	if n := int64(len(snap.States)); n > a.TotalRecipients {
		a.TotalRecipients = n
	}

	for _, st := range snap.States {
		if st.SentAt != nil {
			a.SentCount++
		}
		if st.DeliveredAt != nil {
			a.DeliveredCount++
		}
		a.OpenedCount += st.OpenCount
		if st.FirstOpenedAt != nil {
			a.UniqueOpenedCount++
		}
		a.ClickedCount += st.ClickCount
		if st.FirstClickedAt != nil {
			a.UniqueClickedCount++
		}
		switch st.Status {
		case domain.StatusBounced:
			a.BouncedCount++
		case domain.StatusComplained:
			a.ComplainedCount++
		case domain.StatusUnsubscribed:
			a.UnsubscribedCount++
		}
	}

	if snap.LastEventAt != nil {
		t := snap.LastEventAt.UTC()
		a.LastEventAt = &t
	}
	return a
}
