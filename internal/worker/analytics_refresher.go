package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/distlock"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/service/analytics"
)

var log = logger.With("worker")

// =============================================================================
// ANALYTICS REFRESHER: keeps campaign_analytics close to the event log
// =============================================================================
// The recorder marks a campaign dirty after every new event. Each cycle pops
// a batch of dirty campaigns and recomputes them, one at a time, under a
// per-campaign distributed lock so two workers never fold the same campaign
// concurrently. A campaign whose recompute failed, or whose lock was busy,
// is marked dirty again for the next cycle.
//
// An optional full sweep recomputes every live campaign on a slower
// interval, covering marks lost to a Redis flush.

const (
	DefaultRefreshInterval = 10 * time.Second
	DefaultRefreshBatch    = 100
)

// DirtyQueue is the shared set of campaigns awaiting a recompute.
type DirtyQueue interface {
	MarkDirty(ctx context.Context, campaignID string) error
	PopDirty(ctx context.Context, n int) ([]string, error)
}

// Recomputer is satisfied by *analytics.Service.
type Recomputer interface {
	Refresh(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error)
}

// CampaignLister lists campaigns for the full sweep.
type CampaignLister interface {
	LiveCampaigns(ctx context.Context) ([]string, error)
}

// AnalyticsRefresher periodically recomputes dirty campaigns.
type AnalyticsRefresher struct {
	queue     DirtyQueue
	svc       Recomputer
	newLock   func(key string) distlock.DistLock
	interval  time.Duration
	batchSize int

	lister        CampaignLister
	sweepInterval time.Duration
}

// RefresherOption configures an AnalyticsRefresher.
type RefresherOption func(*AnalyticsRefresher)

// WithInterval sets the dirty-set poll interval.
func WithInterval(d time.Duration) RefresherOption {
	return func(r *AnalyticsRefresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps campaigns handled per cycle.
func WithBatchSize(n int) RefresherOption {
	return func(r *AnalyticsRefresher) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithSweep enables a full recompute of every live campaign every d.
func WithSweep(l CampaignLister, d time.Duration) RefresherOption {
	return func(r *AnalyticsRefresher) {
		r.lister = l
		r.sweepInterval = d
	}
}

// NewAnalyticsRefresher creates a refresher. newLock builds the lock for a
// key; see distlock.Factory.
func NewAnalyticsRefresher(queue DirtyQueue, svc Recomputer, newLock func(string) distlock.DistLock, opts ...RefresherOption) *AnalyticsRefresher {
	r := &AnalyticsRefresher{
		queue:     queue,
		svc:       svc,
		newLock:   newLock,
		interval:  DefaultRefreshInterval,
		batchSize: DefaultRefreshBatch,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start runs the refresh loop. It blocks until ctx is cancelled.
func (r *AnalyticsRefresher) Start(ctx context.Context) {
	log.Info("analytics refresher starting", "interval", r.interval.String(), "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var sweep <-chan time.Time
	if r.lister != nil && r.sweepInterval > 0 {
		st := time.NewTicker(r.sweepInterval)
		defer st.Stop()
		sweep = st.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("analytics refresher stopping")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-sweep:
			r.Sweep(ctx)
		}
	}
}

// RunOnce drains up to one batch of dirty campaigns and returns how many
// were recomputed.
func (r *AnalyticsRefresher) RunOnce(ctx context.Context) int {
	ids, err := r.queue.PopDirty(ctx, r.batchSize)
	if err != nil {
		log.Warn("pop dirty campaigns failed", "error", err)
		return 0
	}
	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			r.remark(context.Background(), id)
			continue
		}
		if r.refresh(ctx, id) {
			done++
		}
	}
	return done
}

// Sweep recomputes every live campaign.
func (r *AnalyticsRefresher) Sweep(ctx context.Context) {
	ids, err := r.lister.LiveCampaigns(ctx)
	if err != nil {
		log.Warn("list campaigns for sweep failed", "error", err)
		return
	}
	start := time.Now()
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if r.refresh(ctx, id) {
			n++
		}
	}
	log.Info("analytics sweep completed", "campaigns", n, "duration", time.Since(start).Round(time.Millisecond).String())
}

func (r *AnalyticsRefresher) refresh(ctx context.Context, campaignID string) bool {
	lock := r.newLock("analytics:" + campaignID)
	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		if err != nil {
			log.Warn("analytics lock failed", "campaign_id", campaignID, "error", err)
		}
		// Another worker is folding it; its snapshot may predate the
		// events that made this campaign dirty.
		r.remark(ctx, campaignID)
		return false
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Warn("analytics lock release failed", "campaign_id", campaignID, "error", err)
		}
	}()

	if _, err := r.svc.Refresh(ctx, campaignID); err != nil {
		if errors.Is(err, analytics.ErrCampaignNotFound) {
			log.Debug("skipping deleted campaign", "campaign_id", campaignID)
			return false
		}
		log.Warn("analytics refresh failed", "campaign_id", campaignID, "error", err)
		r.remark(ctx, campaignID)
		return false
	}
	return true
}

func (r *AnalyticsRefresher) remark(ctx context.Context, campaignID string) {
	if err := r.queue.MarkDirty(ctx, campaignID); err != nil {
		log.Error("re-mark dirty failed", "campaign_id", campaignID, "error", err)
	}
}
