package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/pkg/metrics"
)

// DefaultRecordTimeout bounds a single capture when no timeout is configured.
const DefaultRecordTimeout = 2 * time.Second

var log = logger.With("recorder")

// Recorder is the only writer of engagement events and recipient state.
// All methods are safe for concurrent use.
type Recorder struct {
	resolver TokenResolver
	store    EventStore
	dirty    DirtyMarker
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithTimeout bounds each Apply call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

// WithDirtyMarker registers the sink notified after each recorded event.
func WithDirtyMarker(d DirtyMarker) Option {
	return func(r *Recorder) { r.dirty = d }
}

// WithClock overrides the receipt clock used for captures without a time.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder over the given resolver and store.
func NewRecorder(resolver TokenResolver, store EventStore, opts ...Option) *Recorder {
	r := &Recorder{
		resolver: resolver,
		store:    store,
		timeout:  DefaultRecordTimeout,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record applies a capture and absorbs every failure. The pixel and redirect
// endpoints depend on it never returning an error or panicking.
func (r *Recorder) Record(ctx context.Context, c domain.Capture) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("recorder panic", "event_type", c.EventType, "panic", p)
		}
	}()

	err := r.Apply(ctx, c)
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenNotFound):
		log.Debug("unresolved token", "event_type", c.EventType)
	default:
		log.Warn("record failed", "event_type", c.EventType, "error", err)
	}
}

// Apply resolves the capture's token and persists the resulting event. It
// returns ErrTokenNotFound for unknown tokens and ErrInvalidEventType for
// unknown event types; datastore errors are wrapped. Queue consumers use
// Apply so a failed capture can be redelivered.
func (r *Recorder) Apply(ctx context.Context, c domain.Capture) error {
	if !c.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, c.EventType)
	}
	if c.Token == "" {
		r.observe(c.EventType, "unresolved")
		return ErrTokenNotFound
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = r.now()
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		metrics.RecordDuration.WithLabelValues(string(c.EventType)).Observe(time.Since(start).Seconds())
	}()

	target, err := r.resolver.Resolve(ctx, c.Token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			r.observe(c.EventType, "unresolved")
			return err
		}
		r.observe(c.EventType, "error")
		return fmt.Errorf("resolve token: %w", err)
	}

	evt := domain.NewEngagementEvent(c, target)
	applied, err := r.store.Record(ctx, evt)
	if err != nil {
		r.observe(c.EventType, "error")
		return fmt.Errorf("record %s event: %w", evt.EventType, err)
	}
	if !applied {
		r.observe(c.EventType, "duplicate")
		log.Debug("duplicate capture ignored", "event_id", evt.ID)
		return nil
	}
	r.observe(c.EventType, "recorded")

	if r.dirty != nil {
		if err := r.dirty.MarkDirty(ctx, evt.CampaignID); err != nil {
			log.Warn("mark campaign dirty failed", "campaign_id", evt.CampaignID, "error", err)
		}
	}
	return nil
}

func (r *Recorder) observe(t domain.EventType, outcome string) {
	metrics.EventsRecordedTotal.WithLabelValues(string(t), outcome).Inc()
}
