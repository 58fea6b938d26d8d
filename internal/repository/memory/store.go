// Package memory is an in-process implementation of the engagement and
// analytics repositories. It backs unit tests and single-instance
// deployments (storage.backend: memory); a single mutex stands in for the
// row-level atomicity Postgres provides.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/analytics"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
)

type stateKey struct{ campaign, recipient string }

// Store holds campaigns, tokens, the event log, recipient states, analytics
// rows and the dirty-campaign set.
type Store struct {
	mu        sync.Mutex
	campaigns map[string]bool // id -> deleted
	tokens    map[string]domain.TokenTarget
	events    map[string][]domain.EngagementEvent // keyed by campaign
	seen      map[string]struct{}
	states    map[stateKey]*domain.RecipientState
	analytics map[string]domain.CampaignAnalytics
	dirty     map[string]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		campaigns: make(map[string]bool),
		tokens:    make(map[string]domain.TokenTarget),
		events:    make(map[string][]domain.EngagementEvent),
		seen:      make(map[string]struct{}),
		states:    make(map[stateKey]*domain.RecipientState),
		analytics: make(map[string]domain.CampaignAnalytics),
		dirty:     make(map[string]struct{}),
	}
}

// PutCampaign registers a campaign as the send pipeline would.
func (s *Store) PutCampaign(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id] = false
}

// DeleteCampaign marks a campaign deleted; its tokens stop resolving.
func (s *Store) DeleteCampaign(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; ok {
		s.campaigns[id] = true
	}
}

// PutToken registers a tracking token. The campaign is created if needed.
func (s *Store) PutToken(t domain.TokenTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[t.CampaignID]; !ok {
		s.campaigns[t.CampaignID] = false
	}
	s.tokens[t.Token] = t
}

func (s *Store) liveCampaign(id string) bool {
	deleted, ok := s.campaigns[id]
	return ok && !deleted
}

// CampaignLive reports whether the campaign exists and is not deleted.
func (s *Store) CampaignLive(_ context.Context, campaignID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveCampaign(campaignID), nil
}

// Resolve implements engagement.TokenResolver.
func (s *Store) Resolve(_ context.Context, token string) (domain.TokenTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || !s.liveCampaign(t.CampaignID) {
		return domain.TokenTarget{}, engagement.ErrTokenNotFound
	}
	return t, nil
}

// Record implements engagement.EventStore.
func (s *Store) Record(ctx context.Context, e domain.EngagementEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[e.ID]; dup {
		return false, nil
	}
	s.seen[e.ID] = struct{}{}
	s.events[e.CampaignID] = append(s.events[e.CampaignID], e)

	k := stateKey{e.CampaignID, e.RecipientID}
	st, ok := s.states[k]
	if !ok {
		ns := domain.NewRecipientState(e.CampaignID, e.RecipientID)
		st = &ns
		s.states[k] = st
	}
	st.Apply(e)
	return true, nil
}

// RecipientState implements engagement.EventStore.
func (s *Store) RecipientState(_ context.Context, campaignID, recipientID string) (*domain.RecipientState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[stateKey{campaignID, recipientID}]
	if !ok {
		return nil, engagement.ErrStateNotFound
	}
	cp := *st
	return &cp, nil
}

// Events returns a copy of the campaign's event log in append order.
func (s *Store) Events(campaignID string) []domain.EngagementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EngagementEvent(nil), s.events[campaignID]...)
}

// MarkDirty implements engagement.DirtyMarker.
func (s *Store) MarkDirty(_ context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[campaignID] = struct{}{}
	return nil
}

// PopDirty removes and returns up to n dirty campaign ids.
func (s *Store) PopDirty(_ context.Context, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > n {
		ids = ids[:n]
	}
	for _, id := range ids {
		delete(s.dirty, id)
	}
	return ids, nil
}

// DirtyLen returns the number of campaigns awaiting a recompute.
func (s *Store) DirtyLen(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.dirty)), nil
}

// LoadSnapshot implements analytics.Repository.
func (s *Store) LoadSnapshot(ctx context.Context, campaignID string) (*analytics.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveCampaign(campaignID) {
		return nil, analytics.ErrCampaignNotFound
	}

	recipients := make(map[string]struct{})
	for _, t := range s.tokens {
		if t.CampaignID == campaignID {
			recipients[t.RecipientID] = struct{}{}
		}
	}

	snap := &analytics.Snapshot{CampaignID: campaignID, TotalRecipients: int64(len(recipients))}
	for k, st := range s.states {
		if k.campaign == campaignID {
			snap.States = append(snap.States, *st)
		}
	}
	sort.Slice(snap.States, func(i, j int) bool { return snap.States[i].RecipientID < snap.States[j].RecipientID })

	var last time.Time
	for _, e := range s.events[campaignID] {
		if e.CreatedAt.After(last) {
			last = e.CreatedAt
		}
	}
	if !last.IsZero() {
		snap.LastEventAt = &last
	}
	return snap, nil
}

// SaveAnalytics implements analytics.Repository.
func (s *Store) SaveAnalytics(ctx context.Context, a domain.CampaignAnalytics) (*domain.CampaignAnalytics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.analytics[a.CampaignID]; ok && prev.SameCounts(a) {
		a.UpdatedAt = prev.UpdatedAt
	}
	s.analytics[a.CampaignID] = a
	return &a, nil
}

// GetAnalytics implements analytics.Repository.
func (s *Store) GetAnalytics(_ context.Context, campaignID string) (*domain.CampaignAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analytics[campaignID]
	if !ok {
		return nil, analytics.ErrAnalyticsNotFound
	}
	return &a, nil
}

// ListRecipientStates implements analytics.Repository.
func (s *Store) ListRecipientStates(_ context.Context, campaignID string, limit, offset int) ([]domain.RecipientState, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.RecipientState
	for k, st := range s.states {
		if k.campaign == campaignID {
			all = append(all, *st)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RecipientID < all[j].RecipientID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total || limit <= 0 {
		end = total
	}
	return all[offset:end], total, nil
}

// LiveCampaigns returns every campaign that is not deleted.
func (s *Store) LiveCampaigns(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, deleted := range s.campaigns {
		if !deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
