package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/analytics"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(id string, t domain.EventType, at time.Time) domain.EngagementEvent {
	return domain.EngagementEvent{ID: id, CampaignID: "c1", RecipientID: "r1", TrackingToken: "tok", EventType: t, CreatedAt: at}
}

func TestRecord_IdempotentOnID(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	ok, err := s.Record(ctx, event("e1", domain.EventOpened, at))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Record(ctx, event("e1", domain.EventOpened, at))
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := s.RecipientState(ctx, "c1", "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.OpenCount)
	assert.Len(t, s.Events("c1"), 1)
}

func TestRecord_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Record(ctx, event("e1", domain.EventOpened, time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Events("c1"))
}

func TestRecipientState_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Record(ctx, event("e1", domain.EventClicked, time.Now()))
	require.NoError(t, err)

	st, err := s.RecipientState(ctx, "c1", "r1")
	require.NoError(t, err)
	st.ClickCount = 99

	again, err := s.RecipientState(ctx, "c1", "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, again.ClickCount)

	_, err = s.RecipientState(ctx, "c1", "nobody")
	assert.ErrorIs(t, err, engagement.ErrStateNotFound)
}

func TestResolve_DeletedCampaign(t *testing.T) {
	s := New()
	s.PutToken(domain.TokenTarget{Token: "tok", CampaignID: "c1", RecipientID: "r1"})

	_, err := s.Resolve(context.Background(), "tok")
	require.NoError(t, err)

	live, err := s.CampaignLive(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, live)

	s.DeleteCampaign("c1")
	_, err = s.Resolve(context.Background(), "tok")
	assert.ErrorIs(t, err, engagement.ErrTokenNotFound)

	live, err = s.CampaignLive(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, live)

	_, err = s.LoadSnapshot(context.Background(), "c1")
	assert.ErrorIs(t, err, analytics.ErrCampaignNotFound)

	ids, err := s.LiveCampaigns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPopDirty(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"c3", "c1", "c2", "c1"} {
		require.NoError(t, s.MarkDirty(ctx, id))
	}

	ids, err := s.PopDirty(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	ids, err = s.PopDirty(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, ids)

	ids, err = s.PopDirty(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSaveAnalytics_KeepsUpdatedAtWhenUnchanged(t *testing.T) {
	s := New()
	ctx := context.Background()
	t1 := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	_, err := s.SaveAnalytics(ctx, domain.CampaignAnalytics{CampaignID: "c1", OpenedCount: 1, UniqueOpenedCount: 1, TotalRecipients: 1, UpdatedAt: t1})
	require.NoError(t, err)

	saved, err := s.SaveAnalytics(ctx, domain.CampaignAnalytics{CampaignID: "c1", OpenedCount: 1, UniqueOpenedCount: 1, TotalRecipients: 1, UpdatedAt: t1.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, t1, saved.UpdatedAt)

	saved, err = s.SaveAnalytics(ctx, domain.CampaignAnalytics{CampaignID: "c1", OpenedCount: 2, UniqueOpenedCount: 1, TotalRecipients: 1, UpdatedAt: t1.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, t1.Add(2*time.Hour), saved.UpdatedAt)
}

func TestListRecipientStates_OffsetPastEnd(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Record(ctx, event("e1", domain.EventSent, time.Now()))
	require.NoError(t, err)

	page, total, err := s.ListRecipientStates(ctx, "c1", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Empty(t, page)
}
