package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evt(t EventType, at time.Time) EngagementEvent {
	return EngagementEvent{CampaignID: "c1", RecipientID: "r1", EventType: t, CreatedAt: at}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name string
		cur  RecipientStatus
		evt  EventType
		want RecipientStatus
	}{
		{"pending to sent", StatusPending, EventSent, StatusSent},
		{"empty treated as pending", "", EventDelivered, StatusDelivered},
		{"skip ahead to opened", StatusPending, EventOpened, StatusOpened},
		{"no regression after click", StatusClicked, EventSent, StatusClicked},
		{"open after click keeps clicked", StatusClicked, EventOpened, StatusClicked},
		{"bounce from delivered", StatusDelivered, EventBounced, StatusBounced},
		{"unsubscribe from clicked", StatusClicked, EventUnsubscribed, StatusUnsubscribed},
		{"terminal is sticky", StatusBounced, EventClicked, StatusBounced},
		{"terminal does not switch terminal", StatusComplained, EventUnsubscribed, StatusComplained},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStatus(tt.cur, tt.evt))
		})
	}
}

func TestApply_SentThreeOpensOneClick(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1, t2, t3, t4 := t0.Add(time.Minute), t0.Add(2*time.Minute), t0.Add(3*time.Minute), t0.Add(4*time.Minute)

	s := NewRecipientState("c1", "r1")
	s.Apply(evt(EventSent, t0))
	s.Apply(evt(EventOpened, t1))
	s.Apply(evt(EventOpened, t2))
	s.Apply(evt(EventOpened, t3))
	s.Apply(evt(EventClicked, t4))

	assert.Equal(t, StatusClicked, s.Status)
	assert.EqualValues(t, 3, s.OpenCount)
	require.NotNil(t, s.FirstOpenedAt)
	assert.Equal(t, t1, *s.FirstOpenedAt)
	assert.Equal(t, t3, *s.LastOpenedAt)
	assert.EqualValues(t, 1, s.ClickCount)
	assert.Equal(t, t4, *s.FirstClickedAt)
	assert.Equal(t, t0, *s.SentAt)
}

func TestApply_OutOfOrderArrival(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := NewRecipientState("c1", "r1")
	s.Apply(evt(EventOpened, t0.Add(5*time.Minute)))
	s.Apply(evt(EventOpened, t0.Add(time.Minute)))
	s.Apply(evt(EventSent, t0))

	assert.Equal(t, StatusOpened, s.Status, "late sent must not regress status")
	assert.Equal(t, t0.Add(time.Minute), *s.FirstOpenedAt)
	assert.Equal(t, t0.Add(5*time.Minute), *s.LastOpenedAt)
	assert.Equal(t, t0, *s.SentAt)
}

func TestApply_TerminalStillCounts(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := NewRecipientState("c1", "r1")
	s.Apply(evt(EventUnsubscribed, t0))
	s.Apply(evt(EventOpened, t0.Add(time.Minute)))

	assert.Equal(t, StatusUnsubscribed, s.Status)
	assert.EqualValues(t, 1, s.OpenCount)
	assert.NotNil(t, s.UnsubscribedAt)
}

func TestApply_UnknownTypeIgnored(t *testing.T) {
	s := NewRecipientState("c1", "r1")
	s.Apply(evt(EventType("forwarded"), time.Now()))
	assert.Equal(t, StatusPending, s.Status)
	assert.True(t, s.UpdatedAt.IsZero())
}

func TestParseEventType(t *testing.T) {
	for _, et := range AllEventTypes {
		got, err := ParseEventType(string(et))
		require.NoError(t, err)
		assert.Equal(t, et, got)
	}
	_, err := ParseEventType("open")
	assert.Error(t, err)
}

func TestCampaignAnalytics_SameCounts(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := CampaignAnalytics{CampaignID: "c1", OpenedCount: 3, UniqueOpenedCount: 1, LastEventAt: &at, UpdatedAt: at}
	b := a
	later := at.Add(time.Hour)
	b.UpdatedAt = later
	assert.True(t, a.SameCounts(b))

	b.OpenedCount = 4
	assert.False(t, a.SameCounts(b))

	c := a
	c.LastEventAt = &later
	assert.False(t, a.SameCounts(c))
}
