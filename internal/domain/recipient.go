package domain

import "time"

// RecipientStatus is the furthest point a recipient has reached in a campaign.
type RecipientStatus string

const (
	StatusPending      RecipientStatus = "pending"
	StatusSent         RecipientStatus = "sent"
	StatusDelivered    RecipientStatus = "delivered"
	StatusOpened       RecipientStatus = "opened"
	StatusClicked      RecipientStatus = "clicked"
	StatusBounced      RecipientStatus = "bounced"
	StatusComplained   RecipientStatus = "complained"
	StatusUnsubscribed RecipientStatus = "unsubscribed"
)

// terminalRank is shared by every terminal status; once reached nothing
// moves the status again. Keep in sync with recipient_status_rank() in the
// Postgres migrations.
const terminalRank = 5

// Rank orders statuses along the forward-only state machine.
func (s RecipientStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusOpened:
		return 3
	case StatusClicked:
		return 4
	case StatusBounced, StatusComplained, StatusUnsubscribed:
		return terminalRank
	default:
		return 0
	}
}

// IsTerminal returns true for bounced, complained and unsubscribed.
func (s RecipientStatus) IsTerminal() bool {
	return s.Rank() == terminalRank
}

// StatusFor maps an event type to the status it would move a recipient to.
func StatusFor(t EventType) RecipientStatus {
	return RecipientStatus(t)
}

// NextStatus returns the status after applying an event of type t to a
// recipient currently in status cur. Status never regresses and never
// leaves a terminal state.
func NextStatus(cur RecipientStatus, t EventType) RecipientStatus {
	if cur == "" {
		cur = StatusPending
	}
	if cur.IsTerminal() {
		return cur
	}
	next := StatusFor(t)
	if next.Rank() > cur.Rank() {
		return next
	}
	return cur
}

// RecipientState is the per (campaign, recipient) projection of the event log.
type RecipientState struct {
	CampaignID     string          `json:"campaign_id"`
	RecipientID    string          `json:"recipient_id"`
	Status         RecipientStatus `json:"status"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	FirstOpenedAt  *time.Time      `json:"first_opened_at,omitempty"`
	LastOpenedAt   *time.Time      `json:"last_opened_at,omitempty"`
	OpenCount      int64           `json:"open_count"`
	FirstClickedAt *time.Time      `json:"first_clicked_at,omitempty"`
	LastClickedAt  *time.Time      `json:"last_clicked_at,omitempty"`
	ClickCount     int64           `json:"click_count"`
	BouncedAt      *time.Time      `json:"bounced_at,omitempty"`
	ComplainedAt   *time.Time      `json:"complained_at,omitempty"`
	UnsubscribedAt *time.Time      `json:"unsubscribed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewRecipientState returns the zero projection for a recipient.
func NewRecipientState(campaignID, recipientID string) RecipientState {
	return RecipientState{
		CampaignID:  campaignID,
		RecipientID: recipientID,
		Status:      StatusPending,
	}
}

// Apply folds one event into the state. It is the in-memory statement of the
// same rules the Postgres upsert enforces: counters increment on every
// event, first_* keeps the earliest time, last_* keeps the latest, and the
// status only moves forward.
func (s *RecipientState) Apply(e EngagementEvent) {
	at := e.CreatedAt.UTC()
	switch e.EventType {
	case EventSent:
		s.SentAt = earliest(s.SentAt, at)
	case EventDelivered:
		s.DeliveredAt = earliest(s.DeliveredAt, at)
	case EventOpened:
		s.OpenCount++
		s.FirstOpenedAt = earliest(s.FirstOpenedAt, at)
		s.LastOpenedAt = latest(s.LastOpenedAt, at)
	case EventClicked:
		s.ClickCount++
		s.FirstClickedAt = earliest(s.FirstClickedAt, at)
		s.LastClickedAt = latest(s.LastClickedAt, at)
	case EventBounced:
		s.BouncedAt = earliest(s.BouncedAt, at)
	case EventComplained:
		s.ComplainedAt = earliest(s.ComplainedAt, at)
	case EventUnsubscribed:
		s.UnsubscribedAt = earliest(s.UnsubscribedAt, at)
	default:
		return
	}
	s.Status = NextStatus(s.Status, e.EventType)
	if at.After(s.UpdatedAt) {
		s.UpdatedAt = at
	}
}

func earliest(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && !t.Before(*cur) {
		return cur
	}
	return &t
}

func latest(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && !t.After(*cur) {
		return cur
	}
	return &t
}
