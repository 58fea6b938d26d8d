package domain

import (
	"fmt"
	"time"
)

// EventType enumerates the types of email engagement events.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
)

// AllEventTypes lists every valid event type in state-machine order.
var AllEventTypes = []EventType{
	EventSent, EventDelivered, EventOpened, EventClicked,
	EventBounced, EventComplained, EventUnsubscribed,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, v := range AllEventTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseEventType converts a raw string into an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Metadata keys attached to engagement events by the tracking edge.
const (
	MetaURL       = "url"
	MetaIP        = "ip"
	MetaUserAgent = "user_agent"
	MetaDevice    = "device"
	MetaBot       = "bot"
)

// TokenTarget is what a tracking token resolves to.
type TokenTarget struct {
	Token          string `json:"token"`
	CampaignID     string `json:"campaign_id"`
	RecipientID    string `json:"recipient_id"`
	ContactAddress string `json:"contact_address,omitempty"`
}

// Capture is a tracking signal as received at the edge, before the token
// has been resolved. ID is assigned at receipt so the same capture can be
// delivered more than once (queue redelivery) without being counted twice.
type Capture struct {
	ID         string            `json:"id"`
	Token      string            `json:"token"`
	EventType  EventType         `json:"event_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// EngagementEvent is a single immutable entry in the event log.
type EngagementEvent struct {
	ID            string            `json:"id"`
	CampaignID    string            `json:"campaign_id"`
	RecipientID   string            `json:"recipient_id"`
	TrackingToken string            `json:"tracking_token"`
	EventType     EventType         `json:"event_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewEngagementEvent binds a capture to the target its token resolved to.
func NewEngagementEvent(c Capture, t TokenTarget) EngagementEvent {
	return EngagementEvent{
		ID:            c.ID,
		CampaignID:    t.CampaignID,
		RecipientID:   t.RecipientID,
		TrackingToken: c.Token,
		EventType:     c.EventType,
		Metadata:      c.Metadata,
		CreatedAt:     c.ReceivedAt.UTC(),
	}
}
