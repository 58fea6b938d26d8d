package domain

import "time"

// CampaignAnalytics is the summary row the aggregator writes per campaign.
type CampaignAnalytics struct {
	CampaignID         string     `json:"campaign_id"`
	TotalRecipients    int64      `json:"total_recipients"`
	SentCount          int64      `json:"sent_count"`
	DeliveredCount     int64      `json:"delivered_count"`
	OpenedCount        int64      `json:"opened_count"`
	UniqueOpenedCount  int64      `json:"unique_opened_count"`
	ClickedCount       int64      `json:"clicked_count"`
	UniqueClickedCount int64      `json:"unique_clicked_count"`
	BouncedCount       int64      `json:"bounced_count"`
	ComplainedCount    int64      `json:"complained_count"`
	UnsubscribedCount  int64      `json:"unsubscribed_count"`
	LastEventAt        *time.Time `json:"last_event_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SameCounts reports whether two rows carry identical computed values,
// ignoring UpdatedAt.
func (a CampaignAnalytics) SameCounts(b CampaignAnalytics) bool {
	if !timesEqual(a.LastEventAt, b.LastEventAt) {
		return false
	}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	a.LastEventAt, b.LastEventAt = nil, nil
	return a == b
}

// Consistent checks the unique <= total invariants.
func (a CampaignAnalytics) Consistent() bool {
	return a.UniqueOpenedCount <= a.OpenedCount &&
		a.UniqueOpenedCount <= a.TotalRecipients &&
		a.UniqueClickedCount <= a.ClickedCount &&
		a.UniqueClickedCount <= a.TotalRecipients
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
