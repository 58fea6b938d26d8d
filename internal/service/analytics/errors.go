package analytics

import "errors"

// Sentinel errors for the analytics service layer.
var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrAnalyticsNotFound = errors.New("campaign analytics not found")
	ErrMissingCampaignID = errors.New("campaign_id is required")
)
