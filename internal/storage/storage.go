// Package storage archives analytics rows outside the primary database,
// either to S3 or to a local directory.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// LocalArchiver writes each analytics row to <dir>/<campaign_id>/latest.json.
type LocalArchiver struct {
	dir string
	mu  sync.Mutex
}

// NewLocalArchiver creates the base directory if needed.
func NewLocalArchiver(dir string) (*LocalArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchiver{dir: dir}, nil
}

// Archive writes the row through a temp file and rename so readers never
// see a partial snapshot.
func (a *LocalArchiver) Archive(_ context.Context, row domain.CampaignAnalytics) error {
	data, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling analytics: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dir := filepath.Join(a.dir, filepath.Base(row.CampaignID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "latest.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, "latest.json"))
}

// Load reads back the last archived row for a campaign.
func (a *LocalArchiver) Load(campaignID string) (*domain.CampaignAnalytics, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, filepath.Base(campaignID), "latest.json"))
	if err != nil {
		return nil, err
	}
	var row domain.CampaignAnalytics
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decoding archived analytics: %w", err)
	}
	return &row, nil
}
