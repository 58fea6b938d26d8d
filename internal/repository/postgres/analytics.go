package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/analytics"
	"github.com/lib/pq"
)

// checkViolation is the SQLSTATE Postgres raises when a CHECK constraint fails.
const checkViolation pq.ErrorCode = "23514"

// ErrInconsistentRow is returned when campaign_analytics rejects a row whose
// unique counts exceed its totals.
var ErrInconsistentRow = errors.New("analytics row violates count constraints")

// AnalyticsRepo implements analytics.Repository against PostgreSQL.
type AnalyticsRepo struct{ db *sql.DB }

// NewAnalyticsRepo creates a Postgres-backed analytics repository.
func NewAnalyticsRepo(db *sql.DB) *AnalyticsRepo { return &AnalyticsRepo{db: db} }

// CampaignLive reports whether the campaign exists and is not soft-deleted.
func (r *AnalyticsRepo) CampaignLive(ctx context.Context, campaignID string) (bool, error) {
	var live bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1 AND deleted_at IS NULL)`,
		campaignID,
	).Scan(&live)
	if err != nil {
		return false, fmt.Errorf("check campaign: %w", err)
	}
	return live, nil
}

// LoadSnapshot reads everything a recompute needs inside one REPEATABLE READ
// transaction, so events committed mid-read cannot skew the counts.
func (r *AnalyticsRepo) LoadSnapshot(ctx context.Context, campaignID string) (*analytics.Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	var live bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1 AND deleted_at IS NULL)`,
		campaignID,
	).Scan(&live); err != nil {
		return nil, fmt.Errorf("check campaign: %w", err)
	}
	if !live {
		return nil, analytics.ErrCampaignNotFound
	}

	snap := &analytics.Snapshot{CampaignID: campaignID}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT recipient_id) FROM tracking_tokens WHERE campaign_id = $1`,
		campaignID,
	).Scan(&snap.TotalRecipients); err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+stateColumnsSQL+` FROM recipient_states WHERE campaign_id = $1 ORDER BY recipient_id`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("load recipient states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient state: %w", err)
		}
		snap.States = append(snap.States, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load recipient states: %w", err)
	}

	var last sql.NullTime
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM engagement_events WHERE campaign_id = $1`,
		campaignID,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("last event: %w", err)
	}
	snap.LastEventAt = nullTime(last)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return snap, nil
}

const analyticsColumnsSQL = `campaign_id, total_recipients, sent_count, delivered_count,
	opened_count, unique_opened_count, clicked_count, unique_clicked_count,
	bounced_count, complained_count, unsubscribed_count, last_event_at, updated_at`

// saveAnalyticsSQL replaces every computed column. updated_at only moves
// when one of them actually changed, which keeps repeated recomputes over
// an unchanged log byte-identical.
const saveAnalyticsSQL = `
	INSERT INTO campaign_analytics (` + analyticsColumnsSQL + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (campaign_id) DO UPDATE SET
		total_recipients     = EXCLUDED.total_recipients,
		sent_count           = EXCLUDED.sent_count,
		delivered_count      = EXCLUDED.delivered_count,
		opened_count         = EXCLUDED.opened_count,
		unique_opened_count  = EXCLUDED.unique_opened_count,
		clicked_count        = EXCLUDED.clicked_count,
		unique_clicked_count = EXCLUDED.unique_clicked_count,
		bounced_count        = EXCLUDED.bounced_count,
		complained_count     = EXCLUDED.complained_count,
		unsubscribed_count   = EXCLUDED.unsubscribed_count,
		last_event_at        = EXCLUDED.last_event_at,
		updated_at = CASE
			WHEN (campaign_analytics.total_recipients, campaign_analytics.sent_count,
			      campaign_analytics.delivered_count, campaign_analytics.opened_count,
			      campaign_analytics.unique_opened_count, campaign_analytics.clicked_count,
			      campaign_analytics.unique_clicked_count, campaign_analytics.bounced_count,
			      campaign_analytics.complained_count, campaign_analytics.unsubscribed_count,
			      campaign_analytics.last_event_at)
			     IS DISTINCT FROM
			     (EXCLUDED.total_recipients, EXCLUDED.sent_count,
			      EXCLUDED.delivered_count, EXCLUDED.opened_count,
			      EXCLUDED.unique_opened_count, EXCLUDED.clicked_count,
			      EXCLUDED.unique_clicked_count, EXCLUDED.bounced_count,
			      EXCLUDED.complained_count, EXCLUDED.unsubscribed_count,
			      EXCLUDED.last_event_at)
			THEN EXCLUDED.updated_at
			ELSE campaign_analytics.updated_at
		END
	RETURNING ` + analyticsColumnsSQL

func scanAnalytics(row rowScanner) (*domain.CampaignAnalytics, error) {
	var (
		a    domain.CampaignAnalytics
		last sql.NullTime
	)
	err := row.Scan(&a.CampaignID, &a.TotalRecipients, &a.SentCount, &a.DeliveredCount,
		&a.OpenedCount, &a.UniqueOpenedCount, &a.ClickedCount, &a.UniqueClickedCount,
		&a.BouncedCount, &a.ComplainedCount, &a.UnsubscribedCount, &last, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.LastEventAt = nullTime(last)
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// SaveAnalytics writes the row as a full replace and returns what is stored.
func (r *AnalyticsRepo) SaveAnalytics(ctx context.Context, a domain.CampaignAnalytics) (*domain.CampaignAnalytics, error) {
	var last any
	if a.LastEventAt != nil {
		last = a.LastEventAt.UTC()
	}
	row := r.db.QueryRowContext(ctx, saveAnalyticsSQL,
		a.CampaignID, a.TotalRecipients, a.SentCount, a.DeliveredCount,
		a.OpenedCount, a.UniqueOpenedCount, a.ClickedCount, a.UniqueClickedCount,
		a.BouncedCount, a.ComplainedCount, a.UnsubscribedCount, last, a.UpdatedAt.UTC())
	saved, err := scanAnalytics(row)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == checkViolation {
		return nil, fmt.Errorf("save analytics: %w: %s", ErrInconsistentRow, pqErr.Constraint)
	}
	if err != nil {
		return nil, fmt.Errorf("save analytics: %w", err)
	}
	return saved, nil
}

// GetAnalytics returns the stored row for a campaign.
func (r *AnalyticsRepo) GetAnalytics(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+analyticsColumnsSQL+` FROM campaign_analytics WHERE campaign_id = $1`, campaignID)
	a, err := scanAnalytics(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analytics.ErrAnalyticsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analytics: %w", err)
	}
	return a, nil
}

// ListRecipientStates pages through recipient_states ordered by recipient id.
func (r *AnalyticsRepo) ListRecipientStates(ctx context.Context, campaignID string, limit, offset int) ([]domain.RecipientState, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipient_states WHERE campaign_id = $1`, campaignID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recipient states: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stateColumnsSQL+`
		FROM recipient_states
		WHERE campaign_id = $1
		ORDER BY recipient_id
		LIMIT $2 OFFSET $3`, campaignID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list recipient states: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipientState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan recipient state: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// LiveCampaigns returns the ids of every campaign that is not deleted. The
// refresher uses it for its periodic full sweep.
func (r *AnalyticsRepo) LiveCampaigns(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
