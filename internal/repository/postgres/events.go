package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
)

// stateColumns names the recipient_states columns an event type touches.
type stateColumns struct {
	first string // earliest occurrence
	last  string // latest occurrence, if tracked
	count string // occurrence counter, if tracked
}

var eventColumns = map[domain.EventType]stateColumns{
	domain.EventSent:         {first: "sent_at"},
	domain.EventDelivered:    {first: "delivered_at"},
	domain.EventOpened:       {first: "first_opened_at", last: "last_opened_at", count: "open_count"},
	domain.EventClicked:      {first: "first_clicked_at", last: "last_clicked_at", count: "click_count"},
	domain.EventBounced:      {first: "bounced_at"},
	domain.EventComplained:   {first: "complained_at"},
	domain.EventUnsubscribed: {first: "unsubscribed_at"},
}

// upsertStateSQL is built once per event type. Every merge happens inside
// the statement so concurrent writers for the same recipient serialize on
// the row lock instead of overwriting each other.
var upsertStateSQL = func() map[domain.EventType]string {
	out := make(map[domain.EventType]string, len(eventColumns))
	for t, c := range eventColumns {
		out[t] = buildUpsert(c)
	}
	return out
}()

func buildUpsert(c stateColumns) string {
	cols := []string{"campaign_id", "recipient_id", "status", "updated_at", c.first}
	vals := []string{"$1", "$2", "$3", "$4", "$4"}
	sets := []string{
		fmt.Sprintf("%[1]s = LEAST(recipient_states.%[1]s, EXCLUDED.%[1]s)", c.first),
	}
	if c.last != "" {
		cols = append(cols, c.last)
		vals = append(vals, "$4")
		sets = append(sets, fmt.Sprintf("%[1]s = GREATEST(recipient_states.%[1]s, EXCLUDED.%[1]s)", c.last))
	}
	if c.count != "" {
		cols = append(cols, c.count)
		vals = append(vals, "1")
		sets = append(sets, fmt.Sprintf("%[1]s = recipient_states.%[1]s + 1", c.count))
	}
	sets = append(sets,
		`status = CASE
			WHEN recipient_status_rank(recipient_states.status) >= 5 THEN recipient_states.status
			WHEN recipient_status_rank(EXCLUDED.status) > recipient_status_rank(recipient_states.status) THEN EXCLUDED.status
			ELSE recipient_states.status
		END`,
		"updated_at = GREATEST(recipient_states.updated_at, EXCLUDED.updated_at)",
	)
	return fmt.Sprintf(`INSERT INTO recipient_states (%s)
		VALUES (%s)
		ON CONFLICT (campaign_id, recipient_id) DO UPDATE SET
			%s`,
		strings.Join(cols, ", "), strings.Join(vals, ", "), strings.Join(sets, ",\n\t\t\t"))
}

const insertEventSQL = `
	INSERT INTO engagement_events
		(id, campaign_id, recipient_id, tracking_token, event_type, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING`

// EventRepo implements engagement.EventStore against PostgreSQL.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event store.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Record appends the event and merges it into recipient_states in one
// transaction. A replayed event id inserts nothing and leaves state alone.
func (r *EventRepo) Record(ctx context.Context, e domain.EngagementEvent) (bool, error) {
	upsert, ok := upsertStateSQL[e.EventType]
	if !ok {
		return false, fmt.Errorf("%w: %q", engagement.ErrInvalidEventType, e.EventType)
	}

	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return false, fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertEventSQL,
		e.ID, e.CampaignID, e.RecipientID, e.TrackingToken, string(e.EventType), meta, e.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	status := domain.NextStatus(domain.StatusPending, e.EventType)
	if _, err := tx.ExecContext(ctx, upsert, e.CampaignID, e.RecipientID, string(status), e.CreatedAt.UTC()); err != nil {
		return false, fmt.Errorf("upsert recipient state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

const stateColumnsSQL = `campaign_id, recipient_id, status, sent_at, delivered_at,
	first_opened_at, last_opened_at, open_count,
	first_clicked_at, last_clicked_at, click_count,
	bounced_at, complained_at, unsubscribed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (domain.RecipientState, error) {
	var (
		s                                    domain.RecipientState
		status                               string
		sent, delivered, firstOpen, lastOpen sql.NullTime
		firstClick, lastClick                sql.NullTime
		bounced, complained, unsubscribed    sql.NullTime
	)
	err := row.Scan(&s.CampaignID, &s.RecipientID, &status, &sent, &delivered,
		&firstOpen, &lastOpen, &s.OpenCount,
		&firstClick, &lastClick, &s.ClickCount,
		&bounced, &complained, &unsubscribed, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.Status = domain.RecipientStatus(status)
	s.SentAt, s.DeliveredAt = nullTime(sent), nullTime(delivered)
	s.FirstOpenedAt, s.LastOpenedAt = nullTime(firstOpen), nullTime(lastOpen)
	s.FirstClickedAt, s.LastClickedAt = nullTime(firstClick), nullTime(lastClick)
	s.BouncedAt, s.ComplainedAt, s.UnsubscribedAt = nullTime(bounced), nullTime(complained), nullTime(unsubscribed)
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

// RecipientState returns the stored projection for one recipient.
func (r *EventRepo) RecipientState(ctx context.Context, campaignID, recipientID string) (*domain.RecipientState, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+stateColumnsSQL+` FROM recipient_states WHERE campaign_id = $1 AND recipient_id = $2`,
		campaignID, recipientID)
	s, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engagement.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient state: %w", err)
	}
	return &s, nil
}
