package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
)

// TokenRepo implements engagement.TokenResolver against PostgreSQL.
type TokenRepo struct{ db *sql.DB }

// NewTokenRepo creates a Postgres-backed token resolver.
func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{db: db} }

// Resolve returns the campaign and recipient the token was issued for.
// Tokens of soft-deleted campaigns do not resolve.
func (r *TokenRepo) Resolve(ctx context.Context, token string) (domain.TokenTarget, error) {
	t := domain.TokenTarget{Token: token}
	err := r.db.QueryRowContext(ctx, `
		SELECT t.campaign_id, t.recipient_id, COALESCE(t.contact_address, '')
		FROM tracking_tokens t
		JOIN campaigns c ON c.id = t.campaign_id
		WHERE t.token = $1 AND c.deleted_at IS NULL
	`, token).Scan(&t.CampaignID, &t.RecipientID, &t.ContactAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TokenTarget{}, engagement.ErrTokenNotFound
	}
	if err != nil {
		return domain.TokenTarget{}, fmt.Errorf("resolve token: %w", err)
	}
	return t, nil
}

// Issue stores a token for a recipient. Used by seeding tools and tests;
// the send pipeline normally owns this table.
func (r *TokenRepo) Issue(ctx context.Context, t domain.TokenTarget) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracking_tokens (token, campaign_id, recipient_id, contact_address, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
		ON CONFLICT (token) DO NOTHING
	`, t.Token, t.CampaignID, t.RecipientID, t.ContactAddress)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	return nil
}
