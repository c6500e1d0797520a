package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// DelegationRepository stores time-bounded approval-duty reassignments.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

// Create inserts a new delegation.
func (r *DelegationRepository) Create(ctx context.Context, d *domain.Delegation) error {
	query := `
		INSERT INTO approval_delegations
		    (id, from_user_id, to_user_id, configuration_id, request_id,
		     valid_from, valid_until, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return r.db.QueryRow(ctx, query,
		d.ID,
		d.FromUserID,
		d.ToUserID,
		d.ConfigurationID,
		d.RequestID,
		d.ValidFrom,
		d.ValidUntil,
		d.Reason,
	).Scan(&d.CreatedAt)
}

// ListActiveFrom returns delegations from a user whose validity window
// contains the given instant.
func (r *DelegationRepository) ListActiveFrom(ctx context.Context, fromUserID string, at time.Time) ([]*domain.Delegation, error) {
	query := `
		SELECT id, from_user_id, to_user_id, configuration_id, request_id,
		       valid_from, valid_until, reason, created_at
		FROM approval_delegations
		WHERE from_user_id = $1
		  AND valid_from <= $2
		  AND valid_until >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, fromUserID, at)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list delegations")
	}
	defer rows.Close()

	var delegations []*domain.Delegation
	for rows.Next() {
		d := &domain.Delegation{}
		err := rows.Scan(
			&d.ID,
			&d.FromUserID,
			&d.ToUserID,
			&d.ConfigurationID,
			&d.RequestID,
			&d.ValidFrom,
			&d.ValidUntil,
			&d.Reason,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan delegation")
		}
		delegations = append(delegations, d)
	}
	return delegations, nil
}
