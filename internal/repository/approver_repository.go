package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// ApproverRepository manages approver bindings to configurations.
type ApproverRepository struct {
	db *database.DB
}

// NewApproverRepository creates a new ApproverRepository.
func NewApproverRepository(db *database.DB) *ApproverRepository {
	return &ApproverRepository{db: db}
}

// Create inserts a new approver binding.
func (r *ApproverRepository) Create(ctx context.Context, a *domain.Approver) error {
	query := `
		INSERT INTO approval_approvers
		    (id, user_id, configuration_id, active, weight, approver_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	return r.db.QueryRow(ctx, query,
		a.ID,
		a.UserID,
		a.ConfigurationID,
		a.Active,
		a.Weight,
		a.Order,
	).Scan(&a.CreatedAt)
}

// ListActiveByConfiguration returns the active approver bindings for a
// configuration, ordered for sequential strategies.
func (r *ApproverRepository) ListActiveByConfiguration(ctx context.Context, configurationID string) ([]*domain.Approver, error) {
	query := `
		SELECT id, user_id, configuration_id, active, weight, approver_order, created_at
		FROM approval_approvers
		WHERE configuration_id = $1 AND active = TRUE
		ORDER BY approver_order ASC NULLS LAST, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, configurationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvers")
	}
	defer rows.Close()

	var approvers []*domain.Approver
	for rows.Next() {
		a := &domain.Approver{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.ConfigurationID, &a.Active, &a.Weight, &a.Order, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approver")
		}
		approvers = append(approvers, a)
	}
	return approvers, nil
}

// IsInactiveApprover reports whether the user has an inactive binding to the
// configuration.
func (r *ApproverRepository) IsInactiveApprover(ctx context.Context, configurationID, userID string) (bool, error) {
	query := `
		SELECT active
		FROM approval_approvers
		WHERE configuration_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var active bool
	err := r.db.QueryRow(ctx, query, configurationID, userID).Scan(&active)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check approver binding")
	}
	return !active, nil
}
