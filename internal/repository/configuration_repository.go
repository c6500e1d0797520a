package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// ConfigurationRepository handles CRUD for approval_configurations.
type ConfigurationRepository struct {
	db *database.DB
}

// NewConfigurationRepository creates a new ConfigurationRepository.
func NewConfigurationRepository(db *database.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

const configurationColumns = `
	id, action_type, strategy, min_approvals, max_approvals, status,
	requester_profile, org_unit, min_value, max_value,
	time_limit_hours, reminder_hours, escalation_hours,
	allow_parallel_approval, allow_self_approval,
	require_justify_on_approve, require_justify_on_reject,
	business_window, priority_rank, valid_from, valid_until,
	created_at, updated_at`

// Create inserts a new configuration.
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *domain.ApprovalConfiguration) error {
	windowJSON, err := marshalWindow(cfg.BusinessWindow)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_configurations
		    (id, action_type, strategy, min_approvals, max_approvals, status,
		     requester_profile, org_unit, min_value, max_value,
		     time_limit_hours, reminder_hours, escalation_hours,
		     allow_parallel_approval, allow_self_approval,
		     require_justify_on_approve, require_justify_on_reject,
		     business_window, priority_rank, valid_from, valid_until)
		VALUES ($1, $2, $3::approval_strategy, $4, $5, $6::configuration_status,
		        $7, $8, $9, $10,
		        $11, $12, $13,
		        $14, $15,
		        $16, $17,
		        $18, $19, $20, $21)
		RETURNING created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		cfg.ID,
		cfg.ActionType,
		cfg.Strategy,
		cfg.MinApprovals,
		cfg.MaxApprovals,
		cfg.Status,
		cfg.RequesterProfile,
		cfg.OrgUnit,
		cfg.MinValue,
		cfg.MaxValue,
		cfg.TimeLimitHours,
		cfg.ReminderHours,
		cfg.EscalationHours,
		cfg.AllowParallelApproval,
		cfg.AllowSelfApproval,
		cfg.RequireJustifyOnApprove,
		cfg.RequireJustifyOnReject,
		windowJSON,
		cfg.PriorityRank,
		cfg.ValidFrom,
		cfg.ValidUntil,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
}

// GetByID retrieves a configuration by primary key.
func (r *ConfigurationRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalConfiguration, error) {
	query := `SELECT ` + configurationColumns + `
		FROM approval_configurations
		WHERE id = $1
	`

	cfg, err := r.scanConfiguration(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_configuration", id)
	}
	return cfg, err
}

// List returns configurations, optionally filtered by action type (empty = all)
// and to active status only. Ordered by priority then recency; the final
// selection tie-break is applied in the domain layer.
func (r *ConfigurationRepository) List(ctx context.Context, actionType string, activeOnly bool) ([]*domain.ApprovalConfiguration, error) {
	query := `SELECT ` + configurationColumns + `
		FROM approval_configurations
		WHERE ($1 = '' OR action_type = $1)
	`
	if activeOnly {
		query += " AND status = 'ACTIVE'"
	}
	query += " ORDER BY priority_rank DESC, created_at DESC"

	rows, err := r.db.Query(ctx, query, actionType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list configurations")
	}
	defer rows.Close()

	var cfgs []*domain.ApprovalConfiguration
	for rows.Next() {
		cfg, err := r.scanConfiguration(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan configuration")
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

// Update persists changes to an existing configuration.
func (r *ConfigurationRepository) Update(ctx context.Context, cfg *domain.ApprovalConfiguration) error {
	windowJSON, err := marshalWindow(cfg.BusinessWindow)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_configurations
		SET action_type                = $2,
		    strategy                   = $3::approval_strategy,
		    min_approvals              = $4,
		    max_approvals              = $5,
		    status                     = $6::configuration_status,
		    requester_profile          = $7,
		    org_unit                   = $8,
		    min_value                  = $9,
		    max_value                  = $10,
		    time_limit_hours           = $11,
		    reminder_hours             = $12,
		    escalation_hours           = $13,
		    allow_parallel_approval    = $14,
		    allow_self_approval        = $15,
		    require_justify_on_approve = $16,
		    require_justify_on_reject  = $17,
		    business_window            = $18,
		    priority_rank              = $19,
		    valid_from                 = $20,
		    valid_until                = $21,
		    updated_at                 = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		cfg.ID,
		cfg.ActionType,
		cfg.Strategy,
		cfg.MinApprovals,
		cfg.MaxApprovals,
		cfg.Status,
		cfg.RequesterProfile,
		cfg.OrgUnit,
		cfg.MinValue,
		cfg.MaxValue,
		cfg.TimeLimitHours,
		cfg.ReminderHours,
		cfg.EscalationHours,
		cfg.AllowParallelApproval,
		cfg.AllowSelfApproval,
		cfg.RequireJustifyOnApprove,
		cfg.RequireJustifyOnReject,
		windowJSON,
		cfg.PriorityRank,
		cfg.ValidFrom,
		cfg.ValidUntil,
	).Scan(&cfg.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_configuration", cfg.ID)
	}
	return err
}

// SetStatus activates or deactivates a configuration. Configurations are
// never deleted while requests reference them.
func (r *ConfigurationRepository) SetStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE approval_configurations
		SET status     = $2::configuration_status,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_configuration", id)
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type configurationScanner interface {
	Scan(dest ...any) error
}

func (r *ConfigurationRepository) scanConfiguration(row configurationScanner) (*domain.ApprovalConfiguration, error) {
	cfg := &domain.ApprovalConfiguration{}
	var windowJSON []byte

	err := row.Scan(
		&cfg.ID,
		&cfg.ActionType,
		&cfg.Strategy,
		&cfg.MinApprovals,
		&cfg.MaxApprovals,
		&cfg.Status,
		&cfg.RequesterProfile,
		&cfg.OrgUnit,
		&cfg.MinValue,
		&cfg.MaxValue,
		&cfg.TimeLimitHours,
		&cfg.ReminderHours,
		&cfg.EscalationHours,
		&cfg.AllowParallelApproval,
		&cfg.AllowSelfApproval,
		&cfg.RequireJustifyOnApprove,
		&cfg.RequireJustifyOnReject,
		&windowJSON,
		&cfg.PriorityRank,
		&cfg.ValidFrom,
		&cfg.ValidUntil,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if windowJSON != nil {
		cfg.BusinessWindow = &domain.BusinessWindow{}
		if err := json.Unmarshal(windowJSON, cfg.BusinessWindow); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal business window")
		}
	}
	return cfg, nil
}

func marshalWindow(w *domain.BusinessWindow) ([]byte, error) {
	if w == nil {
		return nil, nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal business window")
	}
	return data, nil
}
