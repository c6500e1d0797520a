package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
)

// ConfigurationService manages approval configurations and approver bindings.
// Configurations referenced by requests are never deleted, only deactivated.
type ConfigurationService struct {
	configs   ConfigurationRepo
	approvers ApproverRepo
	log       *logger.Logger
}

// NewConfigurationService creates a ConfigurationService.
func NewConfigurationService(configs ConfigurationRepo, approvers ApproverRepo, log *logger.Logger) *ConfigurationService {
	return &ConfigurationService{configs: configs, approvers: approvers, log: log}
}

// Create validates and persists a new configuration. New configurations start
// ACTIVE unless a status is given.
func (s *ConfigurationService) Create(ctx context.Context, cfg *domain.ApprovalConfiguration) (*domain.ApprovalConfiguration, error) {
	if err := validateConfiguration(cfg); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Status == "" {
		cfg.Status = "ACTIVE"
	}
	if err := s.configs.Create(ctx, cfg); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("configuration_id", cfg.ID).
		Str("action_type", cfg.ActionType).
		Str("strategy", string(cfg.Strategy)).
		Msg("Approval configuration created")
	return cfg, nil
}

// Get loads a configuration by id.
func (s *ConfigurationService) Get(ctx context.Context, id string) (*domain.ApprovalConfiguration, error) {
	return s.configs.GetByID(ctx, id)
}

// List returns configurations, optionally filtered by action type and to
// active ones only.
func (s *ConfigurationService) List(ctx context.Context, actionType string, activeOnly bool) ([]*domain.ApprovalConfiguration, error) {
	return s.configs.List(ctx, actionType, activeOnly)
}

// Update validates and persists changes to an existing configuration.
// In-flight requests are unaffected: they carry their own copies of the
// values that matter.
func (s *ConfigurationService) Update(ctx context.Context, cfg *domain.ApprovalConfiguration) (*domain.ApprovalConfiguration, error) {
	if cfg.ID == "" {
		return nil, errors.InvalidInput("id", "configuration id is required")
	}
	if err := validateConfiguration(cfg); err != nil {
		return nil, err
	}
	if err := s.configs.Update(ctx, cfg); err != nil {
		return nil, err
	}
	s.log.Info().Str("configuration_id", cfg.ID).Msg("Approval configuration updated")
	return cfg, nil
}

// Deactivate soft-disables a configuration so it no longer matches new
// submissions.
func (s *ConfigurationService) Deactivate(ctx context.Context, id string) error {
	if err := s.configs.SetStatus(ctx, id, "INACTIVE"); err != nil {
		return err
	}
	s.log.Info().Str("configuration_id", id).Msg("Approval configuration deactivated")
	return nil
}

// AddApprover binds a user to a configuration as an eligible approver.
func (s *ConfigurationService) AddApprover(ctx context.Context, configurationID, userID string, weight int, order *int) (*domain.Approver, error) {
	if configurationID == "" || userID == "" {
		return nil, errors.InvalidInput("approver", "configuration_id and user_id are required")
	}
	if _, err := s.configs.GetByID(ctx, configurationID); err != nil {
		return nil, err
	}
	if weight <= 0 {
		weight = 1
	}
	a := &domain.Approver{
		ID:              uuid.NewString(),
		UserID:          userID,
		ConfigurationID: configurationID,
		Active:          true,
		Weight:          weight,
		Order:           order,
	}
	if err := s.approvers.Create(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("configuration_id", configurationID).
		Str("user_id", userID).
		Msg("Approver added")
	return a, nil
}

func validateConfiguration(cfg *domain.ApprovalConfiguration) error {
	if cfg.ActionType == "" {
		return errors.InvalidInput("action_type", "action type is required")
	}
	if !cfg.Strategy.Valid() {
		return errors.InvalidInput("strategy", "strategy must be UNANIMOUS, MAJORITY, QUORUM_N or SINGLE")
	}
	if cfg.Strategy == domain.StrategyQuorum && cfg.MinApprovals < 1 {
		return errors.InvalidInput("min_approvals", "quorum strategy requires min_approvals >= 1")
	}
	if cfg.MaxApprovals != nil && *cfg.MaxApprovals < cfg.MinApprovals {
		return errors.InvalidInput("max_approvals", "max_approvals cannot be below min_approvals")
	}
	if cfg.TimeLimitHours <= 0 {
		return errors.InvalidInput("time_limit_hours", "time limit must be positive")
	}
	if cfg.ReminderHours < 0 {
		return errors.InvalidInput("reminder_hours", "reminder hours cannot be negative")
	}
	if cfg.EscalationHours != nil && *cfg.EscalationHours <= 0 {
		return errors.InvalidInput("escalation_hours", "escalation hours must be positive when set")
	}
	if cfg.MinValue != nil && cfg.MaxValue != nil && *cfg.MinValue > *cfg.MaxValue {
		return errors.InvalidInput("value_range", "min_value cannot exceed max_value")
	}
	if cfg.ValidFrom != nil && cfg.ValidUntil != nil && !cfg.ValidUntil.After(*cfg.ValidFrom) {
		return errors.InvalidInput("validity", "valid_until must be after valid_from")
	}
	return nil
}
