package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
)

// Repository interfaces consumed by the services. Implemented by the pgx
// repositories in internal/repository and by the in-memory store used in tests.

// ConfigurationRepo stores approval configurations.
type ConfigurationRepo interface {
	Create(ctx context.Context, cfg *domain.ApprovalConfiguration) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalConfiguration, error)
	// List returns configurations, optionally filtered by action type
	// (empty = all) and to active status only.
	List(ctx context.Context, actionType string, activeOnly bool) ([]*domain.ApprovalConfiguration, error)
	Update(ctx context.Context, cfg *domain.ApprovalConfiguration) error
	SetStatus(ctx context.Context, id, status string) error
}

// ApproverRepo stores approver bindings.
type ApproverRepo interface {
	Create(ctx context.Context, a *domain.Approver) error
	ListActiveByConfiguration(ctx context.Context, configurationID string) ([]*domain.Approver, error)
	// IsInactiveApprover reports whether the user has a binding to the
	// configuration that is marked inactive.
	IsInactiveApprover(ctx context.Context, configurationID, userID string) (bool, error)
}

// RequestRepo stores approval requests. Update is optimistic: it matches the
// request's Version, increments it on success and fails with
// ErrCodeConcurrentModification on a stale write.
type RequestRepo interface {
	Create(ctx context.Context, req *domain.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	GetByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error)
	Update(ctx context.Context, req *domain.ApprovalRequest) error
	// UpdateWithEvent commits the request mutation and its decision event as
	// one atomic unit. If either write fails neither is visible, so a tally
	// can never land without its event on the trail (or the reverse).
	UpdateWithEvent(ctx context.Context, req *domain.ApprovalRequest, e *domain.DecisionEvent) error
	// ListPending returns all requests still in PENDING status.
	ListPending(ctx context.Context) ([]*domain.ApprovalRequest, error)
}

// EventRepo stores the append-only decision event chain. Append seals the
// event onto the current chain head and enforces monotonic CreatedAt per
// request.
type EventRepo interface {
	Append(ctx context.Context, e *domain.DecisionEvent) error
	ListByRequest(ctx context.Context, requestID string) ([]*domain.DecisionEvent, error)
}

// DelegationRepo stores delegations.
type DelegationRepo interface {
	Create(ctx context.Context, d *domain.Delegation) error
	// ListActiveFrom returns delegations from a user whose validity window
	// contains the given instant.
	ListActiveFrom(ctx context.Context, fromUserID string, at time.Time) ([]*domain.Delegation, error)
}

// NotificationSink receives side-effect instructions after state changes.
// Failures are logged by the caller, never propagated into the transition.
type NotificationSink interface {
	Notify(ctx context.Context, n domain.Notification) error
}
