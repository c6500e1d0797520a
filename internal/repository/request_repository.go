package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// RequestRepository manages approval_requests rows. Updates are optimistic:
// each write matches the version it read and increments it, so two concurrent
// mutations of the same request can never both land on a stale tally.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, code, configuration_id, status,
	required_approvals, approvals_received, rejections_received,
	created_at, expires_at, first_approval_at, resolved_at,
	last_reminder_at, last_escalation_at, escalation_count, reminder_count,
	requester_id, requester_profile, requester_org_unit, payload, version`

// Create inserts a new PENDING request at version 1.
func (r *RequestRepository) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	payloadJSON, err := marshalPayload(req.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_requests
		    (id, code, configuration_id, status,
		     required_approvals, approvals_received, rejections_received,
		     created_at, expires_at,
		     requester_id, requester_profile, requester_org_unit,
		     payload, version)
		VALUES ($1, $2, $3, $4::request_status,
		        $5, $6, $7,
		        $8, $9,
		        $10, $11, $12,
		        $13, $14)
		RETURNING id
	`

	var returnedID string
	return r.db.QueryRow(ctx, query,
		req.ID,
		req.Code,
		req.ConfigurationID,
		req.Status,
		req.RequiredApprovals,
		req.ApprovalsReceived,
		req.RejectionsReceived,
		req.CreatedAt,
		req.ExpiresAt,
		req.RequesterID,
		req.RequesterProfile,
		req.RequesterOrgUnit,
		payloadJSON,
		req.Version,
	).Scan(&returnedID)
}

// GetByID retrieves a request by primary key.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE id = $1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	return req, err
}

// GetByCode retrieves a request by its human-readable code.
func (r *RequestRepository) GetByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE code = $1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", code)
	}
	return req, err
}

// Update writes mutable request fields guarded by the version the caller read.
// A stale version yields ErrCodeConcurrentModification; the orchestrator
// retries the full read-evaluate-write cycle.
func (r *RequestRepository) Update(ctx context.Context, req *domain.ApprovalRequest) error {
	return updateRequest(ctx, r.db, req)
}

// UpdateWithEvent commits the request mutation and the decision event in a
// single transaction. A failure on either write rolls back both, so a tally
// can never be counted without its event on the trail.
func (r *RequestRepository) UpdateWithEvent(ctx context.Context, req *domain.ApprovalRequest, e *domain.DecisionEvent) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := updateRequest(ctx, tx, req); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, e)
	})
}

// rowQuerier is satisfied by both *database.DB and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func updateRequest(ctx context.Context, q rowQuerier, req *domain.ApprovalRequest) error {
	query := `
		UPDATE approval_requests
		SET status              = $2::request_status,
		    approvals_received  = $3,
		    rejections_received = $4,
		    first_approval_at   = $5,
		    resolved_at         = $6,
		    last_reminder_at    = $7,
		    last_escalation_at  = $8,
		    escalation_count    = $9,
		    reminder_count      = $10,
		    version             = version + 1
		WHERE id = $1 AND version = $11
		RETURNING version
	`

	err := q.QueryRow(ctx, query,
		req.ID,
		req.Status,
		req.ApprovalsReceived,
		req.RejectionsReceived,
		req.FirstApprovalAt,
		req.ResolvedAt,
		req.LastReminderAt,
		req.LastEscalationAt,
		req.EscalationCount,
		req.ReminderCount,
		req.Version,
	).Scan(&req.Version)

	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConcurrentModification,
			"request was modified concurrently").
			WithDetail("request_id", req.ID)
	}
	return err
}

// ListPending returns every request still in PENDING status, oldest deadline
// first so the scheduler handles the most urgent requests before a shutdown
// can interrupt the sweep.
func (r *RequestRepository) ListPending(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'PENDING'
		ORDER BY expires_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending requests")
	}
	defer rows.Close()

	var reqs []*domain.ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request")
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(row requestScanner) (*domain.ApprovalRequest, error) {
	req := &domain.ApprovalRequest{}
	var payloadJSON []byte

	err := row.Scan(
		&req.ID,
		&req.Code,
		&req.ConfigurationID,
		&req.Status,
		&req.RequiredApprovals,
		&req.ApprovalsReceived,
		&req.RejectionsReceived,
		&req.CreatedAt,
		&req.ExpiresAt,
		&req.FirstApprovalAt,
		&req.ResolvedAt,
		&req.LastReminderAt,
		&req.LastEscalationAt,
		&req.EscalationCount,
		&req.ReminderCount,
		&req.RequesterID,
		&req.RequesterProfile,
		&req.RequesterOrgUnit,
		&payloadJSON,
		&req.Version,
	)
	if err != nil {
		return nil, err
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &req.Payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal request payload")
		}
	}
	return req, nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal request payload")
	}
	return data, nil
}
