package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// EventRepository appends and reads the immutable decision event chain. The
// table carries a delete/update-prevention trigger, so Append is the only
// mutation exposed. Out-of-order appends (created_at before the request's
// last event) are rejected here to keep the chain monotonic.
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `
	id, request_id, sequence_no, approver_id, action, acting_user_id,
	justification, delegated_to_id, escalation_level,
	created_at, integrity_hash, prev_hash, is_automatic`

// Append seals the event onto the request's chain head and inserts it. The
// insert is guarded against regressions of created_at within the same request.
func (r *EventRepository) Append(ctx context.Context, e *domain.DecisionEvent) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return appendEventTx(ctx, tx, e)
	})
}

// appendEventTx runs the seal-and-insert inside an open transaction. The chain
// head row is locked so concurrent appends for one request serialize; the same
// unit is reused by RequestRepository.UpdateWithEvent to commit a request
// mutation and its event together.
func appendEventTx(ctx context.Context, tx pgx.Tx, e *domain.DecisionEvent) error {
	head := `SELECT ` + eventColumns + `
		FROM approval_decision_events
		WHERE request_id = $1
		ORDER BY sequence_no DESC
		LIMIT 1
		FOR UPDATE
	`

	prev, err := scanEvent(tx.QueryRow(ctx, head, e.RequestID))
	if err == pgx.ErrNoRows {
		prev = nil
	} else if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read event chain head")
	}
	e.Seal(prev)

	query := `
		INSERT INTO approval_decision_events
		    (id, request_id, sequence_no, approver_id, action, acting_user_id,
		     justification, delegated_to_id, escalation_level,
		     created_at, integrity_hash, prev_hash, is_automatic)
		SELECT $1, $2, $3, $4, $5::decision_action, $6,
		       $7, $8, $9,
		       $10, $11, $12, $13
		WHERE NOT EXISTS (
			SELECT 1 FROM approval_decision_events
			WHERE request_id = $2 AND created_at > $10
		)
		RETURNING id
	`

	var returnedID string
	err = tx.QueryRow(ctx, query,
		e.ID,
		e.RequestID,
		e.SequenceNo,
		e.ApproverID,
		e.Action,
		e.ActingUserID,
		e.Justification,
		e.DelegatedToID,
		e.EscalationLevel,
		e.CreatedAt,
		e.IntegrityHash,
		e.PrevHash,
		e.IsAutomatic,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeIntegrity,
			"out-of-order event append rejected").
			WithDetail("request_id", e.RequestID)
	}
	return err
}

// ListByRequest returns the full event chain for a request in sequence order.
func (r *EventRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.DecisionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM approval_decision_events
		WHERE request_id = $1
		ORDER BY sequence_no ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list decision events")
	}
	defer rows.Close()

	var events []*domain.DecisionEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan decision event")
		}
		events = append(events, e)
	}
	return events, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type eventScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row eventScanner) (*domain.DecisionEvent, error) {
	e := &domain.DecisionEvent{}
	err := row.Scan(
		&e.ID,
		&e.RequestID,
		&e.SequenceNo,
		&e.ApproverID,
		&e.Action,
		&e.ActingUserID,
		&e.Justification,
		&e.DelegatedToID,
		&e.EscalationLevel,
		&e.CreatedAt,
		&e.IntegrityHash,
		&e.PrevHash,
		&e.IsAutomatic,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
