package service

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
)

// AuditService provides the read-only compliance surface: audit export and
// hash-chain verification. It never mutates anything.
type AuditService struct {
	requests RequestRepo
	events   EventRepo
	log      *logger.Logger
}

// NewAuditService creates an AuditService.
func NewAuditService(requests RequestRepo, events EventRepo, log *logger.Logger) *AuditService {
	return &AuditService{requests: requests, events: events, log: log}
}

// AuditExport is the full trail for one request plus its verification result.
type AuditExport struct {
	Request     *domain.ApprovalRequest
	Events      []*domain.DecisionEvent
	ChainIntact bool
	ChainError  string
}

// VerifyChain recomputes every integrity hash for a request's event sequence.
// A mismatch is a data-integrity alert, reported but never auto-corrected.
func (s *AuditService) VerifyChain(ctx context.Context, requestID string) error {
	events, err := s.events.ListByRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if err := domain.VerifyChain(events); err != nil {
		s.log.Error().
			Str("request_id", requestID).
			Str("violation", err.Error()).
			Msg("Audit chain integrity violation")
		return errors.Wrap(err, errors.ErrCodeIntegrity, "audit chain verification failed").
			WithDetail("request_id", requestID)
	}
	return nil
}

// ExportAudit returns the ordered event chain for a request together with the
// outcome of chain verification.
func (s *AuditService) ExportAudit(ctx context.Context, requestID string) (*AuditExport, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	export := &AuditExport{Request: req, Events: events, ChainIntact: true}
	if err := domain.VerifyChain(events); err != nil {
		export.ChainIntact = false
		export.ChainError = err.Error()
		s.log.Error().
			Str("request_id", requestID).
			Str("violation", err.Error()).
			Msg("Audit chain integrity violation")
	}
	return export, nil
}
