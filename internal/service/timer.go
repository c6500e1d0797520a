package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
)

// TickStats summarizes one scheduler sweep.
type TickStats struct {
	Scanned     int
	Expired     int
	Escalated   int
	Reminded    int
	Failed      int
	Interrupted bool
}

// Tick sweeps all PENDING requests and applies expiry, escalation and reminder
// transitions due at the given instant. Thresholds are measured in business
// time when the governing configuration carries a business window.
//
// The sweep is idempotent: re-running with the same instant fires nothing
// twice, guarded by the escalation/reminder counters on the request itself. A
// store failure on one request is logged and the sweep continues; the failed
// request is retried on the next tick. Cancelling the context stops the sweep
// between requests, leaving committed transitions intact.
func (s *ApprovalService) Tick(ctx context.Context, now time.Time) (TickStats, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var stats TickStats

	pending, err := s.requests.ListPending(ctx)
	if err != nil {
		return stats, err
	}

	for _, req := range pending {
		if ctx.Err() != nil {
			stats.Interrupted = true
			break
		}
		stats.Scanned++

		outcome, err := s.processTimers(ctx, req, now)
		if err != nil {
			stats.Failed++
			s.log.Error().Err(err).
				Str("request_id", req.ID).
				Msg("Timer processing failed; request will be retried next tick")
			continue
		}
		switch outcome {
		case timerExpired:
			stats.Expired++
		case timerEscalated:
			stats.Escalated++
		case timerReminded:
			stats.Reminded++
		}
	}

	s.log.Debug().
		Int("scanned", stats.Scanned).
		Int("expired", stats.Expired).
		Int("escalated", stats.Escalated).
		Int("reminded", stats.Reminded).
		Int("failed", stats.Failed).
		Msg("Scheduler sweep complete")

	return stats, ctx.Err()
}

type timerOutcome int

const (
	timerNone timerOutcome = iota
	timerExpired
	timerEscalated
	timerReminded
)

// processTimers applies at most one timer transition to a single request.
func (s *ApprovalService) processTimers(ctx context.Context, req *domain.ApprovalRequest, now time.Time) (timerOutcome, error) {
	cfg, err := s.configs.GetByID(ctx, req.ConfigurationID)
	if err != nil {
		return timerNone, err
	}
	win := cfg.BusinessWindow

	// Expiry: ExpiresAt was computed business-time-aware at creation, so a
	// plain instant comparison is correct here.
	if !now.Before(req.ExpiresAt) {
		return timerExpired, s.expire(ctx, req, cfg, now)
	}

	// Escalation: each multiple of EscalationHours of business time since
	// creation triggers one escalation.
	if cfg.EscalationHours != nil && *cfg.EscalationHours > 0 {
		threshold := domain.HoursToDuration(float64(req.EscalationCount+1) * *cfg.EscalationHours)
		if win.Elapsed(req.CreatedAt, now) >= threshold {
			return timerEscalated, s.escalate(ctx, req, cfg, now)
		}
	}

	// Reminder: measured since the last reminder (or creation).
	if cfg.ReminderHours > 0 {
		since := req.CreatedAt
		if req.LastReminderAt != nil {
			since = *req.LastReminderAt
		}
		if win.Elapsed(since, now) >= domain.HoursToDuration(cfg.ReminderHours) {
			return timerReminded, s.remind(ctx, req, cfg, now)
		}
	}

	return timerNone, nil
}

// expire transitions a request past its deadline to EXPIRED.
func (s *ApprovalService) expire(ctx context.Context, req *domain.ApprovalRequest, cfg *domain.ApprovalConfiguration, now time.Time) error {
	req.Status = domain.StatusExpired
	req.ResolvedAt = &now
	event := &domain.DecisionEvent{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		Action:       domain.ActionExpire,
		ActingUserID: "system",
		CreatedAt:    now,
		IsAutomatic:  true,
	}
	// One atomic unit: a committed EXPIRED row without its event would leave
	// the trail short forever, since expired requests are never swept again.
	if err := s.requests.UpdateWithEvent(ctx, req, event); err != nil {
		// A racing Decide may have resolved the request; the next tick sees
		// the final state and does nothing.
		if errors.HasCode(err, errors.ErrCodeConcurrentModification) {
			return nil
		}
		return err
	}

	metrics.TimerTransitions.WithLabelValues("expiry").Inc()
	metrics.RequestsResolved.WithLabelValues(string(domain.StatusExpired)).Inc()
	s.log.Info().
		Str("request_id", req.ID).
		Time("expired_at", req.ExpiresAt).
		Msg("Approval request expired")

	recipients, err := s.pendingRecipients(ctx, req, cfg, now)
	if err != nil {
		recipients = nil
	}
	s.notify(ctx, domain.Notification{
		RequestID:   req.ID,
		RequestCode: req.Code,
		Kind:        domain.NotifyResolved,
		Recipients:  append([]string{req.RequesterID}, recipients...),
		Payload:     map[string]any{"status": string(domain.StatusExpired)},
	})
	return nil
}

// escalate increments the escalation counter and emits an escalation event.
func (s *ApprovalService) escalate(ctx context.Context, req *domain.ApprovalRequest, cfg *domain.ApprovalConfiguration, now time.Time) error {
	req.EscalationCount++
	req.LastEscalationAt = &now
	level := req.EscalationCount
	event := &domain.DecisionEvent{
		ID:              uuid.NewString(),
		RequestID:       req.ID,
		Action:          domain.ActionEscalate,
		ActingUserID:    "system",
		EscalationLevel: &level,
		CreatedAt:       now,
		IsAutomatic:     true,
	}
	if err := s.requests.UpdateWithEvent(ctx, req, event); err != nil {
		if errors.HasCode(err, errors.ErrCodeConcurrentModification) {
			return nil
		}
		return err
	}

	metrics.TimerTransitions.WithLabelValues("escalation").Inc()
	s.log.Info().
		Str("request_id", req.ID).
		Int("escalation_count", req.EscalationCount).
		Msg("Approval request escalated")

	recipients, err := s.pendingRecipients(ctx, req, cfg, now)
	if err != nil {
		recipients = nil
	}
	s.notify(ctx, domain.Notification{
		RequestID:   req.ID,
		RequestCode: req.Code,
		Kind:        domain.NotifyEscalation,
		Recipients:  recipients,
		Payload:     map[string]any{"escalation_level": level},
	})
	return nil
}

// remind bumps the reminder counter and emits a reminder notification.
// Reminders do not append decision events.
func (s *ApprovalService) remind(ctx context.Context, req *domain.ApprovalRequest, cfg *domain.ApprovalConfiguration, now time.Time) error {
	req.ReminderCount++
	req.LastReminderAt = &now
	if err := s.requests.Update(ctx, req); err != nil {
		if errors.HasCode(err, errors.ErrCodeConcurrentModification) {
			return nil
		}
		return err
	}

	metrics.TimerTransitions.WithLabelValues("reminder").Inc()
	s.log.Debug().
		Str("request_id", req.ID).
		Int("reminder_count", req.ReminderCount).
		Msg("Reminder fired")

	recipients, err := s.pendingRecipients(ctx, req, cfg, now)
	if err != nil {
		recipients = nil
	}
	s.notify(ctx, domain.Notification{
		RequestID:   req.ID,
		RequestCode: req.Code,
		Kind:        domain.NotifyReminder,
		Recipients:  recipients,
		Payload:     map[string]any{"reminder_count": req.ReminderCount},
	})
	return nil
}

// pendingRecipients resolves the users currently holding an undecided approval
// duty on the request.
func (s *ApprovalService) pendingRecipients(ctx context.Context, req *domain.ApprovalRequest, cfg *domain.ApprovalConfiguration, now time.Time) ([]string, error) {
	active, err := s.approvers.ListActiveByConfiguration(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	decided, err := s.decidedApprovers(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	var recipients []string
	seen := make(map[string]bool)
	for _, a := range active {
		if decided[a.UserID] {
			continue
		}
		effective, err := s.resolver.Resolve(ctx, a.UserID, req.ID, cfg.ID, now)
		if err != nil {
			effective = a.UserID
		}
		if !seen[effective] {
			seen[effective] = true
			recipients = append(recipients, effective)
		}
	}
	return recipients, nil
}
