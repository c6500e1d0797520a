package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
)

// optimisticRetries bounds the read-evaluate-write cycle on version conflicts
// before surfacing ErrCodeConcurrentModification.
const optimisticRetries = 3

// ApprovalService is the workflow orchestrator: it receives external
// submissions and decisions, coordinates the rule store, delegation resolver,
// decision recorder and strategy evaluator, and emits notification
// instructions without performing notification I/O itself.
type ApprovalService struct {
	configs     ConfigurationRepo
	approvers   ApproverRepo
	requests    RequestRepo
	events      EventRepo
	delegations DelegationRepo
	resolver    *DelegationResolver
	notifier    NotificationSink
	clock       domain.Clock
	log         *logger.Logger
}

// NewApprovalService wires the orchestrator.
func NewApprovalService(
	configs ConfigurationRepo,
	approvers ApproverRepo,
	requests RequestRepo,
	events EventRepo,
	delegations DelegationRepo,
	notifier NotificationSink,
	clock domain.Clock,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		configs:     configs,
		approvers:   approvers,
		requests:    requests,
		events:      events,
		delegations: delegations,
		resolver:    NewDelegationResolver(delegations),
		notifier:    notifier,
		clock:       clock,
		log:         log,
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// SubmitInput carries a new critical action requiring sign-off.
type SubmitInput struct {
	ActionType       string
	RequesterID      string
	RequesterProfile *string
	RequesterOrgUnit *string
	Value            int64
	Payload          map[string]any
}

// Submit selects the governing configuration, computes the business-time-aware
// deadline and persists a new PENDING request. Configuration problems (no
// match, zero eligible approvers) are fatal and never auto-retried.
func (s *ApprovalService) Submit(ctx context.Context, in SubmitInput) (*domain.ApprovalRequest, error) {
	if in.ActionType == "" {
		return nil, errors.InvalidInput("action_type", "action type is required")
	}
	if in.RequesterID == "" {
		return nil, errors.InvalidInput("requester_id", "requester id is required")
	}

	now := s.clock.Now()

	candidates, err := s.configs.List(ctx, in.ActionType, true)
	if err != nil {
		return nil, err
	}
	cfg := domain.SelectConfiguration(candidates, in.ActionType, in.RequesterProfile, in.RequesterOrgUnit, in.Value, now)
	if cfg == nil {
		return nil, errors.New(errors.ErrCodeNoMatchingConfiguration,
			"no active configuration matches this action").
			WithDetail("action_type", in.ActionType)
	}

	active, err := s.approvers.ListActiveByConfiguration(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, errors.New(errors.ErrCodeMisconfiguredApprovers,
			"configuration has no active approvers").
			WithDetail("configuration_id", cfg.ID)
	}
	if cfg.Strategy != domain.StrategySingle && len(active) < cfg.MinApprovals {
		return nil, errors.Newf(errors.ErrCodeMisconfiguredApprovers,
			"configuration requires %d approvals but only %d active approvers exist",
			cfg.MinApprovals, len(active)).
			WithDetail("configuration_id", cfg.ID)
	}

	req := &domain.ApprovalRequest{
		ID:                uuid.NewString(),
		Code:              newRequestCode(),
		ConfigurationID:   cfg.ID,
		Status:            domain.StatusPending,
		RequiredApprovals: domain.RequiredApprovalsFor(cfg, len(active)),
		CreatedAt:         now,
		ExpiresAt:         cfg.BusinessWindow.Add(now, domain.HoursToDuration(cfg.TimeLimitHours)),
		RequesterID:       in.RequesterID,
		RequesterProfile:  in.RequesterProfile,
		RequesterOrgUnit:  in.RequesterOrgUnit,
		Payload:           in.Payload,
		Version:           1,
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	metrics.RequestsSubmitted.Inc()
	s.log.Info().
		Str("request_id", req.ID).
		Str("request_code", req.Code).
		Str("configuration_id", cfg.ID).
		Str("strategy", string(cfg.Strategy)).
		Int("required_approvals", req.RequiredApprovals).
		Time("expires_at", req.ExpiresAt).
		Msg("Approval request submitted")

	return req, nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// DecideInput carries one approver decision.
type DecideInput struct {
	RequestID     string
	ActingUserID  string
	Action        domain.DecisionAction // APPROVE | REJECT | REQUEST_INFO
	Justification *string
}

// Decide resolves delegation, validates policy, records the decision event,
// updates tallies and re-evaluates the request status. Races between
// concurrent decisions (or a decision and a scheduler tick) are handled by the
// store's optimistic version check and a bounded retry of the full
// read-evaluate-write cycle.
func (s *ApprovalService) Decide(ctx context.Context, in DecideInput) (*domain.ApprovalRequest, error) {
	switch in.Action {
	case domain.ActionApprove, domain.ActionReject, domain.ActionRequestInfo:
	default:
		return nil, errors.InvalidInput("action", "action must be APPROVE, REJECT or REQUEST_INFO")
	}
	if in.ActingUserID == "" {
		return nil, errors.InvalidInput("acting_user_id", "acting user id is required")
	}

	var lastErr error
	for attempt := 0; attempt < optimisticRetries; attempt++ {
		req, err := s.decideOnce(ctx, in)
		if err == nil {
			return req, nil
		}
		if !errors.HasCode(err, errors.ErrCodeConcurrentModification) {
			metrics.DecisionRejections.WithLabelValues(string(errors.Code(err))).Inc()
			return nil, err
		}
		lastErr = err
	}
	metrics.DecisionRejections.WithLabelValues(string(errors.ErrCodeConcurrentModification)).Inc()
	return nil, lastErr
}

// decideOnce runs one read-evaluate-write cycle.
func (s *ApprovalService) decideOnce(ctx context.Context, in DecideInput) (*domain.ApprovalRequest, error) {
	now := s.clock.Now()

	req, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, errors.New(errors.ErrCodeAlreadyResolved, "request is already resolved").
			WithDetail("request_id", req.ID).
			WithDetail("status", string(req.Status))
	}
	if now.After(req.ExpiresAt) {
		// Expiry is a hard boundary: late decisions are refused, the
		// scheduler performs the EXPIRED transition.
		return nil, errors.New(errors.ErrCodeExpired, "request deadline has passed").
			WithDetail("request_id", req.ID)
	}

	cfg, err := s.configs.GetByID(ctx, req.ConfigurationID)
	if err != nil {
		return nil, err
	}
	active, err := s.approvers.ListActiveByConfiguration(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}

	decided, err := s.decidedApprovers(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	onBehalfOf, err := s.eligibleApprover(ctx, req, cfg, active, in.ActingUserID, decided, now)
	if err != nil {
		return nil, err
	}

	if !cfg.AllowSelfApproval && in.ActingUserID == req.RequesterID {
		return nil, errors.New(errors.ErrCodeSelfApprovalForbidden,
			"requester may not decide on their own request").
			WithDetail("request_id", req.ID)
	}
	if err := s.requireJustification(cfg, in.Action, in.Justification); err != nil {
		return nil, err
	}

	if in.Action.Terminal() && decided[onBehalfOf.UserID] {
		return nil, errors.New(errors.ErrCodeDuplicateDecision,
			"approver has already cast a decision on this request").
			WithDetail("request_id", req.ID).
			WithDetail("approver_id", onBehalfOf.UserID)
	}

	// Apply tallies and re-evaluate.
	switch in.Action {
	case domain.ActionApprove:
		req.ApprovalsReceived++
		if req.FirstApprovalAt == nil {
			req.FirstApprovalAt = &now
		}
	case domain.ActionReject:
		req.RejectionsReceived++
	}

	newStatus := domain.Evaluate(req, cfg, len(active), now)
	if newStatus != req.Status {
		req.Status = newStatus
		if newStatus.Terminal() {
			req.ResolvedAt = &now
		}
	}

	event := &domain.DecisionEvent{
		ID:            uuid.NewString(),
		RequestID:     req.ID,
		ApproverID:    &onBehalfOf.UserID,
		Action:        in.Action,
		ActingUserID:  in.ActingUserID,
		Justification: in.Justification,
		CreatedAt:     now,
	}
	// The tally and its event commit together: a vote counted without a
	// trail entry would let the same approver be counted twice on retry.
	if err := s.requests.UpdateWithEvent(ctx, req, event); err != nil {
		return nil, err
	}

	metrics.Decisions.WithLabelValues(string(in.Action)).Inc()
	s.log.Info().
		Str("request_id", req.ID).
		Str("acting_user_id", in.ActingUserID).
		Str("on_behalf_of", onBehalfOf.UserID).
		Str("action", string(in.Action)).
		Str("status", string(req.Status)).
		Int("approvals", req.ApprovalsReceived).
		Int("rejections", req.RejectionsReceived).
		Msg("Decision recorded")

	if req.Status.Terminal() {
		metrics.RequestsResolved.WithLabelValues(string(req.Status)).Inc()
		s.notify(ctx, domain.Notification{
			RequestID:   req.ID,
			RequestCode: req.Code,
			Kind:        domain.NotifyResolved,
			Recipients:  append([]string{req.RequesterID}, approverUserIDs(active)...),
			Payload:     map[string]any{"status": string(req.Status)},
		})
	}

	return req, nil
}

// eligibleApprover maps the acting user to the approver binding whose duty
// currently resolves to them (directly or through delegation). A user can hold
// several duties at once, so bindings that already carry a terminal decision
// are matched last: the undecided one is the duty being exercised.
func (s *ApprovalService) eligibleApprover(
	ctx context.Context,
	req *domain.ApprovalRequest,
	cfg *domain.ApprovalConfiguration,
	active []*domain.Approver,
	actingUserID string,
	decided map[string]bool,
	now time.Time,
) (*domain.Approver, error) {
	var exhausted *domain.Approver
	for _, a := range active {
		effective, err := s.resolver.Resolve(ctx, a.UserID, req.ID, cfg.ID, now)
		if err != nil {
			// A broken chain on one approver must not block the others,
			// but it is never silently dropped.
			s.log.Warn().Err(err).
				Str("request_id", req.ID).
				Str("approver_id", a.UserID).
				Msg("Delegation resolution failed for approver")
			continue
		}
		if effective != actingUserID {
			continue
		}
		if !decided[a.UserID] {
			return a, nil
		}
		if exhausted == nil {
			exhausted = a
		}
	}
	if exhausted != nil {
		return exhausted, nil
	}
	return nil, errors.New(errors.ErrCodeNotEligible,
		"user does not hold an approval duty for this request").
		WithDetail("request_id", req.ID).
		WithDetail("acting_user_id", actingUserID)
}

func (s *ApprovalService) requireJustification(cfg *domain.ApprovalConfiguration, action domain.DecisionAction, justification *string) error {
	missing := justification == nil || strings.TrimSpace(*justification) == ""
	if action == domain.ActionApprove && cfg.RequireJustifyOnApprove && missing {
		return errors.New(errors.ErrCodeJustificationRequired, "approval requires a justification")
	}
	if action == domain.ActionReject && cfg.RequireJustifyOnReject && missing {
		return errors.New(errors.ErrCodeJustificationRequired, "rejection requires a justification")
	}
	return nil
}

// ── Delegate ──────────────────────────────────────────────────────────────────

// DelegateInput carries a time-bounded reassignment of approval duty. Exactly
// one scope (request or configuration) must be set.
type DelegateInput struct {
	RequestID       *string
	ConfigurationID *string
	FromUserID      string
	ToUserID        string
	ValidFrom       time.Time
	ValidUntil      time.Time
	Reason          string
}

// Delegate validates the new link (window, inactive delegate, cycles, depth)
// and records it. A silently-accepted bad delegation could leave a request
// permanently unresolvable, so every check failure is surfaced.
func (s *ApprovalService) Delegate(ctx context.Context, in DelegateInput) (*domain.Delegation, error) {
	if (in.RequestID == nil) == (in.ConfigurationID == nil) {
		return nil, errors.InvalidInput("scope", "exactly one of request_id or configuration_id must be set")
	}
	if in.FromUserID == "" || in.ToUserID == "" {
		return nil, errors.InvalidInput("user_id", "from_user_id and to_user_id are required")
	}
	if in.FromUserID == in.ToUserID {
		return nil, errors.New(errors.ErrCodeDelegationInvalid, "cannot delegate to oneself")
	}
	if !in.ValidUntil.After(in.ValidFrom) {
		return nil, errors.InvalidInput("valid_until", "validity window must end after it starts")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, errors.InvalidInput("reason", "delegation reason is required")
	}

	requestID, configurationID := "", ""
	var req *domain.ApprovalRequest
	if in.RequestID != nil {
		var err error
		req, err = s.requests.GetByID(ctx, *in.RequestID)
		if err != nil {
			return nil, err
		}
		requestID = req.ID
		configurationID = req.ConfigurationID
	} else {
		cfg, err := s.configs.GetByID(ctx, *in.ConfigurationID)
		if err != nil {
			return nil, err
		}
		configurationID = cfg.ID
	}

	// Delegating to an approver bound to this configuration but marked
	// inactive is rejected outright.
	active, err := s.approvers.ListActiveByConfiguration(ctx, configurationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDelegateActive(ctx, configurationID, in.ToUserID, active); err != nil {
		return nil, err
	}

	// The delegate must not already be delegating away within the window.
	outgoing, err := s.delegations.ListActiveFrom(ctx, in.ToUserID, in.ValidFrom)
	if err != nil {
		return nil, err
	}
	if len(outgoing) > 0 {
		return nil, errors.New(errors.ErrCodeDelegationInvalid,
			"delegate is already delegating their duty away").
			WithDetail("to_user_id", in.ToUserID)
	}

	// Walking from the delegate must not lead back to the delegator, and the
	// combined chain must stay within the depth limit.
	chain, err := s.resolver.Chain(ctx, in.ToUserID, requestID, configurationID, in.ValidFrom)
	if err != nil {
		return nil, err
	}
	for _, userID := range chain {
		if userID == in.FromUserID {
			return nil, errors.New(errors.ErrCodeDelegationCycle,
				"delegation would create a cycle").
				WithDetail("from_user_id", in.FromUserID).
				WithDetail("to_user_id", in.ToUserID)
		}
	}
	if len(chain)+1 > maxDelegationDepth {
		return nil, errors.New(errors.ErrCodeDelegationTooDeep,
			"delegation would exceed the maximum chain depth")
	}

	d := &domain.Delegation{
		ID:              uuid.NewString(),
		FromUserID:      in.FromUserID,
		ToUserID:        in.ToUserID,
		ConfigurationID: in.ConfigurationID,
		RequestID:       in.RequestID,
		ValidFrom:       in.ValidFrom,
		ValidUntil:      in.ValidUntil,
		Reason:          in.Reason,
	}
	if err := s.delegations.Create(ctx, d); err != nil {
		return nil, err
	}

	if req != nil {
		event := &domain.DecisionEvent{
			ID:            uuid.NewString(),
			RequestID:     req.ID,
			ApproverID:    &in.FromUserID,
			Action:        domain.ActionDelegate,
			ActingUserID:  in.FromUserID,
			Justification: &d.Reason,
			DelegatedToID: &in.ToUserID,
			CreatedAt:     s.clock.Now(),
		}
		if err := s.events.Append(ctx, event); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("delegation_id", d.ID).
		Str("from_user_id", d.FromUserID).
		Str("to_user_id", d.ToUserID).
		Msg("Delegation recorded")

	return d, nil
}

// checkDelegateActive rejects delegation to a user bound to the configuration
// as an inactive approver. Users with no binding at all are allowed.
func (s *ApprovalService) checkDelegateActive(ctx context.Context, configurationID, toUserID string, active []*domain.Approver) error {
	for _, a := range active {
		if a.UserID == toUserID {
			return nil
		}
	}
	inactive, err := s.approvers.IsInactiveApprover(ctx, configurationID, toUserID)
	if err != nil {
		return err
	}
	if inactive {
		return errors.New(errors.ErrCodeDelegationInvalid,
			"cannot delegate to an inactive approver").
			WithDetail("to_user_id", toUserID)
	}
	return nil
}

// ── Cancel ────────────────────────────────────────────────────────────────────

// Cancel withdraws a pending request. Only the original requester may cancel.
func (s *ApprovalService) Cancel(ctx context.Context, requestID, actingUserID, reason string) (*domain.ApprovalRequest, error) {
	var lastErr error
	for attempt := 0; attempt < optimisticRetries; attempt++ {
		req, err := s.cancelOnce(ctx, requestID, actingUserID, reason)
		if err == nil {
			return req, nil
		}
		if !errors.HasCode(err, errors.ErrCodeConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *ApprovalService) cancelOnce(ctx context.Context, requestID, actingUserID, reason string) (*domain.ApprovalRequest, error) {
	now := s.clock.Now()

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, errors.New(errors.ErrCodeAlreadyResolved, "request is already resolved").
			WithDetail("request_id", req.ID).
			WithDetail("status", string(req.Status))
	}
	if now.After(req.ExpiresAt) {
		// Past the deadline the only reachable terminal state is EXPIRED;
		// a late withdrawal must not pre-empt the scheduler.
		return nil, errors.New(errors.ErrCodeExpired, "request deadline has passed").
			WithDetail("request_id", req.ID)
	}
	if req.RequesterID != actingUserID {
		return nil, errors.New(errors.ErrCodeUnauthorized, "only the requester can cancel the request").
			WithDetail("request_id", req.ID)
	}

	req.Status = domain.StatusCancelled
	req.ResolvedAt = &now

	var justification *string
	if strings.TrimSpace(reason) != "" {
		justification = &reason
	}
	event := &domain.DecisionEvent{
		ID:            uuid.NewString(),
		RequestID:     req.ID,
		Action:        domain.ActionCancel,
		ActingUserID:  actingUserID,
		Justification: justification,
		CreatedAt:     now,
	}
	if err := s.requests.UpdateWithEvent(ctx, req, event); err != nil {
		return nil, err
	}

	metrics.RequestsResolved.WithLabelValues(string(domain.StatusCancelled)).Inc()
	s.log.Info().
		Str("request_id", req.ID).
		Str("acting_user_id", actingUserID).
		Msg("Approval request cancelled")

	s.notify(ctx, domain.Notification{
		RequestID:   req.ID,
		RequestCode: req.Code,
		Kind:        domain.NotifyResolved,
		Recipients:  []string{req.RequesterID},
		Payload:     map[string]any{"status": string(domain.StatusCancelled)},
	})

	return req, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetRequest loads a request by id.
func (s *ApprovalService) GetRequest(ctx context.Context, requestID string) (*domain.ApprovalRequest, error) {
	return s.requests.GetByID(ctx, requestID)
}

// GetRequestByCode loads a request by its human-readable code.
func (s *ApprovalService) GetRequestByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error) {
	return s.requests.GetByCode(ctx, code)
}

// ListPendingForUser returns the pending requests on which the given user
// currently holds an approval duty (directly or through delegation) and has
// not yet decided.
func (s *ApprovalService) ListPendingForUser(ctx context.Context, userID string) ([]*domain.ApprovalRequest, error) {
	pending, err := s.requests.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var result []*domain.ApprovalRequest
	for _, req := range pending {
		active, err := s.approvers.ListActiveByConfiguration(ctx, req.ConfigurationID)
		if err != nil {
			return nil, err
		}
		decided, err := s.decidedApprovers(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range active {
			if decided[a.UserID] {
				continue
			}
			effective, err := s.resolver.Resolve(ctx, a.UserID, req.ID, req.ConfigurationID, now)
			if err != nil {
				continue
			}
			if effective == userID {
				result = append(result, req)
				break
			}
		}
	}
	return result, nil
}

// decidedApprovers returns the set of approver ids with a terminal decision.
func (s *ApprovalService) decidedApprovers(ctx context.Context, requestID string) (map[string]bool, error) {
	history, err := s.events.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	decided := make(map[string]bool)
	for _, e := range history {
		if e.Action.Terminal() && e.ApproverID != nil {
			decided[*e.ApproverID] = true
		}
	}
	return decided, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// notify hands an instruction to the sink. Dispatch failures are logged and
// never block the already-committed state transition.
func (s *ApprovalService) notify(ctx context.Context, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	metrics.NotificationsPublished.WithLabelValues(n.Kind).Inc()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", n.RequestID).
			Str("kind", n.Kind).
			Msg("Failed to dispatch notification (non-fatal)")
	}
}

func approverUserIDs(approvers []*domain.Approver) []string {
	ids := make([]string, 0, len(approvers))
	for _, a := range approvers {
		ids = append(ids, a.UserID)
	}
	return ids
}

// newRequestCode builds a short human-readable code like APR-5F3A9C21.
func newRequestCode() string {
	return "APR-" + strings.ToUpper(uuid.NewString()[:8])
}
