// Package handler exposes the approval facade over HTTP. The four public
// operations (Submit, Decide, Delegate, Cancel) plus read-only queries and
// configuration administration.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	approvals *service.ApprovalService
	configs   *service.ConfigurationService
	audit     *service.AuditService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	approvals *service.ApprovalService,
	configs *service.ConfigurationService,
	audit *service.AuditService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{approvals: approvals, configs: configs, audit: audit, log: log}
}

// ── Approval operations ───────────────────────────────────────────────────────

// SubmitRequest is the body for POST /api/v1/approvals/submit.
type SubmitRequest struct {
	ActionType       string         `json:"action_type"`
	RequesterID      string         `json:"requester_id"`
	RequesterProfile *string        `json:"requester_profile,omitempty"`
	RequesterOrgUnit *string        `json:"requester_org_unit,omitempty"`
	Value            int64          `json:"value"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// Submit handles new approval submissions.
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	req, err := h.approvals.Submit(r.Context(), service.SubmitInput{
		ActionType:       body.ActionType,
		RequesterID:      body.RequesterID,
		RequesterProfile: body.RequesterProfile,
		RequesterOrgUnit: body.RequesterOrgUnit,
		Value:            body.Value,
		Payload:          body.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, requestDTO(req))
}

// DecideRequest is the body for POST /api/v1/approvals/decide.
type DecideRequest struct {
	RequestID     string  `json:"request_id"`
	ActingUserID  string  `json:"acting_user_id"`
	Action        string  `json:"action"`
	Justification *string `json:"justification,omitempty"`
}

// Decide handles decision submissions.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	req, err := h.approvals.Decide(r.Context(), service.DecideInput{
		RequestID:     body.RequestID,
		ActingUserID:  body.ActingUserID,
		Action:        domain.DecisionAction(body.Action),
		Justification: body.Justification,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestDTO(req))
}

// DelegateRequest is the body for POST /api/v1/approvals/delegate.
type DelegateRequest struct {
	RequestID       *string   `json:"request_id,omitempty"`
	ConfigurationID *string   `json:"configuration_id,omitempty"`
	FromUserID      string    `json:"from_user_id"`
	ToUserID        string    `json:"to_user_id"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	Reason          string    `json:"reason"`
}

// Delegate handles delegation requests.
func (h *HTTPHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	d, err := h.approvals.Delegate(r.Context(), service.DelegateInput{
		RequestID:       body.RequestID,
		ConfigurationID: body.ConfigurationID,
		FromUserID:      body.FromUserID,
		ToUserID:        body.ToUserID,
		ValidFrom:       body.ValidFrom,
		ValidUntil:      body.ValidUntil,
		Reason:          body.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           d.ID,
		"from_user_id": d.FromUserID,
		"to_user_id":   d.ToUserID,
		"valid_from":   d.ValidFrom,
		"valid_until":  d.ValidUntil,
	})
}

// CancelRequest is the body for POST /api/v1/approvals/cancel.
type CancelRequest struct {
	RequestID    string `json:"request_id"`
	ActingUserID string `json:"acting_user_id"`
	Reason       string `json:"reason,omitempty"`
}

// Cancel handles requester withdrawals.
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	req, err := h.approvals.Cancel(r.Context(), body.RequestID, body.ActingUserID, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestDTO(req))
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetRequest handles GET /api/v1/approvals/get?id=... or ?code=...
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	code := r.URL.Query().Get("code")
	if id == "" && code == "" {
		writeError(w, errors.InvalidInput("id", "id or code is required"))
		return
	}

	var req *domain.ApprovalRequest
	var err error
	if id != "" {
		req, err = h.approvals.GetRequest(r.Context(), id)
	} else {
		req, err = h.approvals.GetRequestByCode(r.Context(), code)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestDTO(req))
}

// PendingForUser handles GET /api/v1/approvals/pending?user_id=...
func (h *HTTPHandler) PendingForUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, errors.InvalidInput("user_id", "user_id is required"))
		return
	}

	pending, err := h.approvals.ListPendingForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(pending))
	for _, req := range pending {
		items = append(items, requestDTO(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// Audit handles GET /api/v1/approvals/audit?id=...
func (h *HTTPHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "id is required"))
		return
	}

	export, err := h.audit.ExportAudit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	events := make([]map[string]any, 0, len(export.Events))
	for _, e := range export.Events {
		events = append(events, eventDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request":      requestDTO(export.Request),
		"events":       events,
		"chain_intact": export.ChainIntact,
		"chain_error":  export.ChainError,
	})
}

// ── Configuration administration ──────────────────────────────────────────────

// ConfigurationBody is the create/update body for configurations.
type ConfigurationBody struct {
	ID                      string                 `json:"id,omitempty"`
	ActionType              string                 `json:"action_type"`
	Strategy                string                 `json:"strategy"`
	MinApprovals            int                    `json:"min_approvals"`
	MaxApprovals            *int                   `json:"max_approvals,omitempty"`
	Status                  string                 `json:"status,omitempty"`
	RequesterProfile        *string                `json:"requester_profile,omitempty"`
	OrgUnit                 *string                `json:"org_unit,omitempty"`
	MinValue                *int64                 `json:"min_value,omitempty"`
	MaxValue                *int64                 `json:"max_value,omitempty"`
	TimeLimitHours          float64                `json:"time_limit_hours"`
	ReminderHours           float64                `json:"reminder_hours"`
	EscalationHours         *float64               `json:"escalation_hours,omitempty"`
	AllowParallelApproval   bool                   `json:"allow_parallel_approval"`
	AllowSelfApproval       bool                   `json:"allow_self_approval"`
	RequireJustifyOnApprove bool                   `json:"require_justify_on_approve"`
	RequireJustifyOnReject  bool                   `json:"require_justify_on_reject"`
	BusinessWindow          *domain.BusinessWindow `json:"business_window,omitempty"`
	PriorityRank            int                    `json:"priority_rank"`
	ValidFrom               *time.Time             `json:"valid_from,omitempty"`
	ValidUntil              *time.Time             `json:"valid_until,omitempty"`
}

// CreateConfiguration handles POST /api/v1/configurations.
func (h *HTTPHandler) CreateConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body ConfigurationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	cfg, err := h.configs.Create(r.Context(), configurationFromBody(&body))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, configurationDTO(cfg))
}

// ListConfigurations handles GET /api/v1/configurations.
func (h *HTTPHandler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actionType := r.URL.Query().Get("action_type")
	activeOnly := r.URL.Query().Get("active_only") == "true"

	cfgs, err := h.configs.List(r.Context(), actionType, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(cfgs))
	for _, cfg := range cfgs {
		items = append(items, configurationDTO(cfg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// GetConfiguration handles GET /api/v1/configurations/get?id=...
func (h *HTTPHandler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "id is required"))
		return
	}
	cfg, err := h.configs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configurationDTO(cfg))
}

// UpdateConfiguration handles POST /api/v1/configurations/update.
func (h *HTTPHandler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body ConfigurationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	cfg, err := h.configs.Update(r.Context(), configurationFromBody(&body))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configurationDTO(cfg))
}

// DeactivateConfiguration handles POST /api/v1/configurations/deactivate.
func (h *HTTPHandler) DeactivateConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if err := h.configs.Deactivate(r.Context(), body.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// AddApprover handles POST /api/v1/configurations/approvers.
func (h *HTTPHandler) AddApprover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ConfigurationID string `json:"configuration_id"`
		UserID          string `json:"user_id"`
		Weight          int    `json:"weight,omitempty"`
		Order           *int   `json:"order,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	a, err := h.configs.AddApprover(r.Context(), body.ConfigurationID, body.UserID, body.Weight, body.Order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":               a.ID,
		"configuration_id": a.ConfigurationID,
		"user_id":          a.UserID,
		"active":           a.Active,
		"weight":           a.Weight,
	})
}

// ── DTO helpers ───────────────────────────────────────────────────────────────

func requestDTO(req *domain.ApprovalRequest) map[string]any {
	return map[string]any{
		"id":                  req.ID,
		"code":                req.Code,
		"configuration_id":    req.ConfigurationID,
		"status":              string(req.Status),
		"required_approvals":  req.RequiredApprovals,
		"approvals_received":  req.ApprovalsReceived,
		"rejections_received": req.RejectionsReceived,
		"created_at":          req.CreatedAt,
		"expires_at":          req.ExpiresAt,
		"first_approval_at":   req.FirstApprovalAt,
		"resolved_at":         req.ResolvedAt,
		"escalation_count":    req.EscalationCount,
		"reminder_count":      req.ReminderCount,
		"requester_id":        req.RequesterID,
		"payload":             req.Payload,
	}
}

func eventDTO(e *domain.DecisionEvent) map[string]any {
	return map[string]any{
		"id":               e.ID,
		"request_id":       e.RequestID,
		"sequence_no":      e.SequenceNo,
		"approver_id":      e.ApproverID,
		"action":           string(e.Action),
		"acting_user_id":   e.ActingUserID,
		"justification":    e.Justification,
		"delegated_to_id":  e.DelegatedToID,
		"escalation_level": e.EscalationLevel,
		"created_at":       e.CreatedAt,
		"integrity_hash":   e.IntegrityHash,
		"prev_hash":        e.PrevHash,
		"is_automatic":     e.IsAutomatic,
	}
}

func configurationDTO(cfg *domain.ApprovalConfiguration) map[string]any {
	return map[string]any{
		"id":                         cfg.ID,
		"action_type":                cfg.ActionType,
		"strategy":                   string(cfg.Strategy),
		"min_approvals":              cfg.MinApprovals,
		"max_approvals":              cfg.MaxApprovals,
		"status":                     cfg.Status,
		"requester_profile":          cfg.RequesterProfile,
		"org_unit":                   cfg.OrgUnit,
		"min_value":                  cfg.MinValue,
		"max_value":                  cfg.MaxValue,
		"time_limit_hours":           cfg.TimeLimitHours,
		"reminder_hours":             cfg.ReminderHours,
		"escalation_hours":           cfg.EscalationHours,
		"allow_parallel_approval":    cfg.AllowParallelApproval,
		"allow_self_approval":        cfg.AllowSelfApproval,
		"require_justify_on_approve": cfg.RequireJustifyOnApprove,
		"require_justify_on_reject":  cfg.RequireJustifyOnReject,
		"business_window":            cfg.BusinessWindow,
		"priority_rank":              cfg.PriorityRank,
		"valid_from":                 cfg.ValidFrom,
		"valid_until":                cfg.ValidUntil,
		"created_at":                 cfg.CreatedAt,
		"updated_at":                 cfg.UpdatedAt,
	}
}

func configurationFromBody(body *ConfigurationBody) *domain.ApprovalConfiguration {
	return &domain.ApprovalConfiguration{
		ID:                      body.ID,
		ActionType:              body.ActionType,
		Strategy:                domain.Strategy(body.Strategy),
		MinApprovals:            body.MinApprovals,
		MaxApprovals:            body.MaxApprovals,
		Status:                  body.Status,
		RequesterProfile:        body.RequesterProfile,
		OrgUnit:                 body.OrgUnit,
		MinValue:                body.MinValue,
		MaxValue:                body.MaxValue,
		TimeLimitHours:          body.TimeLimitHours,
		ReminderHours:           body.ReminderHours,
		EscalationHours:         body.EscalationHours,
		AllowParallelApproval:   body.AllowParallelApproval,
		AllowSelfApproval:       body.AllowSelfApproval,
		RequireJustifyOnApprove: body.RequireJustifyOnApprove,
		RequireJustifyOnReject:  body.RequireJustifyOnReject,
		BusinessWindow:          body.BusinessWindow,
		PriorityRank:            body.PriorityRank,
		ValidFrom:               body.ValidFrom,
		ValidUntil:              body.ValidUntil,
	}
}

// ── response helpers ──────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy to HTTP statuses and renders a
// structured body so no rejection is collapsed into a generic failure.
func writeError(w http.ResponseWriter, err error) {
	code := errors.Code(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeDelegationInvalid,
		errors.ErrCodeDelegationCycle, errors.ErrCodeDelegationTooDeep:
		status = http.StatusBadRequest
	case errors.ErrCodeConflict, errors.ErrCodeAlreadyResolved, errors.ErrCodeExpired,
		errors.ErrCodeDuplicateDecision, errors.ErrCodeConcurrentModification:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized, errors.ErrCodeNotEligible,
		errors.ErrCodeSelfApprovalForbidden:
		status = http.StatusForbidden
	case errors.ErrCodeNoMatchingConfiguration, errors.ErrCodeMisconfiguredApprovers,
		errors.ErrCodeJustificationRequired:
		status = http.StatusUnprocessableEntity
	}

	body := map[string]any{
		"code":    string(code),
		"message": err.Error(),
	}
	if coded, ok := errors.From(err); ok {
		body["message"] = coded.Message
		if len(coded.Details) > 0 {
			body["details"] = coded.Details
		}
	}
	writeJSON(w, status, body)
}
