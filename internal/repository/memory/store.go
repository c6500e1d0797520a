// Package memory provides thread-safe in-memory implementations of the
// repository interfaces. Used by the test suite and for running the engine
// without Postgres. All methods work with copies to eliminate data races and
// to preserve the optimistic-concurrency contract of the request store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// ── Configurations ────────────────────────────────────────────────────────────

// ConfigurationStore is an in-memory ConfigurationRepo.
type ConfigurationStore struct {
	mux  sync.RWMutex
	cfgs map[string]*domain.ApprovalConfiguration
}

// NewConfigurationStore creates an empty store.
func NewConfigurationStore() *ConfigurationStore {
	return &ConfigurationStore{cfgs: make(map[string]*domain.ApprovalConfiguration)}
}

func (s *ConfigurationStore) Create(_ context.Context, cfg *domain.ApprovalConfiguration) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.cfgs[cfg.ID]; ok {
		return errors.New(errors.ErrCodeConflict, "configuration already exists")
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.cfgs[cfg.ID] = copyConfiguration(cfg)
	return nil
}

func (s *ConfigurationStore) GetByID(_ context.Context, id string) (*domain.ApprovalConfiguration, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	cfg, ok := s.cfgs[id]
	if !ok {
		return nil, errors.NotFound("approval_configuration", id)
	}
	return copyConfiguration(cfg), nil
}

func (s *ConfigurationStore) List(_ context.Context, actionType string, activeOnly bool) ([]*domain.ApprovalConfiguration, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	var out []*domain.ApprovalConfiguration
	for _, cfg := range s.cfgs {
		if actionType != "" && cfg.ActionType != actionType {
			continue
		}
		if activeOnly && cfg.Status != "ACTIVE" {
			continue
		}
		out = append(out, copyConfiguration(cfg))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityRank != out[j].PriorityRank {
			return out[i].PriorityRank > out[j].PriorityRank
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ConfigurationStore) Update(_ context.Context, cfg *domain.ApprovalConfiguration) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.cfgs[cfg.ID]; !ok {
		return errors.NotFound("approval_configuration", cfg.ID)
	}
	cfg.UpdatedAt = time.Now().UTC()
	s.cfgs[cfg.ID] = copyConfiguration(cfg)
	return nil
}

func (s *ConfigurationStore) SetStatus(_ context.Context, id, status string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	cfg, ok := s.cfgs[id]
	if !ok {
		return errors.NotFound("approval_configuration", id)
	}
	cfg.Status = status
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

// ── Approvers ─────────────────────────────────────────────────────────────────

// ApproverStore is an in-memory ApproverRepo.
type ApproverStore struct {
	mux       sync.RWMutex
	approvers []*domain.Approver
}

// NewApproverStore creates an empty store.
func NewApproverStore() *ApproverStore {
	return &ApproverStore{}
}

func (s *ApproverStore) Create(_ context.Context, a *domain.Approver) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.approvers = append(s.approvers, &cp)
	return nil
}

func (s *ApproverStore) ListActiveByConfiguration(_ context.Context, configurationID string) ([]*domain.Approver, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	var out []*domain.Approver
	for _, a := range s.approvers {
		if a.ConfigurationID == configurationID && a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *ApproverStore) IsInactiveApprover(_ context.Context, configurationID, userID string) (bool, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	for _, a := range s.approvers {
		if a.ConfigurationID == configurationID && a.UserID == userID {
			return !a.Active, nil
		}
	}
	return false, nil
}

// ── Requests ──────────────────────────────────────────────────────────────────

// RequestStore is an in-memory RequestRepo with the same optimistic-version
// semantics as the Postgres implementation. It holds the event store so
// UpdateWithEvent can commit both writes as one unit.
type RequestStore struct {
	mux      sync.Mutex
	requests map[string]*domain.ApprovalRequest
	events   *EventStore
}

// NewRequestStore creates an empty store writing events through the given
// event store.
func NewRequestStore(events *EventStore) *RequestStore {
	return &RequestStore{requests: make(map[string]*domain.ApprovalRequest), events: events}
}

func (s *RequestStore) Create(_ context.Context, req *domain.ApprovalRequest) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return errors.New(errors.ErrCodeConflict, "request already exists")
	}
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *RequestStore) GetByID(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return copyRequest(req), nil
}

func (s *RequestStore) GetByCode(_ context.Context, code string) (*domain.ApprovalRequest, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, req := range s.requests {
		if req.Code == code {
			return copyRequest(req), nil
		}
	}
	return nil, errors.NotFound("approval_request", code)
}

func (s *RequestStore) Update(_ context.Context, req *domain.ApprovalRequest) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return errors.NotFound("approval_request", req.ID)
	}
	if stored.Version != req.Version {
		return errors.New(errors.ErrCodeConcurrentModification,
			"request was modified concurrently").
			WithDetail("request_id", req.ID)
	}
	req.Version++
	s.requests[req.ID] = copyRequest(req)
	return nil
}

// UpdateWithEvent applies the version-guarded update and appends the event as
// one unit: the event lands first, and the request row is only committed once
// the append succeeded.
func (s *RequestStore) UpdateWithEvent(ctx context.Context, req *domain.ApprovalRequest, e *domain.DecisionEvent) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return errors.NotFound("approval_request", req.ID)
	}
	if stored.Version != req.Version {
		return errors.New(errors.ErrCodeConcurrentModification,
			"request was modified concurrently").
			WithDetail("request_id", req.ID)
	}
	if err := s.events.Append(ctx, e); err != nil {
		return err
	}
	req.Version++
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *RequestStore) ListPending(_ context.Context) ([]*domain.ApprovalRequest, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	var out []*domain.ApprovalRequest
	for _, req := range s.requests {
		if req.Status == domain.StatusPending {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// ── Events ────────────────────────────────────────────────────────────────────

// EventStore is an in-memory append-only EventRepo.
type EventStore struct {
	mux      sync.Mutex
	events   map[string][]*domain.DecisionEvent // by request id, in append order
	failNext error
}

// NewEventStore creates an empty store.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string][]*domain.DecisionEvent)}
}

func (s *EventStore) Append(_ context.Context, e *domain.DecisionEvent) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	chain := s.events[e.RequestID]
	if n := len(chain); n > 0 && e.CreatedAt.Before(chain[n-1].CreatedAt) {
		return errors.New(errors.ErrCodeIntegrity, "out-of-order event append rejected").
			WithDetail("request_id", e.RequestID)
	}
	var prev *domain.DecisionEvent
	if len(chain) > 0 {
		prev = chain[len(chain)-1]
	}
	e.Seal(prev)
	cp := *e
	s.events[e.RequestID] = append(chain, &cp)
	return nil
}

// FailNextAppend arms a one-shot error returned by the next Append. Test hook
// for store-failure paths; Postgres surfaces these as transaction rollbacks.
func (s *EventStore) FailNextAppend(err error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.failNext = err
}

func (s *EventStore) ListByRequest(_ context.Context, requestID string) ([]*domain.DecisionEvent, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	chain := s.events[requestID]
	out := make([]*domain.DecisionEvent, 0, len(chain))
	for _, e := range chain {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Tamper overwrites a stored event field in place. Test hook for integrity
// verification; the Postgres table forbids this by trigger.
func (s *EventStore) Tamper(requestID string, index int, mutate func(*domain.DecisionEvent)) {
	s.mux.Lock()
	defer s.mux.Unlock()
	chain := s.events[requestID]
	if index >= 0 && index < len(chain) {
		mutate(chain[index])
	}
}

// ── Delegations ───────────────────────────────────────────────────────────────

// DelegationStore is an in-memory DelegationRepo.
type DelegationStore struct {
	mux         sync.RWMutex
	delegations []*domain.Delegation
}

// NewDelegationStore creates an empty store.
func NewDelegationStore() *DelegationStore {
	return &DelegationStore{}
}

func (s *DelegationStore) Create(_ context.Context, d *domain.Delegation) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	cp := *d
	s.delegations = append(s.delegations, &cp)
	return nil
}

func (s *DelegationStore) ListActiveFrom(_ context.Context, fromUserID string, at time.Time) ([]*domain.Delegation, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	var out []*domain.Delegation
	for _, d := range s.delegations {
		if d.FromUserID == fromUserID && d.ActiveAt(at) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ── copy helpers ──────────────────────────────────────────────────────────────

func copyConfiguration(cfg *domain.ApprovalConfiguration) *domain.ApprovalConfiguration {
	cp := *cfg
	if cfg.BusinessWindow != nil {
		w := *cfg.BusinessWindow
		cp.BusinessWindow = &w
	}
	return &cp
}

func copyRequest(req *domain.ApprovalRequest) *domain.ApprovalRequest {
	cp := *req
	if req.Payload != nil {
		cp.Payload = make(map[string]any, len(req.Payload))
		for k, v := range req.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}
