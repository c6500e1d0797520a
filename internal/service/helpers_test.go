package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// testClock is a mutable clock shared between the test and the service.
type testClock struct {
	mux sync.Mutex
	at  time.Time
}

func (c *testClock) Now() time.Time {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.at
}

func (c *testClock) Set(at time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.at = at
}

func (c *testClock) Advance(d time.Duration) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.at = c.at.Add(d)
}

// captureSink records every notification instruction it receives.
type captureSink struct {
	mux  sync.Mutex
	sent []domain.Notification
}

func (s *captureSink) Notify(_ context.Context, n domain.Notification) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *captureSink) byKind(kind string) []domain.Notification {
	s.mux.Lock()
	defer s.mux.Unlock()
	var out []domain.Notification
	for _, n := range s.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// env wires an ApprovalService over in-memory stores with a controllable clock.
type env struct {
	configs     *memory.ConfigurationStore
	approvers   *memory.ApproverStore
	requests    *memory.RequestStore
	events      *memory.EventStore
	delegations *memory.DelegationStore
	clock       *testClock
	sink        *captureSink
	svc         *service.ApprovalService
}

func newEnv(at time.Time) *env {
	events := memory.NewEventStore()
	e := &env{
		configs:     memory.NewConfigurationStore(),
		approvers:   memory.NewApproverStore(),
		requests:    memory.NewRequestStore(events),
		events:      events,
		delegations: memory.NewDelegationStore(),
		clock:       &testClock{at: at},
		sink:        &captureSink{},
	}
	e.svc = service.NewApprovalService(
		e.configs, e.approvers, e.requests, e.events, e.delegations,
		e.sink, e.clock, logger.Nop(),
	)
	return e
}

// addConfig stores a configuration, defaulting the fields most tests share.
func (e *env) addConfig(cfg *domain.ApprovalConfiguration) *domain.ApprovalConfiguration {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Status == "" {
		cfg.Status = "ACTIVE"
	}
	if cfg.TimeLimitHours == 0 {
		cfg.TimeLimitHours = 48
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = e.clock.Now()
	}
	_ = e.configs.Create(context.Background(), cfg)
	return cfg
}

// addApprovers binds the given users to the configuration as active approvers.
func (e *env) addApprovers(configurationID string, userIDs ...string) {
	for _, id := range userIDs {
		_ = e.approvers.Create(context.Background(), &domain.Approver{
			ID:              uuid.NewString(),
			UserID:          id,
			ConfigurationID: configurationID,
			Active:          true,
			Weight:          1,
		})
	}
}

// addInactiveApprover binds a user as an inactive approver.
func (e *env) addInactiveApprover(configurationID, userID string) {
	_ = e.approvers.Create(context.Background(), &domain.Approver{
		ID:              uuid.NewString(),
		UserID:          userID,
		ConfigurationID: configurationID,
		Active:          false,
		Weight:          1,
	})
}

// addDelegation stores a delegation directly, bypassing Delegate validation.
func (e *env) addDelegation(d *domain.Delegation) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ValidFrom.IsZero() {
		d.ValidFrom = e.clock.Now().Add(-time.Hour)
	}
	if d.ValidUntil.IsZero() {
		d.ValidUntil = e.clock.Now().Add(24 * time.Hour)
	}
	_ = e.delegations.Create(context.Background(), d)
}

func ptr[T any](v T) *T { return &v }
