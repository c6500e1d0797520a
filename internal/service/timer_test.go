package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func TestTickExpiresOverdueRequest(t *testing.T) {
	e := newEnv(t0)
	cfg := quorumConfig(e, 1)
	e.addApprovers(cfg.ID, "alice")
	req := submitExport(t, e, "dave")

	stats, err := e.svc.Tick(context.Background(), req.ExpiresAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)

	stored, err := e.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)
	require.NotNil(t, stored.ResolvedAt)

	events, err := e.events.ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ActionExpire, events[0].Action)
	assert.True(t, events[0].IsAutomatic)
	assert.Equal(t, "system", events[0].ActingUserID)

	// A second sweep finds nothing pending.
	stats, err = e.svc.Tick(context.Background(), req.ExpiresAt.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)
}

func TestTickExpiryEventWriteFailureLeavesRequestPending(t *testing.T) {
	e := newEnv(t0)
	cfg := quorumConfig(e, 1)
	e.addApprovers(cfg.ID, "alice")
	req := submitExport(t, e, "dave")

	overdue := req.ExpiresAt.Add(time.Minute)
	e.events.FailNextAppend(errors.New(errors.ErrCodeInternal, "event store unavailable"))

	// The failed sweep commits nothing, so the request stays visible to the
	// next sweep instead of ending terminal without a trail entry.
	stats, err := e.svc.Tick(context.Background(), overdue)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Expired)

	stored, err := e.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	stats, err = e.svc.Tick(context.Background(), overdue)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)

	events, err := e.events.ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ActionExpire, events[0].Action)
}

func TestTickDoesNothingBeforeThresholds(t *testing.T) {
	e := newEnv(t0)
	cfg := e.addConfig(&domain.ApprovalConfiguration{
		ActionType:      "DATA_EXPORT",
		Strategy:        domain.StrategySingle,
		ReminderHours:   24,
		EscalationHours: ptr(24.0),
	})
	e.addApprovers(cfg.ID, "alice")
	req := submitExport(t, e, "dave")

	stats, err := e.svc.Tick(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, service.TickStats{Scanned: 1}, stats)

	stored, err := e.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Zero(t, stored.ReminderCount)
	assert.Zero(t, stored.EscalationCount)
}

func TestTickReminderIsIdempotent(t *testing.T) {
	e := newEnv(t0)
	cfg := e.addConfig(&domain.ApprovalConfiguration{
		ActionType:    "DATA_EXPORT",
		Strategy:      domain.StrategySingle,
		ReminderHours: 2,
	})
	e.addApprovers(cfg.ID, "alice")
	req := submitExport(t, e, "dave")

	at := t0.Add(3 * time.Hour)
	stats, err := e.svc.Tick(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reminded)

	// Same instant again: the reminder clock restarted at the last reminder.
	stats, err = e.svc.Tick(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Reminded)

	// Two more business hours later the next reminder fires.
	stats, err = e.svc.Tick(context.Background(), at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reminded)

	stored, err := e.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ReminderCount)

	reminders := e.sink.byKind(domain.NotifyReminder)
	require.Len(t, reminders, 2)
	assert.Equal(t, []string{"alice"}, reminders[0].Recipients)
}

func TestTickEscalationLevels(t *testing.T) {
	e := newEnv(t0)
	cfg := e.addConfig(&domain.ApprovalConfiguration{
		ActionType:      "DATA_EXPORT",
		Strategy:        domain.StrategyQuorum,
		MinApprovals:    2,
		EscalationHours: ptr(4.0),
	})
	e.addApprovers(cfg.ID, "alice", "bob")
	req := submitExport(t, e, "dave")

	stats, err := e.svc.Tick(context.Background(), t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Escalated)

	// Re-running at the same instant does not escalate again.
	stats, err = e.svc.Tick(context.Background(), t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Escalated)

	// The second multiple of the threshold triggers level two.
	stats, err = e.svc.Tick(context.Background(), t0.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Escalated)

	stored, err := e.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationCount)

	events, err := e.events.ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i, ev := range events {
		assert.Equal(t, domain.ActionEscalate, ev.Action)
		require.NotNil(t, ev.EscalationLevel)
		assert.Equal(t, i+1, *ev.EscalationLevel)
	}
	assert.NoError(t, domain.VerifyChain(events))
}

func TestTickBusinessTimeReminder(t *testing.T) {
	created := time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC) // Friday 17:00
	e := newEnv(created)
	cfg := e.addConfig(&domain.ApprovalConfiguration{
		ActionType:     "DATA_EXPORT",
		Strategy:       domain.StrategySingle,
		TimeLimitHours: 48,
		ReminderHours:  2,
		BusinessWindow: &domain.BusinessWindow{
			Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			Start:    "08:00",
			End:      "18:00",
		},
	})
	e.addApprovers(cfg.ID, "alice")
	submitExport(t, e, "dave")

	// Friday 17:30: only half a business hour has passed.
	stats, err := e.svc.Tick(context.Background(), created.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Reminded)

	// Monday 09:30: one Friday hour plus 1.5 Monday hours.
	monday := time.Date(2026, 3, 9, 9, 30, 0, 0, time.UTC)
	stats, err = e.svc.Tick(context.Background(), monday)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reminded)
}

func TestTickExpiryWinsOverEscalation(t *testing.T) {
	e := newEnv(t0)
	cfg := e.addConfig(&domain.ApprovalConfiguration{
		ActionType:      "DATA_EXPORT",
		Strategy:        domain.StrategySingle,
		TimeLimitHours:  1,
		EscalationHours: ptr(0.5),
		ReminderHours:   0.25,
	})
	e.addApprovers(cfg.ID, "alice")
	req := submitExport(t, e, "dave")

	stats, err := e.svc.Tick(context.Background(), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 0, stats.Escalated)
	assert.Equal(t, 0, stats.Reminded)

	stored, err := e.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)
}

func TestTickIsolatesFailingRequest(t *testing.T) {
	e := newEnv(t0)
	cfg := quorumConfig(e, 1)
	e.addApprovers(cfg.ID, "alice")
	healthy := submitExport(t, e, "dave")

	// A request pointing at a missing configuration fails its timer pass but
	// must not poison the sweep.
	broken := &domain.ApprovalRequest{
		ID: "broken", Code: "APR-BROKEN", ConfigurationID: "gone",
		Status: domain.StatusPending, RequesterID: "dave",
		CreatedAt: t0, ExpiresAt: t0.Add(time.Hour), Version: 1,
	}
	require.NoError(t, e.requests.Create(context.Background(), broken))

	stats, err := e.svc.Tick(context.Background(), healthy.ExpiresAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Failed)

	stored, err := e.svc.GetRequest(context.Background(), healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)
}

func TestTickStopsOnCancelledContext(t *testing.T) {
	e := newEnv(t0)
	cfg := quorumConfig(e, 1)
	e.addApprovers(cfg.ID, "alice")
	req := submitExport(t, e, "dave")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := e.svc.Tick(ctx, req.ExpiresAt.Add(time.Minute))
	assert.Error(t, err)
	assert.True(t, stats.Interrupted)
	assert.Equal(t, 0, stats.Scanned)

	stored, getErr := e.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestSchedulerRunsInitialSweep(t *testing.T) {
	e := newEnv(t0)
	cfg := quorumConfig(e, 1)
	e.addApprovers(cfg.ID, "alice")
	req := submitExport(t, e, "dave")

	e.clock.Set(req.ExpiresAt.Add(time.Minute))
	sched := service.NewScheduler(e.svc, time.Hour, e.clock, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stored, err := e.svc.GetRequest(context.Background(), req.ID)
		return err == nil && stored.Status == domain.StatusExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
