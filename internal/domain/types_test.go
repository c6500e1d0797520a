package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	for _, s := range []Status{StatusApproved, StatusRejected, StatusExpired, StatusCancelled} {
		assert.True(t, s.Terminal(), string(s))
	}
}

func TestStatusCanTransition(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusApproved))
	assert.True(t, StatusPending.CanTransition(StatusCancelled))
	assert.True(t, StatusPending.CanTransition(StatusPending)) // counter-only updates

	for _, s := range []Status{StatusApproved, StatusRejected, StatusExpired, StatusCancelled} {
		assert.False(t, s.CanTransition(StatusPending), string(s))
		assert.False(t, s.CanTransition(StatusApproved), string(s))
	}
}

func TestStrategyValid(t *testing.T) {
	for _, s := range []Strategy{StrategyUnanimous, StrategyMajority, StrategyQuorum, StrategySingle} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Strategy("FIRST_PAST_THE_POST").Valid())
}

func TestConfigurationMatches(t *testing.T) {
	profile := "ADMIN"
	cfg := &ApprovalConfiguration{
		ActionType:       "BULK_USER_DEACTIVATION",
		RequesterProfile: &profile,
		MinValue:         int64Ptr(10_000),
		MaxValue:         int64Ptr(500_000),
	}

	admin := "ADMIN"
	operator := "OPERATOR"

	assert.True(t, cfg.Matches("BULK_USER_DEACTIVATION", &admin, nil, 50_000))
	assert.False(t, cfg.Matches("DATA_EXPORT", &admin, nil, 50_000))
	assert.False(t, cfg.Matches("BULK_USER_DEACTIVATION", &operator, nil, 50_000))
	assert.False(t, cfg.Matches("BULK_USER_DEACTIVATION", nil, nil, 50_000))
	assert.False(t, cfg.Matches("BULK_USER_DEACTIVATION", &admin, nil, 5_000))
	assert.False(t, cfg.Matches("BULK_USER_DEACTIVATION", &admin, nil, 600_000))
}

func TestConfigurationActive(t *testing.T) {
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	assert.True(t, (&ApprovalConfiguration{Status: "ACTIVE"}).Active(now))
	assert.False(t, (&ApprovalConfiguration{Status: "INACTIVE"}).Active(now))
	assert.False(t, (&ApprovalConfiguration{Status: "ACTIVE", ValidFrom: &after}).Active(now))
	assert.False(t, (&ApprovalConfiguration{Status: "ACTIVE", ValidUntil: &before}).Active(now))
	assert.True(t, (&ApprovalConfiguration{Status: "ACTIVE", ValidFrom: &before, ValidUntil: &after}).Active(now))
}

func TestSelectConfigurationPriorityWins(t *testing.T) {
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	low := &ApprovalConfiguration{ID: "low", ActionType: "DATA_EXPORT", Status: "ACTIVE", PriorityRank: 1}
	high := &ApprovalConfiguration{ID: "high", ActionType: "DATA_EXPORT", Status: "ACTIVE", PriorityRank: 10}

	got := SelectConfiguration([]*ApprovalConfiguration{low, high}, "DATA_EXPORT", nil, nil, 0, now)
	require.NotNil(t, got)
	assert.Equal(t, "high", got.ID)
}

func TestSelectConfigurationSpecificityBreaksTies(t *testing.T) {
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	profile := "ADMIN"

	broad := &ApprovalConfiguration{ID: "broad", ActionType: "DATA_EXPORT", Status: "ACTIVE", PriorityRank: 5}
	narrow := &ApprovalConfiguration{
		ID: "narrow", ActionType: "DATA_EXPORT", Status: "ACTIVE", PriorityRank: 5,
		RequesterProfile: &profile,
	}

	got := SelectConfiguration([]*ApprovalConfiguration{broad, narrow}, "DATA_EXPORT", &profile, nil, 0, now)
	require.NotNil(t, got)
	assert.Equal(t, "narrow", got.ID)
}

func TestSelectConfigurationRecencyBreaksRemainingTies(t *testing.T) {
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	older := &ApprovalConfiguration{
		ID: "older", ActionType: "DATA_EXPORT", Status: "ACTIVE",
		CreatedAt: now.Add(-48 * time.Hour),
	}
	newer := &ApprovalConfiguration{
		ID: "newer", ActionType: "DATA_EXPORT", Status: "ACTIVE",
		CreatedAt: now.Add(-time.Hour),
	}

	got := SelectConfiguration([]*ApprovalConfiguration{older, newer}, "DATA_EXPORT", nil, nil, 0, now)
	require.NotNil(t, got)
	assert.Equal(t, "newer", got.ID)
}

func TestSelectConfigurationNoMatch(t *testing.T) {
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	cfg := &ApprovalConfiguration{ActionType: "DATA_EXPORT", Status: "ACTIVE"}

	assert.Nil(t, SelectConfiguration([]*ApprovalConfiguration{cfg}, "BULK_DELETE", nil, nil, 0, now))
	assert.Nil(t, SelectConfiguration(nil, "DATA_EXPORT", nil, nil, 0, now))
}

func TestDelegationActiveAt(t *testing.T) {
	d := &Delegation{
		ValidFrom:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil: time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC),
	}

	assert.True(t, d.ActiveAt(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)))
	assert.True(t, d.ActiveAt(d.ValidFrom))
	assert.True(t, d.ActiveAt(d.ValidUntil))
	assert.False(t, d.ActiveAt(d.ValidFrom.Add(-time.Second)))
	assert.False(t, d.ActiveAt(d.ValidUntil.Add(time.Second)))
}

func TestDecisionActionTerminal(t *testing.T) {
	assert.True(t, ActionApprove.Terminal())
	assert.True(t, ActionReject.Terminal())
	for _, a := range []DecisionAction{ActionDelegate, ActionEscalate, ActionRequestInfo, ActionExpire, ActionCancel} {
		assert.False(t, a.Terminal(), string(a))
	}
}
