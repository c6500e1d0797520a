package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func resolverFixture() (*service.DelegationResolver, *memory.DelegationStore) {
	store := memory.NewDelegationStore()
	return service.NewDelegationResolver(store), store
}

func delegation(from, to string, cfgID, reqID *string, at time.Time) *domain.Delegation {
	return &domain.Delegation{
		ID:              from + "->" + to,
		FromUserID:      from,
		ToUserID:        to,
		ConfigurationID: cfgID,
		RequestID:       reqID,
		ValidFrom:       at.Add(-time.Hour),
		ValidUntil:      at.Add(24 * time.Hour),
		Reason:          "coverage",
	}
}

func TestResolveNoDelegation(t *testing.T) {
	r, _ := resolverFixture()

	got, err := r.Resolve(context.Background(), "alice", "req-1", "cfg-1", t0)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestResolveFollowsChain(t *testing.T) {
	r, store := resolverFixture()
	cfgID := "cfg-1"

	require.NoError(t, store.Create(context.Background(), delegation("alice", "bob", &cfgID, nil, t0)))
	require.NoError(t, store.Create(context.Background(), delegation("bob", "carol", &cfgID, nil, t0)))

	got, err := r.Resolve(context.Background(), "alice", "req-1", cfgID, t0)
	require.NoError(t, err)
	assert.Equal(t, "carol", got)
}

func TestResolveRequestScopeWins(t *testing.T) {
	r, store := resolverFixture()
	cfgID, reqID := "cfg-1", "req-1"

	require.NoError(t, store.Create(context.Background(), delegation("alice", "bob", &cfgID, nil, t0)))
	require.NoError(t, store.Create(context.Background(), delegation("alice", "erin", nil, &reqID, t0)))

	got, err := r.Resolve(context.Background(), "alice", reqID, cfgID, t0)
	require.NoError(t, err)
	assert.Equal(t, "erin", got)

	// For a different request only the configuration-scoped link applies.
	got, err = r.Resolve(context.Background(), "alice", "req-2", cfgID, t0)
	require.NoError(t, err)
	assert.Equal(t, "bob", got)
}

func TestResolveIgnoresExpiredWindow(t *testing.T) {
	r, store := resolverFixture()
	cfgID := "cfg-1"

	d := delegation("alice", "bob", &cfgID, nil, t0)
	d.ValidUntil = t0.Add(-time.Minute)
	require.NoError(t, store.Create(context.Background(), d))

	got, err := r.Resolve(context.Background(), "alice", "req-1", cfgID, t0)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestResolveDetectsCycle(t *testing.T) {
	r, store := resolverFixture()
	cfgID := "cfg-1"

	require.NoError(t, store.Create(context.Background(), delegation("alice", "bob", &cfgID, nil, t0)))
	require.NoError(t, store.Create(context.Background(), delegation("bob", "alice", &cfgID, nil, t0)))

	_, err := r.Resolve(context.Background(), "alice", "req-1", cfgID, t0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDelegationCycle))
}

func TestResolveDepthLimit(t *testing.T) {
	r, store := resolverFixture()
	cfgID := "cfg-1"

	users := []string{"u0", "u1", "u2", "u3", "u4", "u5"}
	for i := 0; i+1 < len(users); i++ {
		require.NoError(t, store.Create(context.Background(),
			delegation(users[i], users[i+1], &cfgID, nil, t0)))
	}

	_, err := r.Resolve(context.Background(), "u0", "req-1", cfgID, t0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDelegationTooDeep))
}

func TestChainReturnsFullPath(t *testing.T) {
	r, store := resolverFixture()
	cfgID := "cfg-1"

	require.NoError(t, store.Create(context.Background(), delegation("alice", "bob", &cfgID, nil, t0)))
	require.NoError(t, store.Create(context.Background(), delegation("bob", "carol", &cfgID, nil, t0)))

	chain, err := r.Chain(context.Background(), "alice", "", cfgID, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, chain)
}
