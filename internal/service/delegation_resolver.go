package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/domain"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// maxDelegationDepth bounds chain resolution. Exceeding it means a
// misconfigured chain; cycles are detected separately via the visited set.
const maxDelegationDepth = 5

// DelegationResolver answers "who currently holds this approval duty" by
// walking active delegation chains. Resolution is read-only and deterministic
// for the same (approver, instant) pair.
type DelegationResolver struct {
	delegations DelegationRepo
}

// NewDelegationResolver creates a resolver over the given store.
func NewDelegationResolver(delegations DelegationRepo) *DelegationResolver {
	return &DelegationResolver{delegations: delegations}
}

// Resolve follows the delegation chain from approverID at the given instant
// and returns the user currently holding the duty. Request-scoped delegations
// take precedence over configuration-scoped ones at every hop.
func (r *DelegationResolver) Resolve(
	ctx context.Context,
	approverID string,
	requestID, configurationID string,
	at time.Time,
) (string, error) {
	current := approverID
	visited := map[string]bool{current: true}

	for hop := 0; ; hop++ {
		if hop >= maxDelegationDepth {
			return "", errors.New(errors.ErrCodeDelegationTooDeep,
				"delegation chain exceeds maximum depth").
				WithDetail("approver_id", approverID)
		}

		next, err := r.nextHop(ctx, current, requestID, configurationID, at)
		if err != nil {
			return "", err
		}
		if next == "" {
			return current, nil
		}
		if visited[next] {
			return "", errors.New(errors.ErrCodeDelegationCycle,
				"delegation chain contains a cycle").
				WithDetail("approver_id", approverID).
				WithDetail("cycle_at", next)
		}
		visited[next] = true
		current = next
	}
}

// Chain returns every user on the delegation path starting at approverID,
// including the origin. Used for cycle validation before recording a new link.
func (r *DelegationResolver) Chain(
	ctx context.Context,
	approverID string,
	requestID, configurationID string,
	at time.Time,
) ([]string, error) {
	chain := []string{approverID}
	current := approverID
	visited := map[string]bool{current: true}

	for hop := 0; hop < maxDelegationDepth; hop++ {
		next, err := r.nextHop(ctx, current, requestID, configurationID, at)
		if err != nil {
			return nil, err
		}
		if next == "" {
			return chain, nil
		}
		if visited[next] {
			return nil, errors.New(errors.ErrCodeDelegationCycle,
				"delegation chain contains a cycle").
				WithDetail("approver_id", approverID)
		}
		visited[next] = true
		chain = append(chain, next)
		current = next
	}
	return chain, nil
}

// nextHop picks the active delegation from userID with the narrowest matching
// scope, or "" when the user holds the duty themselves.
func (r *DelegationResolver) nextHop(
	ctx context.Context,
	userID, requestID, configurationID string,
	at time.Time,
) (string, error) {
	active, err := r.delegations.ListActiveFrom(ctx, userID, at)
	if err != nil {
		return "", err
	}

	var configScoped *domain.Delegation
	for _, d := range active {
		if d.RequestID != nil {
			if requestID != "" && *d.RequestID == requestID {
				return d.ToUserID, nil
			}
			continue
		}
		if d.ConfigurationID != nil && configurationID != "" && *d.ConfigurationID == configurationID {
			if configScoped == nil || d.CreatedAt.After(configScoped.CreatedAt) {
				configScoped = d
			}
		}
	}
	if configScoped != nil {
		return configScoped.ToUserID, nil
	}
	return "", nil
}
