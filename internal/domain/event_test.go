package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func sealedChain(t *testing.T, requestID string, n int) []*DecisionEvent {
	t.Helper()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	events := make([]*DecisionEvent, 0, n)
	var prev *DecisionEvent
	for i := 0; i < n; i++ {
		e := &DecisionEvent{
			ID:           "evt-" + string(rune('a'+i)),
			RequestID:    requestID,
			ApproverID:   strPtr("approver-" + string(rune('a'+i))),
			Action:       ActionApprove,
			ActingUserID: "user-" + string(rune('a'+i)),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		e.Seal(prev)
		events = append(events, e)
		prev = e
	}
	return events
}

func TestSealLinksChain(t *testing.T) {
	events := sealedChain(t, "req-1", 3)

	assert.Equal(t, 1, events[0].SequenceNo)
	assert.Equal(t, genesisHash, events[0].PrevHash)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, i+1, events[i].SequenceNo)
		assert.Equal(t, events[i-1].IntegrityHash, events[i].PrevHash)
	}
}

func TestVerifyChainIntact(t *testing.T) {
	assert.NoError(t, VerifyChain(nil))
	assert.NoError(t, VerifyChain(sealedChain(t, "req-1", 1)))
	assert.NoError(t, VerifyChain(sealedChain(t, "req-1", 5)))
}

func TestVerifyChainDetectsTamperedField(t *testing.T) {
	events := sealedChain(t, "req-1", 3)
	events[1].Action = ActionReject // mutate after sealing

	err := VerifyChain(events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity hash mismatch")
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	events := sealedChain(t, "req-1", 3)
	events[2].PrevHash = genesisHash

	err := VerifyChain(events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prev hash mismatch")
}

func TestVerifyChainDetectsRemovedEvent(t *testing.T) {
	events := sealedChain(t, "req-1", 4)
	truncated := append([]*DecisionEvent{events[0]}, events[2:]...)

	assert.Error(t, VerifyChain(truncated))
}

func TestVerifyChainDetectsTimeRegression(t *testing.T) {
	events := sealedChain(t, "req-1", 2)
	events[1].CreatedAt = events[0].CreatedAt.Add(-time.Second)
	// reseal so only the ordering is wrong
	events[1].Seal(events[0])

	err := VerifyChain(events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at regressed")
}

func TestComputeHashIsDeterministic(t *testing.T) {
	e := &DecisionEvent{
		ID:           "evt-1",
		RequestID:    "req-1",
		SequenceNo:   1,
		Action:       ActionApprove,
		ActingUserID: "user-1",
		CreatedAt:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, e.ComputeHash(genesisHash), e.ComputeHash(genesisHash))
	assert.NotEqual(t, e.ComputeHash(genesisHash), e.ComputeHash("deadbeef"))
}

func TestComputeHashCoversNilAndSetPointers(t *testing.T) {
	e := &DecisionEvent{
		RequestID:    "req-1",
		SequenceNo:   1,
		Action:       ActionApprove,
		ActingUserID: "user-1",
		CreatedAt:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	bare := e.ComputeHash(genesisHash)
	e.Justification = strPtr("budget approved")
	assert.NotEqual(t, bare, e.ComputeHash(genesisHash))
}
