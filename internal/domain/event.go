package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DecisionEvent is one immutable entry in a request's audit trail. Events are
// only ever appended; IntegrityHash chains each event to its predecessor so any
// later mutation of a persisted field is detectable.
type DecisionEvent struct {
	ID              string
	RequestID       string
	SequenceNo      int
	ApproverID      *string // nil for system-automatic events
	Action          DecisionAction
	ActingUserID    string
	Justification   *string
	DelegatedToID   *string
	EscalationLevel *int
	CreatedAt       time.Time
	IntegrityHash   string
	PrevHash        string
	IsAutomatic     bool
}

// genesisHash anchors the chain for each request's first event.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeHash returns the SHA-256 hash over the event's immutable fields
// chained to the previous event's hash. Field order is fixed so the digest is
// reproducible on verification.
func (e *DecisionEvent) ComputeHash(prevHash string) string {
	if prevHash == "" {
		prevHash = genesisHash
	}
	var b strings.Builder
	b.WriteString(e.RequestID)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", e.SequenceNo)
	b.WriteByte('|')
	b.WriteString(derefOr(e.ApproverID, "-"))
	b.WriteByte('|')
	b.WriteString(string(e.Action))
	b.WriteByte('|')
	b.WriteString(e.ActingUserID)
	b.WriteByte('|')
	b.WriteString(derefOr(e.Justification, "-"))
	b.WriteByte('|')
	b.WriteString(derefOr(e.DelegatedToID, "-"))
	b.WriteByte('|')
	if e.EscalationLevel != nil {
		fmt.Fprintf(&b, "%d", *e.EscalationLevel)
	} else {
		b.WriteByte('-')
	}
	b.WriteByte('|')
	fmt.Fprintf(&b, "%t", e.IsAutomatic)
	b.WriteByte('|')
	b.WriteString(e.CreatedAt.UTC().Format(time.RFC3339Nano))
	b.WriteByte('|')
	b.WriteString(prevHash)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Seal stamps the event's PrevHash and IntegrityHash from the previous event
// in the chain (nil for the first event).
func (e *DecisionEvent) Seal(prev *DecisionEvent) {
	if prev == nil {
		e.SequenceNo = 1
		e.PrevHash = genesisHash
	} else {
		e.SequenceNo = prev.SequenceNo + 1
		e.PrevHash = prev.IntegrityHash
	}
	e.IntegrityHash = e.ComputeHash(e.PrevHash)
}

// VerifyChain recomputes every hash in an ordered event sequence and reports
// the first broken link, or nil when the chain is intact from the first event.
func VerifyChain(events []*DecisionEvent) error {
	prevHash := genesisHash
	for i, e := range events {
		if e.PrevHash != prevHash {
			return fmt.Errorf("event %d (%s): prev hash mismatch", i+1, e.ID)
		}
		if got := e.ComputeHash(prevHash); got != e.IntegrityHash {
			return fmt.Errorf("event %d (%s): integrity hash mismatch", i+1, e.ID)
		}
		if i > 0 && e.CreatedAt.Before(events[i-1].CreatedAt) {
			return fmt.Errorf("event %d (%s): created_at regressed", i+1, e.ID)
		}
		prevHash = e.IntegrityHash
	}
	return nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
