// Package domain holds the approval entities and the pure business rules that
// operate on them. Nothing in this package touches storage or the wall clock;
// repositories persist these types and services inject time.
package domain

import (
	"time"
)

// ── Strategies ────────────────────────────────────────────────────────────────

// Strategy is the resolution rule bound to a configuration.
type Strategy string

const (
	StrategyUnanimous Strategy = "UNANIMOUS"
	StrategyMajority  Strategy = "MAJORITY"
	StrategyQuorum    Strategy = "QUORUM_N"
	StrategySingle    Strategy = "SINGLE"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyUnanimous, StrategyMajority, StrategyQuorum, StrategySingle:
		return true
	}
	return false
}

// ── Request status state machine ──────────────────────────────────────────────

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// CanTransition reports whether the state machine allows moving from s to next.
// PENDING may self-loop (escalation/reminder counters change without a status
// change); terminal states admit nothing.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// ── Decision actions ──────────────────────────────────────────────────────────

// DecisionAction is the kind of event appended to a request's audit trail.
type DecisionAction string

const (
	ActionApprove     DecisionAction = "APPROVE"
	ActionReject      DecisionAction = "REJECT"
	ActionDelegate    DecisionAction = "DELEGATE"
	ActionEscalate    DecisionAction = "ESCALATE"
	ActionRequestInfo DecisionAction = "REQUEST_INFO"
	ActionExpire      DecisionAction = "EXPIRE"
	ActionCancel      DecisionAction = "CANCEL"
)

// Terminal reports whether the action counts toward the request tally.
func (a DecisionAction) Terminal() bool {
	return a == ActionApprove || a == ActionReject
}

// ── Entities ──────────────────────────────────────────────────────────────────

// ApprovalConfiguration is a rule bound to one critical-action type: which
// strategy applies, how many approvals are needed, the time budget, and the
// applicability filters that select it.
type ApprovalConfiguration struct {
	ID               string
	ActionType       string
	Strategy         Strategy
	MinApprovals     int
	MaxApprovals     *int
	Status           string // ACTIVE | INACTIVE
	RequesterProfile *string
	OrgUnit          *string
	MinValue         *int64 // cents; nil = no lower bound
	MaxValue         *int64 // cents; nil = no upper bound

	TimeLimitHours  float64
	ReminderHours   float64
	EscalationHours *float64 // nil = no auto-escalation

	AllowParallelApproval     bool
	AllowSelfApproval         bool
	RequireJustifyOnApprove   bool
	RequireJustifyOnReject    bool

	BusinessWindow *BusinessWindow

	PriorityRank int
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the configuration is ACTIVE and inside its validity
// window at the given instant.
func (c *ApprovalConfiguration) Active(at time.Time) bool {
	if c.Status != "ACTIVE" {
		return false
	}
	if c.ValidFrom != nil && at.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && at.After(*c.ValidUntil) {
		return false
	}
	return true
}

// Matches reports whether the configuration applies to the given submission
// attributes. Nil filters match anything.
func (c *ApprovalConfiguration) Matches(actionType string, requesterProfile, orgUnit *string, value int64) bool {
	if c.ActionType != actionType {
		return false
	}
	if c.RequesterProfile != nil {
		if requesterProfile == nil || *c.RequesterProfile != *requesterProfile {
			return false
		}
	}
	if c.OrgUnit != nil {
		if orgUnit == nil || *c.OrgUnit != *orgUnit {
			return false
		}
	}
	if c.MinValue != nil && value < *c.MinValue {
		return false
	}
	if c.MaxValue != nil && value > *c.MaxValue {
		return false
	}
	return true
}

// specificity counts non-nil filters; used for the selection tie-break.
func (c *ApprovalConfiguration) specificity() int {
	n := 0
	if c.RequesterProfile != nil {
		n++
	}
	if c.OrgUnit != nil {
		n++
	}
	if c.MinValue != nil {
		n++
	}
	if c.MaxValue != nil {
		n++
	}
	return n
}

// SelectConfiguration picks the single governing configuration from candidate
// rules: active and valid at now, matching the submission attributes, highest
// PriorityRank, ties broken by most-specific filters then most recent CreatedAt.
// Returns nil when nothing matches.
func SelectConfiguration(
	cfgs []*ApprovalConfiguration,
	actionType string,
	requesterProfile, orgUnit *string,
	value int64,
	now time.Time,
) *ApprovalConfiguration {
	var best *ApprovalConfiguration
	for _, c := range cfgs {
		if !c.Active(now) || !c.Matches(actionType, requesterProfile, orgUnit, value) {
			continue
		}
		if best == nil || configLess(best, c) {
			best = c
		}
	}
	return best
}

// configLess reports whether b should win over a under the tie-break ordering.
func configLess(a, b *ApprovalConfiguration) bool {
	if a.PriorityRank != b.PriorityRank {
		return b.PriorityRank > a.PriorityRank
	}
	if a.specificity() != b.specificity() {
		return b.specificity() > a.specificity()
	}
	return b.CreatedAt.After(a.CreatedAt)
}

// ApprovalRequest is one instance of a critical action awaiting sign-off.
// RequiredApprovals is copied from the configuration at creation time so config
// edits never retroactively alter in-flight requests. Version backs the
// optimistic-concurrency discipline: every mutation must carry the version it
// read, and the store rejects stale writes.
type ApprovalRequest struct {
	ID                 string
	Code               string // human-readable, unique
	ConfigurationID    string // immutable once set
	Status             Status
	RequiredApprovals  int
	ApprovalsReceived  int
	RejectionsReceived int

	CreatedAt        time.Time
	ExpiresAt        time.Time
	FirstApprovalAt  *time.Time
	ResolvedAt       *time.Time
	LastReminderAt   *time.Time
	LastEscalationAt *time.Time
	EscalationCount  int
	ReminderCount    int

	RequesterID      string
	RequesterProfile *string
	RequesterOrgUnit *string
	Payload          map[string]any // opaque context for the gated action

	Version int
}

// Approver binds a user to a configuration as an eligible decision-maker.
type Approver struct {
	ID              string
	UserID          string
	ConfigurationID string
	Active          bool
	Weight          int  // reserved for weighted-quorum support
	Order           *int // reserved for sequential strategies
	CreatedAt       time.Time
}

// Delegation is a time-bounded reassignment of approval duty. Scope is either
// a configuration or a single request; request-scoped delegations win.
type Delegation struct {
	ID              string
	FromUserID      string
	ToUserID        string
	ConfigurationID *string
	RequestID       *string
	ValidFrom       time.Time
	ValidUntil      time.Time
	Reason          string
	CreatedAt       time.Time
}

// ActiveAt reports whether the delegation window contains the given instant.
func (d *Delegation) ActiveAt(at time.Time) bool {
	return !at.Before(d.ValidFrom) && !at.After(d.ValidUntil)
}

// Notification kinds emitted after state changes.
const (
	NotifyReminder   = "REMINDER"
	NotifyEscalation = "ESCALATION"
	NotifyResolved   = "RESOLVED"
)

// Notification is a side-effect instruction handed to the notification sink.
// Dispatch is fire-and-forget; a failed send never blocks a state transition.
type Notification struct {
	RequestID    string
	RequestCode  string
	Kind         string // REMINDER | ESCALATION | RESOLVED
	Recipients   []string
	ChannelHints []string
	Payload      map[string]any
}
