package domain

import "time"

// Evaluate recomputes a request's status from its current tallies. Pure: the
// caller supplies the configuration, the count of active approvers and the
// current instant.
//
// Expiry is a hard boundary — a request past its deadline is EXPIRED regardless
// of tally. For counting strategies a request is REJECTED as soon as approval
// becomes mathematically impossible given the approvers who have not yet voted.
func Evaluate(req *ApprovalRequest, cfg *ApprovalConfiguration, totalActiveApprovers int, now time.Time) Status {
	if req.Status.Terminal() {
		return req.Status
	}
	if now.After(req.ExpiresAt) {
		return StatusExpired
	}

	approvals := req.ApprovalsReceived
	rejections := req.RejectionsReceived
	remaining := totalActiveApprovers - approvals - rejections
	if remaining < 0 {
		remaining = 0
	}

	switch cfg.Strategy {
	case StrategyUnanimous:
		if rejections >= 1 {
			return StatusRejected
		}
		if totalActiveApprovers > 0 && approvals == totalActiveApprovers {
			return StatusApproved
		}

	case StrategyMajority:
		needed := totalActiveApprovers/2 + 1
		if approvals >= needed {
			return StatusApproved
		}
		if approvals+remaining < needed {
			return StatusRejected
		}

	case StrategyQuorum:
		if approvals >= req.RequiredApprovals {
			return StatusApproved
		}
		if approvals+remaining < req.RequiredApprovals {
			return StatusRejected
		}

	case StrategySingle:
		if rejections >= 1 {
			return StatusRejected
		}
		if approvals >= 1 {
			return StatusApproved
		}
	}

	return StatusPending
}

// RequiredApprovalsFor returns the approval count copied onto a new request at
// creation time, so later configuration edits never change in-flight requests.
func RequiredApprovalsFor(cfg *ApprovalConfiguration, totalActiveApprovers int) int {
	switch cfg.Strategy {
	case StrategyUnanimous:
		return totalActiveApprovers
	case StrategyMajority:
		return totalActiveApprovers/2 + 1
	case StrategyQuorum:
		return cfg.MinApprovals
	case StrategySingle:
		return 1
	}
	return cfg.MinApprovals
}
