package intent

// Status is the lifecycle state of a stored order intent. Transitions are
// monotonic: once an intent reaches a terminal state it never leaves it.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusApproved Status = "approved"
	StatusOpen     Status = "open"
	StatusFilled   Status = "filled"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusCanceled Status = "canceled"
	StatusError    Status = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusExpired, StatusCanceled, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Resurrecting an expired or filled intent is never legal.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusProposed:
		// Approval may be skipped (autopilot, require_approval=false), so
		// proposed can reach every downstream state directly.
		return next != StatusProposed
	case StatusApproved:
		return next != StatusProposed && next != StatusApproved
	case StatusOpen:
		switch next {
		case StatusFilled, StatusCanceled, StatusExpired, StatusError:
			return true
		}
		return false
	default:
		return false
	}
}
