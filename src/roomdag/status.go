package roomdag

// EventStatus is the acceptance status of a stored event. Events themselves
// are immutable; the status is the only thing that ever transitions, and only
// forward.
type EventStatus uint8

const (
	// StatusPending marks an event parked on unresolved dependencies.
	StatusPending EventStatus = iota
	// StatusRejected marks a terminally rejected event, recorded to
	// short-circuit repeated delivery.
	StatusRejected
	// StatusSoftFailed marks an event that passed the author's-view check
	// but failed against current state: part of the DAG, excluded from
	// current state.
	StatusSoftFailed
	// StatusAccepted marks a fully accepted event.
	StatusAccepted
)

// String ...
func (s EventStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRejected:
		return "rejected"
	case StatusSoftFailed:
		return "soft_failed"
	case StatusAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// CanTransition reports whether a status may move from one value to another.
// Pending may move anywhere; a soft-failed event may later be promoted to
// accepted by a new resolution; rejected and accepted are terminal.
func CanTransition(from, to EventStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return true
	case StatusSoftFailed:
		return to == StatusAccepted
	default:
		return false
	}
}
