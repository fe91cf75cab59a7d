package domain

// EventKind is a payment outcome that can move a purchase out of pending.
type EventKind string

const (
	EventSessionCompleted EventKind = "session_completed"
	EventSessionExpired   EventKind = "session_expired"
	EventPaymentFailed    EventKind = "payment_failed"
	// EventPendingTimeout is raised by the expiry job for purchases that never
	// received a gateway outcome.
	EventPendingTimeout EventKind = "pending_timeout"
)

// Next is the purchase lifecycle table. apply is false for every pair that
// must be a no-op, including every event against a terminal status and every
// unknown kind.
func Next(current Status, kind EventKind) (next Status, apply bool) {
	if current != StatusPending {
		return current, false
	}
	switch kind {
	case EventSessionCompleted:
		return StatusCompleted, true
	case EventSessionExpired, EventPaymentFailed, EventPendingTimeout:
		return StatusFailed, true
	default:
		return current, false
	}
}
