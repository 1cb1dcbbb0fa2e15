package domain

import "time"

// EventKind classifies a debug event.
type EventKind string

const (
	EventKindTransition          EventKind = "state_transition"
	EventKindGatewayCall         EventKind = "gateway_call"
	EventKindCallbackApplied     EventKind = "callback_applied"
	EventKindCallbackDuplicate   EventKind = "callback_duplicate_suppressed"
	EventKindCallbackRejected    EventKind = "callback_rejected"
	EventKindPollRequery         EventKind = "poll_requery"
	EventKindRefundAttempt       EventKind = "refund_attempt"
	EventKindChallengeStarted    EventKind = "challenge_started"
	EventKindChallengeExpired    EventKind = "challenge_expired"
)

// DebugEvent is one entry of the append-only operational trail. Events are
// pure history: never mutated, never deleted.
type DebugEvent struct {
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload"`
	TransactionID *string        `json:"transaction_id"` // nil for events that precede transaction creation
	Kind          EventKind      `json:"kind"`
}
