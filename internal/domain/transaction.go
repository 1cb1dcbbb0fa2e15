package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionState represents the lifecycle position of a payment transaction.
// States only move forward along the edges in transitionTable; a terminal
// capture state is never reverted to a pending one.
type TransactionState string

const (
	StateInitiated         TransactionState = "INITIATED"
	StatePending3DS        TransactionState = "PENDING_3DS"
	StatePendingCallback   TransactionState = "PENDING_CALLBACK"
	StateSuccess           TransactionState = "SUCCESS"
	StateFailed            TransactionState = "FAILED"
	StateCancelled         TransactionState = "CANCELLED"
	StatePartiallyRefunded TransactionState = "PARTIALLY_REFUNDED"
	StateRefunded          TransactionState = "REFUNDED"
)

// TransactionEvent represents a cause for a state transition.
type TransactionEvent string

const (
	EventGatewayAccepted    TransactionEvent = "GATEWAY_ACCEPTED"     // gateway took the capture, no challenge required
	EventGatewayRequires3DS TransactionEvent = "GATEWAY_REQUIRES_3DS" // gateway demands a 3DS challenge
	EventGatewayRejected    TransactionEvent = "GATEWAY_REJECTED"     // gateway refused the capture outright
	EventChallengeCompleted TransactionEvent = "CHALLENGE_COMPLETED" // cardholder finished the 3DS challenge
	EventChallengeFailed    TransactionEvent = "CHALLENGE_FAILED"    // cardholder failed or abandoned the challenge
	EventChallengeExpired   TransactionEvent = "CHALLENGE_EXPIRED"   // 3DS session expired unresolved
	EventPaymentSucceeded   TransactionEvent = "PAYMENT_SUCCEEDED"   // callback or poll confirmed the capture
	EventPaymentFailed      TransactionEvent = "PAYMENT_FAILED"      // callback or poll reported failure
	EventRefundApplied      TransactionEvent = "REFUND_APPLIED"      // partial refund succeeded at the gateway
	EventRefundCompleted    TransactionEvent = "REFUND_COMPLETED"    // cumulative refunds reached the captured amount
	EventCancelledByCaller  TransactionEvent = "CANCELLED_BY_CALLER" // caller abandoned the capture before 3DS
)

// transitionTable is the single authority on which state transitions are
// legal. Both the callback path and the polling path resolve transactions
// through this table, so they cannot diverge.
var transitionTable = map[TransactionState]map[TransactionEvent]TransactionState{
	StateInitiated: {
		EventGatewayAccepted:    StatePendingCallback,
		EventGatewayRequires3DS: StatePending3DS,
		EventGatewayRejected:    StateFailed,
		EventCancelledByCaller:  StateCancelled,
	},
	StatePending3DS: {
		EventChallengeCompleted: StatePendingCallback,
		EventChallengeFailed:    StateFailed,
		EventChallengeExpired:   StateFailed,
	},
	StatePendingCallback: {
		EventPaymentSucceeded: StateSuccess,
		EventPaymentFailed:    StateFailed,
	},
	StateSuccess: {
		EventRefundApplied:   StatePartiallyRefunded,
		EventRefundCompleted: StateRefunded,
	},
	StatePartiallyRefunded: {
		EventRefundApplied:   StatePartiallyRefunded,
		EventRefundCompleted: StateRefunded,
	},
}

// NextState returns the state reached by applying event in the given state.
// The second return value is false when the transition is illegal.
func NextState(state TransactionState, event TransactionEvent) (TransactionState, bool) {
	edges, ok := transitionTable[state]
	if !ok {
		return "", false
	}
	next, ok := edges[event]
	return next, ok
}

// IsResolutionEvent reports whether the event resolves a pending capture.
// When two resolvers race, the loser of a resolution event is downgraded to
// an AlreadyResolved no-op instead of an error.
func IsResolutionEvent(event TransactionEvent) bool {
	switch event {
	case EventChallengeCompleted, EventChallengeFailed, EventChallengeExpired, EventPaymentSucceeded, EventPaymentFailed:
		return true
	}
	return false
}

// Transaction is the ledger's durable record of one payment attempt.
type Transaction struct {
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	GatewayPaymentID *string          `json:"gateway_payment_id"`
	ErrorCode        *string          `json:"error_code"`
	ErrorMessage     *string          `json:"error_message"`
	ID               string           `json:"id"`
	OrderReference   string           `json:"order_reference"`
	ConversationID   string           `json:"conversation_id"`
	Currency         string           `json:"currency"`
	State            TransactionState `json:"state"`
	Amount           decimal.Decimal  `json:"amount"`
	RefundedAmount   decimal.Decimal  `json:"refunded_amount"`
	Version          int64            `json:"version"`
}

// IsPending returns true while the capture outcome is still undecided.
func (t *Transaction) IsPending() bool {
	switch t.State {
	case StateInitiated, StatePending3DS, StatePendingCallback:
		return true
	}
	return false
}

// IsRefundable returns true if further refunds may be applied.
func (t *Transaction) IsRefundable() bool {
	return t.State == StateSuccess || t.State == StatePartiallyRefunded
}

// BlocksNewOrder reports whether this transaction still reserves its order
// reference. A FAILED or CANCELLED attempt releases the reference so the
// shopper can retry the same order.
func (t *Transaction) BlocksNewOrder() bool {
	return t.State != StateFailed && t.State != StateCancelled
}

// RemainingRefundable returns the amount that can still be refunded.
func (t *Transaction) RemainingRefundable() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

// UserCode is the small stable set of codes the checkout UI sees. Internal
// error kinds never leak past the handler boundary.
type UserCode string

const (
	UserCodePaymentPending UserCode = "PAYMENT_PENDING"
	UserCodePaymentSuccess UserCode = "PAYMENT_SUCCESS"
	UserCodePaymentFailed  UserCode = "PAYMENT_FAILED"
	UserCodePaymentTimeout UserCode = "PAYMENT_TIMEOUT"
)

// UserCodeForState maps a ledger state to its user-facing code.
func UserCodeForState(state TransactionState) UserCode {
	switch state {
	case StateSuccess, StatePartiallyRefunded, StateRefunded:
		return UserCodePaymentSuccess
	case StateFailed, StateCancelled:
		return UserCodePaymentFailed
	default:
		return UserCodePaymentPending
	}
}
