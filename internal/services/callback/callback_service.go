package callback

import (
	"context"
	"encoding/json"

	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/internal/services/ledger"
	"github.com/shoplink/payment-orchestrator/pkg/observability"
)

// SessionConsumer lets ingestion retire a pending 3DS session when the
// gateway's notification wins the race against the redirect return.
type SessionConsumer interface {
	ConsumeSession(conversationID string)
}

// Payload is the closed shape every provider notification is normalized
// into. Anything that does not decode into it is rejected at the boundary.
type Payload struct {
	ConversationID   string `json:"conversationId"`
	Status           string `json:"status"` // "success" or "failure"
	GatewayPaymentID string `json:"paymentId"`
	ErrorCode        string `json:"errorCode"`
	ErrorMessage     string `json:"errorMessage"`
}

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Service applies asynchronous gateway notifications to the ledger exactly
// once. Gateways retry webhooks aggressively, so ingestion of an
// already-resolved transaction is a logged no-op rather than an error.
type Service struct {
	ledger   *ledger.Service
	gateway  ports.PaymentGateway
	sessions SessionConsumer
	audit    ports.AuditRecorder
	logger   ports.Logger
}

// NewService creates a new callback ingestion service
func NewService(ledgerSvc *ledger.Service, gateway ports.PaymentGateway, sessions SessionConsumer, audit ports.AuditRecorder, logger ports.Logger) *Service {
	return &Service{
		ledger:   ledgerSvc,
		gateway:  gateway,
		sessions: sessions,
		audit:    audit,
		logger:   logger,
	}
}

// Ingest validates and applies one raw notification. The returned transaction
// reflects the post-ingestion state. Duplicate deliveries return the resolved
// transaction and no error.
func (s *Service) Ingest(ctx context.Context, rawPayload []byte, signature string) (*domain.Transaction, error) {
	if !s.gateway.VerifySignature(rawPayload, signature) {
		s.audit.Record(domain.EventKindCallbackRejected, map[string]any{
			"reason": "invalid_signature",
		}, nil)
		observability.RecordCallback("invalid_signature")
		s.logger.Warn("callback dropped: signature verification failed")
		return nil, domain.ErrInvalidSignature
	}

	var payload Payload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		s.audit.Record(domain.EventKindCallbackRejected, map[string]any{
			"reason": "malformed_payload",
		}, nil)
		observability.RecordCallback("malformed")
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "decode callback payload", err)
	}
	if payload.ConversationID == "" || (payload.Status != statusSuccess && payload.Status != statusFailure) {
		s.audit.Record(domain.EventKindCallbackRejected, map[string]any{
			"reason": "incomplete_payload",
		}, nil)
		observability.RecordCallback("malformed")
		return nil, domain.ErrValidationFailed.WithDetail("field", "conversationId/status")
	}

	txn, err := s.ledger.GetByConversationID(ctx, payload.ConversationID)
	if err != nil {
		s.audit.Record(domain.EventKindCallbackRejected, map[string]any{
			"reason":          "unknown_transaction",
			"conversation_id": payload.ConversationID,
		}, nil)
		observability.RecordCallback("unknown_transaction")
		s.logger.Warn("callback dropped: unknown conversation id",
			ports.String("conversation_id", payload.ConversationID))
		return nil, domain.ErrUnknownTransaction.WithDetail("conversation_id", payload.ConversationID)
	}

	// The notification decides the payment; any still-open challenge session
	// for it is spent.
	s.sessions.ConsumeSession(payload.ConversationID)

	resolved, err := s.resolve(ctx, txn, payload)
	if err != nil {
		if domain.IsSoftError(err) {
			s.audit.Record(domain.EventKindCallbackDuplicate, map[string]any{
				"conversation_id": payload.ConversationID,
				"state":           string(resolved.State),
			}, &resolved.ID)
			observability.RecordCallback("duplicate_suppressed")
			s.logger.Info("duplicate callback suppressed",
				ports.String("transaction_id", resolved.ID),
				ports.String("state", string(resolved.State)))
			return resolved, nil
		}
		return nil, err
	}

	s.audit.Record(domain.EventKindCallbackApplied, map[string]any{
		"conversation_id": payload.ConversationID,
		"status":          payload.Status,
		"state":           string(resolved.State),
	}, &resolved.ID)
	observability.RecordCallback("applied")

	return resolved, nil
}

// resolve walks the transaction to its terminal state using only legal state
// machine edges. A transaction still in PENDING_3DS is stepped through the
// challenge edge first: the gateway only notifies once the challenge has been
// answered. A transaction still in INITIATED means the capture submission
// never reported back (a timed-out capture stays there), so the notification
// is the first word from the gateway and steps through acceptance first.
func (s *Service) resolve(ctx context.Context, txn *domain.Transaction, payload Payload) (*domain.Transaction, error) {
	res := ledger.Resolution{}
	if payload.GatewayPaymentID != "" {
		res.GatewayPaymentID = &payload.GatewayPaymentID
	}
	if payload.ErrorCode != "" {
		res.ErrorCode = &payload.ErrorCode
	}
	if payload.ErrorMessage != "" {
		res.ErrorMessage = &payload.ErrorMessage
	}

	current := txn
	switch current.State {
	case domain.StateInitiated:
		if payload.Status == statusFailure {
			return s.ledger.Transition(ctx, current.ID, domain.EventGatewayRejected, res)
		}
		stepped, err := s.step(ctx, current.ID, domain.EventGatewayAccepted, ledger.Resolution{})
		if err != nil {
			return stepped, err
		}
		current = stepped
	case domain.StatePending3DS:
		if payload.Status == statusFailure {
			return s.ledger.Transition(ctx, current.ID, domain.EventChallengeFailed, res)
		}
		stepped, err := s.step(ctx, current.ID, domain.EventChallengeCompleted, res)
		if err != nil {
			return stepped, err
		}
		current = stepped
	}

	event := domain.EventPaymentSucceeded
	if payload.Status == statusFailure {
		event = domain.EventPaymentFailed
	}
	return s.ledger.Transition(ctx, current.ID, event, res)
}

// step applies one intermediate edge, tolerating a concurrent resolver having
// already moved the transaction past it.
func (s *Service) step(ctx context.Context, id string, event domain.TransactionEvent, res ledger.Resolution) (*domain.Transaction, error) {
	stepped, err := s.ledger.Transition(ctx, id, event, res)
	if err != nil {
		if !domain.IsSoftError(err) {
			return stepped, err
		}
		return s.ledger.Get(ctx, id)
	}
	return stepped, nil
}
