package threeds

import (
	"context"
	"time"

	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/internal/services/ledger"
	"github.com/shoplink/payment-orchestrator/pkg/observability"
	"github.com/shoplink/payment-orchestrator/pkg/resilience"
)

// Service tracks pending 3DS challenges and correlates their outcomes back
// to the ledger. A session is consumed exactly once; whichever of the
// redirect return, the gateway callback, or a poll arrives first wins.
type Service struct {
	store    *sessionStore
	ledger   *ledger.Service
	gateway  ports.PaymentGateway
	audit    ports.AuditRecorder
	logger   ports.Logger
	timeouts *resilience.TimeoutConfig
}

// Config holds 3DS tracker settings.
type Config struct {
	JanitorInterval time.Duration
	Timeouts        *resilience.TimeoutConfig
}

// NewService creates the 3DS tracker and starts its expiry janitor.
func NewService(cfg Config, ledgerSvc *ledger.Service, gateway ports.PaymentGateway, audit ports.AuditRecorder, logger ports.Logger) *Service {
	if cfg.Timeouts == nil {
		cfg.Timeouts = resilience.DefaultTimeoutConfig()
	}
	s := &Service{
		store:    newSessionStore(cfg.JanitorInterval),
		ledger:   ledgerSvc,
		gateway:  gateway,
		audit:    audit,
		logger:   logger,
		timeouts: cfg.Timeouts,
	}
	s.store.startJanitor(s.failAbandoned)
	return s
}

// Close stops the expiry janitor.
func (s *Service) Close() {
	s.store.stop()
}

// BeginChallenge records a pending challenge for the transaction and moves it
// to PENDING_3DS. Returns the redirect URL the caller presents to the shopper.
func (s *Service) BeginChallenge(ctx context.Context, transactionID, redirectURL string, ttl time.Duration) (string, error) {
	txn, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	session := &domain.ThreeDSSession{
		ConversationID: txn.ConversationID,
		TransactionID:  txn.ID,
		RedirectURL:    redirectURL,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	s.store.put(session)

	if _, err := s.ledger.Transition(ctx, txn.ID, domain.EventGatewayRequires3DS, ledger.Resolution{}); err != nil {
		return "", err
	}

	s.audit.Record(domain.EventKindChallengeStarted, map[string]any{
		"conversation_id": session.ConversationID,
		"expires_at":      session.ExpiresAt,
	}, &txn.ID)

	return redirectURL, nil
}

// ResolveChallenge consumes the session and drives the transaction forward.
// The first resolver wins; a second call is a SessionAlreadyConsumed no-op.
// On a successful challenge the gateway confirmation decides whether the
// transaction proceeds to PENDING_CALLBACK or fails.
func (s *Service) ResolveChallenge(ctx context.Context, conversationID string, succeeded bool) (*domain.Transaction, error) {
	session, err := s.store.consume(conversationID, time.Now().UTC())
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeSessionConsumed) {
			// First resolver's outcome stands; report the current state.
			txn, gerr := s.ledger.GetByConversationID(ctx, conversationID)
			if gerr != nil {
				return nil, err
			}
			return txn, err
		}
		return nil, err
	}

	if !succeeded {
		code := "3DS_CHALLENGE_FAILED"
		return s.ledger.Transition(ctx, session.TransactionID, domain.EventChallengeFailed, ledger.Resolution{
			ErrorCode: &code,
		})
	}

	gctx, cancel := s.timeouts.GatewayContext(ctx)
	defer cancel()

	confirm, err := s.gateway.Confirm3DS(gctx, conversationID)
	if err != nil {
		// The challenge outcome is consumed but the gateway confirm did not
		// complete; the transaction stays in PENDING_3DS and the polling path
		// picks it up.
		s.logger.Error("3DS confirmation failed",
			ports.String("conversation_id", conversationID),
			ports.Err(err))
		return nil, err
	}

	if !confirm.Succeeded {
		return s.ledger.Transition(ctx, session.TransactionID, domain.EventChallengeFailed, ledger.Resolution{
			ErrorCode:    &confirm.ErrorCode,
			ErrorMessage: &confirm.Message,
		})
	}

	res := ledger.Resolution{}
	if confirm.GatewayPaymentID != "" {
		res.GatewayPaymentID = &confirm.GatewayPaymentID
	}
	return s.ledger.Transition(ctx, session.TransactionID, domain.EventChallengeCompleted, res)
}

// ConsumeSession marks the session consumed without driving the ledger.
// Callback ingestion uses it when the gateway's notification resolves a
// payment before the shopper's redirect return does, so the janitor will not
// later fail an already-decided transaction.
func (s *Service) ConsumeSession(conversationID string) {
	_, _ = s.store.consume(conversationID, time.Now().UTC())
}

// SessionsSnapshot returns the live sessions for admin inspection.
func (s *Service) SessionsSnapshot() []domain.ThreeDSSession {
	return s.store.snapshot()
}

// failAbandoned fails a transaction whose challenge expired unresolved.
func (s *Service) failAbandoned(session *domain.ThreeDSSession) {
	ctx, cancel := s.timeouts.DatabaseContext(context.Background())
	defer cancel()

	txn, err := s.ledger.Get(ctx, session.TransactionID)
	if err != nil || txn.State != domain.StatePending3DS {
		return
	}

	code := "3DS_CHALLENGE_EXPIRED"
	if _, err := s.ledger.Transition(ctx, session.TransactionID, domain.EventChallengeExpired, ledger.Resolution{
		ErrorCode: &code,
	}); err != nil && !domain.IsSoftError(err) {
		s.logger.Warn("failed to expire abandoned 3DS challenge",
			ports.String("transaction_id", session.TransactionID),
			ports.Err(err))
		return
	}

	observability.RecordSessionExpired()
	s.audit.Record(domain.EventKindChallengeExpired, map[string]any{
		"conversation_id": session.ConversationID,
	}, &session.TransactionID)
}
