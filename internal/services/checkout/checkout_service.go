package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/internal/services/ledger"
	"github.com/shoplink/payment-orchestrator/internal/services/threeds"
	"github.com/shoplink/payment-orchestrator/pkg/resilience"
)

// Service drives the front half of a payment: create the ledger record, ask
// the gateway to capture, and route the transaction onto the callback or 3DS
// path depending on the gateway's answer.
type Service struct {
	ledger       *ledger.Service
	threeds      *threeds.Service
	gateway      ports.PaymentGateway
	audit        ports.AuditRecorder
	logger       ports.Logger
	timeouts     *resilience.TimeoutConfig
	callbackURL  string
	challengeTTL time.Duration
}

// Config holds checkout settings.
type Config struct {
	// CallbackURL is the publicly reachable notification endpoint handed to
	// the gateway with every capture.
	CallbackURL  string
	ChallengeTTL time.Duration
	Timeouts     *resilience.TimeoutConfig
}

// NewService creates a new checkout service
func NewService(cfg Config, ledgerSvc *ledger.Service, threedsSvc *threeds.Service, gateway ports.PaymentGateway, audit ports.AuditRecorder, logger ports.Logger) *Service {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Service{
		ledger:       ledgerSvc,
		threeds:      threedsSvc,
		gateway:      gateway,
		audit:        audit,
		logger:       logger,
		timeouts:     cfg.Timeouts,
		callbackURL:  cfg.CallbackURL,
		challengeTTL: cfg.ChallengeTTL,
	}
}

// InitiateParams are the storefront's inputs for starting a payment.
type InitiateParams struct {
	OrderReference string
	CardToken      string
	Currency       string
	Amount         decimal.Decimal
}

// Outcome tells the storefront what to do next after initiation.
type Outcome struct {
	Transaction *domain.Transaction `json:"transaction"`
	UserCode    domain.UserCode     `json:"user_code"`
	// RedirectURL is set when the shopper must complete a 3DS challenge.
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Initiate creates the transaction and submits the capture. A gateway timeout
// leaves the transaction in INITIATED; the reconciliation path settles it once
// the gateway's real outcome is knowable.
func (s *Service) Initiate(ctx context.Context, params InitiateParams) (*Outcome, error) {
	if params.CardToken == "" {
		return nil, domain.ErrValidationFailed.WithDetail("field", "card_token")
	}

	txn, err := s.ledger.Create(ctx, ledger.CreateParams{
		OrderReference: params.OrderReference,
		Amount:         params.Amount,
		Currency:       params.Currency,
	})
	if err != nil {
		return nil, err
	}

	gctx, cancel := s.timeouts.GatewayContext(ctx)
	defer cancel()

	capture, err := s.gateway.Capture(gctx, &ports.CaptureRequest{
		TransactionID:  txn.ID,
		ConversationID: txn.ConversationID,
		OrderReference: txn.OrderReference,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		CardToken:      params.CardToken,
		CallbackURL:    s.callbackURL,
	})
	if err != nil {
		if isTimeout(err) {
			// The gateway may still have taken the money. Do not fail the
			// transaction; report the ambiguity and let polling resolve it.
			s.logger.Warn("capture timed out, leaving transaction for reconciliation",
				ports.String("transaction_id", txn.ID))
			return &Outcome{Transaction: txn, UserCode: domain.UserCodePaymentTimeout}, nil
		}
		code := string(domain.GetErrorCode(err))
		message := err.Error()
		failed, terr := s.ledger.Transition(ctx, txn.ID, domain.EventGatewayRejected, ledger.Resolution{
			ErrorCode:    &code,
			ErrorMessage: &message,
		})
		if terr != nil {
			return nil, terr
		}
		return &Outcome{Transaction: failed, UserCode: domain.UserCodePaymentFailed}, nil
	}

	if capture.Requires3DS {
		s.audit.Record(domain.EventKindGatewayCall, map[string]any{
			"operation": "capture",
			"outcome":   "requires_3ds",
		}, &txn.ID)
		redirect, err := s.threeds.BeginChallenge(ctx, txn.ID, capture.RedirectURL, s.challengeTTL)
		if err != nil {
			return nil, err
		}
		pending, err := s.ledger.Get(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Transaction: pending,
			UserCode:    domain.UserCodePaymentPending,
			RedirectURL: redirect,
		}, nil
	}

	res := ledger.Resolution{}
	if capture.GatewayPaymentID != "" {
		res.GatewayPaymentID = &capture.GatewayPaymentID
	}
	accepted, err := s.ledger.Transition(ctx, txn.ID, domain.EventGatewayAccepted, res)
	if err != nil {
		return nil, err
	}

	s.audit.Record(domain.EventKindGatewayCall, map[string]any{
		"operation": "capture",
		"outcome":   "accepted",
	}, &txn.ID)

	return &Outcome{Transaction: accepted, UserCode: domain.UserCodePaymentPending}, nil
}

// Complete3DS is the redirect-return entry point: the shopper came back from
// the challenge page and the gateway told us how it went.
func (s *Service) Complete3DS(ctx context.Context, conversationID string, succeeded bool) (*domain.Transaction, error) {
	txn, err := s.threeds.ResolveChallenge(ctx, conversationID, succeeded)
	if err != nil && !domain.IsSoftError(err) {
		return nil, err
	}
	return txn, nil
}

// Cancel abandons a payment that has not yet reached the gateway-decided
// stage. Only INITIATED transactions can be cancelled; the gateway is told on
// a best-effort basis.
func (s *Service) Cancel(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := s.ledger.Transition(ctx, transactionID, domain.EventCancelledByCaller, ledger.Resolution{})
	if err != nil {
		return nil, err
	}

	go func() {
		gctx, cancel := s.timeouts.GatewayContext(context.Background())
		defer cancel()
		if err := s.gateway.Cancel(gctx, txn.ConversationID); err != nil {
			s.logger.Warn("gateway cancel notification failed",
				ports.String("transaction_id", txn.ID),
				ports.Err(err))
		}
	}()

	return txn, nil
}

func isTimeout(err error) bool {
	return domain.IsDomainError(err, domain.ErrorCodeGatewayTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
