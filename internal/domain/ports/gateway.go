package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// CaptureRequest asks the gateway to charge a card.
type CaptureRequest struct {
	TransactionID  string
	ConversationID string
	OrderReference string
	CardToken      string // tokenized card reference, never raw PAN
	CallbackURL    string
	Currency       string
	Amount         decimal.Decimal
}

// CaptureResult is the gateway's normalized answer to a capture attempt.
type CaptureResult struct {
	GatewayPaymentID string
	RedirectURL      string // set when Requires3DS
	ResponseCode     string
	Message          string
	Requires3DS      bool
}

// ConfirmResult is the gateway's answer to a 3DS confirmation.
type ConfirmResult struct {
	GatewayPaymentID string
	ErrorCode        string
	Message          string
	Succeeded        bool
}

// QueryResult is the gateway's answer to an active status re-query.
// Resolved is false while the gateway itself still considers the payment
// in flight.
type QueryResult struct {
	GatewayPaymentID string
	ErrorCode        string
	ErrorMessage     string
	Resolved         bool
	Succeeded        bool
}

// RefundRequest asks the gateway to return funds.
type RefundRequest struct {
	GatewayPaymentID string
	ConversationID   string
	Currency         string
	Amount           decimal.Decimal
}

// RefundResult is the gateway's normalized answer to a refund attempt.
type RefundResult struct {
	GatewayRefundID string
	ResponseCode    string
	Message         string
	Succeeded       bool
}

// PaymentGateway is the abstract capability contract for one external payment
// provider. The core depends only on this interface, never on a provider's
// wire format.
type PaymentGateway interface {
	// Capture starts a payment. May demand a 3DS challenge.
	Capture(ctx context.Context, req *CaptureRequest) (*CaptureResult, error)

	// Confirm3DS completes a payment whose 3DS challenge has been answered.
	Confirm3DS(ctx context.Context, conversationID string) (*ConfirmResult, error)

	// QueryPayment actively re-queries the outcome of a pending payment.
	QueryPayment(ctx context.Context, conversationID string) (*QueryResult, error)

	// Refund returns part or all of a captured amount.
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// Cancel notifies the gateway that the caller abandoned an initiated
	// payment. Best effort: errors are logged, never surfaced.
	Cancel(ctx context.Context, conversationID string) error

	// VerifySignature checks the authenticity of a raw callback payload.
	VerifySignature(payload []byte, signature string) bool

	// TestConnection probes gateway reachability for the admin diagnostic.
	TestConnection(ctx context.Context) error
}
