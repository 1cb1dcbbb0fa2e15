package payment

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/handlers/httputil"
	"github.com/shoplink/payment-orchestrator/internal/services/callback"
	"github.com/shoplink/payment-orchestrator/internal/services/checkout"
	"github.com/shoplink/payment-orchestrator/internal/services/refund"
	"github.com/shoplink/payment-orchestrator/internal/services/status"
	"go.uber.org/zap"
)

// SignatureHeader carries the gateway's callback signature.
const SignatureHeader = "X-Signature"

// maxCallbackBody caps the accepted callback payload size.
const maxCallbackBody = 1 << 20

// Handler exposes the public payment surface over HTTP.
type Handler struct {
	checkout *checkout.Service
	status   *status.Service
	refunds  *refund.Service
	callback *callback.Service
	logger   *zap.Logger
}

// NewHandler creates a new payment handler
func NewHandler(checkoutSvc *checkout.Service, statusSvc *status.Service, refundSvc *refund.Service, callbackSvc *callback.Service, logger *zap.Logger) *Handler {
	return &Handler{
		checkout: checkoutSvc,
		status:   statusSvc,
		refunds:  refundSvc,
		callback: callbackSvc,
		logger:   logger,
	}
}

// Register mounts the payment routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/payments", h.Initiate)
	mux.HandleFunc("POST /api/v1/payments/callback", h.Callback)
	mux.HandleFunc("POST /api/v1/payments/3ds/return", h.ThreeDSReturn)
	mux.HandleFunc("GET /api/v1/payments/status", h.Status)
	mux.HandleFunc("POST /api/v1/payments/{id}/refund", h.Refund)
	mux.HandleFunc("GET /api/v1/payments/{id}/refunds", h.ListRefunds)
	mux.HandleFunc("POST /api/v1/payments/{id}/cancel", h.Cancel)
}

type initiateRequest struct {
	OrderReference string `json:"order_reference"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	CardToken      string `json:"card_token"`
}

// Initiate starts a payment.
// Endpoint: POST /api/v1/payments
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, domain.ErrValidationFailed.WithDetail("reason", "malformed JSON body"))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteError(w, domain.ErrValidationFailed.WithDetail("field", "amount"))
		return
	}

	outcome, err := h.checkout.Initiate(r.Context(), checkout.InitiateParams{
		OrderReference: req.OrderReference,
		Amount:         amount,
		Currency:       req.Currency,
		CardToken:      req.CardToken,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, outcome)
}

type callbackAck struct {
	Status string `json:"status"`
}

// Callback receives asynchronous payment notifications from the gateway.
// The gateway retries until it sees 200, so any notification that was
// ingested, including a duplicate, is acknowledged with 200.
// Endpoint: POST /api/v1/payments/callback
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		httputil.WriteError(w, domain.ErrValidationFailed.WithDetail("reason", "unreadable body"))
		return
	}

	if _, err := h.callback.Ingest(r.Context(), body, r.Header.Get(SignatureHeader)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, callbackAck{Status: "ok"})
}

type threeDSReturnRequest struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// ThreeDSReturn is where the shopper lands after answering the challenge.
// Endpoint: POST /api/v1/payments/3ds/return
func (h *Handler) ThreeDSReturn(w http.ResponseWriter, r *http.Request) {
	var req threeDSReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, domain.ErrValidationFailed.WithDetail("reason", "malformed JSON body"))
		return
	}
	if req.ConversationID == "" {
		httputil.WriteError(w, domain.ErrValidationFailed.WithDetail("field", "conversation_id"))
		return
	}

	txn, err := h.checkout.Complete3DS(r.Context(), req.ConversationID, req.Status == "success")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"transaction": txn,
		"user_code":   domain.UserCodeForState(txn.State),
	})
}

// Status reports the current state of a transaction, reconciling stale
// pending ones against the gateway first.
// Endpoint: GET /api/v1/payments/status?conversation_id=...|order_reference=...
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.status.GetStatus(r.Context(), status.Query{
		ConversationID: r.URL.Query().Get("conversation_id"),
		OrderReference: r.URL.Query().Get("order_reference"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}

type refundRequest struct {
	Amount string `json:"amount"`
}

// Refund returns part or all of a captured amount.
// Endpoint: POST /api/v1/payments/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, domain.ErrValidationFailed.WithDetail("reason", "malformed JSON body"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteError(w, domain.ErrValidationFailed.WithDetail("field", "amount"))
		return
	}

	record, err := h.refunds.Refund(r.Context(), r.PathValue("id"), amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

// ListRefunds returns all refund attempts for a transaction.
// Endpoint: GET /api/v1/payments/{id}/refunds
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	records, err := h.refunds.ListRefunds(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []*domain.RefundRecord{}
	}

	httputil.WriteJSON(w, http.StatusOK, records)
}

// Cancel abandons an INITIATED payment.
// Endpoint: POST /api/v1/payments/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	txn, err := h.checkout.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, txn)
}
