package admin

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/shoplink/payment-orchestrator/internal/domain"
	"github.com/shoplink/payment-orchestrator/internal/domain/ports"
	"github.com/shoplink/payment-orchestrator/internal/handlers/httputil"
	"github.com/shoplink/payment-orchestrator/internal/services/audit"
	"github.com/shoplink/payment-orchestrator/internal/services/ledger"
	"github.com/shoplink/payment-orchestrator/internal/services/threeds"
	"go.uber.org/zap"
)

// SecretHeader authenticates admin requests with a shared secret.
const SecretHeader = "X-Admin-Secret"

// Handler exposes the operator surface: the debug event trail, live 3DS
// sessions, and the gateway connectivity probe. Everything here is read-only
// except TestConnection, which only talks to the gateway.
type Handler struct {
	ledger  *ledger.Service
	audit   *audit.Service
	threeds *threeds.Service
	gateway ports.PaymentGateway
	secret  string
	logger  *zap.Logger
}

// NewHandler creates a new admin handler
func NewHandler(ledgerSvc *ledger.Service, auditSvc *audit.Service, threedsSvc *threeds.Service, gateway ports.PaymentGateway, secret string, logger *zap.Logger) *Handler {
	return &Handler{
		ledger:  ledgerSvc,
		audit:   auditSvc,
		threeds: threedsSvc,
		gateway: gateway,
		secret:  secret,
		logger:  logger,
	}
}

// Register mounts the admin routes on the mux, wrapped in secret auth.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/v1/events", h.authorized(h.RecentEvents))
	mux.HandleFunc("GET /admin/v1/transactions", h.authorized(h.RecentTransactions))
	mux.HandleFunc("GET /admin/v1/transactions/{id}/events", h.authorized(h.TransactionEvents))
	mux.HandleFunc("GET /admin/v1/sessions", h.authorized(h.Sessions))
	mux.HandleFunc("POST /admin/v1/gateway/test", h.authorized(h.TestConnection))
}

// authorized rejects requests without the shared admin secret.
func (h *Handler) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(SecretHeader)
		if h.secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			h.logger.Warn("admin request rejected", zap.String("path", r.URL.Path))
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
				Error:   "UNAUTHORIZED",
				Message: "missing or invalid admin secret",
			})
			return
		}
		next(w, r)
	}
}

// RecentEvents returns the newest debug events.
// Endpoint: GET /admin/v1/events?limit=100
func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	events := h.audit.RecentEvents(queryLimit(r, 100))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"events":  events,
		"dropped": h.audit.Dropped(),
	})
}

// RecentTransactions returns the newest ledger entries.
// Endpoint: GET /admin/v1/transactions?limit=50
func (h *Handler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.ledger.ListRecent(r.Context(), queryLimit(r, 50))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if txns == nil {
		txns = []*domain.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, txns)
}

// TransactionEvents returns the debug trail for one transaction.
// Endpoint: GET /admin/v1/transactions/{id}/events?limit=100
func (h *Handler) TransactionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.audit.TransactionHistory(r.Context(), r.PathValue("id"), queryLimit(r, 100))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []*domain.DebugEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

// Sessions returns the live 3DS sessions.
// Endpoint: GET /admin/v1/sessions
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.threeds.SessionsSnapshot())
}

// TestConnection probes gateway reachability.
// Endpoint: POST /admin/v1/gateway/test
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.TestConnection(r.Context()); err != nil {
		h.logger.Warn("gateway connection test failed", zap.Error(err))
		httputil.WriteJSON(w, http.StatusBadGateway, map[string]string{
			"status": "unreachable",
			"error":  err.Error(),
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reachable"})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
