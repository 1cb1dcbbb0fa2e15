package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shoplink/payment-orchestrator/internal/domain"
)

// ErrorResponse is the JSON error envelope every endpoint uses.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps a domain error to its HTTP status and writes the envelope.
// Internal error details never leak: anything unmapped becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   string(domain.ErrorCodeInternalError),
			Message: "internal server error",
		})
		return
	}

	WriteJSON(w, StatusForCode(domainErr.Code), ErrorResponse{
		Error:   string(domainErr.Code),
		Message: domainErr.Message,
		Details: domainErr.Details,
	})
}

// StatusForCode maps an error code to an HTTP status.
func StatusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeValidationFailed:
		return http.StatusBadRequest
	case domain.ErrorCodeCallbackInvalidSignature:
		return http.StatusUnauthorized
	case domain.ErrorCodeTxnNotFound, domain.ErrorCodeCallbackUnknownTxn:
		return http.StatusNotFound
	case domain.ErrorCodeTxnDuplicateOrderRef, domain.ErrorCodeTxnInvalidTransition,
		domain.ErrorCodeTxnInvalidState, domain.ErrorCodeTxnAlreadyResolved:
		return http.StatusConflict
	case domain.ErrorCodeSessionExpired:
		return http.StatusGone
	case domain.ErrorCodeRefundExceedsCaptured:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrorCodeGatewayRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
