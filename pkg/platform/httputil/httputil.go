package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "blockcreds/pkg/domain-errors"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding failure can only truncate the body.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError translates a domain error into its HTTP status and body.
// Anything that is not a domain error is reported as an opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), ErrorResponse{
			Error:            string(domainErr.Code),
			ErrorDescription: domainErr.Message,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: string(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvariantViolation:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeTransactionNotConfirmed:
		return http.StatusUnprocessableEntity
	case dErrors.CodeChainSubmission:
		return http.StatusBadGateway
	case dErrors.CodeCodeGenerationExhausted:
		return http.StatusServiceUnavailable
	case dErrors.CodeIntegrity:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
