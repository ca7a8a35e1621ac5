package server

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/pseudocoder/pairgate/internal/errors"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	// Status is "waiting" when no pairing payload is available yet.
	Status    string `json:"status,omitempty"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// statusForCode maps an error code to its HTTP status.
func statusForCode(code string) int {
	switch code {
	case apperrors.CodeTenantInvalidID, apperrors.CodeServerInvalidRequest:
		return http.StatusBadRequest
	case apperrors.CodeAuthRequired, apperrors.CodeAuthInvalid:
		return http.StatusUnauthorized
	case apperrors.CodeSessionNotFound, apperrors.CodeStorageNotFound,
		apperrors.CodePairingNotAvailable, apperrors.CodePairingTimeout:
		return http.StatusNotFound
	case apperrors.CodeServerMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case apperrors.CodeSessionInvalidState, apperrors.CodePairingClosed:
		return http.StatusConflict
	case apperrors.CodeServerRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeSessionShuttingDown, apperrors.CodeSessionLimitReached:
		return http.StatusServiceUnavailable
	case apperrors.CodeDriverSendFailed, apperrors.CodeDriverLogoutFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as the JSON error envelope. Errors without a code
// are reported as internal errors and their text is only logged.
func writeError(w http.ResponseWriter, err error) {
	writeErrorEnvelope(w, err, false)
}

// writePairingError is writeError for the pairing routes, where a tenant
// without a live session is also reported as waiting.
func writePairingError(w http.ResponseWriter, err error) {
	writeErrorEnvelope(w, err, true)
}

func writeErrorEnvelope(w http.ResponseWriter, err error, notFoundWaits bool) {
	code, message := apperrors.ToCodeAndMessage(err)
	status := statusForCode(code)
	if status == http.StatusInternalServerError {
		log.Printf("server: internal error: %v", err)
		if code == apperrors.CodeUnknown {
			message = "internal error"
		}
	}

	resp := ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: code,
		Message:   message,
	}
	switch {
	case code == apperrors.CodePairingNotAvailable, code == apperrors.CodePairingTimeout:
		resp.Status = "waiting"
	case code == apperrors.CodeSessionNotFound && notFoundWaits:
		resp.Status = "waiting"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}
