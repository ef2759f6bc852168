// Package api provides HTTP handlers for the prdesk API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/prdesk/internal/orchestrator"
	"github.com/containerd/errdefs/pkg/errhttp"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorBody is the JSON shape of an orchestration failure.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// WriteError maps err onto an HTTP status and writes it.
func WriteError(w http.ResponseWriter, err error) {
	JSON(w, StatusFor(err), errorBody{Error: err.Error(), Kind: ErrorKind(err)})
}

// StatusFor returns the HTTP status for err. Provider-side failures are
// reported as 502; everything else follows the errdefs class.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrProviderContractViolation),
		errors.Is(err, orchestrator.ErrGenerationFailed),
		errors.Is(err, orchestrator.ErrUnknownStage):
		return http.StatusBadGateway
	}
	return errhttp.ToHTTP(err)
}

// ErrorKind names the failure class of err for clients.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, orchestrator.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, orchestrator.ErrUnknownStage):
		return "unknown_stage"
	case errors.Is(err, orchestrator.ErrProviderContractViolation):
		return "provider_contract_violation"
	case errors.Is(err, orchestrator.ErrGenerationFailed):
		return "generation_failed"
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// decodeJSON reads a JSON body into v. Size limit violations are reported
// with 413, everything else with 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}
