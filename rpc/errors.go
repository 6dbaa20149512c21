package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	coreerrors "gridmarket/core/errors"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// badRequest classifies malformed input as a validation failure.
func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("rpc: %s: %w", fmt.Sprintf(format, args...), coreerrors.ErrIllegalRequest)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coreerrors.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, coreerrors.ErrNotOwner),
		errors.Is(err, coreerrors.ErrNotTenant),
		errors.Is(err, coreerrors.ErrUnauthorized):
		return http.StatusForbidden
	}
	switch coreerrors.KindOf(err) {
	case coreerrors.KindValidation:
		return http.StatusBadRequest
	case coreerrors.KindEconomic:
		return http.StatusPaymentRequired
	case coreerrors.KindState:
		return http.StatusConflict
	case coreerrors.KindCapacity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, coreerrors.ErrResourceNotFound) ||
		errors.Is(err, coreerrors.ErrOrderNotFound) ||
		errors.Is(err, coreerrors.ErrAgreementNotFound) ||
		errors.Is(err, coreerrors.ErrStakingAccountNotFound) ||
		errors.Is(err, coreerrors.ErrRewardTaskNotFound)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if r.Method == http.MethodGet && isNotFound(err) {
		status = http.StatusNotFound
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("rpc: request failed", "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: coreerrors.KindOf(err).String(), Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
