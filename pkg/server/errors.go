package server

import (
	"errors"
	"net/http"

	"github.com/openleash/openleash/pkg/api"
	"github.com/openleash/openleash/pkg/audit"
	"github.com/openleash/openleash/pkg/authorize"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/registration"
	"github.com/openleash/openleash/pkg/store"
)

// writeError maps a domain error to its Problem Detail. Anything
// unrecognized, including evaluation faults, is a logged 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *contracts.ValidationError
		regErr *registration.Error
	)
	switch {
	case errors.As(err, &verr):
		api.WriteValidationError(w, r, verr)
	case errors.As(err, &regErr):
		status := http.StatusBadRequest
		if regErr.Code == registration.CodeInvalidSignature {
			status = http.StatusUnauthorized
		}
		api.WriteCoded(w, r, status, string(regErr.Code), regErr.Message)
	case errors.Is(err, store.ErrNotFound):
		api.WriteCoded(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrConflict):
		api.WriteCoded(w, r, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, audit.ErrInvalidTimeRange):
		api.WriteCoded(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		if refusal, ok := authorize.IsRefusal(err); ok {
			api.WriteCoded(w, r, refusal.Status, string(refusal.Code), refusal.Message)
			return
		}
		api.WriteInternal(w, r, err)
	}
}

func writeInvalidRequest(w http.ResponseWriter, r *http.Request, detail string) {
	api.WriteCoded(w, r, http.StatusBadRequest, "INVALID_REQUEST", detail)
}
