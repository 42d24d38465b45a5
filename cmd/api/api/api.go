package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/netshape/cmd/api/config"
	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/logger"
	mw "github.com/onkernel/netshape/lib/middleware"
	"github.com/onkernel/netshape/lib/shaper"
	"github.com/onkernel/netshape/lib/shaping"
)

// ApiService serves the netshape HTTP API
type ApiService struct {
	Config        *config.Config
	ShaperManager shaper.Manager
}

// New creates a new ApiService
func New(config *config.Config, shaperManager shaper.Manager) *ApiService {
	return &ApiService{
		Config:        config,
		ShaperManager: shaperManager,
	}
}

// Routes mounts the authenticated API routes on r.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/presets", s.ListPresets)
	r.Get("/shaping", s.GetShaping)
	r.Put("/interfaces/{name}/shaping", s.ApplyShaping)
	r.Delete("/interfaces/{name}/shaping", s.ResetShaping)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeShapingError maps shaping and backend errors onto HTTP responses.
// Unclassified errors are logged and reported as internal errors.
func writeShapingError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, shaping.ErrInvalidSelection):
		mw.WriteError(w, http.StatusBadRequest, "invalid_selection", err.Error())
	case errors.Is(err, shaping.ErrInvalidValue):
		mw.WriteError(w, http.StatusBadRequest, "invalid_value", err.Error())
	case errors.Is(err, backend.ErrInterfaceNotFound):
		mw.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, backend.ErrPermissionDenied):
		mw.WriteError(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, backend.ErrBackendUnavailable):
		mw.WriteError(w, http.StatusServiceUnavailable, "backend_unavailable", err.Error())
	default:
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "failed to "+what, "error", err)
		mw.WriteError(w, http.StatusInternalServerError, "internal_error", "failed to "+what)
	}
}
