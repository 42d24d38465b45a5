package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/netshape/lib/logger"
	mw "github.com/onkernel/netshape/lib/middleware"
	"github.com/onkernel/netshape/lib/shaper"
	"github.com/onkernel/netshape/lib/shaping"
)

// maxBodyBytes bounds PUT bodies; a shaping request is a handful of fields.
const maxBodyBytes = 64 << 10

// ShapingRequest is the body of PUT /interfaces/{name}/shaping. Numeric
// fields accept JSON numbers or strings; omitted fields are unset.
type ShapingRequest struct {
	Preset   string    `json:"preset,omitempty"`
	RateKbps flexValue `json:"rate_kbps,omitempty"`
	DelayMs  flexValue `json:"delay_ms,omitempty"`
	JitterMs flexValue `json:"jitter_ms,omitempty"`
	LossPct  flexValue `json:"loss_pct,omitempty"`
}

// flexValue holds the raw text of a number or string field so that
// validation happens in one place, in shaping.ParseOverrides.
type flexValue string

func (v *flexValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = flexValue(s)
		return nil
	}
	*v = flexValue(b)
	return nil
}

// ListPresets returns every preset row with its aliases.
func (s *ApiService) ListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ShaperManager.Presets())
}

// GetShaping reports the active shaping state.
func (s *ApiService) GetShaping(w http.ResponseWriter, r *http.Request) {
	status, err := s.ShaperManager.Status(r.Context())
	if err != nil {
		writeShapingError(w, r, err, "query shaping")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ApplyShaping applies a preset and/or explicit values to an interface.
func (s *ApiService) ApplyShaping(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "name")
	ctx := logger.AddToContext(r.Context(), logger.FromContext(r.Context()).With("user_id", mw.GetUserIDFromContext(r.Context())))

	// An empty body applies the defaults.
	var body ShapingRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		mw.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ov, err := shaping.ParseOverrides(string(body.RateKbps), string(body.DelayMs), string(body.JitterMs), string(body.LossPct))
	if err != nil {
		writeShapingError(w, r, err, "apply shaping")
		return
	}

	result, err := s.ShaperManager.Apply(ctx, shaper.ApplyRequest{
		Interface: iface,
		Preset:    body.Preset,
		Overrides: ov,
	})
	if err != nil {
		writeShapingError(w, r, err, "apply shaping")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ResetShaping removes all shaping from an interface.
func (s *ApiService) ResetShaping(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "name")
	ctx := logger.AddToContext(r.Context(), logger.FromContext(r.Context()).With("user_id", mw.GetUserIDFromContext(r.Context())))

	if err := s.ShaperManager.Reset(ctx, iface); err != nil {
		writeShapingError(w, r, err, "reset shaping")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
