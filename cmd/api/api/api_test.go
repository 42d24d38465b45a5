package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/netshape/cmd/api/config"
	"github.com/onkernel/netshape/lib/backend"
	"github.com/onkernel/netshape/lib/backend/memory"
	mw "github.com/onkernel/netshape/lib/middleware"
	"github.com/onkernel/netshape/lib/shaper"
	"github.com/onkernel/netshape/lib/shaping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestService creates an ApiService backed by the memory backend.
func newTestService(t *testing.T, interfaces ...string) (*ApiService, *memory.Backend) {
	t.Helper()
	b := memory.New(interfaces...)
	m, err := shaper.NewManager(nil, b, nil, nil)
	require.NoError(t, err)
	return New(&config.Config{Version: "test"}, m), b
}

func newTestRouter(s *ApiService) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	s.Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) mw.ErrorResponse {
	t.Helper()
	var e mw.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	return e
}

func TestGetHealth(t *testing.T) {
	s, _ := newTestService(t)
	rr := do(t, newTestRouter(s), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rr.Code)
	var h Health
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "test", h.Version)
}

func TestListPresets(t *testing.T) {
	s, _ := newTestService(t)
	rr := do(t, newTestRouter(s), http.MethodGet, "/presets", "")

	require.Equal(t, http.StatusOK, rr.Code)
	var presets []shaping.Preset
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &presets))
	assert.Len(t, presets, len(shaping.DefaultTable().Presets()))
}

func TestApplyShaping(t *testing.T) {
	s, b := newTestService(t)
	h := newTestRouter(s)

	rr := do(t, h, http.MethodPut, "/interfaces/eth0/shaping", `{"preset":"4g","delay_ms":"120","jitter_ms":15}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res shaper.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.NotEmpty(t, res.OperationID)
	assert.Equal(t, backend.TypeMemory, res.Backend)
	assert.Equal(t, 4500.0, res.Profile.RateKbps)
	assert.Equal(t, 120, res.Profile.DelayMs)
	assert.Equal(t, 15, res.Profile.JitterMs)
	assert.Equal(t, 1.0, res.Profile.LossPct)
	assert.Equal(t, 1200, res.Derived.HTBMtuBytes)

	state, ok := b.Get("eth0")
	require.True(t, ok)
	assert.Equal(t, 120, state.Profile.DelayMs)
}

func TestApplyShapingEmptyBodyUsesDefaults(t *testing.T) {
	s, b := newTestService(t)
	rr := do(t, newTestRouter(s), http.MethodPut, "/interfaces/eth0/shaping", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	state, ok := b.Get("eth0")
	require.True(t, ok)
	assert.Equal(t, shaping.DefaultRateKbps, state.Profile.RateKbps)
	assert.Equal(t, 1000, state.Derived.QueueLimitPackets)
}

func TestApplyShapingErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown preset", "/interfaces/eth0/shaping", `{"preset":"5g"}`, http.StatusBadRequest, "invalid_selection"},
		{"non-numeric rate", "/interfaces/eth0/shaping", `{"rate_kbps":"fast"}`, http.StatusBadRequest, "invalid_value"},
		{"boolean delay", "/interfaces/eth0/shaping", `{"delay_ms":true}`, http.StatusBadRequest, "invalid_value"},
		{"loss out of range", "/interfaces/eth0/shaping", `{"loss_pct":150}`, http.StatusBadRequest, "invalid_value"},
		{"unknown field", "/interfaces/eth0/shaping", `{"bandwidth":1}`, http.StatusBadRequest, "invalid_request"},
		{"malformed json", "/interfaces/eth0/shaping", `{"preset":`, http.StatusBadRequest, "invalid_request"},
		{"interface name too long", "/interfaces/abcdefghijklmnopq/shaping", `{}`, http.StatusBadRequest, "invalid_value"},
		{"unknown interface", "/interfaces/eth9/shaping", `{"preset":"3g"}`, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b := newTestService(t, "eth0")
			rr := do(t, newTestRouter(s), http.MethodPut, tt.path, tt.body)

			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rr).Code)
			_, shaped := b.Get("eth0")
			assert.False(t, shaped, "nothing applied on rejection")
		})
	}
}

func TestResetShaping(t *testing.T) {
	s, b := newTestService(t)
	h := newTestRouter(s)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/interfaces/eth0/shaping", `{"preset":"edge"}`).Code)

	rr := do(t, h, http.MethodDelete, "/interfaces/eth0/shaping", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	_, ok := b.Get("eth0")
	assert.False(t, ok)

	// Already clean.
	rr = do(t, h, http.MethodDelete, "/interfaces/eth0/shaping", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestGetShaping(t *testing.T) {
	s, _ := newTestService(t)
	h := newTestRouter(s)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/interfaces/wlan0/shaping", `{"preset":"3g"}`).Code)

	rr := do(t, h, http.MethodGet, "/shaping", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var st shaper.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, backend.TypeMemory, st.Backend)
	assert.Contains(t, st.Output, "wlan0 rate=700kbit delay=300ms")
	require.Len(t, st.Shaped, 1)
	assert.Equal(t, 10000, st.Shaped[0].Derived.QueueLimitPackets)
}

// failingManager returns err from every operation.
type failingManager struct {
	err error
}

func (f failingManager) Apply(context.Context, shaper.ApplyRequest) (*shaper.Result, error) {
	return nil, f.err
}
func (f failingManager) Reset(context.Context, string) error            { return f.err }
func (f failingManager) Status(context.Context) (*shaper.Status, error) { return nil, f.err }
func (f failingManager) Presets() []shaping.Preset                      { return nil }

func TestBackendErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("tc: %w", backend.ErrPermissionDenied), http.StatusForbidden, "permission_denied"},
		{fmt.Errorf("tc: %w", backend.ErrBackendUnavailable), http.StatusServiceUnavailable, "backend_unavailable"},
		{fmt.Errorf("tc: %w", backend.ErrInterfaceNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("something odd"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s := New(&config.Config{}, failingManager{err: tt.err})
			h := newTestRouter(s)

			for _, req := range []struct{ method, path string }{
				{http.MethodPut, "/interfaces/eth0/shaping"},
				{http.MethodDelete, "/interfaces/eth0/shaping"},
				{http.MethodGet, "/shaping"},
			} {
				rr := do(t, h, req.method, req.path, "")
				assert.Equal(t, tt.status, rr.Code, "%s %s", req.method, req.path)
				assert.Equal(t, tt.code, decodeError(t, rr).Code)
			}
		})
	}
}

func TestFlexValue(t *testing.T) {
	var req ShapingRequest
	require.NoError(t, json.Unmarshal([]byte(`{"rate_kbps":1e3,"delay_ms":"80","jitter_ms":null}`), &req))
	assert.Equal(t, flexValue("1e3"), req.RateKbps)
	assert.Equal(t, flexValue("80"), req.DelayMs)
	assert.Equal(t, flexValue(""), req.JitterMs)
}
