package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onkernel/netshape/cmd/api/api"
	"github.com/onkernel/netshape/cmd/api/config"
	"github.com/onkernel/netshape/lib/backend/memory"
	mw "github.com/onkernel/netshape/lib/middleware"
	"github.com/onkernel/netshape/lib/shaper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key"

func generateValidJWT(t *testing.T, userID string) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iss": mw.TokenIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func setupTestRouter(t *testing.T) http.Handler {
	b := memory.New()
	m, err := shaper.NewManager(nil, b, nil, nil)
	require.NoError(t, err)

	cfg := &config.Config{JwtSecret: testJWTSecret, Version: "test"}
	log := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	app := &application{
		Logger:        log,
		Config:        cfg,
		ShaperBackend: b,
		ShaperManager: m,
		ApiService:    api.New(cfg, m),
	}
	return newRouter(app, nil, log)
}

func TestRouterHealthIsPublic(t *testing.T) {
	router := setupTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterRequiresAuth(t *testing.T) {
	router := setupTestRouter(t)

	for _, path := range []string{"/presets", "/shaping"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestRouterApplyWithToken(t *testing.T) {
	router := setupTestRouter(t)
	token := generateValidJWT(t, "user-123")

	req := httptest.NewRequest(http.MethodPut, "/interfaces/eth0/shaping", strings.NewReader(`{"preset":"gprs"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"preset":"2.5g"`)

	req = httptest.NewRequest(http.MethodGet, "/shaping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "eth0")
}
