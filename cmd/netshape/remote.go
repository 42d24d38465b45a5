package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onkernel/netshape/lib/backend"
	mw "github.com/onkernel/netshape/lib/middleware"
	"github.com/onkernel/netshape/lib/shaper"
	"github.com/onkernel/netshape/lib/shaping"
)

// remoteClient talks to a netshape API server.
type remoteClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

func newRemoteClient(rawURL, token string) (*remoteClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", rawURL)
	}
	return &remoteClient{
		base:  u,
		token: token,
		http:  &http.Client{Timeout: 90 * time.Second},
	}, nil
}

// apiError is an error response from the server. It unwraps to the
// matching shaping or backend error so callers can use errors.Is.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("server returned %d %s", e.status, e.code)
	}
	return e.message
}

func (e *apiError) Unwrap() error {
	switch e.code {
	case "invalid_selection":
		return shaping.ErrInvalidSelection
	case "invalid_value":
		return shaping.ErrInvalidValue
	case "not_found":
		return backend.ErrInterfaceNotFound
	case "permission_denied":
		return backend.ErrPermissionDenied
	case "backend_unavailable":
		return backend.ErrBackendUnavailable
	}
	return nil
}

func (c *remoteClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{status: resp.StatusCode, code: strings.ToLower(http.StatusText(resp.StatusCode))}
		var e mw.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Code != "" {
			apiErr.code = e.Code
			apiErr.message = e.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", u.Path, err)
	}
	return nil
}

func (c *remoteClient) Apply(ctx context.Context, req shaper.ApplyRequest) (*shaper.Result, error) {
	if err := shaping.ValidateInterfaceName(req.Interface); err != nil {
		return nil, err
	}
	body := map[string]any{}
	if req.Preset != "" {
		body["preset"] = req.Preset
	}
	if req.Overrides.RateKbps != nil {
		body["rate_kbps"] = *req.Overrides.RateKbps
	}
	if req.Overrides.DelayMs != nil {
		body["delay_ms"] = *req.Overrides.DelayMs
	}
	if req.Overrides.JitterMs != nil {
		body["jitter_ms"] = *req.Overrides.JitterMs
	}
	if req.Overrides.LossPct != nil {
		body["loss_pct"] = *req.Overrides.LossPct
	}

	var res shaper.Result
	if err := c.do(ctx, http.MethodPut, interfacePath(req.Interface), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *remoteClient) Reset(ctx context.Context, iface string) error {
	if err := shaping.ValidateInterfaceName(iface); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, interfacePath(iface), nil, nil)
}

func (c *remoteClient) Status(ctx context.Context) (*shaper.Status, error) {
	var st shaper.Status
	if err := c.do(ctx, http.MethodGet, "shaping", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *remoteClient) Presets(ctx context.Context) ([]shaping.Preset, error) {
	var presets []shaping.Preset
	if err := c.do(ctx, http.MethodGet, "presets", nil, &presets); err != nil {
		return nil, err
	}
	return presets, nil
}

// interfacePath returns the escaped API path for iface. Callers validate
// the name first so that "/" and ".." never reach the URL.
func interfacePath(iface string) string {
	return "interfaces/" + url.PathEscape(iface) + "/shaping"
}

var _ service = (*remoteClient)(nil)
