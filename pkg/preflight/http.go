package preflight

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TenantChecker confirms a tenant's authoring service base URL answers
// before a bulk run starts.
type TenantChecker struct {
	// URL is the tenant base URL to probe (e.g. "https://acme.example.com/api").
	URL string

	// Username/Password set HTTP basic auth, mirroring the --user/--password
	// credentials a run authenticates with, so preflight fails on bad
	// credentials instead of the first item's request.
	Username, Password string

	// ExpectedStatusMin/Max bound the acceptable response range. Many
	// authoring services answer their bare base URL with a 401 or 404
	// rather than 200, so the default range is wide; callers narrow it
	// when a tenant's service exposes a real status endpoint.
	ExpectedStatusMin int
	ExpectedStatusMax int

	Client *http.Client
}

// NewTenantChecker returns a TenantChecker for url with sensible
// defaults.
func NewTenantChecker(url string) *TenantChecker {
	return &TenantChecker{
		URL:               url,
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 499,
		Client:            &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAuth sets basic auth credentials.
func (h *TenantChecker) WithAuth(username, password string) *TenantChecker {
	h.Username = username
	h.Password = password
	return h
}

// WithTimeout sets the client timeout.
func (h *TenantChecker) WithTimeout(timeout time.Duration) *TenantChecker {
	h.Client.Timeout = timeout
	return h
}

// Check performs the reachability check.
func (h *TenantChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("failed to build request: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	if h.Username != "" {
		req.SetBasicAuth(h.Username, h.Password)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("tenant unreachable: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}

	return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

// Type reports the check's transport.
func (h *TenantChecker) Type() CheckType { return CheckTypeHTTP }
