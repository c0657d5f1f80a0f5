// Package httpclient is the HTTP Client: a thin, thread-safe wrapper
// around retryablehttp.Client that implements the bounded
// exponential-backoff-with-jitter retry policy every adapter in this
// module relies on. Adapters never retry themselves — they issue one
// logical Do and this package decides whether the transport saw it
// more than once.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/cuemby/dxsync/pkg/log"
)

// Config configures the shared client.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	MaxRetry int // default 5

	RetryMin time.Duration // default 500ms
	RetryMax time.Duration // default 30s

	// RetryStatusCodes overrides the default retry status set
	// (429, 500, 502, 503, 504).
	RetryStatusCodes []int

	// Username/Password, when Username is non-empty, are sent as HTTP
	// basic auth on every request this client issues.
	Username string
	Password string
}

// Request is the shape every adapter composes: method, URI, headers,
// and a body that may be nil, a fixed byte slice, or a re-creatable
// stream factory (required so the retry policy can re-issue the
// request without buffering the whole payload).
type Request struct {
	Method  string
	URI     string
	Headers map[string]string

	Body        []byte
	BodyFactory func() (io.ReadCloser, error)

	ExpectJSON bool
}

// Response is the shape every adapter consumes back.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Client wraps retryablehttp.Client with this module's retry policy.
type Client struct {
	inner    *retryablehttp.Client
	baseURL  string
	username string
	password string
	logger   zerolog.Logger
}

var defaultRetryStatusCodes = []int{429, 500, 502, 503, 504}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	if cfg.MaxRetry == 0 {
		cfg.MaxRetry = 5
	}
	if cfg.RetryMin == 0 {
		cfg.RetryMin = 500 * time.Millisecond
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 30 * time.Second
	}
	if len(cfg.RetryStatusCodes) == 0 {
		cfg.RetryStatusCodes = defaultRetryStatusCodes
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	retrySet := make(map[int]bool, len(cfg.RetryStatusCodes))
	for _, code := range cfg.RetryStatusCodes {
		retrySet[code] = true
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil // zerolog, not retryablehttp's built-in leveled logger
	// retryablehttp.RetryMax counts retries after the initial attempt, so
	// cfg.MaxRetry (the total-attempts budget this module's callers and
	// spec reason about) needs the initial attempt subtracted out.
	rc.RetryMax = cfg.MaxRetry - 1
	rc.RetryWaitMin = cfg.RetryMin
	rc.RetryWaitMax = cfg.RetryMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.CheckRetry = checkRetry(retrySet)
	rc.Backoff = jitteredBackoff
	// Once attempts are exhausted, hand back the last response so callers
	// can classify its status, instead of retryablehttp's generic error.
	rc.ErrorHandler = func(resp *http.Response, err error, _ int) (*http.Response, error) {
		if err != nil && resp != nil {
			resp.Body.Close()
			return nil, err
		}
		return resp, err
	}

	return &Client{
		inner:    rc,
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		logger:   log.WithComponent("httpclient"),
	}
}

// checkRetry implements spec's exact rule: retry iff the response
// status is in the configured set, or the transport returned a
// connection error alongside a non-nil response carrying a status
// code (an error with no status at all is never retried).
func checkRetry(retryable map[int]bool) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			if resp != nil {
				return resp.StatusCode != 0, nil
			}
			return false, nil
		}
		if resp == nil {
			return false, nil
		}
		return retryable[resp.StatusCode], nil
	}
}

// jitteredBackoff is exponential, bounded by [min, max], with full
// jitter so concurrent workers don't retry in lockstep.
func jitteredBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	mult := math.Pow(2, float64(attemptNum))
	wait := time.Duration(float64(min) * mult)
	if wait > max {
		wait = max
	}
	jittered := time.Duration(rand.Int63n(int64(wait) + 1))
	if jittered < min {
		jittered = min
	}
	return jittered
}

// Do issues req, retrying per the configured policy, and returns the
// fully-buffered response. Adapters that need to stream a download
// instead call DoStream.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}

	resp, err := c.inner.Do(httpReq)
	if err != nil {
		c.logger.Debug().Str("uri", req.URI).Err(err).Msg("request failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// DoStream issues req and returns the live response with its body
// unread, for callers that stream large downloads directly to disk.
// The caller must close Body.
func (c *Client) DoStream(ctx context.Context, req Request) (*http.Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	return c.inner.Do(httpReq)
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*retryablehttp.Request, error) {
	uri := req.URI
	if len(uri) == 0 || (uri[0] == '/' && c.baseURL != "") {
		uri = c.baseURL + uri
	}

	// retryablehttp.NewRequest accepts a `func() (io.Reader, error)` body
	// source and calls it again on every retry attempt, so a streaming
	// upload never has to be buffered in memory to be retried.
	var rawBody interface{}
	switch {
	case req.BodyFactory != nil:
		factory := req.BodyFactory
		rawBody = func() (io.Reader, error) {
			rc, err := factory()
			if err != nil {
				return nil, err
			}
			return rc, nil
		}
	case req.Body != nil:
		rawBody = req.Body
	}

	httpReq, err := retryablehttp.NewRequest(req.Method, uri, rawBody)
	if err != nil {
		return nil, err
	}
	httpReq = httpReq.WithContext(ctx)

	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ExpectJSON && httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	return httpReq, nil
}
