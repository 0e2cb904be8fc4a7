// Package httpclient is the instrumented HTTP client every backend call
// goes through.
//
// Requests pass through an ordered pipeline of stages:
//
//	trace (start time) -> auth (bearer token) -> log (request, outcome, latency) -> transport
//
// The pipeline only observes. Failures are classified (ServerError,
// NetworkError, RequestError) and always returned to the caller.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"watergb/internal/logstore"
	"watergb/internal/metrics"
)

// DefaultTimeout bounds every request when Options.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. https://gwsudan.xyz/api.
	BaseURL string

	Timeout time.Duration

	// Tokens supplies the bearer token. Nil means requests are anonymous.
	Tokens TokenSource

	Logs    *logstore.Store
	Metrics *metrics.Recorder
	Logger  *slog.Logger

	// RootCAs replaces the system roots when set. See LoadRootCAs.
	RootCAs *x509.CertPool

	// MaxLoggedBody truncates bodies in the diagnostic log. Zero keeps them whole.
	MaxLoggedBody int

	// Transport overrides the base transport. TLS settings above are not
	// applied to a custom transport.
	Transport http.RoundTripper
}

// Client sends JSON requests to the backend.
type Client struct {
	base     string
	timeout  time.Duration
	logs     *logstore.Store
	metrics  *metrics.Recorder
	logger   *slog.Logger
	pipeline Handler
	now      func() time.Time
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be an absolute http(s) URL", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		transport = NewTransport(opts.RootCAs)
	}

	c := &Client{
		base:    base,
		timeout: opts.Timeout,
		logs:    opts.Logs,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "httpclient"),
		now:     time.Now,
	}

	httpc := &http.Client{Transport: transport}
	now := func() time.Time { return c.now() }
	c.pipeline = Chain(httpc.Do,
		traceStage(now),
		authStage(opts.Tokens, opts.Logs),
		logStage(opts.Logs, opts.Metrics, opts.MaxLoggedBody, now),
	)
	return c, nil
}

// NewTransport returns a transport that always verifies certificates and
// requires TLS 1.2 or later. A nil pool means the system roots.
func NewTransport(rootCAs *x509.CertPool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    rootCAs,
	}
	return t
}

// LoadRootCAs returns the system roots plus the PEM certificates in path.
func LoadRootCAs(path string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base
}

// Do sends a request to path (relative to the base URL, starting with "/").
// in is marshalled as the JSON body when non-nil; a 2xx/3xx JSON response
// is decoded into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		c.logs.Error("API request setup error", err, logstore.Data{Method: method, URL: path})
		c.metrics.ObserveRequest(method, metrics.OutcomeRequestError, 0)
		return &RequestError{Method: method, Path: path, Err: err}
	}
	target := req.URL.String()

	resp, err := c.pipeline(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", target, "error", err)
		return &NetworkError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: method, URL: target, Err: err}
	}

	if resp.StatusCode >= 400 {
		return newServerError(method, target, resp.StatusCode, body)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logs.Error("API response decode error", err, logstore.Data{Method: method, URL: target, Status: resp.StatusCode})
		return fmt.Errorf("decode %s %s response: %w", method, target, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, errors.New("path must start with /")
	}
	u, err := url.Parse(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	tr := &RequestTrace{}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		tr.Body = data
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ContextWithTrace(ctx, tr), method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Get is Do with GET and no body.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post is Do with POST.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Put is Do with PUT.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, in, out)
}

// Delete is Do with DELETE and no body.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}
