package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"watergb/internal/logstore"
	"watergb/internal/metrics"
)

// Handler sends a request and returns its response.
type Handler func(*http.Request) (*http.Response, error)

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Chain wraps h so that mw[0] runs first.
func Chain(h Handler, mw ...Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// TokenSource supplies the bearer token. An empty token means none is stored.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// RequestTrace carries per-request state through the pipeline.
type RequestTrace struct {
	Start time.Time
	Body  []byte

	// Set by the log stage once a response has been read.
	Status  int
	Elapsed time.Duration
}

type traceKey struct{}

// ContextWithTrace returns a context carrying tr.
func ContextWithTrace(ctx context.Context, tr *RequestTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, tr)
}

// TraceFromContext returns the trace attached to ctx, if any.
func TraceFromContext(ctx context.Context) (*RequestTrace, bool) {
	tr, ok := ctx.Value(traceKey{}).(*RequestTrace)
	return tr, ok
}

// traceStage stamps the start time, attaching a trace when the caller did not.
func traceStage(now func() time.Time) Middleware {
	return func(next Handler) Handler {
		return func(req *http.Request) (*http.Response, error) {
			tr, ok := TraceFromContext(req.Context())
			if !ok {
				tr = &RequestTrace{}
				req = req.WithContext(ContextWithTrace(req.Context(), tr))
			}
			tr.Start = now()
			return next(req)
		}
	}
}

// authStage attaches the bearer token. A token that cannot be read is
// logged and the request goes out without one.
func authStage(tokens TokenSource, logs *logstore.Store) Middleware {
	return func(next Handler) Handler {
		return func(req *http.Request) (*http.Response, error) {
			data := logstore.Data{Method: req.Method, URL: req.URL.String()}

			var token string
			if tokens != nil {
				tok, err := tokens.Token(req.Context())
				if err != nil {
					logs.Error("Error getting token", err, data)
				} else {
					token = tok
				}
			}

			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
				logs.Auth("Token added to request", true, data)
			} else {
				logs.Auth("No token found for request", false, data)
			}
			return next(req)
		}
	}
}

// logStage records the request and its outcome and buffers the response
// body so it can be both logged and decoded.
func logStage(logs *logstore.Store, rec *metrics.Recorder, maxBody int, now func() time.Time) Middleware {
	return func(next Handler) Handler {
		return func(req *http.Request) (*http.Response, error) {
			tr, _ := TraceFromContext(req.Context())
			if tr == nil {
				tr = &RequestTrace{Start: now()}
			}
			method, url := req.Method, req.URL.String()

			logs.APIRequest(method, url, loggedBody(tr.Body, maxBody))

			resp, err := next(req)
			if err != nil {
				elapsed := now().Sub(tr.Start)
				networkFailure(logs, rec, method, url, err, elapsed)
				return nil, err
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			elapsed := now().Sub(tr.Start)
			if err != nil {
				networkFailure(logs, rec, method, url, err, elapsed)
				return nil, fmt.Errorf("read response body: %w", err)
			}
			resp.Body = io.NopCloser(bytes.NewReader(body))
			tr.Status = resp.StatusCode
			tr.Elapsed = elapsed

			if resp.StatusCode >= 400 {
				logs.APIError(method, url, fmt.Errorf("request failed with status code %d", resp.StatusCode), &logstore.ResponseInfo{
					Status:       resp.StatusCode,
					Body:         loggedBody(body, maxBody),
					ResponseTime: elapsed,
				})
				rec.ObserveRequest(method, metrics.OutcomeServerError, elapsed)
				return resp, nil
			}

			logs.APIResponse(method, url, resp.StatusCode, elapsed, loggedBody(body, maxBody))
			rec.ObserveRequest(method, metrics.OutcomeSuccess, elapsed)
			return resp, nil
		}
	}
}

func networkFailure(logs *logstore.Store, rec *metrics.Recorder, method, url string, err error, elapsed time.Duration) {
	logs.Connectivity("Network error - no response received", logstore.Data{
		Method:       method,
		URL:          url,
		Error:        err.Error(),
		ResponseTime: logstore.Millis(elapsed),
	})
	rec.ObserveRequest(method, metrics.OutcomeNetworkError, elapsed)
}

// loggedBody renders a body for the diagnostic log: JSON stays structured
// with credentials masked, anything else becomes a string, and bodies over
// max bytes are cut.
func loggedBody(body []byte, max int) any {
	if len(body) == 0 {
		return nil
	}
	valid := json.Valid(body)
	if valid {
		body = redact(body)
	}
	if max > 0 && len(body) > max {
		return fmt.Sprintf("%s... (truncated, %d bytes total)", body[:max], len(body))
	}
	if valid {
		return json.RawMessage(body)
	}
	return string(body)
}

// redactedKeys are top-level JSON fields never written to the diagnostic log.
var redactedKeys = []string{"password", "token"}

func redact(body []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	changed := false
	for _, k := range redactedKeys {
		if _, ok := obj[k]; ok {
			obj[k] = json.RawMessage(`"***"`)
			changed = true
		}
	}
	if !changed {
		return body
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}
