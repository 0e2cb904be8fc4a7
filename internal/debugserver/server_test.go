package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watergb/internal/connectivity"
	"watergb/internal/logging"
	"watergb/internal/logstore"
	"watergb/internal/metrics"
)

type stubProber struct {
	status connectivity.Status
	result connectivity.Result
	err    error
	checks int
}

func (p *stubProber) Status() connectivity.Status { return p.status }

func (p *stubProber) CheckNow(context.Context) (connectivity.Result, error) {
	p.checks++
	return p.result, p.err
}

func newTestServer(t *testing.T, prober Prober) (*httptest.Server, *logstore.Store) {
	t.Helper()
	logs := logstore.New(logstore.Options{})
	logs.APIRequest("GET", "https://gwsudan.xyz/api/neighborhoods", nil)
	logs.APIResponse("GET", "https://gwsudan.xyz/api/neighborhoods", 200, 12*time.Millisecond, []string{})
	logs.Auth("No token found for request", false, logstore.Data{})
	logs.APIResponse("POST", "https://gwsudan.xyz/api/houses", 500, time.Millisecond, nil)

	s := New(Options{Logs: logs, Prober: prober, Metrics: metrics.New(), Logger: logging.Discard()})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, logs
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListLogs(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		query string
		want  int
	}{
		{"", 4},
		{"?category=api", 3},
		{"?level=error", 1},
		{"?category=api&level=info", 2},
		{"?category=auth&level=warn", 1},
		{"?category=ui", 0},
	}
	for _, tc := range tests {
		var entries []logstore.Entry
		resp := getJSON(t, srv.URL+"/debug/logs"+tc.query, &entries)
		assert.Equal(t, http.StatusOK, resp.StatusCode, tc.query)
		assert.Len(t, entries, tc.want, tc.query)
	}

	resp := getJSON(t, srv.URL+"/debug/logs?level=loud", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummaryAndClear(t *testing.T) {
	srv, logs := newTestServer(t, nil)

	var sum logstore.Summary
	getJSON(t, srv.URL+"/debug/logs/summary", &sum)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 3, sum.ByCategory[logstore.CategoryAPI])
	assert.Equal(t, 1, sum.ByLevel[logstore.LevelWarn])

	resp := do(t, http.MethodDelete, srv.URL+"/debug/logs", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, logs.Len())

	var entries []logstore.Entry
	getJSON(t, srv.URL+"/debug/logs", &entries)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestExport(t *testing.T) {
	srv, logs := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/debug/logs/export")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	got, err := logstore.ParseExport(body)
	require.NoError(t, err)
	want := logs.All()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Message, got[i].Message)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
	}
}

func TestToggleEnabled(t *testing.T) {
	srv, logs := newTestServer(t, nil)

	resp := do(t, http.MethodPut, srv.URL+"/debug/logs/enabled", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, logs.Enabled())

	resp = do(t, http.MethodPut, srv.URL+"/debug/logs/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var state map[string]bool
	getJSON(t, srv.URL+"/debug/logs/enabled", &state)
	assert.False(t, state["enabled"])
}

func TestConnectivityRoutes(t *testing.T) {
	p := &stubProber{
		status: connectivity.Status{State: connectivity.StateConnected, StatusCode: 200, LatencyMs: 35},
		result: connectivity.Result{Connected: true, StatusCode: 200},
	}
	srv, _ := newTestServer(t, p)

	var st map[string]any
	getJSON(t, srv.URL+"/debug/connectivity", &st)
	assert.Equal(t, "connected", st["state"])
	assert.Equal(t, float64(35), st["responseTime"])

	resp := do(t, http.MethodPost, srv.URL+"/debug/connectivity/check", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, p.checks)

	p.err = connectivity.ErrStopped
	resp = do(t, http.MethodPost, srv.URL+"/debug/connectivity/check", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/debug/connectivity/check", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestConnectivityWithoutProber(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := getJSON(t, srv.URL+"/debug/connectivity", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "watergb_backend_up")

	var health map[string]any
	getJSON(t, srv.URL+"/healthz", &health)
	assert.Equal(t, "alive", health["status"])
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(Options{Logs: logstore.New(logstore.Options{}), Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()

	cancel()
	select {
	case err := <-errc:
		assert.False(t, errors.Is(err, http.ErrServerClosed))
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
