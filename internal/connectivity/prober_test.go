package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watergb/internal/logging"
	"watergb/internal/logstore"
	"watergb/internal/metrics"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

type outcome struct {
	connected bool
	result    Result
}

// newTestProber builds a prober against url whose ticks are driven by the
// returned ticker.
func newTestProber(t *testing.T, url string, logs *logstore.Store) (*Prober, *fakeTicker, chan outcome) {
	t.Helper()
	ft := &fakeTicker{ch: make(chan time.Time)}
	p, err := New(Options{
		BaseURL:   url,
		Interval:  30 * time.Second,
		Timeout:   2 * time.Second,
		Logs:      logs,
		Logger:    logging.Discard(),
		NewTicker: func(time.Duration) Ticker { return ft },
	})
	require.NoError(t, err)

	outcomes := make(chan outcome, 16)
	p.OnChange(func(connected bool, r Result) {
		outcomes <- outcome{connected, r}
	})
	t.Cleanup(p.Stop)
	return p, ft, outcomes
}

func next(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for probe outcome")
		return outcome{}
	}
}

func okBackend(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/neighborhoods" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("probe carried Authorization header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	p, err := New(Options{BaseURL: "http://example.test/api/"})
	require.NoError(t, err)
	defer p.Stop()

	assert.Equal(t, "http://example.test/api/neighborhoods", p.URL())
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, StateUnknown, p.Status().State)
}

func TestPeriodicProbesStayConnected(t *testing.T) {
	srv := okBackend(t, http.StatusOK)
	logs := logstore.New(logstore.Options{})
	p, ft, outcomes := newTestProber(t, srv.URL+"/api", logs)

	require.NoError(t, p.Start())

	// Initial probe plus two ticks, as after 65s with a 30s interval.
	first := next(t, outcomes)
	assert.True(t, first.connected)
	assert.Equal(t, http.StatusOK, first.result.StatusCode)

	for i := 0; i < 2; i++ {
		ft.ch <- time.Now()
		o := next(t, outcomes)
		assert.True(t, o.connected)
	}

	st := p.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.False(t, st.LastCheck.IsZero())
	assert.Equal(t, http.StatusOK, st.StatusCode)

	var started, succeeded int
	for _, e := range logs.ByCategory(logstore.CategoryConnectivity) {
		switch e.Message {
		case "Starting connectivity check":
			started++
		case "Connectivity test successful":
			succeeded++
			require.NotNil(t, e.Data.Success)
			assert.True(t, *e.Data.Success)
			assert.NotNil(t, e.Data.ResponseTime)
		default:
			t.Errorf("unexpected connectivity entry %q", e.Message)
		}
	}
	assert.Equal(t, 3, started)
	assert.Equal(t, 3, succeeded)
}

func TestRedirectStatusCountsAsConnected(t *testing.T) {
	srv := okBackend(t, http.StatusNotModified)
	p, _, _ := newTestProber(t, srv.URL+"/api", nil)

	r, err := p.CheckNow(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Connected)
	assert.Equal(t, StateConnected, p.Status().State)
}

func TestServerErrorIsDisconnected(t *testing.T) {
	srv := okBackend(t, http.StatusServiceUnavailable)
	logs := logstore.New(logstore.Options{})
	p, _, _ := newTestProber(t, srv.URL+"/api", logs)

	r, err := p.CheckNow(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Connected)
	assert.Equal(t, http.StatusServiceUnavailable, r.StatusCode)
	assert.Equal(t, StateDisconnected, p.Status().State)

	entries := logs.ByCategory(logstore.CategoryConnectivity)
	require.NotEmpty(t, entries)
	assert.Equal(t, "Connectivity test failed", entries[len(entries)-1].Message)
}

func TestUnreachableIsDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logs := logstore.New(logstore.Options{})
	p, _, _ := newTestProber(t, url+"/api", logs)

	r, err := p.CheckNow(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Connected)
	assert.Zero(t, r.StatusCode)
	assert.NotEmpty(t, r.Error)

	st := p.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.NotEmpty(t, st.Error)

	entries := logs.ByCategory(logstore.CategoryConnectivity)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "Connectivity test error", last.Message)
	assert.NotEmpty(t, last.Data.Error)
}

func TestRecoveryAfterOutage(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, ft, outcomes := newTestProber(t, srv.URL+"/api", nil)
	require.NoError(t, p.Start())

	assert.False(t, next(t, outcomes).connected)
	assert.Equal(t, StateDisconnected, p.Status().State)

	down.Store(false)
	ft.ch <- time.Now()
	assert.True(t, next(t, outcomes).connected)
	assert.Equal(t, StateConnected, p.Status().State)
}

func TestStopSilencesProber(t *testing.T) {
	srv := okBackend(t, http.StatusOK)
	logs := logstore.New(logstore.Options{})
	p, ft, outcomes := newTestProber(t, srv.URL+"/api", logs)

	require.NoError(t, p.Start())
	next(t, outcomes)

	p.Stop()
	assert.True(t, ft.stopped.Load())
	n := logs.Len()

	_, err := p.CheckNow(context.Background())
	assert.True(t, errors.Is(err, ErrStopped))
	assert.True(t, errors.Is(p.Start(), ErrStopped))

	// The loop has exited, so a tick is never received.
	select {
	case ft.ch <- time.Now():
		t.Fatal("tick delivered after Stop")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, n, logs.Len())
	assert.Empty(t, outcomes)

	// Second Stop is a no-op.
	p.Stop()
}

func TestStopCancelsInFlightProbe(t *testing.T) {
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	}))
	defer srv.Close()

	logs := logstore.New(logstore.Options{})
	p, _, outcomes := newTestProber(t, srv.URL+"/api", logs)
	require.NoError(t, p.Start())

	<-entered
	p.Stop()

	assert.Empty(t, outcomes)
	assert.Equal(t, StateUnknown, p.Status().State)
	for _, e := range logs.ByCategory(logstore.CategoryConnectivity) {
		assert.Equal(t, "Starting connectivity check", e.Message)
	}
}

// returns fails the test if fn has not returned within a few seconds.
func returns(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("%s did not return", what)
	}
}

func TestObserverCanStopProber(t *testing.T) {
	srv := okBackend(t, http.StatusInternalServerError)
	logs := logstore.New(logstore.Options{})
	p, _, outcomes := newTestProber(t, srv.URL+"/api", logs)

	stopped := make(chan struct{})
	p.OnChange(func(connected bool, r Result) {
		if !connected {
			p.Stop()
			close(stopped)
		}
	})
	var later atomic.Int32
	p.OnChange(func(bool, Result) { later.Add(1) })

	require.NoError(t, p.Start())
	assert.False(t, next(t, outcomes).connected)
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop called from an observer did not return")
	}

	assert.Zero(t, later.Load())
	assert.Equal(t, StateDisconnected, p.Status().State)
	_, err := p.CheckNow(context.Background())
	assert.True(t, errors.Is(err, ErrStopped))

	n := logs.Len()
	returns(t, "second Stop", p.Stop)
	assert.Equal(t, n, logs.Len())
}

func TestObserverCanStopDuringCheckNow(t *testing.T) {
	srv := okBackend(t, http.StatusInternalServerError)
	p, _, outcomes := newTestProber(t, srv.URL+"/api", nil)
	require.NoError(t, p.Start())
	next(t, outcomes)

	var once atomic.Bool
	p.OnChange(func(bool, Result) {
		if once.CompareAndSwap(false, true) {
			p.Stop()
		}
	})

	returns(t, "CheckNow", func() {
		r, err := p.CheckNow(context.Background())
		assert.NoError(t, err)
		assert.False(t, r.Connected)
	})
	_, err := p.CheckNow(context.Background())
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestObserverCanCheckAgain(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _, outcomes := newTestProber(t, srv.URL+"/api", nil)

	var once atomic.Bool
	rechecked := make(chan Result, 1)
	p.OnChange(func(connected bool, _ Result) {
		if !connected && once.CompareAndSwap(false, true) {
			r, err := p.CheckNow(context.Background())
			assert.NoError(t, err)
			rechecked <- r
		}
	})

	// From the probe loop.
	require.NoError(t, p.Start())
	assert.False(t, next(t, outcomes).connected)
	select {
	case r := <-rechecked:
		assert.True(t, r.Connected)
	case <-time.After(3 * time.Second):
		t.Fatal("CheckNow called from an observer did not return")
	}
	assert.True(t, next(t, outcomes).connected)
	assert.Equal(t, StateConnected, p.Status().State)
}

func TestObserverCanCheckAgainFromCheckNow(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _, _ := newTestProber(t, srv.URL+"/api", nil)

	var once atomic.Bool
	var inner Result
	p.OnChange(func(connected bool, _ Result) {
		if !connected && once.CompareAndSwap(false, true) {
			inner, _ = p.CheckNow(context.Background())
		}
	})

	returns(t, "CheckNow", func() {
		r, err := p.CheckNow(context.Background())
		assert.NoError(t, err)
		assert.False(t, r.Connected)
	})
	assert.True(t, inner.Connected)
	assert.Equal(t, StateConnected, p.Status().State)
}

func TestStartTwice(t *testing.T) {
	srv := okBackend(t, http.StatusOK)
	p, _, outcomes := newTestProber(t, srv.URL+"/api", nil)

	require.NoError(t, p.Start())
	assert.Error(t, p.Start())
	next(t, outcomes)
}

func TestPanickingObserverIsContained(t *testing.T) {
	srv := okBackend(t, http.StatusOK)
	p, _, outcomes := newTestProber(t, srv.URL+"/api", nil)
	p.OnChange(func(bool, Result) { panic("observer broke") })

	r, err := p.CheckNow(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Connected)
	assert.True(t, next(t, outcomes).connected)
}

func TestProbeMetrics(t *testing.T) {
	srv := okBackend(t, http.StatusOK)
	rec := metrics.New()
	ft := &fakeTicker{ch: make(chan time.Time)}
	p, err := New(Options{
		BaseURL:   srv.URL + "/api",
		Metrics:   rec,
		Logger:    logging.Discard(),
		NewTicker: func(time.Duration) Ticker { return ft },
	})
	require.NoError(t, err)
	defer p.Stop()

	_, err = p.CheckNow(context.Background())
	require.NoError(t, err)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	var up float64 = -1
	for _, mf := range families {
		if mf.GetName() == "watergb_backend_up" {
			up = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(1), up)
}
