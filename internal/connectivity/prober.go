// Package connectivity watches whether the backend is reachable.
//
// Features:
//   - Periodic probe on a fixed interval, plus an immediate probe on start
//   - Manual probe ("Test Connection") through CheckNow
//   - State machine Unknown -> Checking -> Connected/Disconnected
//   - Observer callbacks after every probe outcome
//   - Synchronous Stop: nothing is logged or observed once Stop returns,
//     apart from an observer the probe loop was already running
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"watergb/internal/httpclient"
	"watergb/internal/logstore"
	"watergb/internal/metrics"
)

// ErrStopped is returned by Start and CheckNow after Stop.
var ErrStopped = errors.New("connectivity: prober stopped")

// Defaults used when Options leaves a field zero.
const (
	DefaultInterval  = 30 * time.Second
	DefaultTimeout   = 15 * time.Second
	DefaultProbePath = "/neighborhoods"
)

// State is the prober's view of the backend.
type State string

const (
	StateUnknown      State = "unknown"
	StateChecking     State = "checking"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Result is the outcome of one probe.
type Result struct {
	Connected  bool          `json:"connected"`
	StatusCode int           `json:"status,omitempty"`
	Latency    time.Duration `json:"-"`
	LatencyMs  int64         `json:"responseTime,omitempty"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checkedAt"`
}

// Status is a snapshot of the prober state.
type Status struct {
	State      State         `json:"state"`
	LastCheck  time.Time     `json:"lastCheck"`
	Latency    time.Duration `json:"-"`
	LatencyMs  int64         `json:"responseTime,omitempty"`
	StatusCode int           `json:"status,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Observer is called on the probing goroutine after every probe outcome.
type Observer func(connected bool, r Result)

// Options configures a Prober.
type Options struct {
	// BaseURL is the API root; ProbePath is appended to it.
	BaseURL   string
	ProbePath string

	Interval time.Duration
	Timeout  time.Duration

	// Transport defaults to httpclient.NewTransport(nil).
	Transport http.RoundTripper

	Logs    *logstore.Store
	Metrics *metrics.Recorder
	Logger  *slog.Logger

	// NewTicker is used by the probe loop. Defaults to a time.Ticker.
	NewTicker func(time.Duration) Ticker
}

// Prober periodically checks the backend.
type Prober struct {
	url       string
	interval  time.Duration
	client    *http.Client
	logs      *logstore.Store
	metrics   *metrics.Recorder
	logger    *slog.Logger
	newTicker func(time.Duration) Ticker
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// probeMu serialises probes and guards stopped. Observers run
	// without it.
	probeMu sync.Mutex
	stopped bool

	// delivering is set only by the run goroutine while it calls
	// observers.
	delivering atomic.Bool

	mu        sync.RWMutex
	started   bool
	status    Status
	observers []Observer
}

// New creates a Prober. It does not probe until Start or CheckNow.
func New(opts Options) (*Prober, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("connectivity: base URL is required")
	}
	if opts.ProbePath == "" {
		opts.ProbePath = DefaultProbePath
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Transport == nil {
		opts.Transport = httpclient.NewTransport(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Prober{
		url:       strings.TrimRight(opts.BaseURL, "/") + opts.ProbePath,
		interval:  opts.Interval,
		client:    &http.Client{Transport: opts.Transport, Timeout: opts.Timeout},
		logs:      opts.Logs,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "connectivity"),
		newTicker: opts.NewTicker,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		status:    Status{State: StateUnknown},
	}, nil
}

// URL returns the probed URL.
func (p *Prober) URL() string {
	return p.url
}

// OnChange registers an observer.
func (p *Prober) OnChange(obs Observer) {
	p.mu.Lock()
	p.observers = append(p.observers, obs)
	p.mu.Unlock()
}

// Status returns the current state.
func (p *Prober) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Start probes immediately and then every interval until Stop.
func (p *Prober) Start() error {
	if p.ctx.Err() != nil {
		return ErrStopped
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("connectivity: prober already started")
	}
	p.started = true

	p.wg.Add(1)
	go p.run()
	return nil
}

func (p *Prober) run() {
	defer p.wg.Done()

	p.tick()

	ticker := p.newTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C():
			p.tick()
		}
	}
}

func (p *Prober) tick() {
	r, ok := p.check(p.ctx)
	if !ok {
		return
	}
	p.delivering.Store(true)
	defer p.delivering.Store(false)
	p.deliver(r)
}

// Stop cancels the timer and any in-flight probe and waits for them to
// finish. It is safe to call more than once, including from an observer.
func (p *Prober) Stop() {
	p.cancel()
	// The loop cannot wait for itself; after cancel it delivers nothing
	// more and exits once the current observer returns.
	if !p.delivering.Load() {
		p.wg.Wait()
	}

	// Wait out a CheckNow running on another goroutine.
	p.probeMu.Lock()
	p.stopped = true
	p.probeMu.Unlock()
}

// CheckNow runs a probe on the calling goroutine.
func (p *Prober) CheckNow(ctx context.Context) (Result, error) {
	if p.ctx.Err() != nil {
		return Result{}, ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(p.ctx, cancel)
	defer unhook()

	r, ok := p.check(ctx)
	if !ok {
		return Result{}, ErrStopped
	}
	p.deliver(r)
	return r, nil
}

// check runs one probe and records it. ok is false when the prober was
// stopped, in which case nothing was recorded and the state is unchanged.
func (p *Prober) check(ctx context.Context) (Result, bool) {
	p.probeMu.Lock()
	defer p.probeMu.Unlock()

	if p.stopped || p.ctx.Err() != nil {
		return Result{}, false
	}

	prev := p.setState(StateChecking)
	p.logs.Connectivity("Starting connectivity check", logstore.Data{
		URL:   p.url,
		Extra: map[string]any{"from": string(prev), "to": string(StateChecking)},
	})

	r := p.do(ctx)

	// A probe cut short by Stop leaves no trace.
	if p.ctx.Err() != nil {
		p.setState(prev)
		return Result{}, false
	}

	p.record(prev, r)
	return r, true
}

// deliver calls the observers in registration order until the prober is
// stopped. Observers may call CheckNow or Stop.
func (p *Prober) deliver(r Result) {
	p.mu.RLock()
	observers := append([]Observer(nil), p.observers...)
	p.mu.RUnlock()
	for _, obs := range observers {
		if p.ctx.Err() != nil {
			return
		}
		p.notify(obs, r)
	}
}

func (p *Prober) do(ctx context.Context) Result {
	start := p.now()
	r := Result{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		r.Error = fmt.Sprintf("build probe: %v", err)
		r.CheckedAt = p.now()
		return r
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		r.Error = err.Error()
		r.CheckedAt = p.now()
		return r
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	r.CheckedAt = p.now()
	r.StatusCode = resp.StatusCode
	r.Latency = r.CheckedAt.Sub(start)
	r.LatencyMs = r.Latency.Milliseconds()
	r.Connected = resp.StatusCode >= 200 && resp.StatusCode < 400
	return r
}

func (p *Prober) setState(s State) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.status.State
	p.status.State = s
	return prev
}

// record stores the outcome and logs the Checking -> outcome transition.
// prev is the state before the probe started.
func (p *Prober) record(prev State, r Result) {
	next := StateDisconnected
	if r.Connected {
		next = StateConnected
	}

	p.mu.Lock()
	p.status = Status{
		State:      next,
		LastCheck:  r.CheckedAt,
		Latency:    r.Latency,
		LatencyMs:  r.LatencyMs,
		StatusCode: r.StatusCode,
		Error:      r.Error,
	}
	p.mu.Unlock()

	data := logstore.Data{
		URL:     p.url,
		Status:  r.StatusCode,
		Success: logstore.Bool(r.Connected),
		Error:   r.Error,
		Extra:   map[string]any{"from": string(StateChecking), "to": string(next)},
	}
	if r.StatusCode != 0 {
		data.ResponseTime = logstore.Millis(r.Latency)
	}

	var msg string
	switch {
	case r.Connected:
		msg = "Connectivity test successful"
	case r.StatusCode != 0:
		msg = "Connectivity test failed"
	default:
		msg = "Connectivity test error"
	}
	p.logs.Connectivity(msg, data)
	p.metrics.ObserveProbe(r.Connected, r.Latency)

	if prev != next && prev != StateChecking {
		p.logger.Info("backend state changed", "from", prev, "to", next, "url", p.url)
	}
}

func (p *Prober) notify(obs Observer, r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("connectivity observer panicked", "panic", rec)
		}
	}()
	obs(r.Connected, r)
}
