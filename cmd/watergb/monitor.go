package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"watergb/internal/api"
	"watergb/internal/config"
	"watergb/internal/connectivity"
	"watergb/internal/debugserver"
	"watergb/internal/logstore"
)

// proberRef is the prober currently in use. Config reloads swap it.
type proberRef struct {
	mu sync.RWMutex
	p  *connectivity.Prober
}

func (r *proberRef) get() *connectivity.Prober {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.p
}

func (r *proberRef) swap(p *connectivity.Prober) *connectivity.Prober {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.p
	r.p = p
	return old
}

func (r *proberRef) Status() connectivity.Status {
	if p := r.get(); p != nil {
		return p.Status()
	}
	return connectivity.Status{State: connectivity.StateUnknown}
}

func (r *proberRef) CheckNow(ctx context.Context) (connectivity.Result, error) {
	p := r.get()
	if p == nil {
		return connectivity.Result{}, connectivity.ErrStopped
	}
	return p.CheckNow(ctx)
}

// monitor runs a prober and prints every state transition.
type monitor struct {
	a   *app
	ref proberRef

	// mu serialises prober restarts.
	mu sync.Mutex
}

func (m *monitor) start(cfg *config.Config) error {
	p, err := m.a.newProber(cfg)
	if err != nil {
		return err
	}

	var (
		lastMu sync.Mutex
		last   = connectivity.StateUnknown
	)
	p.OnChange(func(connected bool, r connectivity.Result) {
		state := connectivity.StateDisconnected
		if connected {
			state = connectivity.StateConnected
		}
		lastMu.Lock()
		changed := state != last
		last = state
		lastMu.Unlock()
		if !changed {
			return
		}
		ts := r.CheckedAt.Local().Format(time.TimeOnly)
		if connected {
			fmt.Fprintf(m.a.stdout, "%s  %s (%d ms)\n", ts, api.MsgConnected, r.LatencyMs)
		} else {
			fmt.Fprintf(m.a.stdout, "%s  %s %s\n", ts, api.MsgDisconnected, r.Error)
		}
	})

	if old := m.ref.swap(p); old != nil {
		old.Stop()
	}
	return p.Start()
}

func (m *monitor) stop() {
	if p := m.ref.swap(nil); p != nil {
		p.Stop()
	}
}

// reload applies a new config. The prober restarts only when what it
// probes, or how often, has changed.
func (m *monitor) reload(old, cfg *config.Config) {
	m.a.logs.SetEnabled(cfg.Diagnostics.Enabled)

	if old != nil &&
		old.API.ResolvedBaseURL() == cfg.API.ResolvedBaseURL() &&
		old.API.CAFile == cfg.API.CAFile &&
		old.Connectivity == cfg.Connectivity {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.start(cfg); err != nil {
		m.a.log.Error("restart prober", "error", err)
		return
	}
	m.a.logs.Connectivity("Connectivity settings reloaded", logstore.Data{URL: cfg.API.ResolvedBaseURL()})
	fmt.Fprintf(m.a.stdout, "Monitoring %s\n", m.ref.get().URL())
}

func cmdMonitor(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "monitor")
	addr := fs.String("addr", a.cfg.Diagnostics.DebugAddr, "debug server address (empty disables it)")
	watch := fs.Bool("watch", true, "reload the config file when it changes")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
		return usagef("watergb monitor [-addr <host:port>] [-watch=false]")
	}

	m := &monitor{a: a}
	m.mu.Lock()
	err := m.start(a.cfg)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	defer m.stop()
	fmt.Fprintf(a.stdout, "Monitoring %s every %s\n", m.ref.get().URL(), a.cfg.Connectivity.Interval())

	if *watch && a.cfgPath != "" {
		if _, err := os.Stat(a.cfgPath); err == nil {
			loader := config.NewLoader(a.cfgPath, a.logger.Logger)
			if _, err := loader.Load(); err != nil {
				return err
			}
			loader.OnChange(func(old, cfg *config.Config) { m.reload(old, cfg) })
			if err := loader.Watch(); err != nil {
				a.log.Warn("config watch unavailable", "error", err)
			} else {
				defer loader.Close()
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case err := <-loader.Errors():
							a.logs.Error("Config reload failed", err, logstore.Data{})
						}
					}
				}()
			}
		}
	}

	if *addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := debugserver.New(debugserver.Options{
		Logs:    a.logs,
		Prober:  &m.ref,
		Metrics: a.metrics,
		Logger:  a.logger.Logger,
	})
	fmt.Fprintf(a.stdout, "Debug endpoints on http://%s/debug/logs\n", *addr)
	if err := srv.ListenAndServe(ctx, *addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
