// Package debugserver exposes the diagnostic log, connectivity state and
// metrics on a local HTTP listener. It is the log viewer of the client.
package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"watergb/internal/connectivity"
	"watergb/internal/logstore"
	"watergb/internal/metrics"
)

// Prober is the part of the connectivity prober the server uses.
type Prober interface {
	Status() connectivity.Status
	CheckNow(ctx context.Context) (connectivity.Result, error)
}

// Options configures a Server. Logs is required.
type Options struct {
	Logs    *logstore.Store
	Prober  Prober
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Server serves the debug endpoints.
type Server struct {
	logs    *logstore.Store
	prober  Prober
	metrics *metrics.Recorder
	logger  *slog.Logger
	router  *mux.Router
	started time.Time
	now     func() time.Time
}

// New creates a Server. Prober and Metrics are optional; their routes
// answer 404 when absent.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		logs:    opts.Logs,
		prober:  opts.Prober,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "debugserver"),
		started: time.Now(),
		now:     time.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	logs := r.PathPrefix("/debug/logs").Subrouter()
	logs.HandleFunc("", s.handleLogs).Methods(http.MethodGet)
	logs.HandleFunc("", s.handleClear).Methods(http.MethodDelete)
	logs.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	logs.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	logs.HandleFunc("/enabled", s.handleEnabled).Methods(http.MethodGet, http.MethodPut)

	r.HandleFunc("/debug/connectivity", s.handleConnectivity).Methods(http.MethodGet)
	r.HandleFunc("/debug/connectivity/check", s.handleCheck).Methods(http.MethodPost)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("debug server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown debug server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		next.ServeHTTP(w, r)
		s.logger.Debug("debug request", "method", r.Method, "path", r.URL.Path, "duration", s.now().Sub(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"uptime":    s.now().Sub(s.started).Round(time.Second).String(),
		"timestamp": s.now(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := logstore.Category(q.Get("category"))

	var level logstore.Level
	if raw := q.Get("level"); raw != "" {
		l, err := logstore.ParseLevel(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		level = l
	}

	writeJSON(w, http.StatusOK, s.logs.Query(category, level))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.logs.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.logs.Summary())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.logs.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	name := fmt.Sprintf("watergb-logs-%s.json", s.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(data)
}

func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
			writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
			return
		}
		s.logs.SetEnabled(*body.Enabled)
		s.logger.Info("diagnostic log toggled", "enabled", *body.Enabled)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.logs.Enabled()})
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		writeError(w, http.StatusNotFound, "connectivity prober not running")
		return
	}
	writeJSON(w, http.StatusOK, s.prober.Status())
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		writeError(w, http.StatusNotFound, "connectivity prober not running")
		return
	}
	res, err := s.prober.CheckNow(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
