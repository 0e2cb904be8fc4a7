package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"watergb/internal/api"
	"watergb/internal/config"
	"watergb/internal/connectivity"
	"watergb/internal/httpclient"
	"watergb/internal/logging"
	"watergb/internal/logstore"
	"watergb/internal/metrics"
	"watergb/internal/session"
	"watergb/internal/tokenstore"
)

// app is everything a command needs, wired from the config.
type app struct {
	cfgPath string
	cfg     *config.Config

	logger  *logging.Logger
	log     *slog.Logger
	metrics *metrics.Recorder
	logs    *logstore.Store
	store   *tokenstore.Store
	http    *httpclient.Client
	api     *api.Client
	session *session.Manager

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func loggingConfig(c config.LoggingConfig) (*logging.Config, error) {
	lc := logging.DefaultConfig()
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = format
	lc.Output = c.Output
	lc.FilePath = c.FilePath
	lc.MaxSize = int64(c.MaxSizeMB)
	lc.MaxBackups = c.MaxBackups
	lc.MaxAge = c.MaxAgeDays
	lc.Compress = c.Compress
	return lc, nil
}

// diagnosticSink counts every entry and mirrors it to the console when
// enabled.
func diagnosticSink(rec *metrics.Recorder, console *logstore.ConsoleSink) logstore.Sink {
	return logstore.SinkFunc(func(e logstore.Entry) {
		rec.ObserveLogEntry(string(e.Level))
		if console != nil {
			console.Emit(e)
		}
	})
}

func newApp(ctx context.Context, cfgPath string, stdin io.Reader, stdout, stderr io.Writer) (*app, error) {
	if cfgPath == "" {
		cfgPath = config.FindConfigFile()
	}
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lc, err := loggingConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logging.SetDefault(logger)

	a := &app{
		cfgPath: cfgPath,
		cfg:     cfg,
		logger:  logger,
		log:     logger.WithComponent("cli"),
		metrics: metrics.New(),
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}

	var console *logstore.ConsoleSink
	if cfg.Diagnostics.Console {
		console = logstore.NewConsoleSink(stderr)
	}
	a.logs = logstore.New(logstore.Options{
		MaxLogs:  cfg.Diagnostics.MaxLogs,
		Disabled: !cfg.Diagnostics.Enabled,
		Sink:     diagnosticSink(a.metrics, console),
	})

	if err := cfg.EnsureDirectories(); err != nil {
		a.close()
		return nil, err
	}
	a.store, err = tokenstore.Open(cfg.Storage.TokenDBPath, cfg.Storage.KeyPath, tokenstore.Options{
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeoutMs) * time.Millisecond,
		Logger:      logger.WithComponent("tokenstore"),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open token store: %w", err)
	}

	opts := httpclient.Options{
		BaseURL:       cfg.API.ResolvedBaseURL(),
		Timeout:       cfg.API.Timeout(),
		Tokens:        a.store.Tokens(),
		Logs:          a.logs,
		Metrics:       a.metrics,
		Logger:        logger.Logger,
		MaxLoggedBody: cfg.API.MaxLoggedBodyBytes,
	}
	if cfg.API.CAFile != "" {
		if opts.RootCAs, err = httpclient.LoadRootCAs(cfg.API.CAFile); err != nil {
			a.close()
			return nil, err
		}
	}
	a.http, err = httpclient.New(opts)
	if err != nil {
		a.close()
		return nil, err
	}
	a.api = api.New(a.http)

	a.session, err = session.New(session.Options{
		Auth:   a.api.Auth,
		Tokens: a.store.Tokens(),
		Logs:   a.logs,
		Logger: logger.Logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.session.Init(ctx)

	a.logs.Connectivity("API Configuration", logstore.Data{
		URL:   a.http.BaseURL(),
		Extra: map[string]any{"environment": cfg.API.Environment},
	})
	return a, nil
}

// newProber builds a prober for the configured backend.
func (a *app) newProber(cfg *config.Config) (*connectivity.Prober, error) {
	opts := connectivity.Options{
		BaseURL:   cfg.API.ResolvedBaseURL(),
		ProbePath: cfg.Connectivity.ProbePath,
		Interval:  cfg.Connectivity.Interval(),
		Timeout:   cfg.Connectivity.Timeout(),
		Logs:      a.logs,
		Metrics:   a.metrics,
		Logger:    a.logger.Logger,
	}
	if cfg.API.CAFile != "" {
		pool, err := httpclient.LoadRootCAs(cfg.API.CAFile)
		if err != nil {
			return nil, err
		}
		opts.Transport = httpclient.NewTransport(pool)
	}
	return connectivity.New(opts)
}

// dumpLogs writes the diagnostic log export to path.
func (a *app) dumpLogs(path string) error {
	data, err := a.logs.Export()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write log export: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close token store", "error", err)
		}
	}
	if a.logger != nil {
		a.logger.Close()
	}
}
