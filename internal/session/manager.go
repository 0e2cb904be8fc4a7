// Package session holds the authentication state of the client.
//
// The bearer token lives in durable storage; the Manager keeps the derived
// user in memory and serialises every write to the stored token so that a
// logout can never interleave with a login.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"watergb/internal/api"
	"watergb/internal/httpclient"
	"watergb/internal/logstore"
)

// ErrSessionChanged is returned by Login when a logout or another login
// completed while the request was in flight. Nothing is written.
var ErrSessionChanged = errors.New("session: changed during login")

// Authenticator is the auth part of the API facade.
type Authenticator interface {
	Login(ctx context.Context, c api.Credentials) (*api.AuthResponse, error)
	Register(ctx context.Context, c api.Credentials) (*api.AuthResponse, error)
}

// TokenStore is durable storage for the bearer token.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Options configures a Manager.
type Options struct {
	Auth   Authenticator
	Tokens TokenStore
	Logs   *logstore.Store
	Logger *slog.Logger
}

// Manager is the process-wide session.
type Manager struct {
	auth   Authenticator
	tokens TokenStore
	logs   *logstore.Store
	logger *slog.Logger

	// mu serialises token writes and guards the fields below.
	mu   sync.Mutex
	gen  uint64
	user *User
}

// New creates a Manager. Call Init to restore a stored session.
func New(opts Options) (*Manager, error) {
	if opts.Auth == nil || opts.Tokens == nil {
		return nil, errors.New("session: authenticator and token store are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		auth:   opts.Auth,
		tokens: opts.Tokens,
		logs:   opts.Logs,
		logger: opts.Logger.With("component", "session"),
	}, nil
}

// Init restores the session from the stored token without asking the
// server. A token that cannot be read counts as no token.
func (m *Manager) Init(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.logs.Error("Error reading stored token", err, logstore.Data{})
		m.logger.Warn("stored token unreadable", "error", err)
		m.user = nil
		return false
	}
	if token == "" {
		m.logs.Auth("No stored session", false, logstore.Data{})
		m.user = nil
		return false
	}

	u := userFromToken(token, "")
	m.user = &u
	m.logs.Auth("Session restored", true, logstore.Data{Extra: map[string]any{"username": u.Username}})
	return true
}

// Authenticated reports whether a user is logged in.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil
}

// User returns the current user, or nil.
func (m *Manager) User() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Login authenticates and stores the returned token. On failure nothing is
// stored and a *Failure describes why.
func (m *Manager) Login(ctx context.Context, username, password string) (*User, error) {
	creds := api.Credentials{Username: strings.TrimSpace(username), Password: password}
	data := logstore.Data{Extra: map[string]any{"username": creds.Username}}

	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	resp, err := m.auth.Login(ctx, creds)
	if err != nil {
		f := newFailure(err, MsgLoginFailed)
		data.Error = err.Error()
		m.logs.Auth("Login failed", false, data)
		return nil, f
	}
	if resp.Token == "" {
		f := &Failure{Reason: ReasonNoToken, Message: MsgLoginFailed}
		data.Error = "response carried no token"
		m.logs.Auth("Login failed", false, data)
		return nil, f
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		m.logs.Auth("Login discarded", false, data)
		return nil, ErrSessionChanged
	}
	if err := m.tokens.SetToken(ctx, resp.Token); err != nil {
		data.Error = err.Error()
		m.logs.Auth("Login failed", false, data)
		return nil, &Failure{Reason: ReasonStorage, Message: api.MsgUnexpected, Err: fmt.Errorf("store token: %w", err)}
	}
	m.gen++

	u := userFromResponse(resp, creds.Username)
	m.user = &u
	m.logs.Auth("Login successful", true, data)
	m.logger.Info("logged in", "username", u.Username)
	u2 := u
	return &u2, nil
}

// Register creates an account. The caller still has to log in.
func (m *Manager) Register(ctx context.Context, username, password string) error {
	creds := api.Credentials{Username: strings.TrimSpace(username), Password: password}
	data := logstore.Data{Extra: map[string]any{"username": creds.Username}}

	if _, err := m.auth.Register(ctx, creds); err != nil {
		data.Error = err.Error()
		m.logs.Auth("Registration failed", false, data)
		return newFailure(err, MsgRegisterFailed)
	}
	m.logs.Auth("Registration successful", true, data)
	return nil
}

// Logout clears the stored token. It is a no-op when logged out.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logoutLocked(ctx, "Logout")
}

func (m *Manager) logoutLocked(ctx context.Context, action string) error {
	m.gen++
	wasLoggedIn := m.user != nil
	m.user = nil

	if err := m.tokens.ClearToken(ctx); err != nil {
		m.logs.Error("Error clearing token", err, logstore.Data{Action: action})
		return fmt.Errorf("clear token: %w", err)
	}
	if wasLoggedIn {
		m.logs.Auth(action, true, logstore.Data{})
	}
	return nil
}

// HandleError invalidates the session when err is an authorization
// failure from the backend. It reports whether the session was dropped.
func (m *Manager) HandleError(ctx context.Context, err error) bool {
	if !httpclient.IsAuthError(err) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return false
	}
	m.logs.Auth("Session rejected by server", false, logstore.Data{Error: err.Error()})
	if cerr := m.logoutLocked(ctx, "Session invalidated"); cerr != nil {
		m.logger.Warn("session invalidation incomplete", "error", cerr)
	}
	return true
}
