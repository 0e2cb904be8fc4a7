// Package tokenstore persists small secrets (the session token) in SQLite.
//
// Every value is stored next to an HMAC-SHA256 tag computed over its key and
// value. The MAC key is derived with HKDF from a random per-install secret
// kept in a separate owner-only file, so a value edited or moved outside
// the client reads back as ErrIntegrity instead of being trusted.
package tokenstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrNotFound is returned by Get for a key that was never stored.
	ErrNotFound = errors.New("tokenstore: not found")

	// ErrIntegrity is returned when a stored value fails verification.
	ErrIntegrity = errors.New("tokenstore: integrity check failed")
)

const (
	secretSize = 32
	macInfo    = "watergb tokenstore v1"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    mac         BLOB NOT NULL,
    updated_at  INTEGER NOT NULL
);
`

// Options configures Open.
type Options struct {
	// BusyTimeout is passed to SQLite. Zero means 5s.
	BusyTimeout time.Duration

	Logger *slog.Logger
}

// Store is a tamper-evident key-value store.
type Store struct {
	db     *sql.DB
	macKey []byte
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the database at dbPath, and the secret at keyPath.
func Open(dbPath, keyPath string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	secret, err := loadOrCreateSecret(keyPath)
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", dbPath, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The file only exists once a connection has been made.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := os.Chmod(dbPath, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:     db,
		macKey: macKey,
		logger: opts.Logger.With("component", "tokenstore"),
		now:    time.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var (
		value string
		mac   []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, mac FROM kv WHERE key = ?`, key).Scan(&value, &mac)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}

	if !hmac.Equal(mac, s.sign(key, value)) {
		s.logger.Warn("stored value failed verification", "key", key)
		return "", fmt.Errorf("read %s: %w", key, ErrIntegrity)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, mac, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, mac = excluded.mac, updated_at = excluded.updated_at`,
		key, value, s.sign(key, value), s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// sign binds the value to its key so rows cannot be swapped.
func (s *Store) sign(key, value string) []byte {
	h := hmac.New(sha256.New, s.macKey)
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return h.Sum(nil)
}

func deriveKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(macInfo))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// loadOrCreateSecret reads the install secret, generating it on first use.
func loadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) < secretSize {
			return nil, fmt.Errorf("secret %s is %d bytes, want %d", path, len(secret), secretSize)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create secret directory: %w", err)
	}

	secret = make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	// The secret is written in full under a temporary name and then linked
	// into place, so readers never see a partial file and an existing
	// secret is never replaced.
	f, err := os.CreateTemp(filepath.Dir(path), ".secret-*")
	if err != nil {
		return nil, fmt.Errorf("create secret: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(secret); err != nil {
		f.Close()
		return nil, fmt.Errorf("write secret: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write secret: %w", err)
	}
	if err := os.Link(tmp, path); err != nil {
		if os.IsExist(err) {
			// Lost a race with another process; use its secret.
			return loadOrCreateSecret(path)
		}
		return nil, fmt.Errorf("install secret: %w", err)
	}
	return secret, nil
}
