// Package logstore keeps the diagnostic log of the client in memory.
//
// Features:
//   - Bounded ring buffer (oldest entries evicted first)
//   - Level and category tagging with filtered queries
//   - JSON export
//   - Optional console mirror with colour by level
//   - Runtime enable/disable switch checked on every write
//
// A Store is never persisted; it lives as long as the process.
package logstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxLogs is the capacity used when Options.MaxLogs is not set.
const DefaultMaxLogs = 1000

// Sink receives a copy of every stored entry.
type Sink interface {
	Emit(Entry)
}

// Options configures a Store.
type Options struct {
	// MaxLogs is the ring capacity. Zero means DefaultMaxLogs.
	MaxLogs int

	// Disabled starts the store switched off.
	Disabled bool

	// Sink mirrors entries, typically to a terminal. Optional.
	Sink Sink
}

// Store is a bounded, ordered, in-memory log.
type Store struct {
	mu       sync.RWMutex
	buf      []Entry
	head     int // index of the oldest entry once the ring is full
	capacity int
	seq      atomic.Uint64
	enabled  atomic.Bool

	sink      Sink
	pendingMu sync.Mutex
	pending   []Entry
	mirroring atomic.Bool

	now func() time.Time
}

// New creates a Store.
func New(opts Options) *Store {
	capacity := opts.MaxLogs
	if capacity <= 0 {
		capacity = DefaultMaxLogs
	}
	s := &Store{
		capacity: capacity,
		sink:     opts.Sink,
		now:      time.Now,
	}
	s.enabled.Store(!opts.Disabled)
	return s
}

// SetEnabled switches recording on or off.
func (s *Store) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled reports whether the store records entries.
func (s *Store) Enabled() bool {
	return s != nil && s.enabled.Load()
}

// Capacity returns the maximum number of retained entries.
func (s *Store) Capacity() int {
	return s.capacity
}

// Log appends an entry. It never fails and does nothing when the store is
// disabled.
func (s *Store) Log(level Level, category Category, message string, data Data) {
	if !s.Enabled() {
		return
	}

	data = data.detach()

	s.mu.Lock()
	ts := s.now().UTC()
	entry := Entry{
		ID:        s.newID(ts),
		Timestamp: ts,
		Level:     level,
		Category:  category,
		Message:   message,
		Data:      data,
	}
	if len(s.buf) < s.capacity {
		s.buf = append(s.buf, entry)
	} else {
		s.buf[s.head] = entry
		s.head = (s.head + 1) % s.capacity
	}
	s.mu.Unlock()

	s.mirror(entry)
}

// newID returns a time-ordered identifier. Called with s.mu held so ids
// follow insertion order.
func (s *Store) newID(ts time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%d-%d", ts.UnixMilli(), s.seq.Add(1))
	}
	return id.String()
}

// All returns a copy of every entry, oldest first.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.buf))
	out = append(out, s.buf[s.head:]...)
	out = append(out, s.buf[:s.head]...)
	return out
}

// ByCategory returns the entries of one category, oldest first.
func (s *Store) ByCategory(category Category) []Entry {
	return s.filter(func(e *Entry) bool { return e.Category == category })
}

// ByLevel returns the entries of one level, oldest first.
func (s *Store) ByLevel(level Level) []Entry {
	return s.filter(func(e *Entry) bool { return e.Level == level })
}

// Query returns entries matching both filters; an empty filter matches all.
func (s *Store) Query(category Category, level Level) []Entry {
	return s.filter(func(e *Entry) bool {
		return (category == "" || e.Category == category) && (level == "" || e.Level == level)
	})
}

func (s *Store) filter(keep func(*Entry) bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0)
	for _, part := range [][]Entry{s.buf[s.head:], s.buf[:s.head]} {
		for i := range part {
			if keep(&part[i]) {
				out = append(out, part[i])
			}
		}
	}
	return out
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	clear(s.buf)
	s.buf = s.buf[:0]
	s.head = 0
	s.mu.Unlock()
}

// Summary counts entries by category and level.
type Summary struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"byCategory"`
	ByLevel    map[Level]int    `json:"byLevel"`
}

// Summary returns entry counts.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		Total:      len(s.buf),
		ByCategory: make(map[Category]int),
		ByLevel:    make(map[Level]int),
	}
	for i := range s.buf {
		sum.ByCategory[s.buf[i].Category]++
		sum.ByLevel[s.buf[i].Level]++
	}
	return sum
}

// Export serialises every entry as an indented JSON array.
func (s *Store) Export() ([]byte, error) {
	data, err := json.MarshalIndent(s.All(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export logs: %w", err)
	}
	return data, nil
}

// ParseExport decodes the output of Export.
func ParseExport(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse log export: %w", err)
	}
	return entries, nil
}

// mirror forwards an entry to the sink. Entries logged while the sink is
// busy (including from inside the sink) are queued; the goroutine that owns
// the sink forwards them until the queue is empty. A sink that logs for
// every entry it receives therefore keeps its owner busy.
func (s *Store) mirror(e Entry) {
	if s.sink == nil {
		return
	}

	s.pendingMu.Lock()
	s.pending = append(s.pending, e)
	if over := len(s.pending) - s.capacity; over > 0 {
		s.pending = s.pending[over:]
	}
	s.pendingMu.Unlock()

	// An entry queued between drain and the release was refused by the
	// CAS, so look again after releasing.
	for s.mirroring.CompareAndSwap(false, true) {
		s.drain()
		s.mirroring.Store(false)

		s.pendingMu.Lock()
		left := len(s.pending)
		s.pendingMu.Unlock()
		if left == 0 {
			return
		}
	}
}

func (s *Store) drain() {
	for {
		s.pendingMu.Lock()
		if len(s.pending) == 0 {
			s.pendingMu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending[0] = Entry{}
		s.pending = s.pending[1:]
		s.pendingMu.Unlock()

		s.emit(next)
	}
}

func (s *Store) emit(e Entry) {
	defer func() {
		_ = recover()
	}()
	s.sink.Emit(e)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Entry)

// Emit implements Sink.
func (f SinkFunc) Emit(e Entry) { f(e) }
