package logstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Level is the severity of a diagnostic entry.
type Level string

// Log levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// ParseLevel parses a level name. Unknown names are rejected.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return l, nil
	}
	return "", fmt.Errorf("unknown log level: %q", s)
}

// Category groups entries by the subsystem that produced them. The set is
// open; callers may log under their own categories.
type Category string

// Well-known categories.
const (
	CategoryAPI          Category = "api"
	CategoryAuth         Category = "auth"
	CategoryConnectivity Category = "connectivity"
	CategoryUI           Category = "ui"
	CategoryError        Category = "error"
)

// Data is the structured payload of an entry. The named fields cover the
// call sites in this module; Extra carries anything else.
type Data struct {
	Method       string         `json:"method,omitempty"`
	URL          string         `json:"url,omitempty"`
	Status       int            `json:"status,omitempty"`
	ResponseTime *int64         `json:"responseTime,omitempty"` // milliseconds
	Action       string         `json:"action,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	Error        string         `json:"error,omitempty"`
	Payload      any            `json:"payload,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Entry is one diagnostic record. Entries are never modified after they are
// appended to a Store.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Category  Category  `json:"category"`
	Message   string    `json:"message"`
	Data      Data      `json:"data"`
}

// Millis converts a duration to the millisecond form stored in Data.
func Millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// Bool returns a pointer to b, for Data.Success.
func Bool(b bool) *bool {
	return &b
}

// detach returns a copy of d whose Payload and Extra share no memory with
// the caller. Values that cannot be encoded are replaced by their fmt
// rendering so that logging never fails.
func (d Data) detach() Data {
	if d.ResponseTime != nil {
		ms := *d.ResponseTime
		d.ResponseTime = &ms
	}
	if d.Success != nil {
		d.Success = Bool(*d.Success)
	}
	if d.Payload != nil {
		d.Payload = normalize(d.Payload)
	}
	if len(d.Extra) == 0 {
		d.Extra = nil
	} else if extra, ok := normalize(d.Extra).(map[string]any); ok {
		d.Extra = extra
	} else {
		d.Extra = map[string]any{"unserializable": fmt.Sprintf("%v", d.Extra)}
	}
	return d
}

// normalize converts v into the generic JSON form (maps, slices, float64,
// string, bool, nil).
func normalize(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("%v", v)
		}
	}()

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}
