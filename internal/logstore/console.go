package logstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

var levelColors = map[Level]string{
	LevelError: "\033[31m", // Red
	LevelWarn:  "\033[33m", // Yellow
	LevelInfo:  "\033[34m", // Blue
	LevelDebug: "\033[90m", // Grey
}

const resetColor = "\033[0m"

// ConsoleSink writes one line per entry. Colour is applied only when the
// destination is a terminal.
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	useColor bool
}

// NewConsoleSink creates a sink writing to w. A nil w means stderr.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stderr
	}
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &ConsoleSink{w: w, useColor: useColor}
}

// Emit implements Sink.
func (c *ConsoleSink) Emit(e Entry) {
	line := fmt.Sprintf("[%s] [%s] [%s] %s",
		e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		strings.ToUpper(string(e.Level)),
		strings.ToUpper(string(e.Category)),
		e.Message)
	if c.useColor {
		line = levelColors[e.Level] + line + resetColor
	}
	if data, err := json.Marshal(e.Data); err == nil && string(data) != "{}" {
		line += " " + string(data)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}
