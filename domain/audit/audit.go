package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Murilovisque/logs/v3"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// Log is an append-only trail of decisions, one "<timestamp> - <message>" line per entry.
// Writing is best-effort: failures go to the process logger and are otherwise dropped. A nil
// *Log discards everything.
type Log struct {
	mu     sync.Mutex
	w      io.Writer
	f      *os.File
	logger logs.Logger
}

// Open prepares the audit file for appending. An empty path gives a disabled log.
func Open(path string) *Log {
	l := &Log{logger: logs.NewChildLogger(logs.FixedFieldValue("audit", path))}
	if path == "" {
		l.w = io.Discard
		return l
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		l.logger.Errorf("audit directory unavailable, entries will be lost. Error: %s", err)
		l.w = io.Discard
		return l
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.logger.Errorf("audit file unavailable, entries will be lost. Error: %s", err)
		l.w = io.Discard
		return l
	}
	l.f = f
	l.w = f
	return l
}

func NewWriterLog(w io.Writer) *Log {
	return &Log{w: w, logger: logs.NewChildLogger(logs.FixedFieldValue("audit", "writer"))}
}

func (l *Log) Append(at time.Time, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	if _, err := fmt.Fprintf(l.w, "%s - %s\n", at.Format(timestampLayout), message); err != nil {
		l.logger.Errorf("audit entry lost '%s'. Error: %s", message, err)
	}
}

func (l *Log) Appendf(at time.Time, format string, args ...any) {
	l.Append(at, fmt.Sprintf(format, args...))
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	l.w = nil
	return err
}
