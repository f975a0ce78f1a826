// Package auditlog is the audit log process's storage side: it appends
// every bus message it observes to a monthly rotating log file, the
// same layout original_source/backend/message-logging kept under
// /var/log/gridlock ("nats-<year>-<month>"), generalized to whatever
// directory this deployment points it at.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"
)

// Logger appends one line per observed message to a file named for the
// month it arrived in, rotating to a new file when the month changes.
// Not safe to copy; use NewLogger.
type Logger struct {
	dir string

	mu        sync.Mutex
	file      *os.File
	path      string
	yearMonth string
}

// NewLogger opens (creating if necessary) the log file for now's month
// under dir.
func NewLogger(dir string, now timeLike) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("auditlog: create directory %s: %w", dir, err)
	}
	l := &Logger{dir: dir}
	if err := l.rotate(now); err != nil {
		return nil, err
	}
	return l, nil
}

// timeLike is the subset of time.Time this package needs, so callers
// can supply the clock explicitly rather than the package reaching for
// time.Now itself.
type timeLike interface {
	Format(layout string) string
}

func (l *Logger) rotate(now timeLike) error {
	yearMonth := now.Format("2006-01")
	if l.file != nil && l.yearMonth == yearMonth {
		return nil
	}
	if l.file != nil {
		l.file.Close()
	}
	path := filepath.Join(l.dir, fmt.Sprintf("nats-%s", yearMonth))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("auditlog: open log file %s: %w", path, err)
	}
	l.file = f
	l.path = path
	l.yearMonth = yearMonth
	return nil
}

// LogMessage appends one entry for a message observed on subject at
// receivedAt, rotating the backing file first if receivedAt falls in a
// new month. Binary payloads are recorded by length rather than
// printed.
func (l *Logger) LogMessage(subject string, payload []byte, receivedAt timeLike) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotate(receivedAt); err != nil {
		return err
	}

	body := fmt.Sprintf("(binary, %d bytes)", len(payload))
	if utf8.Valid(payload) {
		body = string(payload)
	}
	line := fmt.Sprintf("[%s] %s\n  > %s\n", receivedAt.Format("2006-01-02T15:04:05"), subject, body)
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("auditlog: write entry: %w", err)
	}
	return nil
}

// Path reports the current log file's path.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close closes the current log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
