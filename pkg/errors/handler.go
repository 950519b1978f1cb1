package errors

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"sparkify/internal/common"
)

// ErrorLogFile is the name of the error log kept in the report directory.
const ErrorLogFile = "errors.log"

// DefaultMaxLogEntries bounds the entries an ErrorLog keeps in memory.
const DefaultMaxLogEntries = 100

// maxLogLine bounds one entry, stack included.
const maxLogLine = 1024 * 1024

// ErrorLogEntry is one line of the error log.
type ErrorLogEntry struct {
	Timestamp   time.Time              `json:"timestamp"`
	Command     string                 `json:"command,omitempty"`
	Code        ErrorCode              `json:"code"`
	Severity    ErrorSeverity          `json:"severity"`
	Message     string                 `json:"message"`
	Cause       string                 `json:"cause,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Stack       string                 `json:"stack,omitempty"`
	Recoverable bool                   `json:"recoverable"`
}

// ErrorLog appends failed commands to a JSON lines file and keeps the most
// recent entries in memory.
type ErrorLog struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	entries    []ErrorLogEntry
}

// NewErrorLog creates a log writing to path. maxEntries <= 0 means
// DefaultMaxLogEntries.
func NewErrorLog(path string, maxEntries int) *ErrorLog {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxLogEntries
	}
	return &ErrorLog{path: path, maxEntries: maxEntries}
}

// Record appends err. Informational errors, such as a cancelled
// confirmation, are skipped.
func (l *ErrorLog) Record(err error, command string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = Wrap(err, ErrCodeInternal, err.Error())
	}
	if appErr.Severity == SeverityInfo {
		return nil
	}

	entry := ErrorLogEntry{
		Timestamp:   appErr.Timestamp,
		Command:     command,
		Code:        appErr.Code,
		Severity:    appErr.Severity,
		Message:     appErr.Message,
		Context:     appErr.Context,
		Stack:       appErr.Stack,
		Recoverable: appErr.Recoverable,
	}
	if appErr.Cause != nil {
		entry.Cause = appErr.Cause.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	return l.write(entry)
}

func (l *ErrorLog) write(entry ErrorLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return Wrap(err, ErrCodeInternal, "Failed to encode error log entry")
	}
	if err := common.EnsureDir(filepath.Dir(l.path)); err != nil {
		return Wrap(err, ErrCodeFileOperation, "Failed to create error log directory")
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, common.FilePermissionNormal)
	if err != nil {
		return Wrap(err, ErrCodeFileOperation, "Failed to open error log").WithContext("path", l.path)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return Wrap(err, ErrCodeFileOperation, "Failed to write error log").WithContext("path", l.path)
	}
	return nil
}

// Load reads the entries already in the file, keeping the newest
// maxEntries. A missing file is an empty log. Lines that are not valid
// entries, such as a partial write, are skipped.
func (l *ErrorLog) Load() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return Wrap(err, ErrCodeFileOperation, "Failed to open error log").WithContext("path", l.path)
	}
	defer file.Close()

	l.mu.Lock()
	defer l.mu.Unlock()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		var entry ErrorLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		l.entries = append(l.entries, entry)
		if len(l.entries) > l.maxEntries {
			l.entries = l.entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return Wrap(err, ErrCodeFileOperation, "Failed to read error log").WithContext("path", l.path)
	}
	return nil
}

// Entries returns the entries held by this log, oldest first.
func (l *ErrorLog) Entries() []ErrorLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorLogEntry(nil), l.entries...)
}

// Summary counts the held entries per error code.
func (l *ErrorLog) Summary() map[ErrorCode]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary := make(map[ErrorCode]int)
	for _, e := range l.entries {
		summary[e.Code]++
	}
	return summary
}
