// Package logging configures the logrus logger shared by every command.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// ServiceName is attached to every log entry.
const ServiceName = "sparkify"

// New returns an entry carrying the service field, writing text logs to out
// at the given level. A nil out writes to stderr.
func New(level string, out io.Writer) (*log.Entry, error) {
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if out == nil {
		out = os.Stderr
	}

	logger := log.New()
	logger.SetOutput(out)
	logger.SetLevel(logLevel)
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return logger.WithField("service", ServiceName), nil
}

// Discard returns a logger that drops everything, for callers that were not
// handed one.
func Discard() log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l log.FieldLogger) log.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}
