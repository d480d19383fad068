package main

import (
	"fmt"
	"log"
	"os"
	"time"
)

const logDate string = `2006-01-02T15:04:05.000-07:00`

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func logErrorf(format string, args ...any) {
	log.Printf("%s | ERROR: "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// openLogFile redirects the standard logger to cfg.logFile when set.
func openLogFile(cfg *Config) (*os.File, error) {
	if cfg.logFile == "" {
		return nil, nil
	}

	f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(f)

	return f, nil
}

// reqError is a client-attributable failure: a typed reason plus a
// human-readable comment, delivered as a single REQUEST_FAILED event.
type reqError struct {
	reason  failureReason
	comment string
}

func (e *reqError) Error() string {
	return string(e.reason) + ": " + e.comment
}

func failf(reason failureReason, format string, args ...any) *reqError {
	return &reqError{
		reason:  reason,
		comment: fmt.Sprintf(format, args...),
	}
}
