// Package logging builds the loggers shared by every component.
//
// Output always goes to stderr. When a log file is configured it is also
// written there, rotated by size with old files pruned by count and age.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	// File enables the rotating log file when set.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Quiet drops stderr output, leaving only the file.
	Quiet bool
}

// Logs hands out component loggers that share one writer.
type Logs struct {
	w    io.Writer
	file *lumberjack.Logger
}

// New creates the shared writer.
func New(opts Options) (*Logs, error) {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	l := &Logs{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, err
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, l.file)
	}

	switch len(writers) {
	case 0:
		l.w = io.Discard
	case 1:
		l.w = writers[0]
	default:
		l.w = io.MultiWriter(writers...)
	}
	return l, nil
}

// Writer returns the shared writer.
func (l *Logs) Writer() io.Writer {
	return l.w
}

// For returns a logger prefixed with [component].
func (l *Logs) For(component string) *log.Logger {
	return log.New(l.w, "["+component+"] ", log.LstdFlags)
}

// Close closes the log file, if any.
func (l *Logs) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
