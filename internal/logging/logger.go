package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
)

// Logger prints to a std logger and forwards errors to rollbar when a token is configured.
type Logger struct {
	std     *log.Logger
	rollbar bool
}

// Options configures New.
type Options struct {
	Env          string
	RollbarToken string
	CodeVersion  string
	// Out defaults to stderr.
	Out io.Writer
}

// New builds a logger. Without a token rollbar stays disabled.
func New(opts Options) *Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	l := &Logger{std: log.New(out, "", log.LstdFlags|log.Lmicroseconds)}
	if opts.RollbarToken != "" {
		rollbar.SetToken(opts.RollbarToken)
		rollbar.SetEnvironment(opts.Env)
		if opts.CodeVersion != "" {
			rollbar.SetCodeVersion(opts.CodeVersion)
		}
		rollbar.SetEnabled(true)
		l.rollbar = true
	} else {
		rollbar.SetEnabled(false)
	}
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{std: log.New(io.Discard, "", 0)}
}

// Printf logs an informational line.
func (l *Logger) Printf(format string, v ...any) {
	l.std.Printf(format, v...)
}

// Error logs err with context and reports it.
func (l *Logger) Error(err error, format string, v ...any) {
	l.std.Printf(format+": %v", append(v, err)...)
	if l.rollbar {
		rollbar.ErrorWithExtras(rollbar.ERR, err, map[string]interface{}{
			"context": fmt.Sprintf(format, v...),
		})
	}
}

// Fatalf logs, flushes rollbar and exits.
func (l *Logger) Fatalf(format string, v ...any) {
	if l.rollbar {
		rollbar.Critical(fmt.Sprintf(format, v...))
		rollbar.Wait()
	}
	l.std.Fatalf(format, v...)
}

// Close flushes pending rollbar items.
func (l *Logger) Close() {
	if l.rollbar {
		rollbar.Close()
	}
}
