package obs

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogOptions controls the process-wide logger.
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // optional append-only log file
	Stderr bool   // also write to stderr when File is set
}

// SetupLogging configures the standard logrus logger. The returned closer
// releases the log file, if one was opened.
func SetupLogging(opts LogOptions) (io.Closer, error) {
	return configure(logrus.StandardLogger(), opts)
}

func configure(l *logrus.Logger, opts LogOptions) (io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		lv, err := logrus.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = lv
	}
	l.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			DisableColors:    true,
			QuoteEmptyFields: true,
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q (valid: text, json)", opts.Format)
	}

	if opts.File == "" {
		l.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if opts.Stderr {
		l.SetOutput(io.MultiWriter(os.Stderr, f))
	} else {
		l.SetOutput(f)
	}
	return f, nil
}

// Component returns an entry tagged with the component name. A nil base
// uses the standard logger.
func Component(base *logrus.Logger, name string) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return base.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
