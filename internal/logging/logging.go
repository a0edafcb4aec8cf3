// Package logging configures the shared logrus logger used across every
// role process, following the pattern in the teacher's background worker
// pool: one *logrus.Logger injected into long-lived components rather
// than a package-level global mutated from many places.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Options controls the logger constructed by New.
type Options struct {
	Level     string // one of logrus' ParseLevel strings; defaults to "info"
	JSON      bool   // use the JSON formatter (the default for role processes)
	Service   string // service name, attached to every entry as "service"
}

// New builds a configured *logrus.Logger for a role process.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.Service != "" {
		logger.AddHook(serviceHook{service: opts.Service})
	}
	return logger
}

// serviceHook sets the "service" field on every entry that does not
// already carry one.
type serviceHook struct{ service string }

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = h.service
	}
	return nil
}

// WithCorrelationID returns an entry tagged with a correlation id, the
// field apierr.Internal expects to find echoed in logs (spec §7).
func WithCorrelationID(logger *logrus.Logger, correlationID string) *logrus.Entry {
	return logger.WithField("correlation_id", correlationID)
}
