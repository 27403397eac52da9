// Package logging builds the logrus entry shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// IsProduction reports whether the environment flag selects production mode.
func IsProduction(environment string) bool {
	return strings.EqualFold(strings.TrimSpace(environment), EnvironmentProduction)
}

// New returns a logger configured for the environment. Production logs are
// JSON at info level; everything else is human readable text at debug level.
// A non-empty level overrides the environment default.
func New(environment, level, service string) *log.Entry {
	logger := log.New()
	logger.SetOutput(os.Stdout)

	if IsProduction(environment) {
		logger.SetFormatter(&log.JSONFormatter{})
		logger.SetLevel(log.InfoLevel)
	} else {
		logger.SetFormatter(&log.TextFormatter{
			ForceColors:   true,
			FullTimestamp: true,
		})
		logger.SetLevel(log.DebugLevel)
	}

	if level != "" {
		if lvl, err := log.ParseLevel(level); err == nil {
			logger.SetLevel(lvl)
		} else {
			logger.WithError(err).Warnf("unknown log level %q, keeping %s", level, logger.GetLevel())
		}
	}

	return logger.WithField("service", service)
}

// Discard returns an entry that drops everything. Used by tests.
func Discard() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}
