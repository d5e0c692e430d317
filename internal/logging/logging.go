// Package logging configures the structured JSON logger shared by every
// AXON component.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger writing JSON lines to stderr at the given
// level ("debug", "info", "warn", "error"; defaults to "info" on an
// unrecognized value).
func New(level string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return logrus.NewEntry(log)
}
