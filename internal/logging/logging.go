// Package logging provides the structured logger shared by every Summit
// subsystem, built on logrus the way the rest of the retrieved pack favors
// structured fields over bare fmt.Printf for a long-running daemon.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base *logrus.Logger
)

// Root returns the process-wide base logger, initialized on first use.
func Root() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		base.SetLevel(logrus.InfoLevel)
	})
	return base
}

// SetLevel adjusts the root logger's level, e.g. from a --verbose flag.
func SetLevel(level logrus.Level) {
	Root().SetLevel(level)
}

// For returns a component-scoped entry, e.g. logging.For("discovery").
func For(component string) *logrus.Entry {
	return Root().WithField("component", component)
}
