// Package logging wraps logrus: explicit constructor, explicit injection,
// no package-level logger except a fallback for code paths that genuinely
// can't take a constructor argument.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// fallback is used only by package-level helper code that predates proper
// dependency injection.
var fallback = New("info")

// New builds a *logrus.Logger configured with a plain-text formatter at
// the given level. An unrecognized level falls back to Info.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Fallback returns the package-level fallback logger.
func Fallback() *logrus.Logger { return fallback }

// Component returns a *logrus.Entry tagged with a "component" field, the
// shape every package in this repository uses to identify its log lines.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}
