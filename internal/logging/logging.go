package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logger for one service component. Unknown levels fall back
// to info, and any format other than json gives text output.
func New(component, level, format string) *logrus.Entry {
	return NewWithOutput(os.Stderr, component, level, format)
}

func NewWithOutput(w io.Writer, component, level, format string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger.WithField("component", component)
}

// Discard returns a logger that writes nowhere, for tests.
func Discard() *logrus.Entry {
	return NewWithOutput(io.Discard, "test", "panic", "text")
}
