// Package logging builds the logrus logger shared by every tunnel component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr at level ("debug", "info", ...)
// in format "text" or "json".
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stderr, level, format)
}

func NewWithOutput(w io.Writer, level, format string) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, oops.In("logging").With("level", level).Wrapf(err, "parse log level")
	}
	l.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, oops.In("logging").With("format", format).Errorf("unknown log format %q", format)
	}
	return l, nil
}

// Discard is a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
