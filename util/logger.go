// Package util - Logging, path and source-listing helpers shared by the commands.
package util

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLogger builds a text logger with full timestamps.
//
// Arguments:
// - level: A logrus level name ("debug", "info", "warn", ...); empty selects info.
// - out: Destination; nil selects stderr.
//
// Returns:
// - *logrus.Logger: The configured logger.
// - error: If level is not a valid level name.
func NewLogger(level string, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return log, errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)

	return log, nil
}
