package app

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging sets the global logrus level and formatter.
func ConfigureLogging(out io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(lvl)
	if out != nil {
		logrus.SetOutput(out)
	}

	switch format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("log format %q not supported", format)
	}
	return nil
}
