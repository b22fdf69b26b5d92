// Package logging configures the structured logger shared by every command
// in this module.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger type used throughout the module.
type Logger = *logrus.Logger

// Fields is a set of structured logging fields.
type Fields = logrus.Fields

// New creates a JSON-formatted logger with the level read from
// LOG_LEVEL, stamping a "service" field onto every entry it emits.
func New(serviceName string) Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(levelFromEnv())
	logger.AddHook(serviceHook{name: serviceName})
	return logger
}

// serviceHook stamps a constant "service" field onto every log entry.
type serviceHook struct{ name string }

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.name
	return nil
}

func levelFromEnv() logrus.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
