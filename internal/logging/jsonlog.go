package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = newLogger(os.Stdout)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00",
		FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "message"},
	})
	l.SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
	return l
}

// ParseLevel maps LOG_LEVEL values to logrus levels, defaulting to info.
func ParseLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLevel changes the level of the process logger.
func SetLevel(level string) { base.SetLevel(ParseLevel(level)) }

// SetOutput redirects the process logger, mainly for tests.
func SetOutput(w io.Writer) { base.SetOutput(w) }

// Logger exposes the underlying logger for libraries that want one.
func Logger() *logrus.Logger { return base }

func Log(level logrus.Level, msg string, fields map[string]any) {
	base.WithFields(logrus.Fields(fields)).Log(level, msg)
}

func Debug(msg string, fields map[string]any) { Log(logrus.DebugLevel, msg, fields) }
func Info(msg string, fields map[string]any)  { Log(logrus.InfoLevel, msg, fields) }
func Warn(msg string, fields map[string]any)  { Log(logrus.WarnLevel, msg, fields) }
func Error(msg string, fields map[string]any) { Log(logrus.ErrorLevel, msg, fields) }
