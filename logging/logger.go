package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Init configures the process-wide logger: leveled logrus output to stdout
// plus a size-rotated log file. Safe to call more than once.
func Init() {
	once.Do(func() {
		logger = logrus.New()
		logger.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))

		rotator := &lumberjack.Logger{
			Filename:   logFilePath(),
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))

		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	})
}

func logFilePath() string {
	if p := os.Getenv("LOG_FILE"); p != "" {
		return p
	}
	return "reviewpilot.log"
}

func parseLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
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

// Component returns an entry tagged with the component name. Callers keep the
// entry in a struct field rather than calling this per log line.
func Component(name string) *logrus.Entry {
	if logger == nil {
		Init()
	}
	return logger.WithField("component", name)
}

// L returns the shared logger, initializing it with defaults if needed.
func L() *logrus.Logger {
	if logger == nil {
		Init()
	}
	return logger
}
