package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// levelMap maps LOG_LEVEL strings to logrus levels
var levelMap = map[string]logrus.Level{
	"DEBUG": logrus.DebugLevel,
	"INFO":  logrus.InfoLevel,
	"WARN":  logrus.WarnLevel,
	"ERROR": logrus.ErrorLevel,
	"FATAL": logrus.FatalLevel,
}

// Init initializes the logger with the log level from the environment
func Init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		log.SetLevel(logrus.InfoLevel)
		return
	}

	level, exists := levelMap[strings.ToUpper(logLevel)]
	if !exists {
		log.Warnf("Invalid LOG_LEVEL: %s, defaulting to INFO", logLevel)
		log.SetLevel(logrus.InfoLevel)
		return
	}

	log.SetLevel(level)
}

// IsDebugEnabled reports whether DEBUG messages are emitted
func IsDebugEnabled() bool {
	return log.IsLevelEnabled(logrus.DebugLevel)
}

// Debug logs a message at DEBUG level
func Debug(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Info logs a message at INFO level
func Info(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warn logs a message at WARN level
func Warn(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Error logs a message at ERROR level
func Error(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// Fatal logs a message at FATAL level and then exits the application
func Fatal(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}
