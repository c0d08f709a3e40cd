package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Configure sets level ("debug", "info", ...) and format ("json" or "text")
func Configure(level, format string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// L exposes the underlying logger for adapters such as the HTTP request logger
func L() *logrus.Logger {
	return log
}

func Info(args ...any) {
	log.Info(args...)
}

func Infof(format string, args ...any) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	log.Warnf(format, args...)
}

func Error(args ...any) {
	log.Error(args...)
}

func Errorf(format string, args ...any) {
	log.Errorf(format, args...)
}

func Debugf(format string, args ...any) {
	log.Debugf(format, args...)
}

func Fatalf(format string, args ...any) {
	log.Fatalf(format, args...)
}

func WithField(key string, value any) *logrus.Entry {
	return log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}
