// Package rlog is a package-local indirection over logrus, in the spirit
// of gokvm's "var debug = log.Printf" (machine/debug_amd64.go): one place
// to point every core package at, configured once from ROCSIFT_LOG_LEVEL.
package rlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(levelFromEnv(os.Getenv("ROCSIFT_LOG_LEVEL")))

	return l
}

func levelFromEnv(s string) logrus.Level {
	if s == "" {
		return logrus.InfoLevel
	}

	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		// Invalid level: log and fall back to info rather than failing
		// library initialisation over a cosmetic environment variable.
		logrus.Warnf("rlog: invalid ROCSIFT_LOG_LEVEL %q, defaulting to info", s)

		return logrus.InfoLevel
	}

	return lvl
}

func Trace(args ...interface{})                 { log.Trace(args...) }
func Debug(args ...interface{})                 { log.Debug(args...) }
func Warn(args ...interface{})                  { log.Warn(args...) }
func Error(args ...interface{})                 { log.Error(args...) }
func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }
func Warnf(format string, args ...interface{})  { log.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }
