// Package klog is the kernel's structured logger. It replaces the C
// source's terminal_logf/panicf call sites with github.com/sirupsen/logrus,
// the logging library gvisor's own CLI stack (runsc) pulls in.
package klog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts verbosity; "debug" enables per-trap/per-IRQ tracing.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// PE returns a logger entry scoped to a processing element, mirroring the
// original's "Booted core 0x%x" / "TID=0x%x:0x%x" log line conventions.
func PE(id uint32) *logrus.Entry {
	return base.WithField("pe", id)
}

// Thread returns a logger entry scoped to a process/thread pair.
func Thread(pid, tid uint64) *logrus.Entry {
	return base.WithFields(logrus.Fields{"pid": pid, "tid": tid})
}

// Logf is a drop-in for the C source's terminal_logf(fmt, ...) at Info level.
func Logf(format string, args ...interface{}) {
	base.Infof(format, args...)
}

// Warnf logs a recoverable anomaly (e.g. a failed secondary-PE boot).
func Warnf(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

// Panicf logs at Error level and panics with the same message, mirroring
// the C source's panicf, which halts after a full register dump.
func Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	base.WithField("fatal", true).Error(msg)
	panic(msg)
}
