package fleet

import (
	"strconv"

	"github.com/sirupsen/logrus"
)

// HostLogger receives structured, per-host progress events as an
// operation runs. A DefaultLogger is built with NewDefaultLogger; its
// zero value has no underlying logrus.Logger and is not usable.
type HostLogger interface {
	Info(host, msg string)
	Warn(host, msg string)
	Error(host, msg string)
	// Line reports one streamed line of remote stdout/stderr output,
	// mirroring the per-host streaming callback of a PTY session.
	Line(host, stream, text string)
}

// DefaultLogger logs through logrus with a "host" field on every entry,
// the same shape as the teacher's per-line LogMsg convention generalized
// to structured fields instead of a single formatted string.
type DefaultLogger struct {
	entry *logrus.Logger
}

// NewDefaultLogger returns a HostLogger backed by a logrus.Logger
// configured with a text formatter and full timestamps.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &DefaultLogger{entry: l}
}

func (d *DefaultLogger) Info(host, msg string) {
	d.entry.WithField("host", host).Info(msg)
}

func (d *DefaultLogger) Warn(host, msg string) {
	d.entry.WithField("host", host).Warn(msg)
}

func (d *DefaultLogger) Error(host, msg string) {
	d.entry.WithField("host", host).Error(msg)
}

func (d *DefaultLogger) Line(host, stream, text string) {
	d.entry.WithFields(logrus.Fields{"host": host, "stream": stream}).Debug(text)
}

// retryLogMessage formats a retry notice in the "<error> retry <n>/<N>"
// shape used throughout the corpus' retry loops.
func retryLogMessage(err error, attempt, max int) string {
	return err.Error() + " retry " + strconv.Itoa(attempt) + "/" + strconv.Itoa(max)
}
