package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger on top of a logrus entry.
// Badger's informational chatter (compactions, value log GC) is demoted to
// debug so it does not drown out crawl progress at the default level.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter tagged with the badger component
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry.WithField("component", "badger")}
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) {
	l.Entry.Errorf(trimNewline(f), v...)
}

func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) {
	l.Entry.Warnf(trimNewline(f), v...)
}

func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) {
	l.Entry.Debugf(trimNewline(f), v...)
}

func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) {
	l.Entry.Tracef(trimNewline(f), v...)
}

// badger terminates most format strings with a newline; logrus adds its own
func trimNewline(f string) string {
	return strings.TrimRight(f, "\n")
}
