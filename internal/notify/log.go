package notify

import (
	"context"

	"github.com/slurmwatch/slurmwatch/internal/logger"
)

// LogNotifier writes events to the logger. Always wired; the terminal is
// the default delivery channel.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, ev Event) error {
	switch ev.Kind {
	case KindClusterDown, KindNodeDown:
		n.log.Warn("%s: %s %s", ev.Kind, ev.Subject, ev.Detail)
	default:
		n.log.Info("%s: %s %s", ev.Kind, ev.Subject, ev.Detail)
	}
	return nil
}
