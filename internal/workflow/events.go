package workflow

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Event describes one successful step transition.
type Event struct {
	ArticleID uint
	Step      Step
	From      int
	To        int
	At        time.Time
}

// Observer is notified after each successful transition.
type Observer interface {
	StepCompleted(event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event Event)

func (f ObserverFunc) StepCompleted(event Event) {
	f(event)
}

// LogObserver writes every transition to logger.
func LogObserver(logger *logrus.Logger) Observer {
	return ObserverFunc(func(event Event) {
		if logger == nil {
			return
		}
		logger.WithFields(logrus.Fields{
			"component":  "workflow",
			"article_id": event.ArticleID,
			"step":       event.Step.String(),
			"from":       event.From,
			"to":         event.To,
		}).Info("workflow step completed")
	})
}
