package compressor

import (
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/search"
)

// LogObserver writes search events to a logrus entry.
type LogObserver struct {
	entry *logrus.Entry
}

// NewLogObserver returns an observer logging through entry.
func NewLogObserver(entry *logrus.Entry) *LogObserver {
	return &LogObserver{entry: entry}
}

func (o *LogObserver) AttemptFinished(step search.Step) {
	fields := logrus.Fields{
		"iteration": step.Iteration,
		"parameter": step.Parameter,
		"low":       step.Low,
		"high":      step.High,
	}
	if step.Err != nil {
		o.entry.WithFields(fields).WithError(step.Err).Warn("Attempt failed")
		return
	}
	fields["size"] = step.Size
	fields["within_tolerance"] = step.Within
	o.entry.WithFields(fields).Debug("Attempt finished")
}

func (o *LogObserver) SearchFinished(outcome search.Outcome) {
	o.entry.WithFields(logrus.Fields{
		"termination": outcome.Reason.String(),
		"iterations":  outcome.Iterations,
	}).Info("Search finished")
}
