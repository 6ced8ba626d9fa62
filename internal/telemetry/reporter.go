// Package telemetry reports the progress of test sequences.
package telemetry

import (
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
)

// Event is one step of a test sequence.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Test      string         `json:"test"`
	Step      int            `json:"step"`
	Total     int            `json:"total"`
	Values    map[string]any `json:"values,omitempty"`
	// Done marks the last event of a test.
	Done bool `json:"done,omitempty"`
}

// Reporter receives sequence progress.
type Reporter interface {
	Report(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Report(Event) {}

// LogReporter writes every event to a logger.
type LogReporter struct {
	logger logging.Logger
}

// NewLogReporter builds a reporter on top of logger.
func NewLogReporter(logger logging.Logger) LogReporter {
	return LogReporter{logger: logging.OrDefault(logger)}
}

func (r LogReporter) Report(e Event) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "test", Value: e.Test},
	}
	if e.Total > 0 {
		fields = append(fields,
			logging.Field{Key: "step", Value: e.Step},
			logging.Field{Key: "total", Value: e.Total},
		)
	}
	for k, v := range e.Values {
		fields = append(fields, logging.Field{Key: k, Value: v})
	}
	if e.Done {
		r.logger.Info("test finished", fields...)
		return
	}
	r.logger.Debug("test step", fields...)
}

// MultiReporter fans out events to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}
