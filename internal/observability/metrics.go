package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	TasksLoaded         int            `json:"tasks_loaded"`
	TasksEdited         int            `json:"tasks_edited"`
	TransitionsApplied  int            `json:"transitions_applied"`
	TransitionsByTarget map[string]int `json:"transitions_by_target"`
	ReasonPrompts       int            `json:"reason_prompts"`
	ReasonsCancelled    int            `json:"reasons_cancelled"`
	Rejections          int            `json:"rejections"`
	RejectionsByKind    map[string]int `json:"rejections_by_kind"`
	StaleDiscards       int            `json:"stale_discards"`
	StaleReads          int            `json:"stale_reads"`
	EventCount          int            `json:"event_count"`
	OldestEvent         *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent         *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		TransitionsByTarget: make(map[string]int),
		RejectionsByKind:    make(map[string]int),
	}

	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case EventTaskLoaded:
			m.TasksLoaded++
		case EventTaskEdited:
			m.TasksEdited++
		case EventTransitionApplied:
			m.TransitionsApplied++
			if target, ok := event.Data["target"].(string); ok {
				m.TransitionsByTarget[target]++
			}
		case EventTransitionNeedsReason:
			m.ReasonPrompts++
		case EventReasonCancelled:
			m.ReasonsCancelled++
		case EventTransitionRejected, EventTaskEditRejected:
			m.Rejections++
			kind, _ := event.Data["kind"].(string)
			if kind == "" {
				kind = "error"
			}
			m.RejectionsByKind[kind]++
		case EventTransitionDiscarded:
			m.StaleDiscards++
		case EventTaskDiscarded:
			m.StaleReads++
		}
	}

	return m, nil
}
