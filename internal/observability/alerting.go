package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	// BlockedHours is how long a task may stay BLOCKED.
	BlockedHours int `yaml:"blocked_hours" json:"blocked_hours" mapstructure:"blocked_hours"`
	// MaxRejections is how many server rejections one task may collect
	// inside Window before it is flagged.
	MaxRejections int `yaml:"max_rejections" json:"max_rejections" mapstructure:"max_rejections"`
	// MaxDiscards is how many stale responses may be discarded inside Window.
	MaxDiscards int           `yaml:"max_discards" json:"max_discards" mapstructure:"max_discards"`
	Window      time.Duration `yaml:"window" json:"window" mapstructure:"window"`
}

// DefaultAlertThresholds returns the default alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		BlockedHours:  24,
		MaxRejections: 3,
		MaxDiscards:   5,
		Window:        24 * time.Hour,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads events and checks all alert conditions, returning any
// triggered alerts ordered by ID.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	var alerts []Alert

	blockedAlerts, err := ae.checkBlockedTasks(now)
	if err != nil {
		return nil, fmt.Errorf("checking blocked tasks: %w", err)
	}
	alerts = append(alerts, blockedAlerts...)

	rejectionAlerts, err := ae.checkRepeatedRejections(now)
	if err != nil {
		return nil, fmt.Errorf("checking rejections: %w", err)
	}
	alerts = append(alerts, rejectionAlerts...)

	discardAlerts, err := ae.checkStaleDiscards(now)
	if err != nil {
		return nil, fmt.Errorf("checking stale discards: %w", err)
	}
	alerts = append(alerts, discardAlerts...)

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

// stateEvents carry the confirmed state of a task in Data["state"].
var stateEvents = map[string]bool{
	EventTaskLoaded:        true,
	EventTransitionApplied: true,
	EventTaskEdited:        true,
}

// checkBlockedTasks looks for tasks whose last confirmed state is BLOCKED
// and that entered BLOCKED longer ago than the threshold.
func (ae *alertEngine) checkBlockedTasks(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, err
	}

	type taskState struct {
		state     string
		enteredAt time.Time
	}
	tasks := make(map[string]*taskState)

	for _, event := range events {
		if !stateEvents[event.Type] {
			continue
		}
		taskID := event.TaskID()
		state, _ := event.Data["state"].(string)
		if taskID == "" || state == "" {
			continue
		}
		current, ok := tasks[taskID]
		if ok && current.state == state {
			continue
		}
		tasks[taskID] = &taskState{state: state, enteredAt: event.Time}
	}

	threshold := time.Duration(ae.thresholds.BlockedHours) * time.Hour
	var alerts []Alert
	for taskID, ts := range tasks {
		if ts.state == "BLOCKED" && now.Sub(ts.enteredAt) > threshold {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("blocked-%s", taskID),
				Condition:   "task_blocked_too_long",
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("task %s has been blocked for more than %d hours", taskID, ae.thresholds.BlockedHours),
				TriggeredAt: now,
			})
		}
	}

	return alerts, nil
}

// checkRepeatedRejections flags tasks the server keeps refusing.
func (ae *alertEngine) checkRepeatedRejections(now time.Time) ([]Alert, error) {
	since := now.Add(-ae.thresholds.Window)
	events, err := ae.eventLog.Read(EventFilter{Since: &since, Type: EventTransitionRejected})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, event := range events {
		kind, _ := event.Data["kind"].(string)
		if kind != "validation_rejected" {
			continue
		}
		if taskID := event.TaskID(); taskID != "" {
			counts[taskID]++
		}
	}

	var alerts []Alert
	for taskID, n := range counts {
		if n >= ae.thresholds.MaxRejections {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("rejected-%s", taskID),
				Condition:   "transitions_repeatedly_rejected",
				Severity:    SeverityMedium,
				Message:     fmt.Sprintf("server rejected %d transitions of task %s in the last %s", n, taskID, ae.thresholds.Window),
				TriggeredAt: now,
			})
		}
	}

	return alerts, nil
}

// checkStaleDiscards flags frequent out-of-order responses, a sign of a slow
// or overloaded authority.
func (ae *alertEngine) checkStaleDiscards(now time.Time) ([]Alert, error) {
	since := now.Add(-ae.thresholds.Window)
	events, err := ae.eventLog.Read(EventFilter{Since: &since, Type: EventTransitionDiscarded})
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	if len(events) >= ae.thresholds.MaxDiscards {
		alerts = append(alerts, Alert{
			ID:          "stale-discards",
			Condition:   "stale_responses_frequent",
			Severity:    SeverityLow,
			Message:     fmt.Sprintf("%d stale responses discarded in the last %s", len(events), ae.thresholds.Window),
			TriggeredAt: now,
		})
	}

	return alerts, nil
}
