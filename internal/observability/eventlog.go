package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event types written by the engine.
const (
	EventTaskLoaded            = "task.loaded"
	EventTaskEdited            = "task.edited"
	EventTaskEditRejected      = "task.edit_rejected"
	EventTransitionRequested   = "transition.requested"
	EventTransitionNeedsReason = "transition.needs_reason"
	EventTransitionApplied     = "transition.applied"
	EventTransitionRejected    = "transition.rejected"
	EventTransitionDiscarded   = "transition.discarded"
	EventTaskDiscarded         = "task.discarded"
	EventReasonCancelled       = "reason.cancelled"
)

// Event represents a single observable event in the system.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN, ERROR
	Type    string         `json:"type"`  // e.g. "transition.applied"
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// TaskID returns the task_id carried in Data, if any.
func (e Event) TaskID() string {
	id, _ := e.Data["task_id"].(string)
	return id
}

// EventFilter specifies criteria for reading events.
type EventFilter struct {
	Since  *time.Time
	Until  *time.Time
	Type   string
	Level  string
	TaskID string
}

// EventLog defines the interface for writing and reading events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog implements EventLog using append-only JSONL files.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog creates a new EventLog backed by a JSONL file at the given path.
func NewJSONLEventLog(path string) (EventLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating event log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{
		path: path,
		file: f,
	}, nil
}

// Write appends a JSON-encoded event followed by a newline to the log file.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read scans the log line by line and returns the events matching filter.
// Malformed lines are skipped.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}

	return events, nil
}

// Close closes the underlying log file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

// matchesEventFilter checks whether an event satisfies all filter criteria.
func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	if filter.TaskID != "" && event.TaskID() != filter.TaskID {
		return false
	}
	return true
}

// Recorder turns engine callbacks into log entries. It satisfies
// core.EventLogger.
type Recorder struct {
	log EventLog
	now func() time.Time
}

// NewRecorder creates a Recorder writing to log.
func NewRecorder(log EventLog) *Recorder {
	return &Recorder{log: log, now: time.Now}
}

// LogEvent writes one event, deriving its level and message from the type.
func (r *Recorder) LogEvent(eventType string, data map[string]any) error {
	return r.log.Write(Event{
		Time:    r.now().UTC(),
		Level:   levelFor(eventType),
		Type:    eventType,
		Message: messageFor(eventType, data),
		Data:    data,
	})
}

func levelFor(eventType string) string {
	if strings.HasSuffix(eventType, "rejected") {
		return "WARN"
	}
	return "INFO"
}

func messageFor(eventType string, data map[string]any) string {
	taskID, _ := data["task_id"].(string)
	target, _ := data["target"].(string)
	switch eventType {
	case EventTaskLoaded:
		return fmt.Sprintf("loaded task %s", taskID)
	case EventTaskEdited:
		return fmt.Sprintf("edited task %s", taskID)
	case EventTaskEditRejected:
		return fmt.Sprintf("edit of task %s rejected", taskID)
	case EventTransitionRequested:
		return fmt.Sprintf("requested %s for task %s", target, taskID)
	case EventTransitionNeedsReason:
		return fmt.Sprintf("%s for task %s needs a reason", target, taskID)
	case EventTransitionApplied:
		return fmt.Sprintf("task %s moved to %s", taskID, target)
	case EventTransitionRejected:
		return fmt.Sprintf("%s for task %s rejected", target, taskID)
	case EventTransitionDiscarded:
		return fmt.Sprintf("discarded stale transition response for task %s", taskID)
	case EventTaskDiscarded:
		op, _ := data["operation"].(string)
		return fmt.Sprintf("discarded stale %s response for task %s", op, taskID)
	case EventReasonCancelled:
		if by, ok := data["superseded_by"].(string); ok {
			return fmt.Sprintf("reason for %s on task %s superseded by %s", target, taskID, by)
		}
		return fmt.Sprintf("reason for %s on task %s cancelled", target, taskID)
	}
	return eventType
}
