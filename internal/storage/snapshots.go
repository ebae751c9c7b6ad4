package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/valter-silva-au/tasktrack/pkg/models"
	"gopkg.in/yaml.v3"
)

// SnapshotEntry is the last confirmed copy of one task.
type SnapshotEntry struct {
	Task    models.Task `yaml:"task"`
	SavedAt time.Time   `yaml:"saved_at"`
}

// SnapshotFilter specifies criteria for listing snapshots. All specified
// fields use AND logic.
type SnapshotFilter struct {
	ProjectID string
	States    []models.State
}

// SnapshotFile represents the top-level structure of snapshots.yaml.
type SnapshotFile struct {
	Version string                   `yaml:"version"`
	Tasks   map[string]SnapshotEntry `yaml:"tasks"`
}

// SnapshotStore keeps the last confirmed copy of every task the user has
// looked at, so `task show --cached` works without the API.
type SnapshotStore interface {
	Put(task *models.Task) error
	Get(taskID string) (*SnapshotEntry, error)
	List(filter SnapshotFilter) ([]SnapshotEntry, error)
	Remove(taskID string) error
	Load() error
	Save() error
}

type fileSnapshotStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
	data SnapshotFile
}

// NewSnapshotStore creates a SnapshotStore backed by the YAML file at path.
func NewSnapshotStore(path string) SnapshotStore {
	return &fileSnapshotStore{
		path: path,
		now:  time.Now,
		data: emptySnapshotFile(),
	}
}

func emptySnapshotFile() SnapshotFile {
	return SnapshotFile{
		Version: "1.0",
		Tasks:   make(map[string]SnapshotEntry),
	}
}

// Put records task as the latest confirmed copy. It does not persist; call Save.
func (s *fileSnapshotStore) Put(task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task ID must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Tasks[task.ID] = SnapshotEntry{Task: *task.Clone(), SavedAt: s.now().UTC()}
	return nil
}

func (s *fileSnapshotStore) Get(taskID string) (*SnapshotEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data.Tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("no snapshot for task %s", taskID)
	}
	entry.Task = *entry.Task.Clone()
	return &entry, nil
}

// List returns matching snapshots sorted by task ID.
func (s *fileSnapshotStore) List(filter SnapshotFilter) ([]SnapshotEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []SnapshotEntry
	for _, entry := range s.data.Tasks {
		if matchesFilter(entry, filter) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Task.ID < entries[j].Task.ID
	})
	return entries, nil
}

func (s *fileSnapshotStore) Remove(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Tasks[taskID]; !ok {
		return fmt.Errorf("no snapshot for task %s", taskID)
	}
	delete(s.data.Tasks, taskID)
	return nil
}

func matchesFilter(entry SnapshotEntry, filter SnapshotFilter) bool {
	if filter.ProjectID != "" && entry.Task.Project.ID != filter.ProjectID {
		return false
	}
	if len(filter.States) > 0 && !containsState(filter.States, entry.Task.State) {
		return false
	}
	return true
}

func containsState(haystack []models.State, needle models.State) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (s *fileSnapshotStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = emptySnapshotFile()
			return nil
		}
		return fmt.Errorf("loading snapshots: %w", err)
	}

	var sf SnapshotFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("loading snapshots: parsing YAML: %w", err)
	}
	if sf.Tasks == nil {
		sf.Tasks = make(map[string]SnapshotEntry)
	}
	s.data = sf
	return nil
}

func (s *fileSnapshotStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("saving snapshots: creating directory: %w", err)
	}
	data, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("saving snapshots: marshaling YAML: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("saving snapshots: writing file: %w", err)
	}
	return nil
}
