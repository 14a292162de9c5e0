package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event represents timeline records.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Snapshot is the persisted status structure.
type Snapshot struct {
	Status     string             `json:"status"`
	Experiment string             `json:"experiment,omitempty"`
	Metrics    map[string]float64 `json:"metrics"`
	Events     []Event            `json:"events"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// MaxEvents bounds the persisted timeline.
const MaxEvents = 200

// Store persists snapshot to disk.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns new state store.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the status file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns current snapshot if exists.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{
				Status:    StatusUnbound,
				Metrics:   map[string]float64{},
				Events:    []Event{},
				UpdatedAt: time.Now(),
			}, nil
		}
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, err
	}
	if snap.Metrics == nil {
		snap.Metrics = map[string]float64{}
	}
	return snap, nil
}

// Write persists snapshot.
func (s *Store) Write(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(snap)
}

func (s *Store) writeLocked(snap Snapshot) error {
	snap.UpdatedAt = time.Now()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	temp := s.path + ".tmp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(temp, s.path)
}

func (s *Store) update(fn func(*Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked()
	if err != nil {
		return err
	}
	fn(&snap)
	return s.writeLocked(snap)
}

// SetStatus records the controller status and bound experiment, appending a
// timeline event when message is set.
func (s *Store) SetStatus(status, experiment, message string) error {
	return s.update(func(snap *Snapshot) {
		snap.Status = status
		snap.Experiment = experiment
		if message != "" {
			snap.Events = append(snap.Events, Event{
				Timestamp: time.Now(),
				Type:      status,
				Message:   message,
			})
			if len(snap.Events) > MaxEvents {
				snap.Events = snap.Events[len(snap.Events)-MaxEvents:]
			}
		}
	})
}

// RecordMetrics stores numeric metrics.
func (s *Store) RecordMetrics(metrics map[string]float64) error {
	return s.update(func(snap *Snapshot) {
		for name, value := range metrics {
			snap.Metrics[name] = value
		}
	})
}
