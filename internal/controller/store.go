package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// HistoryRecord is the serializable summary of one outcome, persisted so
// history and pending approvals survive across CLI invocations.
type HistoryRecord struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	Argv        []string  `json:"argv,omitempty"`
	Mode        string    `json:"mode"`
	State       string    `json:"state"`
	Decision    string    `json:"decision"`
	Reason      string    `json:"reason,omitempty"`
	ExitCode    int       `json:"exit_code"`
	DiffSummary string    `json:"diff_summary,omitempty"`
	Error       string    `json:"error,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Store persists session state under a directory: an append-only history
// log and one JSON file per pending approval.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) a state directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "pending"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) historyPath() string {
	return filepath.Join(s.dir, "history.jsonl")
}

func (s *Store) pendingPath(id string) string {
	return filepath.Join(s.dir, "pending", id+".json")
}

// AppendHistory adds one record to the history log.
func (s *Store) AppendHistory(rec HistoryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.historyPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// LoadHistory reads the full history log, oldest first. A missing log is an
// empty history.
func (s *Store) LoadHistory() ([]HistoryRecord, error) {
	data, err := os.ReadFile(s.historyPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}

	var records []HistoryRecord
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec HistoryRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("corrupt history entry: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// SavePending stores a queued action descriptor under its outcome id.
func (s *Store) SavePending(id string, desc ActionDescriptor) error {
	data, err := json.MarshalIndent(pendingFile{ID: id, Descriptor: desc, QueuedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.pendingPath(id), data, 0o644); err != nil {
		return fmt.Errorf("failed to save pending action: %w", err)
	}
	return nil
}

type pendingFile struct {
	ID         string           `json:"id"`
	Descriptor ActionDescriptor `json:"descriptor"`
	QueuedAt   time.Time        `json:"queued_at"`
}

// LoadPending returns all queued approvals keyed by id.
func (s *Store) LoadPending() (map[string]ActionDescriptor, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "pending"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}

	out := make(map[string]ActionDescriptor)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, "pending", e.Name()))
		if err != nil {
			return nil, err
		}
		var pf pendingFile
		if err := json.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("corrupt pending entry %s: %w", e.Name(), err)
		}
		out[pf.ID] = pf.Descriptor
	}
	return out, nil
}

// PendingIDs returns the queued ids sorted.
func (s *Store) PendingIDs() ([]string, error) {
	pending, err := s.LoadPending()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RemovePending drops a queued approval. Removing an absent id is not an
// error.
func (s *Store) RemovePending(id string) error {
	err := os.Remove(s.pendingPath(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Clear wipes history and pending approvals.
func (s *Store) Clear() error {
	if err := os.Remove(s.historyPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.dir, "pending")); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(s.dir, "pending"), 0o755)
}
