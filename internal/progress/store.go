// Package progress persists one durable status record per node. Records are
// written after every status transition the scheduler applies and read back
// by the reconciler on resume. One file per node keeps parallel nodes from
// ever contending on a write.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vk/taskforge/internal/node"
)

// recordExt is the file extension of per-node records.
const recordExt = ".json"

// Record is the durable snapshot of one node's progress.
type Record struct {
	NodeID    string      `json:"node_id"`
	Status    node.Status `json:"status"`
	Attempt   int         `json:"attempt"`
	Summary   string      `json:"summary,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Store writes and reads per-node record files under a single directory.
type Store struct {
	dir string
}

// NewStore creates the record directory if needed and returns the store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the record directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(nodeID string) string {
	return filepath.Join(s.dir, nodeID+recordExt)
}

// Write durably replaces the node's record. The write goes through a
// temporary file and a rename so a crash never leaves a torn record behind.
func (s *Store) Write(rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding progress record for %s: %w", rec.NodeID, err)
	}

	tmp, err := os.CreateTemp(s.dir, rec.NodeID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp record for %s: %w", rec.NodeID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing progress record for %s: %w", rec.NodeID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing progress record for %s: %w", rec.NodeID, err)
	}
	if err := os.Rename(tmpName, s.path(rec.NodeID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing progress record for %s: %w", rec.NodeID, err)
	}
	return nil
}

// Read loads one node's record. The boolean is false when no record exists.
func (s *Store) Read(nodeID string) (Record, bool, error) {
	raw, err := os.ReadFile(s.path(nodeID))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading progress record for %s: %w", nodeID, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("parsing progress record for %s: %w", nodeID, err)
	}
	return rec, true, nil
}

// All loads every record in the store, sorted by node id.
func (s *Store) All() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing progress records: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		nodeID := strings.TrimSuffix(name, recordExt)
		rec, ok, err := s.Read(nodeID)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].NodeID < records[j].NodeID })
	return records, nil
}
