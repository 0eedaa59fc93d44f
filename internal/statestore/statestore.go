// Package statestore persists, per mapping, the watermark, last-success
// timestamp, last error, and run id — backed by a single JSON file per
// agent instance, keyed by mapping id.
package statestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// RunState is the persisted per-mapping state. Created on first run;
// mutated only by the StateStore; an explicit --force reset clears its
// watermark and last_error.
type RunState struct {
	Watermark            string    `json:"watermark"`
	LastSuccessAt        time.Time `json:"last_success_at,omitempty"`
	LastError            string    `json:"last_error,omitempty"`
	LastRunID            int64     `json:"last_run_id"`
	RecordsUploadedTotal int64     `json:"records_uploaded_total"`
	// BoundaryInclusive distinguishes the first post-reset
	// incremental_timestamp query (>=) from every subsequent one (>).
	BoundaryInclusive bool `json:"boundary_inclusive,omitempty"`
}

// Store is the StateStore contract: Load and Commit are both atomic with
// respect to other mappings' state in the same file.
type Store interface {
	Load(ctx context.Context, mappingID string) (RunState, error)
	Commit(ctx context.Context, mappingID string, state RunState) error
	// Force resets a single mapping's watermark and last_error, leaving
	// every other mapping's state untouched.
	Force(ctx context.Context, mappingID string) error
}

// fileDoc is the on-disk shape of the single JSON state file.
type fileDoc struct {
	Mappings map[string]RunState `json:"mappings"`
}

// FileStore is the production StateStore backend: a single JSON file,
// updated via write-to-temp + rename, serialized by an in-process lock held
// only for the duration of a write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens (or prepares to create) the state file at path. On
// corruption (unparseable JSON) the existing file is quarantined with a
// .corrupt.{timestamp} suffix and an empty state set is used instead. This
// is not a polish item, it is mandatory.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.quarantineIfCorrupt(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) quarantineIfCorrupt() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		quarantined := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, quarantined); renameErr != nil {
			return fmt.Errorf("failed to quarantine corrupt state file: %w", renameErr)
		}
		return nil
	}
	return nil
}

func (s *FileStore) readDoc() (fileDoc, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileDoc{Mappings: map[string]RunState{}}, nil
		}
		return fileDoc{}, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return fileDoc{Mappings: map[string]RunState{}}, nil
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		// A write raced a crash between the constructor's quarantine check
		// and this read: treat it the same way rather than propagating.
		quarantined := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, quarantined); renameErr != nil {
			return fileDoc{}, fmt.Errorf("failed to quarantine corrupt state file: %w", renameErr)
		}
		return fileDoc{Mappings: map[string]RunState{}}, nil
	}
	if doc.Mappings == nil {
		doc.Mappings = map[string]RunState{}
	}
	return doc, nil
}

// writeDoc persists doc via write-to-temp + rename so a crash mid-write
// never leaves a partially-written state file in place.
func (s *FileStore) writeDoc(doc fileDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode state file: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".sync_state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temp state file into place: %w", err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, mappingID string) (RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDoc()
	if err != nil {
		return RunState{}, err
	}
	return doc.Mappings[mappingID], nil
}

func (s *FileStore) Commit(ctx context.Context, mappingID string, state RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDoc()
	if err != nil {
		return err
	}
	doc.Mappings[mappingID] = state
	return s.writeDoc(doc)
}

func (s *FileStore) Force(ctx context.Context, mappingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDoc()
	if err != nil {
		return err
	}
	state := doc.Mappings[mappingID]
	state.Watermark = ""
	state.LastError = ""
	state.BoundaryInclusive = true
	doc.Mappings[mappingID] = state
	return s.writeDoc(doc)
}

// MemoryStore is an in-process Store implementation used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	state map[string]RunState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string]RunState)}
}

func (s *MemoryStore) Load(ctx context.Context, mappingID string) (RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state[mappingID], nil
}

func (s *MemoryStore) Commit(ctx context.Context, mappingID string, state RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[mappingID] = state
	return nil
}

func (s *MemoryStore) Force(ctx context.Context, mappingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[mappingID]
	st.Watermark = ""
	st.LastError = ""
	st.BoundaryInclusive = true
	s.state[mappingID] = st
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
