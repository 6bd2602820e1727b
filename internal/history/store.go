// Package history persists the bounded log of finished downloads as a JSON
// document, most-recent-last, truncated to the newest maxEntries on every
// write.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"torrent-bot/internal/domain"
)

const defaultMaxEntries = 50

// Store is the bounded, persisted download history. A record that fails to
// persist stays in the in-memory sequence and is carried by the next
// successful write.
type Store struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	records    []domain.HistoryRecord
	logger     *logrus.Logger
}

// Open loads the store from path. A missing file yields an empty history;
// a corrupt file is logged and reset to empty rather than failing startup.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{
		path:       path,
		maxEntries: defaultMaxEntries,
		logger:     logger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		logger.Errorf("history file %s is corrupt, resetting: %v", path, err)
		s.records = nil
	}
	if len(s.records) > s.maxEntries {
		s.records = s.records[len(s.records)-s.maxEntries:]
	}
	return s, nil
}

// Append adds a record and persists the truncated sequence synchronously.
// On a write failure the record is retained in memory, the error is
// returned, and the next successful Append persists it as well.
func (s *Store) Append(record domain.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record)
	if len(s.records) > s.maxEntries {
		s.records = s.records[len(s.records)-s.maxEntries:]
	}

	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

// Recent returns up to n records, most recent first.
func (s *Store) Recent(n int) []domain.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.records) {
		n = len(s.records)
	}
	out := make([]domain.HistoryRecord, 0, n)
	for i := len(s.records) - 1; i >= len(s.records)-n; i-- {
		out = append(out, s.records[i])
	}
	return out
}

// All returns the full sequence in insertion order (oldest first).
func (s *Store) All() []domain.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HistoryRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len reports the number of retained records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
