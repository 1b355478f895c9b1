package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/moodcam/internal/logger"
)

// FileStore persists the whole session collection as a single JSON document,
// rewritten atomically on every mutation. A global mutex serializes
// read-modify-write cycles; data volumes are small enough that this is the
// simplest correct design.
type FileStore struct {
	mu   sync.Mutex
	path string
	log  logger.Logger
	now  func() time.Time
}

// NewFileStore opens (or initializes) the collection at path.
func NewFileStore(path string, log logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &FileStore{path: path, log: log, now: time.Now}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	log.Info("session file store ready", "path", path)
	return s, nil
}

func (s *FileStore) load() ([]Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read session collection: %w", err)
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse session collection: %w", err)
	}
	return sessions, nil
}

// save writes the collection through a temp file and rename so a crash mid
// write never leaves a truncated document behind.
func (s *FileStore) save(sessions []Session) error {
	if sessions == nil {
		sessions = []Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session collection: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session collection: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit session collection: %w", err)
	}
	return nil
}

func (s *FileStore) CreateSession(_ context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return Session{}, err
	}
	sess := newSession(s.now())
	sessions = append(sessions, sess)
	if err := s.save(sessions); err != nil {
		return Session{}, err
	}
	return sess.Clone(), nil
}

func (s *FileStore) AppendCapture(_ context.Context, sessionID string, c Capture) (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return Capture{}, err
	}
	idx := findSession(sessions, sessionID)
	if idx < 0 {
		return Capture{}, ErrNotFound
	}
	if sessions[idx].Status != StatusActive {
		return Capture{}, ErrNotActive
	}

	c = prepareCapture(sessions[idx], c)
	sessions[idx].Captures = append(sessions[idx].Captures, c)
	if err := s.save(sessions); err != nil {
		return Capture{}, err
	}
	return c, nil
}

func (s *FileStore) StopSession(_ context.Context, sessionID string) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return Summary{}, err
	}
	idx := findSession(sessions, sessionID)
	if idx < 0 {
		return Summary{}, ErrNotFound
	}

	now := s.now().UTC()
	if sessions[idx].Status == StatusActive {
		sessions[idx].Status = StatusStopped
		sessions[idx].EndedAt = &now
		if err := s.save(sessions); err != nil {
			return Summary{}, err
		}
	}
	return Summarize(sessions[idx], now), nil
}

func (s *FileStore) ListSummaries(_ context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := make([]Summary, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		out = append(out, Summarize(sessions[i], now))
	}
	return out, nil
}

func (s *FileStore) GetDetail(_ context.Context, sessionID string) (Detail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return Detail{}, err
	}
	idx := findSession(sessions, sessionID)
	if idx < 0 {
		return Detail{}, ErrNotFound
	}
	return Detail{
		Session:  Summarize(sessions[idx], s.now().UTC()),
		Timeline: Timeline(sessions[idx]),
	}, nil
}

func (s *FileStore) DeleteSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return Session{}, err
	}
	idx := findSession(sessions, sessionID)
	if idx < 0 {
		return Session{}, ErrNotFound
	}
	removed := sessions[idx].Clone()
	sessions = append(sessions[:idx], sessions[idx+1:]...)
	if err := s.save(sessions); err != nil {
		return Session{}, err
	}
	s.log.Info("session deleted", "session_id", sessionID, "captures", len(removed.Captures))
	return removed, nil
}

func (s *FileStore) Close() error {
	return nil
}

func findSession(sessions []Session, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}
