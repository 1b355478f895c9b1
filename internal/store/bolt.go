package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/user/moodcam/internal/logger"
)

// Bucket names.
var (
	bucketSessions = []byte("sessions") // id -> boltSession JSON
	bucketOrder    = []byte("order")    // big-endian sequence -> id
)

// BoltStore keeps each session as one bbolt record, with a creation-order
// index for reverse-chronological listing. Bolt transactions give the same
// atomic whole-session visibility as the file store without rewriting the
// entire collection per capture.
type BoltStore struct {
	db  *bolt.DB
	log logger.Logger
	now func() time.Time
}

// boltSession wraps a session with the creation sequence that keys its
// order-index entry.
type boltSession struct {
	Seq uint64 `json:"seq"`
	Session
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, log logger.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return fmt.Errorf("create sessions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketOrder); err != nil {
			return fmt.Errorf("create order bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("session bolt store ready", "path", path)
	return &BoltStore{db: db, log: log, now: time.Now}, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func getBoltSession(tx *bolt.Tx, id string) (boltSession, error) {
	data := tx.Bucket(bucketSessions).Get([]byte(id))
	if data == nil {
		return boltSession{}, ErrNotFound
	}
	var rec boltSession
	if err := json.Unmarshal(data, &rec); err != nil {
		return boltSession{}, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return rec, nil
}

func putBoltSession(tx *bolt.Tx, rec boltSession) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.ID, err)
	}
	if err := tx.Bucket(bucketSessions).Put([]byte(rec.ID), data); err != nil {
		return fmt.Errorf("store session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *BoltStore) CreateSession(_ context.Context) (Session, error) {
	var sess Session
	err := s.db.Update(func(tx *bolt.Tx) error {
		order := tx.Bucket(bucketOrder)
		seq, err := order.NextSequence()
		if err != nil {
			return fmt.Errorf("allocate sequence: %w", err)
		}
		rec := boltSession{Seq: seq, Session: newSession(s.now())}
		if err := putBoltSession(tx, rec); err != nil {
			return err
		}
		if err := order.Put(seqKey(seq), []byte(rec.ID)); err != nil {
			return fmt.Errorf("index session %s: %w", rec.ID, err)
		}
		sess = rec.Session
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return sess.Clone(), nil
}

func (s *BoltStore) AppendCapture(_ context.Context, sessionID string, c Capture) (Capture, error) {
	var out Capture
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getBoltSession(tx, sessionID)
		if err != nil {
			return err
		}
		if rec.Status != StatusActive {
			return ErrNotActive
		}
		out = prepareCapture(rec.Session, c)
		rec.Captures = append(rec.Captures, out)
		return putBoltSession(tx, rec)
	})
	if err != nil {
		return Capture{}, err
	}
	return out, nil
}

func (s *BoltStore) StopSession(_ context.Context, sessionID string) (Summary, error) {
	var summary Summary
	now := s.now().UTC()
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getBoltSession(tx, sessionID)
		if err != nil {
			return err
		}
		if rec.Status == StatusActive {
			rec.Status = StatusStopped
			rec.EndedAt = &now
			if err := putBoltSession(tx, rec); err != nil {
				return err
			}
		}
		summary = Summarize(rec.Session, now)
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func (s *BoltStore) ListSummaries(_ context.Context) ([]Summary, error) {
	now := s.now().UTC()
	var out []Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketOrder).Cursor()
		for k, id := cursor.Last(); k != nil; k, id = cursor.Prev() {
			rec, err := getBoltSession(tx, string(id))
			if err != nil {
				s.log.Warn("skipping unreadable session", "session_id", string(id), "error", err)
				continue
			}
			out = append(out, Summarize(rec.Session, now))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if out == nil {
		out = []Summary{}
	}
	return out, nil
}

func (s *BoltStore) GetDetail(_ context.Context, sessionID string) (Detail, error) {
	var detail Detail
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := getBoltSession(tx, sessionID)
		if err != nil {
			return err
		}
		detail = Detail{
			Session:  Summarize(rec.Session, s.now().UTC()),
			Timeline: Timeline(rec.Session),
		}
		return nil
	})
	if err != nil {
		return Detail{}, err
	}
	return detail, nil
}

func (s *BoltStore) DeleteSession(_ context.Context, sessionID string) (Session, error) {
	var removed Session
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getBoltSession(tx, sessionID)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketSessions).Delete([]byte(sessionID)); err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
		if err := tx.Bucket(bucketOrder).Delete(seqKey(rec.Seq)); err != nil {
			return fmt.Errorf("delete session index %s: %w", sessionID, err)
		}
		removed = rec.Session
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.log.Info("session deleted", "session_id", sessionID, "captures", len(removed.Captures))
	return removed, nil
}

func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
