// Package blob stores raw frame bytes durably and hands back opaque refs.
// The session store references images weakly through these refs; losing a
// blob never corrupts the session collection.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/moodcam/internal/logger"
)

// Store is the collaborator contract consumed by the capture orchestrator.
type Store interface {
	// Put writes data under key and returns the public ref for it.
	Put(key string, data []byte, contentType string) (string, error)
	// Delete removes the blob a ref points to. Callers treat failures as
	// best-effort: log and move on.
	Delete(ref string) error
}

// FileStore writes blobs to a primary directory, falling back to a second
// durable path when the primary write fails. Only one path has to succeed
// for a capture to be accepted.
type FileStore struct {
	primary  string
	fallback string
	prefix   string
	log      logger.Logger
}

// NewFileStore builds a file-backed blob store. prefix is prepended to keys
// to form the public ref (e.g. /static/session_captures). fallback may be
// empty to disable the alternate path.
func NewFileStore(primary, fallback, prefix string, log logger.Logger) *FileStore {
	return &FileStore{
		primary:  primary,
		fallback: fallback,
		prefix:   strings.TrimRight(prefix, "/"),
		log:      log,
	}
}

func (s *FileStore) Put(key string, data []byte, contentType string) (string, error) {
	key = filepath.Base(key) // refs never escape the capture directories
	if key == "" || key == "." {
		return "", errors.New("empty blob key")
	}
	if filepath.Ext(key) == "" {
		key += extensionFor(contentType)
	}

	primaryErr := writeFile(s.primary, key, data)
	if primaryErr == nil {
		return s.ref(key), nil
	}
	if s.fallback == "" {
		return "", fmt.Errorf("store blob %s: %w", key, primaryErr)
	}

	s.log.Warn("primary capture path failed, using fallback",
		"key", key, "error", primaryErr)
	if err := writeFile(s.fallback, key, data); err != nil {
		return "", fmt.Errorf("store blob %s: primary: %v; fallback: %w", key, primaryErr, err)
	}
	return s.ref(key), nil
}

func (s *FileStore) Delete(ref string) error {
	key := filepath.Base(ref)
	if key == "" || key == "." {
		return errors.New("empty blob ref")
	}

	var errs []error
	removed := false
	for _, dir := range []string{s.primary, s.fallback} {
		if dir == "" {
			continue
		}
		err := os.Remove(filepath.Join(dir, key))
		switch {
		case err == nil:
			removed = true
		case os.IsNotExist(err):
		default:
			errs = append(errs, err)
		}
	}
	if removed || len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("delete blob %s: %w", key, errors.Join(errs...))
}

func (s *FileStore) ref(key string) string {
	return s.prefix + "/" + key
}

func writeFile(dir, key string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, key), data, 0o644)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
