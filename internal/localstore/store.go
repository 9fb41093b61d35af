// Package localstore is the device-local cache: independent keyed JSON blobs stored as files
// in one directory per device. Unreadable or malformed blobs are reported as absent.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Keys of the blobs the console engine persists.
const (
	KeyProgress     = "progress"
	KeyWatchHistory = "watch_history"
	KeyActiveVideo  = "active_video"
)

var (
	ErrDirRequired   = errors.New("local store directory not provided")
	ErrKeyRequired   = errors.New("local store key is required")
	ErrInvalidName   = errors.New("invalid namespace name")
	ErrQuotaExceeded = errors.New("local store quota exceeded")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Store reads and writes JSON blobs under a single directory.
type Store struct {
	mu       sync.Mutex
	fs       afero.Fs
	dir      string
	maxBytes int
}

// Option configures a Store.
type Option func(*Store)

// WithQuota limits the encoded size of a single blob. Zero means unlimited.
func WithQuota(maxBytes int) Option {
	return func(s *Store) { s.maxBytes = maxBytes }
}

// New returns a store rooted at dir on fs, creating the directory if needed.
func New(fs afero.Fs, dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrDirRequired
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local store dir: %w", err)
	}
	s := &Store{fs: fs, dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Namespace returns a child store for name (e.g. a device id), sharing fs and quota.
func (s *Store) Namespace(name string) (*Store, error) {
	name = strings.TrimSpace(name)
	if !namePattern.MatchString(name) || name == "." || name == ".." {
		return nil, ErrInvalidName
	}
	return New(s.fs, filepath.Join(s.dir, name), WithQuota(s.maxBytes))
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Load decodes the blob stored under key into v. It returns false when the blob is missing
// or cannot be decoded; decode failures are logged, never returned.
func (s *Store) Load(key string, v any) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}

	s.mu.Lock()
	data, err := afero.ReadFile(s.fs, s.path(key))
	s.mu.Unlock()

	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		log.Printf("[localstore] read %s failed: %v", key, err)
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Printf("[localstore] discarding unreadable %s blob: %v", key, err)
		return false
	}
	return true
}

// Save encodes v and atomically replaces the blob stored under key.
func (s *Store) Save(key string, v any) error {
	if strings.TrimSpace(key) == "" {
		return ErrKeyRequired
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return fmt.Errorf("%s is %d bytes: %w", key, len(data), ErrQuotaExceeded)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
