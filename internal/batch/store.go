// Package batch implements the directory-per-batch store that ties an upload
// request to a later submission. The filesystem is the only record of a
// batch's existence between the two calls.
package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"receipts-backend/internal/shared/telemetry"
)

var (
	ErrInvalidID = errors.New("invalid batch id")
	ErrNotFound  = errors.New("batch not found")
)

// idPattern is the only shape of identifier the store will touch the
// filesystem for: prefix, millisecond timestamp, random suffix.
var idPattern = regexp.MustCompile(`^batch-\d{10,16}-[0-9a-f]{8}$`)

const (
	destroyRetries    = 3
	destroyRetryDelay = 100 * time.Millisecond
)

// Store owns on-disk batch directories under a single root for their whole
// lifetime.
type Store struct {
	root string
}

// NewStore creates the batch root (owner-only) and returns the store.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve batch root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create batch root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute batch root directory.
func (s *Store) Root() string {
	return s.root
}

// Create allocates a new batch directory and returns its identifier.
func (s *Store) Create() (string, error) {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	id := fmt.Sprintf("batch-%d-%s", time.Now().UnixMilli(), suffix)
	dir, err := s.dir(id)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}
	return id, nil
}

// CheckID validates an identifier against the expected pattern and confirms
// its resolved path stays inside the root. Every id-consuming operation goes
// through this before any filesystem call.
func (s *Store) CheckID(id string) error {
	_, err := s.dir(id)
	return err
}

// Put writes an already-validated file into the batch directory under its
// generated storage name. No re-validation of content happens here.
func (s *Store) Put(id, storageName string, data []byte) (string, error) {
	dir, err := s.dir(id)
	if err != nil {
		return "", err
	}
	if storageName == "" || storageName != filepath.Base(storageName) || strings.HasPrefix(storageName, ".") {
		return "", ErrInvalidID
	}
	path := filepath.Join(dir, storageName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write batch file: %w", err)
	}
	return path, nil
}

// List enumerates the stored file paths for a batch. A missing directory is
// ErrNotFound; call sites treat that as "nothing to attach".
func (s *Store) List(id string) ([]string, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read batch dir: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// Destroy recursively removes the batch directory. Absence is not an error,
// so destroying twice is a no-op the second time. Transient filesystem errors
// are retried a bounded number of times, then logged and swallowed: cleanup
// must never surface as a user-facing failure.
func (s *Store) Destroy(id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < destroyRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(destroyRetryDelay)
		}
		lastErr = os.RemoveAll(dir)
		if lastErr == nil {
			return nil
		}
	}
	telemetry.Error("batch.destroy.failed", map[string]any{
		"batch_id": id,
		"err":      lastErr.Error(),
	})
	return nil
}

// dir resolves the directory for an id, enforcing the pattern and the
// root-confinement invariant.
func (s *Store) dir(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", ErrInvalidID
	}
	path := filepath.Join(s.root, id)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel != id || strings.HasPrefix(rel, "..") {
		return "", ErrInvalidID
	}
	return path, nil
}
