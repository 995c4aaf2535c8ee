package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"contactsignal-engine/internal/domain"
)

var (
	ErrSnapshotMissing  = errors.New("snapshot missing")
	ErrSnapshotCorrupt  = errors.New("snapshot corrupt")
	ErrSnapshotLocked   = errors.New("snapshot is locked by another writer")
	ErrVersionConflict  = errors.New("snapshot changed since it was loaded")
	snapshotLockRetry   = 100 * time.Millisecond
	snapshotLockTimeout = 10 * time.Second
)

// SnapshotFile is the on-disk shape of the contact snapshot.
type SnapshotFile struct {
	Version  int                        `json:"version"`
	SavedAt  time.Time                  `json:"savedAt"`
	Contacts map[string]*domain.Contact `json:"contacts"`
}

// Snapshot is the single-writer repository for the contact set. Writers hold
// an exclusive lock file next to the snapshot for the whole load/save cycle.
type Snapshot struct {
	path string
	lock *flock.Flock
}

func NewSnapshot(path string) *Snapshot {
	return &Snapshot{path: path, lock: flock.New(path + ".lock")}
}

func (s *Snapshot) Path() string { return s.path }

// Lock takes the writer lock, waiting until ctx is done.
func (s *Snapshot) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, snapshotLockTimeout)
		defer cancel()
	}
	ok, err := s.lock.TryLockContext(ctx, snapshotLockRetry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("lock snapshot: %w", err)
	}
	if !ok {
		return ErrSnapshotLocked
	}
	return nil
}

func (s *Snapshot) Unlock() error {
	return s.lock.Unlock()
}

// Load reads the snapshot. It fails with ErrSnapshotMissing or
// ErrSnapshotCorrupt; both are fatal for a pipeline run.
func (s *Snapshot) Load() (domain.ContactSet, int, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s (run `engine init` first)", ErrSnapshotMissing, s.path)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read snapshot: %w", err)
	}

	var f SnapshotFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrSnapshotCorrupt, s.path, err)
	}
	if f.Version < 0 {
		return nil, 0, fmt.Errorf("%w: %s: negative version", ErrSnapshotCorrupt, s.path)
	}

	cs := make(domain.ContactSet, len(f.Contacts))
	for key, c := range f.Contacts {
		if c == nil {
			return nil, 0, fmt.Errorf("%w: %s: null contact %q", ErrSnapshotCorrupt, s.path, key)
		}
		if c.Email == "" {
			c.Email = key
		}
		cs.Put(c)
	}
	return cs, f.Version, nil
}

// Save writes cs as version base+1. base must be the version returned by
// Load; a different on-disk version means another writer got there first.
// Without a held Lock, Save takes the lock for the write only and fails fast.
func (s *Snapshot) Save(cs domain.ContactSet, base int) (int, error) {
	if !s.lock.Locked() {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return 0, err
		}
		ok, err := s.lock.TryLock()
		if err != nil {
			return 0, fmt.Errorf("lock snapshot: %w", err)
		}
		if !ok {
			return 0, ErrSnapshotLocked
		}
		defer s.Unlock()
	}

	cur, err := s.diskVersion()
	if err != nil {
		return 0, err
	}
	if cur != base {
		return 0, fmt.Errorf("%w: loaded v%d, on disk v%d", ErrVersionConflict, base, cur)
	}

	f := SnapshotFile{
		Version:  base + 1,
		SavedAt:  time.Now().UTC(),
		Contacts: map[string]*domain.Contact(cs),
	}
	if f.Contacts == nil {
		f.Contacts = map[string]*domain.Contact{}
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeAtomic(s.path, b); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	return f.Version, nil
}

// Init creates an empty snapshot when none exists. created is false when
// one was already there.
func (s *Snapshot) Init() (created bool, err error) {
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if _, err := s.Save(domain.ContactSet{}, 0); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Snapshot) diskVersion() (int, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSnapshotCorrupt, s.path, err)
	}
	return head.Version, nil
}

func writeAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	bak := path + ".bak"

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}

	_ = os.Remove(bak)
	_ = os.Rename(path, bak)

	return os.Rename(tmp, path)
}
