package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// leaseRecord is the on-disk, persisted refcount for one ref's worktree
// lease. Persisting it (rather than keeping refcounts purely in-process)
// lets a restarted sync worker discover leases left behind by a prior
// process that crashed mid-sync instead of silently double-leasing.
type leaseRecord struct {
	Ref       string    `json:"ref"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// leaseManager issues Lease handles backed by a flock-protected JSON
// refcount file per ref, one manager per project. The refcount itself
// lives in the JSON record, not in process memory, so RefCount() is
// accurate even when a different leaseManager instance (e.g. a restarted
// process) holds one of the outstanding leases.
type leaseManager struct {
	dir string
}

func newLeaseManager(dir string) (*leaseManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("create lease dir: %w", err))
	}
	return &leaseManager{dir: dir}, nil
}

func (m *leaseManager) acquire(ctx context.Context, ref string) (Lease, error) {
	path := m.recordPath(ref)
	fl := flock.New(path + ".lock")

	locked, err := fl.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil || !locked {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("lock lease for ref %q: %w", ref, err))
	}

	rec, err := readLeaseRecord(path, ref)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	rec.Count++
	rec.UpdatedAt = time.Now()
	if err := writeLeaseRecord(path, rec); err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	count := rec.Count

	if err := fl.Unlock(); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("unlock lease for ref %q: %w", ref, err))
	}

	return &fileLease{manager: m, ref: ref, count: count}, nil
}

func (m *leaseManager) release(ref string) error {
	path := m.recordPath(ref)
	fl := flock.New(path + ".lock")

	locked, err := fl.TryLockContext(context.Background(), 20*time.Millisecond)
	if err != nil || !locked {
		return cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("lock lease for ref %q: %w", ref, err))
	}
	defer func() { _ = fl.Unlock() }()

	rec, err := readLeaseRecord(path, ref)
	if err != nil {
		return err
	}
	if rec.Count > 0 {
		rec.Count--
	}
	rec.UpdatedAt = time.Now()

	if rec.Count <= 0 {
		_ = os.Remove(path)
		return nil
	}
	return writeLeaseRecord(path, rec)
}

func (m *leaseManager) recordPath(ref string) string {
	return filepath.Join(m.dir, sanitizeRefForFilename(ref)+".lease.json")
}

func readLeaseRecord(path, ref string) (leaseRecord, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path derived from sanitized ref under our own lease dir
	if os.IsNotExist(err) {
		return leaseRecord{Ref: ref}, nil
	}
	if err != nil {
		return leaseRecord{}, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("read lease record: %w", err))
	}
	var rec leaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return leaseRecord{Ref: ref}, nil
	}
	return rec, nil
}

func writeLeaseRecord(path string, rec leaseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("marshal lease record: %w", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: lease metadata is not sensitive
		return cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("write lease record: %w", err))
	}
	return nil
}

func sanitizeRefForFilename(ref string) string {
	return strings.NewReplacer("/", "__", "\\", "__", ":", "__").Replace(ref)
}

// fileLease is the Lease implementation returned by leaseManager.
type fileLease struct {
	manager  *leaseManager
	ref      string
	count    int
	released sync.Once
}

func (l *fileLease) Ref() string   { return l.ref }
func (l *fileLease) RefCount() int { return l.count }

func (l *fileLease) Release() error {
	var err error
	l.released.Do(func() {
		err = l.manager.release(l.ref)
	})
	return err
}
