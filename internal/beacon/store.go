package beacon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/example/deskwatch/internal/logging"
	"github.com/example/deskwatch/internal/remote"
)

const (
	// TTL is how long a record stays valid after its last renewal.
	TTL = 90 * time.Second

	FileName    = "occupant.json"
	PrimaryDir  = "/var/lib/deskwatch"
	FallbackDir = "/tmp/deskwatch"
)

// ErrInstanceIDEmpty is reported by DeleteIfOwned when called without an id.
var ErrInstanceIDEmpty = errors.New("instance id empty")

// WriteResult reports where the record landed.
type WriteResult struct {
	OK     bool
	Dir    string
	Record Record
	Err    error
}

// ReadResult carries the valid record, if any, and the stale records that
// were evicted while looking for it.
type ReadResult struct {
	Record  Record
	Found   bool
	Dir     string
	Evicted []string
	Err     error
}

// DeleteResult lists the record paths removed. Owned is set when one of them
// carried the caller's instance id; corrupt records are removed regardless.
type DeleteResult struct {
	Removed []string
	Owned   bool
	Err     error
}

// Store reads and writes the occupant record in a list of directories tried
// in priority order. It holds no mutable state and is safe for concurrent use.
type Store struct {
	open    Opener
	dirs    []string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithDirs replaces the primary and fallback directories.
func WithDirs(dirs ...string) Option {
	return func(s *Store) {
		s.dirs = append([]string(nil), dirs...)
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithTTL overrides the validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithTimeout bounds each operation; defaults to remote.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// NewStore builds a store that opens its filesystem through open.
func NewStore(open Opener, opts ...Option) *Store {
	s := &Store{
		open:    open,
		dirs:    []string{PrimaryDir, FallbackDir},
		ttl:     TTL,
		timeout: remote.DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dirs returns the directories in priority order.
func (s *Store) Dirs() []string {
	return append([]string(nil), s.dirs...)
}

// RecordPath returns the record location inside dir.
func RecordPath(dir string) string {
	return path.Join(dir, FileName)
}

// Write stamps a record with the current time and stores it in the first
// directory that accepts it. The record is uploaded to a temporary sibling and
// renamed into place so readers never observe a partial file.
func (s *Store) Write(ctx context.Context, alias, instanceID string) WriteResult {
	rec := Record{Alias: alias, InstanceID: instanceID, LastSeenUTC: s.now().UTC()}
	data, err := encodeRecord(rec)
	if err != nil {
		return WriteResult{Err: fmt.Errorf("encode occupant record: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fsys, err := s.open(ctx)
	if err != nil {
		return WriteResult{Err: fmt.Errorf("open beacon store: %w", err)}
	}
	defer fsys.Close()

	var errs []error
	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := writeAtomic(fsys, dir, data); err != nil {
			logging.Debugf("beacon write to %s failed: %v", dir, err)
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		return WriteResult{OK: true, Dir: dir, Record: rec}
	}
	return WriteResult{Err: errors.Join(errs...)}
}

func writeAtomic(fsys FS, dir string, data []byte) error {
	_ = fsys.MkdirAll(dir)

	final := RecordPath(dir)
	tmp := final + ".tmp"
	if err := fsys.WriteFile(tmp, data); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	_ = fsys.Remove(final)
	if err := fsys.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadFresh returns the first valid record in priority order. Stale records
// met along the way are deleted; missing or unreadable ones are skipped.
func (s *Store) ReadFresh(ctx context.Context) ReadResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fsys, err := s.open(ctx)
	if err != nil {
		return ReadResult{Err: fmt.Errorf("open beacon store: %w", err)}
	}
	defer fsys.Close()

	var (
		res  ReadResult
		errs []error
	)
	now := s.now()
	for _, dir := range s.dirs {
		p := RecordPath(dir)
		rec, err := readRecord(fsys, p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case errors.Is(err, errCorrupt):
			logging.Debugf("skipping %s: %v", p, err)
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}

		if rec.FreshAt(now, s.ttl) {
			res.Record, res.Found, res.Dir = rec, true, dir
			return res
		}

		logging.Debugf("evicting stale occupant record %s (last seen %s)", p, rec.LastSeenUTC.Format(time.RFC3339))
		if err := fsys.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("evict %s: %w", p, err))
			continue
		}
		res.Evicted = append(res.Evicted, p)
	}
	res.Err = errors.Join(errs...)
	return res
}

// DeleteIfOwned removes records carrying instanceID (compared without regard
// to case) and any corrupt record. Records owned by other instances are left
// in place.
func (s *Store) DeleteIfOwned(ctx context.Context, instanceID string) DeleteResult {
	if strings.TrimSpace(instanceID) == "" {
		return DeleteResult{Err: ErrInstanceIDEmpty}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fsys, err := s.open(ctx)
	if err != nil {
		return DeleteResult{Err: fmt.Errorf("open beacon store: %w", err)}
	}
	defer fsys.Close()

	var (
		res  DeleteResult
		errs []error
	)
	for _, dir := range s.dirs {
		p := RecordPath(dir)
		rec, err := readRecord(fsys, p)
		owned := false
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case errors.Is(err, errCorrupt):
			logging.Debugf("removing corrupt occupant record %s: %v", p, err)
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		case !rec.OwnedBy(instanceID):
			continue
		default:
			owned = true
		}

		if err := fsys.Remove(p); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
			}
			continue
		}
		res.Removed = append(res.Removed, p)
		res.Owned = res.Owned || owned
	}
	res.Err = errors.Join(errs...)
	return res
}

func readRecord(fsys FS, p string) (Record, error) {
	data, err := fsys.ReadFile(p)
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(data)
}
