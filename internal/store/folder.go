package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/fsutil"
	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/record"
)

// FolderStore keeps each record as paired files under
// <root>/records/YYYY/MM/DD/HH/.
//
// A record becomes visible when its core file appears. Append claims the id
// by hard-linking the detailed log into place first, which fails if another
// writer (in any process) already holds the id.
type FolderStore struct {
	root   string
	gen    *record.Generator
	logger *zap.Logger

	// compactMu serializes sidecar read-modify-write within the process;
	// the sidecar lock file covers other processes.
	compactMu sync.Mutex

	// orphanGrace is how old a detailed log without a core file must be
	// before its id can be claimed again.
	orphanGrace time.Duration
}

// Lock timing for sidecar updates and orphan reclaims.
const (
	lockWait  = 5 * time.Second
	lockStale = 30 * time.Second

	// DefaultOrphanGrace bounds how long an unfinished claim reserves its id.
	DefaultOrphanGrace = time.Minute
)

// NewFolder opens (creating if needed) a folder store rooted at root.
func NewFolder(root string, gen *record.Generator, logger *zap.Logger) (*FolderStore, error) {
	if err := os.MkdirAll(filepath.Join(root, RecordsDir), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create records directory: %w", err))
	}
	if gen == nil {
		gen = record.NewGenerator(record.NewWriterSalt())
	}
	return &FolderStore{
		root:        root,
		gen:         gen,
		logger:      logging.OrNop(logger),
		orphanGrace: DefaultOrphanGrace,
	}, nil
}

// Root returns the memories root directory.
func (s *FolderStore) Root() string {
	return s.root
}

// Append stores rec and returns its id.
func (s *FolderStore) Append(ctx context.Context, rec *record.Record) (string, error) {
	r, err := prepare(rec, s.gen.Salt())
	if err != nil {
		return "", err
	}
	if err := cancelled(ctx, "append"); err != nil {
		return "", err
	}

	compacted, err := json.Marshal(r.Compacted)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	if r.ID != "" {
		if err := checkParents(ctx, s, r.ID, r.Parents); err != nil {
			return "", err
		}
		if err := s.claim(r); err != nil {
			if stderrors.Is(err, fsutil.ErrExists) {
				return "", errors.NewConflict(fmt.Sprintf("record already exists: %s", r.ID))
			}
			return "", errors.NewInternal(err)
		}
		ms, _ := record.DecodeID(r.ID)
		s.gen.Observe(ms)
	} else {
		id, ms := s.gen.Next()
		// Later attempts only move the id forward, so one parent check suffices.
		if err := checkParents(ctx, s, id, r.Parents); err != nil {
			return "", err
		}
		for attempt := 1; ; attempt++ {
			r.ID = id
			r.CreatedAt = time.UnixMilli(ms).UTC()
			err := s.claim(r)
			if err == nil {
				break
			}
			if !stderrors.Is(err, fsutil.ErrExists) {
				return "", errors.NewInternal(err)
			}
			if attempt >= maxClaimAttempts {
				return "", errors.NewConflict("could not claim a free record id")
			}
			s.logger.Debug("record id taken, advancing", zap.String("id", id))
			id, ms = s.gen.Collided(ms)
		}
	}

	p := PathsFor(s.root, r.ID, r.CreatedAt)
	if err := s.publish(r, p, compacted); err != nil {
		// Release the claim so the id does not stay half-written.
		os.Remove(p.Detailed)
		os.Remove(p.Compacted)
		return "", errors.NewInternal(err)
	}
	return r.ID, nil
}

// claim writes the detailed log exclusively, reserving r.ID.
func (s *FolderStore) claim(r *record.Record) error {
	lines, err := r.DetailLines()
	if err != nil {
		return err
	}
	p := PathsFor(s.root, r.ID, r.CreatedAt)
	if err := os.MkdirAll(p.Dir, 0700); err != nil {
		return err
	}
	if ok, err := fsutil.Exists(p.Core); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%s: %w", p.Core, fsutil.ErrExists)
	}
	data := record.JoinLines(lines)
	err = fsutil.WriteExclusive(p.Detailed, 0600, fsutil.Bytes(data))
	if !stderrors.Is(err, fsutil.ErrExists) {
		return err
	}
	return s.reclaim(r.ID, p, data)
}

// reclaim takes over an id whose detailed log was linked by a writer that
// never published the core file. The log must be older than orphanGrace;
// a younger one may belong to an append still in progress.
func (s *FolderStore) reclaim(id string, p Paths, data []byte) error {
	unlock, err := fsutil.Lock(context.Background(), p.Detailed+lockSuffix, lockWait, lockStale)
	if err != nil {
		return err
	}
	defer unlock()

	info, err := os.Lstat(p.Detailed)
	if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err == nil {
		if ok, err := fsutil.Exists(p.Core); err != nil {
			return err
		} else if ok || time.Since(info.ModTime()) < s.orphanGrace {
			return fmt.Errorf("%s: %w", p.Detailed, fsutil.ErrExists)
		}
		if err := os.Remove(p.Detailed); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return err
		}
		s.logger.Warn("reclaimed orphan record id", zap.String("id", id), zap.String("path", p.Detailed))
	}
	return fsutil.WriteExclusive(p.Detailed, 0600, fsutil.Bytes(data))
}

// publish writes the compacted sidecar and then the core file.
func (s *FolderStore) publish(r *record.Record, p Paths, compacted []byte) error {
	if err := fsutil.WriteReplace(p.Compacted, 0600, fsutil.Bytes(compacted)); err != nil {
		return err
	}
	core, err := r.CoreJSON()
	if err != nil {
		return err
	}
	return fsutil.WriteExclusive(p.Core, 0600, fsutil.Bytes(core))
}

// Get returns a copy of the record with the given id.
func (s *FolderStore) Get(ctx context.Context, id string) (*record.Record, error) {
	p, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	core, err := readCore(p, id)
	if err != nil {
		return nil, err
	}
	return complete(core, p)
}

// Detail returns the detailed log lines of a record.
func (s *FolderStore) Detail(ctx context.Context, id string) ([]string, error) {
	p, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := readLines(p.Detailed)
	if err != nil {
		return nil, errors.NewCorruptRecord(p.Detailed, err)
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

// AppendCompacted appends summary lines to the record's sidecar.
func (s *FolderStore) AppendCompacted(ctx context.Context, id string, lines []string) ([]string, error) {
	p, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}

	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	unlock, err := fsutil.Lock(ctx, p.Compacted+lockSuffix, lockWait, lockStale)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("append compacted")
		}
		return nil, errors.NewInternal(err)
	}
	defer unlock()

	current, err := readCompacted(p.Compacted)
	if err != nil {
		return nil, errors.NewCorruptRecord(p.Compacted, err)
	}
	current = append(current, lines...)

	data, err := json.Marshal(current)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := fsutil.WriteReplace(p.Compacted, 0600, fsutil.Bytes(data)); err != nil {
		return nil, errors.NewInternal(err)
	}
	return current, nil
}

// ScanByPrefix returns records under prefix, newest limit, ascending.
func (s *FolderStore) ScanByPrefix(ctx context.Context, prefix channel.Channel, limit int) (*ScanResult, error) {
	if prefix.IsZero() {
		return nil, errors.NewInvalidChannel("", "prefix is required")
	}
	return s.scan(ctx, nil, prefix, limit)
}

// ScanByPredicate returns records under scope accepted by pred.
func (s *FolderStore) ScanByPredicate(ctx context.Context, pred Predicate, scope channel.Channel, limit int) (*ScanResult, error) {
	if pred == nil {
		return nil, errors.NewInvalidRequest("predicate is required")
	}
	return s.scan(ctx, pred, scope, limit)
}

// Close is a no-op for the folder store.
func (s *FolderStore) Close() error {
	return nil
}

func (s *FolderStore) scan(ctx context.Context, pred Predicate, scope channel.Channel, limit int) (*ScanResult, error) {
	if err := ValidateLimit(limit); err != nil {
		return nil, err
	}
	c := newCollector(limit, s.logger)

	err := s.walkDesc(ctx, filepath.Join(s.root, RecordsDir), c, func(dir, id string) bool {
		p := pathsIn(dir, id)
		core, err := readCore(p, id)
		if err != nil {
			c.skip(id, p.Core, err)
			return false
		}
		if !scope.IsZero() {
			in, err := channel.Parse(core.InChannel)
			if err != nil || !in.HasPrefix(scope) {
				return false
			}
		}
		rec, err := complete(core, p)
		if err != nil {
			c.skip(id, p.Core, err)
			return false
		}
		if pred != nil && !pred(rec.Clone()) {
			return false
		}
		c.add(rec)
		return c.full()
	})
	if err != nil {
		return nil, err
	}
	return c.result(), nil
}

// walkDesc visits core files newest-first: directories in descending name
// order, ids within a directory in descending order. visit returns true to
// stop. Unreadable directories become diagnostics.
func (s *FolderStore) walkDesc(ctx context.Context, dir string, c *collector, visit func(dir, id string) bool) error {
	_, err := s.walkDir(ctx, dir, c, visit)
	return err
}

func (s *FolderStore) walkDir(ctx context.Context, dir string, c *collector, visit func(dir, id string) bool) (bool, error) {
	if err := cancelled(ctx, "scan"); err != nil {
		return true, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		c.skip("", dir, err)
		return false, nil
	}

	var ids, subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
			continue
		}
		if id, ok := idFromCoreName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for i := len(ids) - 1; i >= 0; i-- {
		if err := cancelled(ctx, "scan"); err != nil {
			return true, err
		}
		if visit(dir, ids[i]) {
			return true, nil
		}
	}
	for i := len(subdirs) - 1; i >= 0; i-- {
		stop, err := s.walkDir(ctx, filepath.Join(dir, subdirs[i]), c, visit)
		if stop || err != nil {
			return stop, err
		}
	}
	return false, nil
}

// locate finds the artifact paths of id: the bucket derived from the id
// first, then a full walk for records filed elsewhere.
func (s *FolderStore) locate(ctx context.Context, id string) (Paths, error) {
	p, ok := pathsForID(s.root, id)
	if !ok {
		return Paths{}, errors.NewInvalidRequest(fmt.Sprintf("invalid record id: %q", id))
	}
	if exists, err := fsutil.Exists(p.Core); err != nil {
		return Paths{}, errors.NewInternal(err)
	} else if exists {
		return p, nil
	}

	var found Paths
	hit := false
	c := newCollector(0, s.logger)
	err := s.walkDesc(ctx, filepath.Join(s.root, RecordsDir), c, func(dir, candidate string) bool {
		if candidate == id {
			found = pathsIn(dir, id)
			hit = true
			return true
		}
		return false
	})
	if err != nil {
		return Paths{}, err
	}
	if !hit {
		return Paths{}, errors.NewNotFound(id)
	}
	return found, nil
}

// readCore loads and checks a core file.
func readCore(p Paths, id string) (record.Core, error) {
	data, err := os.ReadFile(p.Core)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return record.Core{}, errors.NewNotFound(id)
		}
		return record.Core{}, errors.NewCorruptRecord(p.Core, err)
	}
	core, err := record.ParseCore(data)
	if err != nil {
		return record.Core{}, errors.NewCorruptRecord(p.Core, err)
	}
	if core.ID != id {
		return record.Core{}, errors.NewCorruptRecord(p.Core, fmt.Errorf("id %q does not match file name", core.ID))
	}
	return core, nil
}

// complete joins core metadata with the detailed log and sidecar.
func complete(core record.Core, p Paths) (*record.Record, error) {
	detail, err := readLines(p.Detailed)
	if err != nil {
		return nil, errors.NewCorruptRecord(p.Detailed, err)
	}
	compacted, err := readCompacted(p.Compacted)
	if err != nil {
		return nil, errors.NewCorruptRecord(p.Compacted, err)
	}
	rec, err := record.FromParts(core, detail, compacted)
	if err != nil {
		return nil, errors.NewCorruptRecord(p.Detailed, err)
	}
	return rec, nil
}

// readLines reads a JSONL file. A missing file yields no lines.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return record.SplitLines(data), nil
}

// readCompacted reads the sidecar list. A missing file yields an empty list.
func readCompacted(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}
