// Package state provides durable suspension record stores: a JSON file with
// atomic writes and cross-process locking, and a SQLite backend. Either one
// lets a restriction survive a process restart and still be lifted with
// exact rule restoration.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// FileSuspensionStore keeps suspension records in one JSON file keyed by
// scope. Writes are atomic (write-tmp-then-rename) and guarded by both an
// in-process mutex and flock for cross-process exclusion.
type FileSuspensionStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileSuspensionStore creates a FileSuspensionStore for the given path.
func NewFileSuspensionStore(path string, logger *slog.Logger) *FileSuspensionStore {
	return &FileSuspensionStore{path: path, logger: logger}
}

// Save records the suspension for its scope, replacing any previous record.
func (s *FileSuspensionStore) Save(ctx context.Context, susp *policy.Suspension) error {
	return s.update(ctx, func(records map[string]*policy.Suspension) {
		records[susp.Scope.String()] = susp
	})
}

// Load returns the suspension recorded for the scope, or (nil, nil) when no
// record (or no file) exists.
func (s *FileSuspensionStore) Load(_ context.Context, scope policy.Scope) (*policy.Suspension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.read()
	if err != nil {
		return nil, err
	}
	return records[scope.String()], nil
}

// Clear removes the scope's record. Clearing an absent record is not an
// error.
func (s *FileSuspensionStore) Clear(ctx context.Context, scope policy.Scope) error {
	return s.update(ctx, func(records map[string]*policy.Suspension) {
		delete(records, scope.String())
	})
}

// update applies fn to the record map under both locks and writes the result
// atomically:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Re-read the current file (another process may have written it)
//  4. Apply fn and marshal as indented JSON
//  5. Write to path+".tmp" with 0600 permissions, fsync, rename over path
//  6. Release flock and mutex
func (s *FileSuspensionStore) update(_ context.Context, fn func(map[string]*policy.Suspension)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	records, err := s.read()
	if err != nil {
		return err
	}
	fn(records)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal suspension records: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}
	s.logger.Debug("suspension records saved", "path", s.path, "records", len(records))
	return nil
}

// read parses the record file. A missing file is an empty store. Warns when
// the file has permissions more open than 0600.
func (s *FileSuspensionStore) read() (map[string]*policy.Suspension, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*policy.Suspension), nil
		}
		return nil, fmt.Errorf("read suspension file: %w", err)
	}

	// Skip the permission check on Windows where Unix permission bits are
	// not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				s.logger.Warn("suspension file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	records := make(map[string]*policy.Suspension)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse suspension file: %w", err)
	}
	return records, nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over the
// target path. On any error the temp file is cleaned up.
func (s *FileSuspensionStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
