// Package storage persists named collections as atomic JSON snapshots on disk.
//
// Each collection lives in its own file under the store directory and is
// always rewritten whole: data is written to a temporary file in the same
// directory, flushed to stable storage, then renamed over the target, so a
// reader (or a restarting process) observes either the previous complete
// snapshot or the new one, never a partial file.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"hhrelay/instrumentation"
)

// CorruptError reports a snapshot file that exists but cannot be parsed.
// The file is left on disk untouched for operator inspection; callers map
// this to "start empty" explicitly.
type CorruptError struct {
	// Name is the collection name
	Name string

	// Path is the on-disk location of the corrupt file
	Path string

	// Err is the underlying decode error
	Err error
}

// Error implements the error interface
func (e *CorruptError) Error() string {
	return fmt.Sprintf("snapshot %q at %s is corrupt: %v", e.Name, e.Path, e.Err)
}

// Unwrap returns the underlying decode error
func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Store persists named collections under a single directory.
// Writes to the same collection are serialized, so two concurrent writers
// cannot race their renames against each other.
type Store struct {
	dir    string
	logger *slog.Logger
	inst   *instrumentation.Instrumentation

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at dir, creating the directory if absent.
func New(dir string, logger *slog.Logger, inst *instrumentation.Instrumentation) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if inst == nil {
		inst = instrumentation.Disabled()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	return &Store{
		dir:    dir,
		logger: logger.With("component", "storage"),
		inst:   inst,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Path returns the on-disk location of a collection's snapshot file.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Write atomically replaces the snapshot for name with the JSON encoding of v.
// On failure the previous snapshot file is left intact and the temporary
// file is removed.
func (s *Store) Write(ctx context.Context, name string, v any) error {
	lock := s.writeLock(name)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	err := s.writeLocked(name, v)
	s.record(ctx, name, time.Since(start), err)

	return err
}

func (s *Store) writeLocked(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %q: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for snapshot %q: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot %q: %w", name, err)
	}

	// Force data to stable storage before the rename publishes it.
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot %q: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot %q: %w", name, err)
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions on snapshot %q: %w", name, err)
	}

	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename snapshot %q into place: %w", name, err)
	}

	return nil
}

// Load decodes the snapshot for name into dest.
//
// An absent file reports an error satisfying errors.Is(err, fs.ErrNotExist).
// An unparseable file reports a *CorruptError and stays on disk untouched.
// Either way dest is left as the caller initialized it, so mapping both
// cases to a default is the caller's visible decision.
func (s *Store) Load(name string, dest any) error {
	path := s.Path(name)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot %q: %w", name, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("Snapshot file is corrupt, leaving it on disk for inspection",
			"collection", name,
			"path", path,
			"error", err,
		)
		return &CorruptError{Name: name, Path: path, Err: err}
	}

	return nil
}

// writeLock returns the mutex serializing writes for a collection.
func (s *Store) writeLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

func (s *Store) record(ctx context.Context, name string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("collection", name),
		attribute.String("result", result),
	)
	s.inst.Metrics().SnapshotWrites.Add(ctx, 1, attrs)
	s.inst.Metrics().SnapshotWriteDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}
