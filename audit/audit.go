// Package audit keeps a bounded FIFO of raw callback events for operational
// visibility, independent of the token record map, written through to
// durable storage on every mutation.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"hhrelay/instrumentation"
	"hhrelay/internal/util"
	"hhrelay/storage"
)

const (
	// collectionName is the storage collection holding the audit list.
	collectionName = "audit"

	// DefaultCapacity is the buffer capacity when none is configured.
	DefaultCapacity = 200
)

// ErrNotFound reports that no entry matched the requested state.
var ErrNotFound = errors.New("no audit entry for state")

// Entry records one callback hit as received, unvalidated.
// It carries no token material.
type Entry struct {
	// State is the correlation key as received
	State string `json:"state"`

	// Code is the authorization code as received
	Code string `json:"code"`

	// TS is the ingestion Unix timestamp
	TS int64 `json:"ts"`

	// IP is the originating client address, empty when unknown
	IP string `json:"ip,omitempty"`
}

// Buffer is a fixed-capacity FIFO of callback entries. Once at capacity the
// oldest entry is evicted to make room; eviction is silent.
type Buffer struct {
	store    *storage.Store
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
	capacity int

	mu      sync.Mutex
	entries []Entry
}

// Config holds the Buffer dependencies.
type Config struct {
	// Store receives a durable write of the full list on every mutation (required).
	Store *storage.Store

	// Capacity bounds the buffer (default: DefaultCapacity).
	Capacity int

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger

	// Instrumentation for metrics (optional, no-op if not provided).
	Instrumentation *instrumentation.Instrumentation
}

// NewBuffer creates a Buffer. Load must be called before serving requests.
func NewBuffer(cfg Config) (*Buffer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inst := cfg.Instrumentation
	if inst == nil {
		inst = instrumentation.Disabled()
	}

	return &Buffer{
		store:    cfg.Store,
		logger:   logger.With("component", "audit"),
		inst:     inst,
		capacity: capacity,
	}, nil
}

// Load populates the buffer from the durable snapshot, keeping the newest
// entries when the snapshot exceeds capacity. Absent and corrupt snapshots
// both start empty; a corrupt file stays on disk for inspection.
func (b *Buffer) Load(ctx context.Context) error {
	var entries []Entry
	if err := b.store.Load(collectionName, &entries); err != nil {
		var corrupt *storage.CorruptError
		switch {
		case errors.Is(err, fs.ErrNotExist):
			b.logger.Info("No audit snapshot on disk, starting empty")
			return nil
		case errors.As(err, &corrupt):
			b.logger.Warn("Audit snapshot is corrupt, starting empty", "path", corrupt.Path)
			return nil
		default:
			return fmt.Errorf("failed to load audit snapshot: %w", err)
		}
	}

	if len(entries) > b.capacity {
		entries = entries[len(entries)-b.capacity:]
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()

	b.logger.Info("Loaded audit entries", "count", len(entries))
	return nil
}

// Push appends an entry, evicting the oldest when at capacity, and durably
// writes the list.
func (b *Buffer) Push(ctx context.Context, entry Entry) error {
	b.mu.Lock()
	if len(b.entries) >= b.capacity {
		evicted := len(b.entries) - b.capacity + 1
		b.entries = append(b.entries[:0], b.entries[evicted:]...)
	}
	b.entries = append(b.entries, entry)
	b.mu.Unlock()

	return b.persist(ctx)
}

// List returns all entries in insertion order, oldest first.
func (b *Buffer) List() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return entries
}

// RemoveByState removes the first entry matching state and durably writes
// the list. Returns ErrNotFound when no entry matches; nothing is written
// in that case.
func (b *Buffer) RemoveByState(ctx context.Context, state string) (Entry, error) {
	b.mu.Lock()
	idx := -1
	for i, entry := range b.entries {
		if entry.State == state {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	removed := b.entries[idx]
	b.entries = append(b.entries[:idx], b.entries[idx+1:]...)
	b.mu.Unlock()

	if err := b.persist(ctx); err != nil {
		return removed, err
	}

	b.logger.Info("Removed audit entry", "state_hash", util.HashForLogging(state))
	return removed, nil
}

// Len returns the number of entries currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// persist writes the full ordered list through to durable storage.
func (b *Buffer) persist(ctx context.Context) error {
	b.mu.Lock()
	snapshot := make([]Entry, len(b.entries))
	copy(snapshot, b.entries)
	b.mu.Unlock()

	if err := b.store.Write(ctx, collectionName, snapshot); err != nil {
		b.logger.Error("Failed to persist audit entries", "error", err)
		return fmt.Errorf("failed to persist audit entries: %w", err)
	}
	return nil
}
