// Package tokenstore owns the in-memory map of state to token record,
// decides freshness, drives refresh exchanges against the identity
// provider, and writes through to durable storage on every mutation.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"hhrelay/instrumentation"
	"hhrelay/internal/util"
	"hhrelay/providers"
	"hhrelay/storage"
)

const (
	// collectionName is the storage collection holding the token map.
	collectionName = "tokens"

	// freshnessMargin is the safety window before actual expiry in which a
	// record is already considered stale.
	freshnessMargin = 60

	// reloadGraceWindow is applied to records whose expires_at cannot be
	// parsed during load.
	reloadGraceWindow = 300
)

// ErrPersistence marks failures of the durable write-through. Callers use
// it to distinguish storage failures from provider refresh failures.
var ErrPersistence = errors.New("failed to persist token records")

// Config holds the Manager dependencies.
type Config struct {
	// Provider performs refresh exchanges for stale records (required).
	Provider providers.Provider

	// Store receives a durable write of the full map on every mutation (required).
	Store *storage.Store

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger

	// Instrumentation for metrics (optional, no-op if not provided).
	Instrumentation *instrumentation.Instrumentation

	// Now overrides the time source, for tests.
	Now func() time.Time
}

// Manager owns the token record map. Reads take the map lock; every
// mutation of one state additionally holds that state's mutex, so a
// refresh in flight for one key serializes with stores and deletes of the
// same key without blocking any other key.
type Manager struct {
	provider providers.Provider
	store    *storage.Store
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
	now      func() time.Time

	mu      sync.RWMutex
	records map[string]*Record

	lockMu     sync.Mutex
	stateLocks map[string]*sync.Mutex

	// persistMu keeps snapshot capture and file write together, so the
	// last snapshot written always reflects the latest mutation.
	persistMu sync.Mutex
}

// NewManager creates a Manager. Load must be called before serving requests.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inst := cfg.Instrumentation
	if inst == nil {
		inst = instrumentation.Disabled()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		provider:   cfg.Provider,
		store:      cfg.Store,
		logger:     logger.With("component", "tokenstore"),
		inst:       inst,
		now:        now,
		records:    make(map[string]*Record),
		stateLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Load populates the map from the durable snapshot. Absent and corrupt
// snapshots both start empty; a corrupt file stays on disk for inspection.
// Records failing to coerce are dropped; see decodeRecord.
func (m *Manager) Load(ctx context.Context) error {
	raw := make(map[string]json.RawMessage)
	if err := m.store.Load(collectionName, &raw); err != nil {
		var corrupt *storage.CorruptError
		switch {
		case errors.Is(err, fs.ErrNotExist):
			m.logger.Info("No token snapshot on disk, starting empty")
			return nil
		case errors.As(err, &corrupt):
			m.logger.Warn("Token snapshot is corrupt, starting empty", "path", corrupt.Path)
			return nil
		default:
			return fmt.Errorf("failed to load token snapshot: %w", err)
		}
	}

	now := m.now().Unix()
	records := make(map[string]*Record, len(raw))
	dropped := 0
	for state, rawRec := range raw {
		rec, ok := decodeRecord(state, rawRec, now)
		if !ok {
			dropped++
			m.logger.Warn("Dropping malformed token record", "state_hash", util.HashForLogging(state))
			continue
		}
		records[state] = rec
	}

	m.mu.Lock()
	m.records = records
	m.mu.Unlock()

	m.logger.Info("Loaded token records", "count", len(records), "dropped", dropped)
	return nil
}

// Store unconditionally replaces any existing record for rec.State and
// durably writes the full map.
func (m *Manager) Store(ctx context.Context, rec *Record) error {
	if rec == nil || rec.State == "" {
		return fmt.Errorf("record with state is required")
	}

	unlock := m.lockState(rec.State)
	defer unlock()

	m.mu.Lock()
	m.records[rec.State] = rec.Clone()
	m.mu.Unlock()

	return m.persist(ctx)
}

// GetValid returns the record for state, refreshing it first when stale.
//
// A record is stale once now >= expires_at - 60s. Stale with a refresh
// token: one refresh exchange is performed; the refresh token is replaced
// only if the provider supplied a new one. Stale without a refresh token:
// the record is returned as-is and the caller is expected to detect the
// provider-side rejection. A failed refresh propagates; nothing is stored.
//
// Returns (nil, nil) when state is unknown.
func (m *Manager) GetValid(ctx context.Context, state string) (*Record, error) {
	unlock := m.lockState(state)
	defer unlock()

	m.mu.RLock()
	rec, ok := m.records[state]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	now := m.now().Unix()
	if now < rec.ExpiresAt-freshnessMargin {
		return rec.Clone(), nil
	}

	if rec.RefreshToken == "" {
		m.logger.Warn("Record is stale and has no refresh token, returning as-is",
			"state_hash", util.HashForLogging(state),
			"expires_at", rec.ExpiresAt,
		)
		return rec.Clone(), nil
	}

	token, err := m.provider.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		m.inst.Metrics().TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("result", "error"),
		))
		m.logger.Error("Refresh exchange failed",
			"state_hash", util.HashForLogging(state),
			"error", err,
		)
		return nil, err
	}

	updated := NewRecord(state, token)
	rotated := token.RefreshToken != ""
	if !rotated {
		// Providers may not rotate the refresh token; keep the old one.
		updated.RefreshToken = rec.RefreshToken
	}

	m.mu.Lock()
	m.records[state] = updated
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return nil, err
	}

	m.inst.Metrics().TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", "success"),
		attribute.Bool("rotated", rotated),
	))
	m.logger.Info("Refreshed token record",
		"state_hash", util.HashForLogging(state),
		"rotated", rotated,
		"expires_at", updated.ExpiresAt,
	)

	return updated.Clone(), nil
}

// Delete removes the record for state if present, durably writes the map
// regardless, and reports whether a record existed.
func (m *Manager) Delete(ctx context.Context, state string) (bool, error) {
	unlock := m.lockState(state)
	defer unlock()

	m.mu.Lock()
	_, existed := m.records[state]
	delete(m.records, state)
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return existed, err
	}

	if existed {
		m.inst.Metrics().TokenDeleted.Add(ctx, 1)
		m.logger.Info("Deleted token record", "state_hash", util.HashForLogging(state))
	}
	return existed, nil
}

// ListRedacted returns all records with token material redacted, sorted by
// state for stable output. For trusted observability callers only.
func (m *Manager) ListRedacted() []*Record {
	m.mu.RLock()
	records := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec.Redacted())
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].State < records[j].State
	})
	return records
}

// Len returns the number of records currently held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// persist writes the full map through to durable storage.
func (m *Manager) persist(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	snapshot := make(map[string]*Record, len(m.records))
	for state, rec := range m.records {
		snapshot[state] = rec.Clone()
	}
	m.mu.RUnlock()

	if err := m.store.Write(ctx, collectionName, snapshot); err != nil {
		m.logger.Error("Failed to persist token records", "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// lockState serializes mutations for one state key.
func (m *Manager) lockState(state string) func() {
	m.lockMu.Lock()
	lock, ok := m.stateLocks[state]
	if !ok {
		lock = &sync.Mutex{}
		m.stateLocks[state] = lock
	}
	m.lockMu.Unlock()

	lock.Lock()
	return lock.Unlock
}
