package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"hhrelay/internal/testutil"
	"hhrelay/storage"
)

func newTestBuffer(t *testing.T, capacity int) (*Buffer, *storage.Store) {
	t.Helper()
	store := testutil.NewTestStore(t)
	buffer, err := NewBuffer(Config{
		Store:    store,
		Capacity: capacity,
		Logger:   testutil.NewTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	return buffer, store
}

func TestBuffer_PushAndList(t *testing.T) {
	buffer, _ := newTestBuffer(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := Entry{State: fmt.Sprintf("s%d", i), Code: fmt.Sprintf("c%d", i), TS: int64(i)}
		if err := buffer.Push(ctx, entry); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	list := buffer.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	// Oldest first.
	for i, entry := range list {
		if entry.State != fmt.Sprintf("s%d", i) {
			t.Errorf("entry %d state = %q, want s%d", i, entry.State, i)
		}
	}
}

func TestBuffer_EvictsOldestAtCapacity(t *testing.T) {
	buffer, _ := newTestBuffer(t, 200)
	ctx := context.Background()

	for i := 0; i < 201; i++ {
		entry := Entry{State: fmt.Sprintf("s%d", i), Code: "c", TS: int64(i)}
		if err := buffer.Push(ctx, entry); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	if buffer.Len() != 200 {
		t.Fatalf("Len() = %d, want 200", buffer.Len())
	}

	list := buffer.List()
	if list[0].State != "s1" {
		t.Errorf("oldest entry = %q, want s1 (s0 evicted)", list[0].State)
	}
	if list[len(list)-1].State != "s200" {
		t.Errorf("newest entry = %q, want s200", list[len(list)-1].State)
	}
}

func TestBuffer_RemoveByState(t *testing.T) {
	buffer, _ := newTestBuffer(t, 10)
	ctx := context.Background()

	// Two entries share a state; only the first must go.
	entries := []Entry{
		{State: "a", Code: "c1", TS: 1},
		{State: "b", Code: "c2", TS: 2},
		{State: "a", Code: "c3", TS: 3},
	}
	for _, entry := range entries {
		if err := buffer.Push(ctx, entry); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	removed, err := buffer.RemoveByState(ctx, "a")
	if err != nil {
		t.Fatalf("RemoveByState() error = %v", err)
	}
	if removed.Code != "c1" {
		t.Errorf("removed.Code = %q, want c1 (first match)", removed.Code)
	}

	list := buffer.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].State != "b" || list[1].Code != "c3" {
		t.Errorf("remaining entries out of order: %v", list)
	}
}

func TestBuffer_RemoveByState_NotFound(t *testing.T) {
	buffer, store := newTestBuffer(t, 10)
	ctx := context.Background()

	_, err := buffer.RemoveByState(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveByState() error = %v, want ErrNotFound", err)
	}

	// A miss must not touch the snapshot.
	if _, err := os.Stat(store.Path(collectionName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("snapshot written on not-found removal: %v", err)
	}
}

func TestBuffer_RoundTrip(t *testing.T) {
	store := testutil.NewTestStore(t)
	logger := testutil.NewTestLogger()
	ctx := context.Background()

	first, err := NewBuffer(Config{Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	want := Entry{State: "xyz", Code: "abc", TS: 1756300000, IP: "203.0.113.7"}
	if err := first.Push(ctx, want); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	second, err := NewBuffer(Config{Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	list := second.List()
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0] != want {
		t.Errorf("reloaded entry = %+v, want %+v", list[0], want)
	}
}

func TestBuffer_Load_TrimsOversizedSnapshot(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	var entries []Entry
	for i := 0; i < 8; i++ {
		entries = append(entries, Entry{State: fmt.Sprintf("s%d", i), Code: "c", TS: int64(i)})
	}
	if err := store.Write(ctx, collectionName, entries); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buffer, err := NewBuffer(Config{
		Store:    store,
		Capacity: 5,
		Logger:   testutil.NewTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	if err := buffer.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	list := buffer.List()
	if len(list) != 5 {
		t.Fatalf("len = %d, want 5 (trimmed to capacity)", len(list))
	}
	// The newest entries survive the trim.
	if list[0].State != "s3" || list[4].State != "s7" {
		t.Errorf("trim kept wrong entries: %v", list)
	}
}

func TestBuffer_Load_MissingAndCorruptStartEmpty(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		buffer, _ := newTestBuffer(t, 10)
		if err := buffer.Load(context.Background()); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if buffer.Len() != 0 {
			t.Errorf("Len() = %d, want 0", buffer.Len())
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		buffer, store := newTestBuffer(t, 10)
		if err := os.WriteFile(store.Path(collectionName), []byte("[{nope"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if err := buffer.Load(context.Background()); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if buffer.Len() != 0 {
			t.Errorf("Len() = %d, want 0", buffer.Len())
		}
		if _, err := os.Stat(store.Path(collectionName)); err != nil {
			t.Errorf("corrupt snapshot removed: %v", err)
		}
	})
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	buffer, _ := newTestBuffer(t, 0)
	if buffer.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", buffer.capacity, DefaultCapacity)
	}
}
