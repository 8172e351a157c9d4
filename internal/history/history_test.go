package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/leonletto/anvil/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "var", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	entries := []protocol.ToolHistoryEntry{
		{Tool: "build", Workflow: "build", Args: "scheme=App", DurationMs: 1200, InvokedAt: now.Add(-2 * time.Minute)},
		{Tool: "test", Workflow: "test", IsError: true, DurationMs: 900, InvokedAt: now.Add(-time.Minute)},
		{Tool: "build", Workflow: "build", DurationMs: 400, InvokedAt: now},
	}
	for _, e := range entries {
		if err := store.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.List("", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	// Newest first.
	if got[0].Tool != "build" || got[0].DurationMs != 400 {
		t.Errorf("first row = %+v, want the newest build", got[0])
	}
	if !got[1].IsError {
		t.Errorf("second row IsError = false, want true")
	}
	if !got[0].InvokedAt.Equal(now) {
		t.Errorf("invokedAt = %v, want %v", got[0].InvokedAt, now)
	}
}

func TestListFilterAndLimit(t *testing.T) {
	store := openTestStore(t)
	for i := range 10 {
		tool := "build"
		if i%2 == 0 {
			tool = "test"
		}
		if err := store.Record(protocol.ToolHistoryEntry{
			Tool: tool, Workflow: "w", InvokedAt: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.List("build", 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	for _, e := range got {
		if e.Tool != "build" {
			t.Errorf("filter leaked tool %q", e.Tool)
		}
	}
}

func TestListEmpty(t *testing.T) {
	store := openTestStore(t)
	got, err := store.List("", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got != nil {
		t.Errorf("rows = %v, want nil", got)
	}
}

func TestCount(t *testing.T) {
	store := openTestStore(t)
	for range 4 {
		if err := store.Record(protocol.ToolHistoryEntry{Tool: "clean", Workflow: "build", InvokedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}

func TestOpenReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(protocol.ToolHistoryEntry{Tool: "build", Workflow: "build", InvokedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	n, err := reopened.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count after reopen = %d, want 1", n)
	}
}
