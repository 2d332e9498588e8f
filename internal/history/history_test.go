package history

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"canvas/api/internal/workspace"
)

func newWorkspace(id string) workspace.Workspace {
	ws := workspace.New(id, "user-1", "Notes", "", time.UnixMilli(1_700_000_000_000))
	ws.Blocks = []workspace.Block{workspace.NewTextBlock("b1", "Intro", "first draft")}
	return ws
}

func TestRecordLifecycle(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	svc := New(dir, clock)

	ws := newWorkspace("ws_1")
	first, created, err := svc.Record(ws, "ada@example.com", "Save workspace")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !created || first.Hash == "" {
		t.Fatalf("expected a new commit, got %+v created=%v", first, created)
	}
	if _, err := os.Stat(filepath.Join(dir, "ws_1", ".git")); err != nil {
		t.Fatalf("repo missing: %v", err)
	}

	clock.Advance(time.Minute)
	ws.Blocks[0].Content = workspace.Text{Content: "second draft"}
	second, created, err := svc.Record(ws, "ada@example.com", "Edit intro")
	if err != nil || !created {
		t.Fatalf("Record() second = %+v, %v, %v", second, created, err)
	}

	history, err := svc.History("ws_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Hash != second.Hash || history[0].Message != "Edit intro" {
		t.Fatalf("unexpected newest commit: %+v", history[0])
	}
	if history[0].Author != "ada@example.com" {
		t.Fatalf("unexpected author: %q", history[0].Author)
	}
	if history[0].CreatedAt != clock.Now().UnixMilli() {
		t.Fatalf("unexpected timestamp %d", history[0].CreatedAt)
	}

	snap, err := svc.Snapshot("ws_1", first.Hash)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	text, ok := snap.Document.Blocks[0].Content.(workspace.Text)
	if !ok || text.Content != "first draft" {
		t.Fatalf("unexpected snapshot content: %+v", snap.Document.Blocks)
	}
	if snap.Name != "Notes" {
		t.Fatalf("unexpected snapshot name %q", snap.Name)
	}
}

func TestRecordSkipsUnchanged(t *testing.T) {
	svc := New(t.TempDir(), clockwork.NewFakeClock())
	ws := newWorkspace("ws_2")

	first, _, err := svc.Record(ws, "a", "one")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	again, created, err := svc.Record(ws, "a", "two")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if created {
		t.Fatal("expected unchanged content to be skipped")
	}
	if again.Hash != first.Hash {
		t.Fatalf("expected head hash %s, got %s", first.Hash, again.Hash)
	}

	history, err := svc.History("ws_2", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(history))
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir(), clockwork.NewFakeClock())
	ws := newWorkspace("ws_3")
	for _, name := range []string{"a", "b", "c"} {
		ws.Name = name
		if _, _, err := svc.Record(ws, "a", "rename "+name); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	history, err := svc.History("ws_3", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Message != "rename c" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestMissingAndInvalid(t *testing.T) {
	svc := New(t.TempDir(), clockwork.NewFakeClock())

	if _, err := svc.History("nope", 5); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
	for _, id := range []string{"", "../etc", "a/b", ".hidden"} {
		if _, err := svc.History(id, 5); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("History(%q) expected ErrInvalidID, got %v", id, err)
		}
	}
	if err := svc.Remove("nope"); err != nil {
		t.Fatalf("Remove() on missing repo error = %v", err)
	}
}

func TestRemoveDropsRepository(t *testing.T) {
	svc := New(t.TempDir(), clockwork.NewFakeClock())
	if _, _, err := svc.Record(newWorkspace("ws_4"), "a", "init"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := svc.Remove("ws_4"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := svc.History("ws_4", 1); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory after remove, got %v", err)
	}
}

func TestConcurrentRecordsSerialize(t *testing.T) {
	svc := New(t.TempDir(), clockwork.NewFakeClock())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws := newWorkspace("ws_5")
			ws.Name = string(rune('a' + i))
			if _, _, err := svc.Record(ws, "a", "concurrent"); err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History("ws_5", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("expected 8 commits, got %d", len(history))
	}
}
