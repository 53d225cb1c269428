package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
	"github.com/kasumi-bot/kasumi/internal/kasumi/session"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	store, err := session.New(filepath.Join(t.TempDir(), "kasumi.db"))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &App{store: store}
}

func TestLoadStackFreshConversation(t *testing.T) {
	a := newTestApp(t)

	stack := a.loadStack(context.Background(), "!room:example.com")
	if stack.Depth() != 0 {
		t.Fatalf("depth = %d, want 0 for a fresh conversation", stack.Depth())
	}
}

func TestLoadStackDiscardsCorruptSnapshot(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if err := a.store.SaveStack(ctx, "!room:example.com", []byte(`{"frames": "nonsense"}`)); err != nil {
		t.Fatalf("SaveStack: %v", err)
	}

	stack := a.loadStack(ctx, "!room:example.com")
	if stack.Depth() != 0 {
		t.Fatalf("depth = %d, corrupt snapshots must yield a fresh stack", stack.Depth())
	}
}

func TestPersistStackSavesSuspendedConversation(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	stack, err := dialog.RestoreStack([]byte(`{"frames":[{"flow_id":"main","index":0}]}`))
	if err != nil {
		t.Fatalf("RestoreStack: %v", err)
	}
	if err := a.persistStack(ctx, "!room:example.com", stack); err != nil {
		t.Fatalf("persistStack: %v", err)
	}

	restored := a.loadStack(ctx, "!room:example.com")
	if restored.Depth() != 1 {
		t.Fatalf("depth = %d, want 1", restored.Depth())
	}
}

func TestPersistStackDeletesFinishedConversation(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if err := a.store.SaveStack(ctx, "!room:example.com", []byte(`{"frames":[{"flow_id":"main","index":0}]}`)); err != nil {
		t.Fatalf("SaveStack: %v", err)
	}

	if err := a.persistStack(ctx, "!room:example.com", dialog.NewStack()); err != nil {
		t.Fatalf("persistStack: %v", err)
	}

	if _, err := a.store.LoadStack(ctx, "!room:example.com"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after the stack emptied", err)
	}
}

func TestLoadStackRoundTrip(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	stack := dialog.NewStack()
	snapshot, err := stack.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := a.store.SaveStack(ctx, "!room:example.com", snapshot); err != nil {
		t.Fatalf("SaveStack: %v", err)
	}

	restored := a.loadStack(ctx, "!room:example.com")
	if restored == nil {
		t.Fatal("restored stack is nil")
	}
	if restored.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", restored.Depth())
	}
}
