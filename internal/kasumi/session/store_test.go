package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kasumi-bot/kasumi/internal/kasumi/session"
)

func newStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.New(filepath.Join(t.TempDir(), "kasumi.db"))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadMissingSession(t *testing.T) {
	store := newStore(t)

	_, err := store.LoadStack(context.Background(), "!room:example.com")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAndLoadStack(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := "!room:example.com/@user:example.com"

	snap := []byte(`{"frames":[{"flow_id":"main","index":1,"state":{}}]}`)
	if err := store.SaveStack(ctx, key, snap); err != nil {
		t.Fatalf("SaveStack: %v", err)
	}

	got, err := store.LoadStack(ctx, key)
	if err != nil {
		t.Fatalf("LoadStack: %v", err)
	}
	if string(got) != string(snap) {
		t.Fatalf("loaded %q, want %q", got, snap)
	}

	// Overwrite on the next turn.
	snap2 := []byte(`{"frames":[]}`)
	if err := store.SaveStack(ctx, key, snap2); err != nil {
		t.Fatalf("SaveStack (update): %v", err)
	}
	got, err = store.LoadStack(ctx, key)
	if err != nil {
		t.Fatalf("LoadStack (after update): %v", err)
	}
	if string(got) != string(snap2) {
		t.Fatalf("loaded %q, want %q", got, snap2)
	}
}

func TestDeleteSession(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.SaveStack(ctx, "conv", []byte(`{"frames":[]}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "conv"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.LoadStack(ctx, "conv"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}
