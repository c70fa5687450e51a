package jsonfile

import (
	"os"
	"path/filepath"
	"testing"

	"statsbridge/adapters/memory"
	"statsbridge/core"
)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defs := map[string]int32{"wins": 0}

	client, err := memory.New(memory.WithSyncCallbacks(), memory.WithUser(9), memory.WithStats(defs), memory.WithPersister(store))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	if err := client.SetStatInt32("wins", 12); err != nil {
		t.Fatalf("set stat: %v", err)
	}
	if err := client.StoreStats(); err != nil {
		t.Fatalf("store stats: %v", err)
	}
	var handle core.LeaderboardHandle
	client.FindOrCreateLeaderboard("weekly", core.SortAscending, core.DisplayTimeSeconds, func(h *core.LeaderboardHandle, err error) {
		if err != nil || h == nil {
			t.Fatalf("find or create: h=%v err=%v", h, err)
		}
		handle = *h
	})
	client.UploadLeaderboardScore(handle, core.UploadKeepBest, 42, []int32{1, 2}, func(_ *core.ScoreUploaded, err error) {
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
	})

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	// reload
	reloaded, err := memory.New(memory.WithSyncCallbacks(), memory.WithUser(9), memory.WithStats(defs), memory.WithPersister(store))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer reloaded.Close()

	if v, err := reloaded.GetStatInt32("wins"); err != nil || v != 12 {
		t.Fatalf("expected wins 12, got %d (%v)", v, err)
	}
	info, err := reloaded.LeaderboardInfo(handle)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.DisplayType != core.DisplayTimeSeconds || info.EntryCount != 1 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, found, err := store.Load()
	if err != nil || found {
		t.Fatalf("expected nothing found, got found=%v err=%v", found, err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, _ := New(path)
	if _, _, err := store.Load(); err == nil {
		t.Fatalf("expected decode error")
	}
}
