package registry

import (
	"path/filepath"
	"testing"
)

func TestCheckpointStore_RecordAndLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewCheckpointStore(path)
	if err != nil {
		t.Fatalf("NewCheckpointStore: %v", err)
	}
	defer store.Close()

	if err := store.Record([]byte(`{"connectors":[]}`)); err != nil {
		t.Fatalf("record 1: %v", err)
	}
	if err := store.Record([]byte(`{"connectors":[{"id":"sensor-1"}]}`)); err != nil {
		t.Fatalf("record 2: %v", err)
	}

	doc, _, err := store.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if string(doc) != `{"connectors":[{"id":"sensor-1"}]}` {
		t.Errorf("latest document = %s, want the second recorded snapshot", doc)
	}
}

func TestCheckpointStore_PruneKeepsOnlyRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewCheckpointStore(path)
	if err != nil {
		t.Fatalf("NewCheckpointStore: %v", err)
	}
	defer store.Close()

	for i := 0; i < 5; i++ {
		if err := store.Record([]byte(`{}`)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := store.Prune(2); err != nil {
		t.Fatalf("prune: %v", err)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM connector_checkpoints`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("row count = %d, want 2", count)
	}
}

func TestEnableCheckpoints_RequiresPersistenceFirst(t *testing.T) {
	reg := New(nil, nil)
	if err := reg.EnableCheckpoints(filepath.Join(t.TempDir(), "cp.db")); err == nil {
		t.Fatal("expected error when persistence is not enabled")
	}

	reg.EnablePersistence(filepath.Join(t.TempDir(), "config.json"))
	if err := reg.EnableCheckpoints(filepath.Join(t.TempDir(), "cp.db")); err != nil {
		t.Fatalf("EnableCheckpoints: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
