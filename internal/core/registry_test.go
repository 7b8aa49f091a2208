package core

import "testing"

func TestRegistrySnapshotExcludesCaller(t *testing.T) {
	r := NewRegistry()
	r.Register("h1", Identity{UserID: "u1", Name: "Ana"})
	r.Register("h2", Identity{UserID: "u2", Name: "Ben"})
	r.Register("h3", Identity{UserID: "u2", Name: "Ben again"})

	snap := r.Snapshot("h2")
	if len(snap) != 2 {
		t.Fatalf("expected 2 records, got %d", len(snap))
	}
	if snap[0].Handle != "h1" || snap[1].Handle != "h3" {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
	for _, rec := range snap {
		if rec.Handle == "h2" {
			t.Fatalf("snapshot contains excluded handle")
		}
	}
}

func TestRegistryOverwriteKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("h1", Identity{UserID: "u1", Name: "Ana"})
	r.Register("h2", Identity{UserID: "u2", Name: "Ben"})
	r.Register("h1", Identity{UserID: "u1", Name: "Ana B."})

	if r.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", r.Len())
	}
	snap := r.Snapshot("")
	if snap[0].Handle != "h1" || snap[0].Name != "Ana B." {
		t.Fatalf("expected overwritten h1 first, got %+v", snap[0])
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("h1", Identity{UserID: "u1"})

	if !r.Unregister("h1") {
		t.Fatalf("expected unregister to report existing record")
	}
	if r.Unregister("h1") {
		t.Fatalf("expected second unregister to report nothing removed")
	}
	if _, ok := r.Get("h1"); ok {
		t.Fatalf("record still present after unregister")
	}
}
