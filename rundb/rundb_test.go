package rundb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndGet(t *testing.T) {
	db := openTestDB(t)

	run := Run{
		ID:               "run_123",
		StartedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Rows:             8,
		Cols:             8,
		Agents:           4,
		Episodes:         400,
		ConvergedEpisode: 211,
		ConvergedSeconds: 37.5,
		FinalEpsilon:     0.05,
		ArtifactDir:      "runs/run_123",
	}
	if err := db.Insert(run); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := db.Get("run_123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Agents != 4 || got.ConvergedEpisode != 211 || got.ArtifactDir != "runs/run_123" {
		t.Errorf("got %+v", got)
	}
	if !got.StartedAt.Equal(run.StartedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, run.StartedAt)
	}
}

func TestGet_Missing(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		err := db.Insert(Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour), ArtifactDir: "runs/" + id})
		if err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	runs, err := db.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("listed %d runs, want 3", len(runs))
	}
	if runs[0].ID != "c" || runs[2].ID != "a" {
		t.Errorf("order wrong: %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
}
