package store

import (
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/gridroute/gridroute/grid"
	"github.com/gridroute/gridroute/trainer"
)

func TestWriteEpisodes_ReadBack(t *testing.T) {
	dir := t.TempDir()

	rows := EpisodeRows("run1",
		[]float64{-42.5, 10.1},
		[]float64{0.9, 0.4},
		[]int{6, 2},
		[]float64{0.995, 0.99},
	)
	if err := WriteEpisodes(dir, rows); err != nil {
		t.Fatalf("WriteEpisodes: %v", err)
	}

	got, err := parquet.ReadFile[EpisodeRow](filepath.Join(dir, EpisodesFile))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d rows, want 2", len(got))
	}
	if got[0].Episode != 1 || got[1].Episode != 2 {
		t.Errorf("episode numbering wrong: %d, %d", got[0].Episode, got[1].Episode)
	}
	if got[1].Return != 10.1 || got[1].Collisions != 2 {
		t.Errorf("row 2 = %+v", got[1])
	}

	// No partial temp file may survive.
	if _, err := parquet.ReadFile[EpisodeRow](filepath.Join(dir, EpisodesFile+".tmp")); err == nil {
		t.Error("temp file left behind after atomic write")
	}
}

func TestWriteTrajectory_ReadBack(t *testing.T) {
	dir := t.TempDir()

	roll := trainer.Rollout{
		Rows: 4, Cols: 4,
		Obstacles:    []grid.Point{{Row: 1, Col: 1}},
		Starts:       []grid.Point{{Row: 0, Col: 0}, {Row: 3, Col: 3}},
		Destinations: []grid.Point{{Row: 0, Col: 3}, {Row: 3, Col: 0}},
		Positions: [][]grid.Point{
			{{Row: 0, Col: 0}, {Row: 3, Col: 3}},
			{{Row: 0, Col: 1}, {Row: 3, Col: 2}},
		},
		Steps: 1,
	}

	if err := WriteTrajectory(dir, TrajectoryRows("run1", roll)); err != nil {
		t.Fatalf("WriteTrajectory: %v", err)
	}

	got, err := parquet.ReadFile[TrajectoryRow](filepath.Join(dir, TrajectoryFile))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d rows, want 2", len(got))
	}

	first := got[0]
	if first.Step != 0 {
		t.Errorf("first row step = %d, want 0", first.Step)
	}
	if len(first.AgentRows) != 2 || first.AgentRows[0] != 0 || first.AgentCols[1] != 3 {
		t.Errorf("step 0 agent coordinates wrong: rows=%v cols=%v", first.AgentRows, first.AgentCols)
	}
	if len(first.ObstacleRows) != 1 || first.ObstacleRows[0] != 1 {
		t.Errorf("obstacle columns wrong: %v/%v", first.ObstacleRows, first.ObstacleCols)
	}
	if got[1].AgentCols[0] != 1 {
		t.Errorf("step 1 agent 0 col = %d, want 1", got[1].AgentCols[0])
	}
}
