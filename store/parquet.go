// Package store persists training artifacts as Parquet: one file of
// per-episode metric rows and one file of greedy-rollout trajectory rows
// per run. Files are written to a temp path and renamed so readers never
// observe a partial file.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/gridroute/gridroute/grid"
	"github.com/gridroute/gridroute/trainer"
)

const (
	EpisodesFile   = "episodes.parquet"
	TrajectoryFile = "trajectory.parquet"
)

// EpisodeRow is one episode's diagnostics.
type EpisodeRow struct {
	RunID      string  `parquet:"run_id,dict"`
	Episode    int32   `parquet:"episode"`
	Return     float64 `parquet:"return"`
	AvgLoss    float64 `parquet:"avg_loss"`
	Collisions int32   `parquet:"collisions"`
	Epsilon    float64 `parquet:"epsilon"`
}

// TrajectoryRow is one step of a greedy rollout: all agents' positions as
// parallel coordinate columns, one row per step. Step 0 holds the starting
// positions. The static layout repeats on every row; with dictionary and
// zstd compression the duplication is effectively free, and each row stays
// self-contained for SQL consumers.
type TrajectoryRow struct {
	RunID string `parquet:"run_id,dict"`
	Step  int32  `parquet:"step"`

	AgentRows []int32 `parquet:"agent_rows"`
	AgentCols []int32 `parquet:"agent_cols"`

	DestRows []int32 `parquet:"dest_rows"`
	DestCols []int32 `parquet:"dest_cols"`

	ObstacleRows []int32 `parquet:"obstacle_rows"`
	ObstacleCols []int32 `parquet:"obstacle_cols"`

	GridRows int32 `parquet:"grid_rows"`
	GridCols int32 `parquet:"grid_cols"`
}

// EpisodeRows flattens the trainer's historical series into rows.
func EpisodeRows(runID string, returns, losses []float64, collisions []int, epsilons []float64) []EpisodeRow {
	rows := make([]EpisodeRow, len(returns))
	for i := range returns {
		rows[i] = EpisodeRow{
			RunID:      runID,
			Episode:    int32(i + 1),
			Return:     returns[i],
			AvgLoss:    losses[i],
			Collisions: int32(collisions[i]),
			Epsilon:    epsilons[i],
		}
	}
	return rows
}

// TrajectoryRows converts a greedy rollout into per-step rows.
func TrajectoryRows(runID string, roll trainer.Rollout) []TrajectoryRow {
	destRows, destCols := splitPoints(roll.Destinations)
	obsRows, obsCols := splitPoints(roll.Obstacles)

	rows := make([]TrajectoryRow, len(roll.Positions))
	for step, ps := range roll.Positions {
		agentRows, agentCols := splitPoints(ps)
		rows[step] = TrajectoryRow{
			RunID:        runID,
			Step:         int32(step),
			AgentRows:    agentRows,
			AgentCols:    agentCols,
			DestRows:     destRows,
			DestCols:     destCols,
			ObstacleRows: obsRows,
			ObstacleCols: obsCols,
			GridRows:     roll.Rows,
			GridCols:     roll.Cols,
		}
	}
	return rows
}

func splitPoints(ps []grid.Point) (rows, cols []int32) {
	rows = make([]int32, len(ps))
	cols = make([]int32, len(ps))
	for i, p := range ps {
		rows[i] = p.Row
		cols[i] = p.Col
	}
	return rows, cols
}

// WriteEpisodes writes the episode metric file for a run directory.
func WriteEpisodes(runDir string, rows []EpisodeRow) error {
	return writeAtomic(filepath.Join(runDir, EpisodesFile), rows, "episode_row_v1")
}

// WriteTrajectory writes the greedy rollout file for a run directory.
func WriteTrajectory(runDir string, rows []TrajectoryRow) error {
	return writeAtomic(filepath.Join(runDir, TrajectoryFile), rows, "trajectory_row_v1")
}

func writeAtomic[T any](outPath string, rows []T, schema string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schema),
	); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}
