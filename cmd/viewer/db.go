package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// openDuckDB opens an in-memory DuckDB over one run's artifact directory.
// Queries read the parquet files directly; nothing is copied or imported.
func openDuckDB(runDir string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	// Basic pragmas; ignore errors for compatibility across versions.
	_, _ = db.Exec("PRAGMA threads=4")
	// Disable DuckDB's object cache so responses reflect on-disk changes.
	_, _ = db.Exec("PRAGMA enable_object_cache=false")

	for view, file := range map[string]string{
		"episodes":   "episodes.parquet",
		"trajectory": "trajectory.parquet",
	} {
		path := filepath.Join(runDir, file)
		sqlText := "CREATE OR REPLACE VIEW " + view +
			" AS SELECT * FROM read_parquet('" + escapeSQLString(path) + "')"
		if _, err := db.Exec(sqlText); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func queryEpisodes(ctx context.Context, db *sql.DB) ([]EpisodePoint, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT episode::INTEGER, return, avg_loss, collisions::INTEGER, epsilon
		 FROM episodes
		 ORDER BY episode ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]EpisodePoint, 0, 512)
	for rows.Next() {
		var p EpisodePoint
		if err := rows.Scan(&p.Episode, &p.Return, &p.AvgLoss, &p.Collisions, &p.Epsilon); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// queryTrajectory loads the greedy rollout. The static layout is repeated
// on every parquet row; it is lifted from the first row so the response
// carries it once.
func queryTrajectory(ctx context.Context, db *sql.DB) (TrajectoryResponse, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT step::INTEGER, agent_rows, agent_cols,
		        dest_rows, dest_cols, obstacle_rows, obstacle_cols,
		        grid_rows::INTEGER, grid_cols::INTEGER
		 FROM trajectory
		 ORDER BY step ASC`)
	if err != nil {
		return TrajectoryResponse{}, err
	}
	defer rows.Close()

	var out TrajectoryResponse
	for rows.Next() {
		var step int32
		var agentRowsAny, agentColsAny any
		var destRowsAny, destColsAny any
		var obsRowsAny, obsColsAny any
		var gridRows, gridCols int32
		if err := rows.Scan(&step, &agentRowsAny, &agentColsAny,
			&destRowsAny, &destColsAny, &obsRowsAny, &obsColsAny,
			&gridRows, &gridCols); err != nil {
			return TrajectoryResponse{}, err
		}

		if len(out.Steps) == 0 {
			out.GridRows = gridRows
			out.GridCols = gridCols
			out.Destinations = zipPoints(asInt32Slice(destRowsAny), asInt32Slice(destColsAny))
			out.Obstacles = zipPoints(asInt32Slice(obsRowsAny), asInt32Slice(obsColsAny))
		}
		out.Steps = append(out.Steps, TrajectoryStep{
			Step:   step,
			Agents: zipPoints(asInt32Slice(agentRowsAny), asInt32Slice(agentColsAny)),
		})
	}
	if err := rows.Err(); err != nil {
		return TrajectoryResponse{}, err
	}
	return out, nil
}

func zipPoints(rs, cs []int32) []Point {
	n := len(rs)
	if len(cs) < n {
		n = len(cs)
	}
	out := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Point{Row: rs[i], Col: cs[i]})
	}
	return out
}

func asInt32Slice(v any) []int32 {
	if v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []int32:
		return vv
	case []int64:
		out := make([]int32, 0, len(vv))
		for _, x := range vv {
			out = append(out, int32(x))
		}
		return out
	case []any:
		out := make([]int32, 0, len(vv))
		for _, x := range vv {
			out = append(out, int32(asInt64(x)))
		}
		return out
	default:
		return nil
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case uint64:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
