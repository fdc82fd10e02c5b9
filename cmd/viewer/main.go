// viewer serves completed runs over a JSON API: the run registry from
// sqlite, per-episode metric series and greedy rollout playback from the
// parquet artifacts via DuckDB.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gridroute/gridroute/rundb"
)

type RunSummary struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`

	GridRows int `json:"grid_rows"`
	GridCols int `json:"grid_cols"`
	Agents   int `json:"agents"`
	Episodes int `json:"episodes"`

	ConvergedEpisode int     `json:"converged_episode"`
	ConvergedSeconds float64 `json:"converged_seconds"`
	FinalEpsilon     float64 `json:"final_epsilon"`
}

type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

type EpisodePoint struct {
	Episode    int32   `json:"episode"`
	Return     float64 `json:"return"`
	AvgLoss    float64 `json:"avg_loss"`
	Collisions int32   `json:"collisions"`
	Epsilon    float64 `json:"epsilon"`
}

type Point struct {
	Row int32 `json:"row"`
	Col int32 `json:"col"`
}

type TrajectoryStep struct {
	Step   int32   `json:"step"`
	Agents []Point `json:"agents"`
}

type TrajectoryResponse struct {
	GridRows     int32            `json:"grid_rows"`
	GridCols     int32            `json:"grid_cols"`
	Obstacles    []Point          `json:"obstacles"`
	Destinations []Point          `json:"destinations"`
	Steps        []TrajectoryStep `json:"steps"`
}

func main() {
	listen := flag.String("listen", "127.0.0.1:8080", "HTTP listen address")
	dbPath := flag.String("db", "data/runs.db", "Path to the run registry sqlite database")
	flag.Parse()

	registry, err := rundb.Open(*dbPath)
	if err != nil {
		log.Fatalf("open run registry: %v", err)
	}
	defer registry.Close()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		withCORS(w)
		if r.Method == http.MethodOptions {
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		runs, err := registry.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := RunsResponse{Runs: make([]RunSummary, 0, len(runs))}
		for _, run := range runs {
			out.Runs = append(out.Runs, RunSummary{
				ID:               run.ID,
				StartedAt:        run.StartedAt,
				GridRows:         run.Rows,
				GridCols:         run.Cols,
				Agents:           run.Agents,
				Episodes:         run.Episodes,
				ConvergedEpisode: run.ConvergedEpisode,
				ConvergedSeconds: run.ConvergedSeconds,
				FinalEpsilon:     run.FinalEpsilon,
			})
		}
		writeJSON(w, out)
	})

	// /api/runs/{id}/episodes and /api/runs/{id}/trajectory
	mux.HandleFunc("/api/runs/", func(w http.ResponseWriter, r *http.Request) {
		withCORS(w)
		if r.Method == http.MethodOptions {
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		runID, err := url.PathUnescape(parts[0])
		if err != nil {
			http.Error(w, "bad run id", http.StatusBadRequest)
			return
		}

		run, err := registry.Get(runID)
		if err != nil {
			if errors.Is(err, rundb.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		db, err := openDuckDB(run.ArtifactDir)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer db.Close()

		switch parts[1] {
		case "episodes":
			points, err := queryEpisodes(r.Context(), db)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, points)
		case "trajectory":
			traj, err := queryTrajectory(r.Context(), db)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, traj)
		default:
			http.NotFound(w, r)
		}
	})

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("Viewer API listening on http://%s", *listen)
	log.Fatal(srv.ListenAndServe())
}

func withCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
