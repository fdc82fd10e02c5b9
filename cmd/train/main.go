package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gridroute/gridroute/grid"
	"github.com/gridroute/gridroute/logging"
	"github.com/gridroute/gridroute/rundb"
	"github.com/gridroute/gridroute/server"
	"github.com/gridroute/gridroute/store"
	"github.com/gridroute/gridroute/trainer"
)

// defaultObstacles is the fixed 8x8 layout training was tuned on. When the
// grid is resized, obstacles that fall outside the new bounds are dropped.
var defaultObstacles = []grid.Point{
	{Row: 1, Col: 1},
	{Row: 3, Col: 0},
	{Row: 2, Col: 2},
	{Row: 2, Col: 3},
	{Row: 2, Col: 4},
	{Row: 3, Col: 2},
	{Row: 5, Col: 5},
	{Row: 6, Col: 2},
}

type trainingDone struct{}

type model struct {
	startTime time.Time
	updates   chan trainer.EpisodeStats
	done      chan struct{}

	episodes  int
	last      trainer.EpisodeStats
	recent    []string
	converged bool
}

func initialModel(episodes int, updates chan trainer.EpisodeStats, done chan struct{}) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		done:      done,
		episodes:  episodes,
	}
}

func waitForUpdate(updates chan trainer.EpisodeStats, done chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case stats := <-updates:
			return stats
		case <-done:
			return trainingDone{}
		}
	}
}

func (m model) Init() tea.Cmd {
	return waitForUpdate(m.updates, m.done)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case trainer.EpisodeStats:
		m.last = msg
		if msg.Converged {
			m.converged = true
		}
		line := fmt.Sprintf("Episode %d: Return %.1f, Loss %.4f, Collisions %d",
			msg.Episode, msg.Return, msg.AvgLoss, msg.Collisions)
		m.recent = append([]string{line}, m.recent...)
		if len(m.recent) > 10 {
			m.recent = m.recent[:10]
		}
		return m, waitForUpdate(m.updates, m.done)
	case trainingDone:
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	epsPerSec := float64(m.last.Episode) / duration.Seconds()
	if duration.Seconds() < 1 {
		epsPerSec = 0
	}

	s := fmt.Sprintf("Episode:      %d / %d\n", m.last.Episode, m.episodes)
	s += fmt.Sprintf("Return:       %.1f\n", m.last.Return)
	s += fmt.Sprintf("Avg Loss:     %.4f\n", m.last.AvgLoss)
	s += fmt.Sprintf("Collisions:   %d\n", m.last.Collisions)
	s += fmt.Sprintf("Epsilon:      %.3f\n", m.last.Epsilon)
	s += fmt.Sprintf("Converged:    %v\n", m.converged)
	s += fmt.Sprintf("Duration:     %s\n", duration.Round(time.Second))
	s += fmt.Sprintf("Episodes/Sec: %.2f\n\n", epsPerSec)

	s += "Recent Episodes:\n"
	for _, line := range m.recent {
		s += line + "\n"
	}

	s += "\nPress q to quit.\n"
	return s
}

func main() {
	rows := flag.Int("rows", 8, "Grid row count")
	cols := flag.Int("cols", 8, "Grid column count")
	agents := flag.Int("agents", 4, "Number of agents")
	episodes := flag.Int("episodes", 400, "Number of training episodes")
	seed := flag.Int64("seed", 1, "RNG seed for layout sampling, exploration and batch sampling")
	outDir := flag.String("out-dir", "data/runs", "Output directory for run artifact parquet files")
	dbPath := flag.String("db", "data/runs.db", "Path to the run registry sqlite database")
	listen := flag.String("listen", "", "If set, serve live episode metrics over websocket on this address")
	tui := flag.Bool("tui", false, "Show a live terminal dashboard instead of log lines")
	flag.Parse()

	log := logging.New(os.Stderr, slog.LevelInfo)
	if *tui {
		// Log lines would corrupt the dashboard.
		log = logging.New(os.Stderr, slog.LevelError)
	}

	runID := "run-" + time.Now().UTC().Format("20060102-150405")
	runDir := filepath.Join(*outDir, runID)

	rng := rand.New(rand.NewSource(*seed))

	var obstacles []grid.Point
	for _, p := range defaultObstacles {
		if p.Row < int32(*rows) && p.Col < int32(*cols) {
			obstacles = append(obstacles, p)
		}
	}

	world, err := grid.New(grid.Config{
		Rows:      int32(*rows),
		Cols:      int32(*cols),
		NumAgents: *agents,
		Obstacles: obstacles,
	}, rng)
	if err != nil {
		log.Error("world setup failed", "err", err)
		os.Exit(1)
	}

	cfg := trainer.DefaultConfig()
	cfg.Episodes = *episodes
	tr := trainer.New(world, cfg, rng)

	var metrics *server.Server
	if *listen != "" {
		metrics = server.New(*listen, runID, log)
		errc := metrics.Start()
		go func() {
			if err, ok := <-errc; ok {
				log.Error("metrics server failed", "err", err)
			}
		}()
		log.Info("serving live metrics", "addr", *listen)
	}

	log.Info("starting training",
		"run", runID, "rows", *rows, "cols", *cols,
		"agents", *agents, "episodes", *episodes, "seed", *seed)

	// Epsilon is not part of the trainer's historical series; collect it
	// from the callback so the parquet rows carry the full decay curve.
	epsilons := make([]float64, 0, *episodes)
	updates := make(chan trainer.EpisodeStats, 64)
	done := make(chan struct{})

	tr.OnEpisode = func(stats trainer.EpisodeStats) {
		epsilons = append(epsilons, stats.Epsilon)
		if metrics != nil {
			metrics.Publish(stats)
		}
		if *tui {
			select {
			case updates <- stats:
			default:
			}
		} else {
			log.Info("episode",
				"episode", stats.Episode,
				"return", stats.Return,
				"avg_loss", stats.AvgLoss,
				"collisions", stats.Collisions,
				"epsilon", stats.Epsilon,
				"converged", stats.Converged)
		}
	}

	start := time.Now()
	go func() {
		tr.Train()
		close(done)
	}()

	if *tui {
		p := tea.NewProgram(initialModel(*episodes, updates, done))
		if _, err := p.Run(); err != nil {
			log.Error("tui failed", "err", err)
			os.Exit(1)
		}
	}
	<-done
	elapsed := time.Since(start)

	if err := persistRun(runID, runDir, *dbPath, world, tr, epsilons, start); err != nil {
		log.Error("persisting run failed", "run", runID, "err", err)
		os.Exit(1)
	}

	if metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = metrics.Shutdown(ctx)
		cancel()
	}

	summary := log
	if *tui {
		// The dashboard is gone; bring the logger back for the summary.
		summary = logging.New(os.Stderr, slog.LevelInfo)
	}
	if conv := tr.Converged(); conv != nil {
		summary.Info("training converged",
			"run", runID, "episode", conv.Episode, "elapsed", conv.Elapsed)
	} else {
		summary.Info("training did not converge", "run", runID)
	}
	summary.Info("run complete",
		"run", runID, "dir", runDir, "elapsed", elapsed.Round(time.Millisecond))
}

// persistRun writes the parquet artifacts and registers the run in sqlite.
func persistRun(runID, runDir, dbPath string, world *grid.World, tr *trainer.Trainer, epsilons []float64, started time.Time) error {
	rows := store.EpisodeRows(runID, tr.Returns(), tr.AvgLosses(), tr.Collisions(), epsilons)
	if err := store.WriteEpisodes(runDir, rows); err != nil {
		return fmt.Errorf("write episodes: %w", err)
	}

	roll := tr.GreedyRollout()
	if err := store.WriteTrajectory(runDir, store.TrajectoryRows(runID, roll)); err != nil {
		return fmt.Errorf("write trajectory: %w", err)
	}

	db, err := rundb.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open run registry: %w", err)
	}
	defer db.Close()

	run := rundb.Run{
		ID:           runID,
		StartedAt:    started.UTC(),
		Rows:         int(world.Rows()),
		Cols:         int(world.Cols()),
		Agents:       world.NumAgents(),
		Episodes:     len(tr.Returns()),
		FinalEpsilon: tr.Epsilon(),
		ArtifactDir:  runDir,
	}
	if conv := tr.Converged(); conv != nil {
		run.ConvergedEpisode = conv.Episode
		run.ConvergedSeconds = conv.Elapsed.Seconds()
	}
	if err := db.Insert(run); err != nil {
		return fmt.Errorf("register run: %w", err)
	}
	return nil
}
