// Package trainer drives training: it runs episodes against the grid
// world, feeds each agent's learner, decays exploration, syncs target
// networks on a fixed cadence, and aggregates the per-episode diagnostic
// series consumed by the store, the TUI and the live metrics server.
//
// The whole loop is single-threaded and synchronous: action selection, the
// environment step and every agent's gradient update run strictly in
// sequence.
package trainer

import (
	"math/rand"
	"time"

	"github.com/gridroute/gridroute/dqn"
	"github.com/gridroute/gridroute/encode"
	"github.com/gridroute/gridroute/grid"
)

// Config holds the orchestration hyperparameters. Learner configures each
// agent's private network/buffer pair.
type Config struct {
	Episodes     int
	TargetUpdate int // episodes between target network syncs

	EpsStart float64
	EpsEnd   float64
	EpsDecay float64

	// ConvergenceThreshold is the fraction of the best single-episode
	// return the trailing-10 mean must reach to declare convergence.
	ConvergenceThreshold float64

	Learner dqn.Config
}

// DefaultConfig mirrors the hyperparameters the system was tuned with.
func DefaultConfig() Config {
	return Config{
		Episodes:             400,
		TargetUpdate:         10,
		EpsStart:             1.0,
		EpsEnd:               0.05,
		EpsDecay:             0.995,
		ConvergenceThreshold: 0.9,
		Learner:              dqn.DefaultConfig(),
	}
}

// EpisodeStats is the per-episode diagnostic record handed to the
// OnEpisode callback and appended to the historical series.
type EpisodeStats struct {
	Episode    int
	Return     float64
	AvgLoss    float64
	Collisions int
	Epsilon    float64
	Converged  bool
}

// Convergence reports when training first met the convergence criterion.
type Convergence struct {
	Episode int
	Elapsed time.Duration
}

// Trainer owns the world, one learner per agent, the shared exploration
// rate and the historical series.
type Trainer struct {
	cfg      Config
	world    *grid.World
	learners []*dqn.Learner
	eps      float64

	returns    []float64
	avgLosses  []float64
	collisions []int

	converged *Convergence

	// OnEpisode, when set, is invoked after every completed episode.
	OnEpisode func(EpisodeStats)
}

// New builds a trainer for the given world. Each learner receives its own
// RNG seeded from rng, so per-agent exploration and batch sampling stay
// reproducible without any process-global state.
func New(world *grid.World, cfg Config, rng *rand.Rand) *Trainer {
	learners := make([]*dqn.Learner, world.NumAgents())
	for i := range learners {
		learners[i] = dqn.NewLearner(cfg.Learner, rand.New(rand.NewSource(rng.Int63())))
	}
	return &Trainer{
		cfg:      cfg,
		world:    world,
		learners: learners,
		eps:      cfg.EpsStart,
	}
}

// Returns is the per-episode total shaped return series.
func (t *Trainer) Returns() []float64 { return t.returns }

// AvgLosses is the per-episode average loss series.
func (t *Trainer) AvgLosses() []float64 { return t.avgLosses }

// Collisions is the per-episode collision count series.
func (t *Trainer) Collisions() []int { return t.collisions }

// Epsilon returns the current shared exploration rate.
func (t *Trainer) Epsilon() float64 { return t.eps }

// Converged returns the convergence point, or nil if the criterion was
// never met.
func (t *Trainer) Converged() *Convergence { return t.converged }

// Train runs the configured number of episodes.
func (t *Trainer) Train() {
	start := time.Now()
	maxReturn := 0.0

	for episode := 1; episode <= t.cfg.Episodes; episode++ {
		stats := t.runEpisode(episode)

		t.returns = append(t.returns, stats.Return)
		t.avgLosses = append(t.avgLosses, stats.AvgLoss)
		t.collisions = append(t.collisions, stats.Collisions)

		if stats.Return > maxReturn {
			maxReturn = stats.Return
		}
		if t.converged == nil && convergedNow(t.returns, maxReturn, t.cfg.ConvergenceThreshold) {
			t.converged = &Convergence{Episode: episode, Elapsed: time.Since(start)}
		}
		stats.Converged = t.converged != nil

		t.eps = t.eps * t.cfg.EpsDecay
		if t.eps < t.cfg.EpsEnd {
			t.eps = t.cfg.EpsEnd
		}
		stats.Epsilon = t.eps

		if t.cfg.TargetUpdate > 0 && episode%t.cfg.TargetUpdate == 0 {
			for _, l := range t.learners {
				l.SyncTarget()
			}
		}

		if t.OnEpisode != nil {
			t.OnEpisode(stats)
		}
	}
}

// runEpisode plays one full reset-to-termination episode, optimizing every
// agent after every single step.
func (t *Trainer) runEpisode(episode int) EpisodeStats {
	n := t.world.NumAgents()
	obs := t.world.Reset()
	states := encode.States(obs, t.world.Obstacles(), t.world.Rows(), t.world.Cols())

	done := make([]bool, n)
	actions := make([]grid.Action, n)
	episodeLosses := make([][]float64, n)

	totalReward := 0.0
	totalCollisions := 0

	for step := 0; step < t.world.StepCap(); step++ {
		for i, l := range t.learners {
			actions[i] = l.SelectAction(states[i], t.eps, done[i])
		}

		res := t.world.Step(actions)
		totalCollisions += res.Collisions
		nextStates := encode.States(res.Observations, t.world.Obstacles(), t.world.Rows(), t.world.Cols())

		for i, l := range t.learners {
			// The stored done flag is the agent's state *before* this
			// step; the world's latch is only consulted afterwards.
			l.Push(dqn.Transition{
				State:     states[i],
				Action:    actions[i],
				Reward:    res.Rewards[i],
				NextState: nextStates[i],
				Done:      done[i],
			})
			done[i] = res.Arrived[i]
			totalReward += float64(res.Rewards[i])
		}

		states = nextStates

		for i, l := range t.learners {
			if loss, ok := l.Optimize(); ok {
				episodeLosses[i] = append(episodeLosses[i], loss)
			}
		}

		if res.Done {
			break
		}
	}

	// Episode loss: mean over agents of each agent's own mean loss; agents
	// that never optimized (warm-up) are excluded.
	var agentMeans []float64
	for i := 0; i < n; i++ {
		if len(episodeLosses[i]) > 0 {
			agentMeans = append(agentMeans, mean(episodeLosses[i]))
		}
	}
	avgLoss := 0.0
	if len(agentMeans) > 0 {
		avgLoss = mean(agentMeans)
	}

	return EpisodeStats{
		Episode:    episode,
		Return:     totalReward,
		AvgLoss:    avgLoss,
		Collisions: totalCollisions,
		Epsilon:    t.eps,
	}
}

// convergedNow reports whether the trailing-10 mean of the return series
// has reached threshold times the best single-episode return seen so far.
// Needs at least 10 completed episodes.
func convergedNow(returns []float64, maxReturn, threshold float64) bool {
	if len(returns) < 10 {
		return false
	}
	return mean(returns[len(returns)-10:]) >= maxReturn*threshold
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
