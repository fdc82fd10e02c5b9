package trainer

import (
	"github.com/gridroute/gridroute/encode"
	"github.com/gridroute/gridroute/grid"
)

// Rollout is a greedy-policy trajectory: the static layout plus the
// ordered per-step positions of every agent, starting with the initial
// positions at step 0. Consumed by the viewer for playback; never feeds
// back into training.
type Rollout struct {
	Rows, Cols   int32
	Obstacles    []grid.Point
	Starts       []grid.Point
	Destinations []grid.Point

	// Positions[step][agent]
	Positions [][]grid.Point
	Steps     int
}

// GreedyRollout resets the world and plays one episode with exploration
// disabled, recording every agent's position at every step.
func (t *Trainer) GreedyRollout() Rollout {
	out := Rollout{
		Rows:         t.world.Rows(),
		Cols:         t.world.Cols(),
		Obstacles:    t.world.Obstacles(),
		Starts:       t.world.Starts(),
		Destinations: t.world.Destinations(),
	}

	n := t.world.NumAgents()
	obs := t.world.Reset()
	states := encode.States(obs, t.world.Obstacles(), t.world.Rows(), t.world.Cols())
	out.Positions = append(out.Positions, t.world.Positions())

	done := make([]bool, n)
	actions := make([]grid.Action, n)

	for step := 0; step < t.world.StepCap(); step++ {
		for i, l := range t.learners {
			actions[i] = l.SelectAction(states[i], 0, done[i])
		}
		res := t.world.Step(actions)
		states = encode.States(res.Observations, t.world.Obstacles(), t.world.Rows(), t.world.Cols())
		copy(done, res.Arrived)

		out.Positions = append(out.Positions, t.world.Positions())
		out.Steps++

		if res.Done {
			break
		}
	}
	return out
}
