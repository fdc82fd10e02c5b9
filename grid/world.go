// Package grid implements the shared grid-world environment: a discrete
// board with static obstacles on which several agents move simultaneously
// toward fixed destinations.
//
// All agents' actions for a step are applied at once, so collision
// arbitration (swap and same-cell) is atomic across agents within a step.
// The world is deterministic given its construction and the action
// sequence; the only randomness is the one-time sampling of starts and
// destinations when they are not supplied explicitly.
package grid

import (
	"errors"
	"fmt"
	"math/rand"
)

// Point is a board coordinate. (0,0) is the top-left cell; Row grows
// downward, Col grows rightward.
type Point struct {
	Row int32
	Col int32
}

// Action is one of the five discrete moves available to every agent.
type Action int

const (
	ActionUp Action = iota
	ActionDown
	ActionLeft
	ActionRight
	ActionStay

	NumActions = 5
)

func (a Action) String() string {
	switch a {
	case ActionUp:
		return "Up"
	case ActionDown:
		return "Down"
	case ActionLeft:
		return "Left"
	case ActionRight:
		return "Right"
	case ActionStay:
		return "Stay"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Construction failures. Both are configuration errors: the caller supplied
// an obstacle layout that overlaps a start or a destination.
var (
	ErrObstacleOnStart       = errors.New("obstacle overlaps an agent start position")
	ErrObstacleOnDestination = errors.New("obstacle overlaps an agent destination")
)

// Rewards and shaping constants. ShapingGamma discounts the potential of
// the successor cell; the potential itself is the negative Manhattan
// distance to the agent's own destination.
const (
	ArrivalReward = 10.0
	StepReward    = -1.0
	ShapingGamma  = 0.99

	DefaultStepCap = 50
)

// Config describes a world to construct. Starts and Destinations may be
// nil, in which case they are sampled uniformly (avoiding obstacles) from
// the RNG passed to New. StepCap of zero means DefaultStepCap.
type Config struct {
	Rows         int32
	Cols         int32
	NumAgents    int
	Obstacles    []Point
	Starts       []Point
	Destinations []Point
	StepCap      int
}

// Observation is one agent's view of the world: its own position and fixed
// destination. The obstacle layout is shared and available from the world.
type Observation struct {
	Position    Point
	Destination Point
}

// StepResult carries everything a step produces. Rewards are the shaped
// per-agent rewards, held as float32 for feature-vector compatibility.
// Arrived reports each agent's arrival latch after the step; the latch is
// monotonic within an episode and flips exactly on the +10 scoring step.
type StepResult struct {
	Observations []Observation
	Rewards      []float32
	Arrived      []bool
	Done         bool
	Collisions   int
}

// World owns the board, the agents' positions and their arrival latches.
// Obstacles, starts and destinations are fixed after construction; Reset
// restores positions and latches but never resamples the layout.
type World struct {
	rows, cols int32
	stepCap    int

	obstacles map[Point]bool
	starts    []Point
	dests     []Point

	positions []Point
	arrived   []bool
	steps     int
}

// New validates the configuration and builds a world. Any layout sampled
// here (missing starts or destinations) is drawn once from rng and kept for
// the lifetime of the world.
func New(cfg Config, rng *rand.Rand) (*World, error) {
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return nil, fmt.Errorf("invalid grid size %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.NumAgents <= 0 {
		return nil, fmt.Errorf("invalid agent count %d", cfg.NumAgents)
	}

	w := &World{
		rows:      cfg.Rows,
		cols:      cfg.Cols,
		stepCap:   cfg.StepCap,
		obstacles: make(map[Point]bool, len(cfg.Obstacles)),
	}
	if w.stepCap <= 0 {
		w.stepCap = DefaultStepCap
	}

	for _, p := range cfg.Obstacles {
		if !w.inBounds(p) {
			return nil, fmt.Errorf("obstacle %v out of bounds for %dx%d grid", p, cfg.Rows, cfg.Cols)
		}
		w.obstacles[p] = true
	}

	var err error
	w.starts, err = w.resolveCells(cfg.Starts, cfg.NumAgents, rng, "start")
	if err != nil {
		return nil, err
	}
	w.dests, err = w.resolveCells(cfg.Destinations, cfg.NumAgents, rng, "destination")
	if err != nil {
		return nil, err
	}

	// Obstacles must be disjoint from every start and every destination.
	for i, p := range w.starts {
		if w.obstacles[p] {
			return nil, fmt.Errorf("%w: agent %d at %v", ErrObstacleOnStart, i, p)
		}
	}
	for i, p := range w.dests {
		if w.obstacles[p] {
			return nil, fmt.Errorf("%w: agent %d at %v", ErrObstacleOnDestination, i, p)
		}
	}

	w.positions = make([]Point, cfg.NumAgents)
	copy(w.positions, w.starts)
	w.arrived = make([]bool, cfg.NumAgents)
	return w, nil
}

// resolveCells returns explicit cells after validation, or samples n cells
// uniformly from free (non-obstacle) space.
func (w *World) resolveCells(explicit []Point, n int, rng *rand.Rand, kind string) ([]Point, error) {
	if explicit != nil {
		if len(explicit) != n {
			return nil, fmt.Errorf("got %d %s cells for %d agents", len(explicit), kind, n)
		}
		for i, p := range explicit {
			if !w.inBounds(p) {
				return nil, fmt.Errorf("%s %v for agent %d out of bounds", kind, p, i)
			}
		}
		out := make([]Point, n)
		copy(out, explicit)
		return out, nil
	}

	if rng == nil {
		return nil, fmt.Errorf("no RNG supplied and no explicit %s cells", kind)
	}
	if int(w.rows)*int(w.cols) == len(w.obstacles) {
		return nil, fmt.Errorf("no free cells to sample %s positions from", kind)
	}
	out := make([]Point, 0, n)
	for len(out) < n {
		p := Point{Row: rng.Int31n(w.rows), Col: rng.Int31n(w.cols)}
		if w.obstacles[p] {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (w *World) inBounds(p Point) bool {
	return p.Row >= 0 && p.Row < w.rows && p.Col >= 0 && p.Col < w.cols
}

// Rows returns the board height.
func (w *World) Rows() int32 { return w.rows }

// Cols returns the board width.
func (w *World) Cols() int32 { return w.cols }

// NumAgents returns the fixed agent count.
func (w *World) NumAgents() int { return len(w.positions) }

// StepCap returns the per-episode step limit.
func (w *World) StepCap() int { return w.stepCap }

// Steps returns the number of steps taken since the last Reset.
func (w *World) Steps() int { return w.steps }

// Obstacles returns a copy of the obstacle layout.
func (w *World) Obstacles() []Point {
	out := make([]Point, 0, len(w.obstacles))
	for p := range w.obstacles {
		out = append(out, p)
	}
	return out
}

// IsObstacle reports whether p holds a static obstacle.
func (w *World) IsObstacle(p Point) bool { return w.obstacles[p] }

// Starts returns a copy of the constructed initial positions.
func (w *World) Starts() []Point {
	out := make([]Point, len(w.starts))
	copy(out, w.starts)
	return out
}

// Destinations returns a copy of the fixed destinations.
func (w *World) Destinations() []Point {
	out := make([]Point, len(w.dests))
	copy(out, w.dests)
	return out
}

// Positions returns a snapshot of the agents' current positions.
func (w *World) Positions() []Point {
	out := make([]Point, len(w.positions))
	copy(out, w.positions)
	return out
}

// Arrived returns a snapshot of the arrival latches.
func (w *World) Arrived() []bool {
	out := make([]bool, len(w.arrived))
	copy(out, w.arrived)
	return out
}

// Reset restores every agent to its constructed start, clears the arrival
// latches and zeroes the step counter. Destinations and obstacles are
// untouched. Returns the step-0 observations.
func (w *World) Reset() []Observation {
	copy(w.positions, w.starts)
	for i := range w.arrived {
		w.arrived[i] = false
	}
	w.steps = 0
	return w.observations()
}

func (w *World) observations() []Observation {
	obs := make([]Observation, len(w.positions))
	for i := range w.positions {
		obs[i] = Observation{Position: w.positions[i], Destination: w.dests[i]}
	}
	return obs
}

// Step advances the world by one tick with all agents' actions applied
// simultaneously. actions must hold exactly one action per agent, indexed
// by agent index; anything else is a caller contract violation and panics.
func (w *World) Step(actions []Action) StepResult {
	if len(actions) != len(w.positions) {
		panic(fmt.Sprintf("grid: Step needs %d actions, got %d", len(w.positions), len(actions)))
	}

	n := len(w.positions)
	old := make([]Point, n)
	copy(old, w.positions)

	// 1+2. Desired cells: arrived agents are frozen in place, moves are
	// clamped at the boundary, and a move into an obstacle reverts.
	desired := make([]Point, n)
	for i, a := range actions {
		if w.arrived[i] {
			desired[i] = old[i]
			continue
		}
		p := old[i]
		switch a {
		case ActionUp:
			if p.Row > 0 {
				p.Row--
			}
		case ActionDown:
			if p.Row < w.rows-1 {
				p.Row++
			}
		case ActionLeft:
			if p.Col > 0 {
				p.Col--
			}
		case ActionRight:
			if p.Col < w.cols-1 {
				p.Col++
			}
		case ActionStay:
		default:
			panic(fmt.Sprintf("grid: invalid action %d for agent %d", int(a), i))
		}
		if w.obstacles[p] {
			p = old[i]
		}
		desired[i] = p
	}

	// 3. Swap collisions: two agents trading places both get blocked.
	swapBlocked := make([]bool, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if desired[i] == old[j] && desired[j] == old[i] {
				swapBlocked[i] = true
				swapBlocked[j] = true
			}
		}
	}

	// 4. Same-cell collisions among the agents not already swap-blocked:
	// any cell claimed more than once blocks all claimants.
	claims := make(map[Point][]int, n)
	for i := 0; i < n; i++ {
		if swapBlocked[i] {
			continue
		}
		claims[desired[i]] = append(claims[desired[i]], i)
	}
	cellBlocked := make([]bool, n)
	for _, agents := range claims {
		if len(agents) > 1 {
			for _, i := range agents {
				cellBlocked[i] = true
			}
		}
	}

	// 5+6. Final positions and the per-step collision tally. The swap and
	// same-cell sets are disjoint by construction, so each agent counts at
	// most once.
	collisions := 0
	for i := 0; i < n; i++ {
		if swapBlocked[i] || cellBlocked[i] {
			collisions++
			w.positions[i] = old[i]
		} else {
			w.positions[i] = desired[i]
		}
	}
	w.steps++

	// 7. Raw rewards and arrival latching. The +10 bonus is paid exactly
	// once, on the step the latch flips; sitting latched at the
	// destination afterwards is worth 0, everything else costs 1.
	raw := make([]float64, n)
	dones := make([]bool, n)
	for i := 0; i < n; i++ {
		if w.positions[i] == w.dests[i] {
			if !w.arrived[i] {
				raw[i] = ArrivalReward
				w.arrived[i] = true
			}
			dones[i] = true
		} else {
			raw[i] = StepReward
		}
	}

	// 8. Potential-based shaping: shaped = raw + gamma*Phi(new) - Phi(old)
	// with Phi(p) = -manhattan(p, destination). Preserves the optimal
	// policy ranking while giving a dense signal toward the goal.
	rewards := make([]float32, n)
	for i := 0; i < n; i++ {
		phiOld := -float64(Manhattan(old[i], w.dests[i]))
		phiNew := -float64(Manhattan(w.positions[i], w.dests[i]))
		rewards[i] = float32(raw[i] + ShapingGamma*phiNew - phiOld)
	}

	// 9. Episode termination: every agent home, or the step cap.
	done := w.steps >= w.stepCap
	if !done {
		done = true
		for i := 0; i < n; i++ {
			if !dones[i] {
				done = false
				break
			}
		}
	}

	arrived := make([]bool, n)
	copy(arrived, w.arrived)

	return StepResult{
		Observations: w.observations(),
		Rewards:      rewards,
		Arrived:      arrived,
		Done:         done,
		Collisions:   collisions,
	}
}

// Manhattan returns the L1 distance between two cells.
func Manhattan(a, b Point) int32 {
	dr := a.Row - b.Row
	if dr < 0 {
		dr = -dr
	}
	dc := a.Col - b.Col
	if dc < 0 {
		dc = -dc
	}
	return dr + dc
}
