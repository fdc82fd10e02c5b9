package grid

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"
)

func dumpWorld(w *World) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Steps=%d Size=%dx%d\n", w.Steps(), w.Rows(), w.Cols())
	occ := make(map[Point]byte)
	for _, p := range w.Obstacles() {
		occ[p] = '#'
	}
	for i, p := range w.Destinations() {
		occ[p] = byte('a' + i)
	}
	for i, p := range w.Positions() {
		occ[p] = byte('A' + i)
	}
	for r := int32(0); r < w.Rows(); r++ {
		for c := int32(0); c < w.Cols(); c++ {
			ch, ok := occ[Point{Row: r, Col: c}]
			if !ok {
				ch = '.'
			}
			b.WriteByte(ch)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func logStep(t *testing.T, name string, w *World, actions []Action, res StepResult) {
	t.Helper()
	var mv strings.Builder
	mv.WriteString("Actions:")
	for i, a := range actions {
		fmt.Fprintf(&mv, " %d=%s", i, a)
	}
	t.Logf("=== %s ===\n%s%s\nCollisions=%d Done=%v\n", name, dumpWorld(w), mv.String(), res.Collisions, res.Done)
}

func mustWorld(t *testing.T, cfg Config) *World {
	t.Helper()
	w, err := New(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestNew_ObstacleOnStart(t *testing.T) {
	_, err := New(Config{
		Rows: 5, Cols: 5, NumAgents: 1,
		Obstacles:    []Point{{Row: 1, Col: 1}},
		Starts:       []Point{{Row: 1, Col: 1}},
		Destinations: []Point{{Row: 4, Col: 4}},
	}, nil)
	if !errors.Is(err, ErrObstacleOnStart) {
		t.Fatalf("want ErrObstacleOnStart, got %v", err)
	}
}

func TestNew_ObstacleOnDestination(t *testing.T) {
	_, err := New(Config{
		Rows: 5, Cols: 5, NumAgents: 1,
		Obstacles:    []Point{{Row: 4, Col: 4}},
		Starts:       []Point{{Row: 0, Col: 0}},
		Destinations: []Point{{Row: 4, Col: 4}},
	}, nil)
	if !errors.Is(err, ErrObstacleOnDestination) {
		t.Fatalf("want ErrObstacleOnDestination, got %v", err)
	}
}

func TestNew_SampledLayoutAvoidsObstacles(t *testing.T) {
	obstacles := []Point{{Row: 0, Col: 0}, {Row: 1, Col: 1}, {Row: 2, Col: 2}}
	w, err := New(Config{Rows: 3, Cols: 3, NumAgents: 4, Obstacles: obstacles}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i, p := range w.Starts() {
		if w.IsObstacle(p) {
			t.Errorf("sampled start %d on obstacle %v", i, p)
		}
	}
	for i, p := range w.Destinations() {
		if w.IsObstacle(p) {
			t.Errorf("sampled destination %d on obstacle %v", i, p)
		}
	}
}

// Every position visited under arbitrary play stays in bounds and off
// obstacles.
func TestStep_PositionsAlwaysLegal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	w, err := New(Config{
		Rows: 6, Cols: 6, NumAgents: 4,
		Obstacles: []Point{{Row: 1, Col: 1}, {Row: 2, Col: 2}, {Row: 2, Col: 3}, {Row: 4, Col: 1}},
	}, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for episode := 0; episode < 5; episode++ {
		w.Reset()
		for {
			actions := make([]Action, w.NumAgents())
			for i := range actions {
				actions[i] = Action(rng.Intn(NumActions))
			}
			res := w.Step(actions)
			for i, p := range w.Positions() {
				if p.Row < 0 || p.Row >= w.Rows() || p.Col < 0 || p.Col >= w.Cols() {
					t.Fatalf("agent %d out of bounds at %v\n%s", i, p, dumpWorld(w))
				}
				if w.IsObstacle(p) {
					t.Fatalf("agent %d on obstacle at %v\n%s", i, p, dumpWorld(w))
				}
			}
			if res.Done {
				break
			}
		}
	}
}

func TestStep_SwapBlocked(t *testing.T) {
	w := mustWorld(t, Config{
		Rows: 3, Cols: 4, NumAgents: 2,
		Starts:       []Point{{Row: 1, Col: 1}, {Row: 1, Col: 2}},
		Destinations: []Point{{Row: 0, Col: 3}, {Row: 2, Col: 0}},
	})
	w.Reset()

	actions := []Action{ActionRight, ActionLeft}
	res := w.Step(actions)
	logStep(t, "SwapBlocked", w, actions, res)

	pos := w.Positions()
	if pos[0] != (Point{Row: 1, Col: 1}) || pos[1] != (Point{Row: 1, Col: 2}) {
		t.Errorf("swap not blocked: positions %v", pos)
	}
	if res.Collisions != 2 {
		t.Errorf("collisions = %d, want 2", res.Collisions)
	}
}

func TestStep_SameCellBlocked(t *testing.T) {
	// Three agents converge on the free center cell (1,1).
	w := mustWorld(t, Config{
		Rows: 3, Cols: 3, NumAgents: 3,
		Starts:       []Point{{Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 2, Col: 1}},
		Destinations: []Point{{Row: 2, Col: 2}, {Row: 2, Col: 2}, {Row: 0, Col: 0}},
	})
	w.Reset()

	actions := []Action{ActionDown, ActionRight, ActionUp}
	res := w.Step(actions)
	logStep(t, "SameCellBlocked", w, actions, res)

	want := []Point{{Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 2, Col: 1}}
	for i, p := range w.Positions() {
		if p != want[i] {
			t.Errorf("agent %d moved to %v, want blocked at %v", i, p, want[i])
		}
	}
	if res.Collisions != 3 {
		t.Errorf("collisions = %d, want 3", res.Collisions)
	}
}

func TestStep_ObstacleBlockNotACollision(t *testing.T) {
	w := mustWorld(t, Config{
		Rows: 3, Cols: 3, NumAgents: 1,
		Obstacles:    []Point{{Row: 1, Col: 2}},
		Starts:       []Point{{Row: 1, Col: 1}},
		Destinations: []Point{{Row: 2, Col: 2}},
	})
	w.Reset()

	res := w.Step([]Action{ActionRight})
	if got := w.Positions()[0]; got != (Point{Row: 1, Col: 1}) {
		t.Errorf("agent moved into obstacle, at %v", got)
	}
	if res.Collisions != 0 {
		t.Errorf("obstacle block counted as collision: %d", res.Collisions)
	}
}

func TestStep_BoundaryClamp(t *testing.T) {
	w := mustWorld(t, Config{
		Rows: 2, Cols: 2, NumAgents: 1,
		Starts:       []Point{{Row: 0, Col: 0}},
		Destinations: []Point{{Row: 1, Col: 1}},
	})
	w.Reset()

	for _, a := range []Action{ActionUp, ActionLeft} {
		w.Step([]Action{a})
		if got := w.Positions()[0]; got != (Point{Row: 0, Col: 0}) {
			t.Errorf("action %s moved agent off-grid to %v", a, got)
		}
	}
}

func TestStep_ShapingArithmetic(t *testing.T) {
	// Old distance 5, new distance 4, raw -1:
	// shaped = -1 + 0.99*(-4) - (-5) = -0.04
	w := mustWorld(t, Config{
		Rows: 1, Cols: 6, NumAgents: 1,
		Starts:       []Point{{Row: 0, Col: 0}},
		Destinations: []Point{{Row: 0, Col: 5}},
	})
	w.Reset()

	res := w.Step([]Action{ActionRight})
	if got, want := float64(res.Rewards[0]), -0.04; math.Abs(got-want) > 1e-6 {
		t.Errorf("shaped reward = %v, want %v", got, want)
	}
}

func TestStep_ArrivalBonusPaidOnce(t *testing.T) {
	w := mustWorld(t, Config{
		Rows: 1, Cols: 2, NumAgents: 1,
		Starts:       []Point{{Row: 0, Col: 0}},
		Destinations: []Point{{Row: 0, Col: 1}},
	})
	w.Reset()

	// Arrival step: raw +10, shaped = 10 + 0.99*0 - (-1) = 11.
	res := w.Step([]Action{ActionRight})
	if got, want := float64(res.Rewards[0]), 11.0; math.Abs(got-want) > 1e-6 {
		t.Errorf("arrival shaped reward = %v, want %v", got, want)
	}
	if !res.Arrived[0] {
		t.Fatal("arrival latch not set on scoring step")
	}
	if !res.Done {
		t.Fatal("episode not done with all agents arrived")
	}

	// Any further step while latched is forced to STAY and worth raw 0,
	// shaped 0 (potential is 0 on both sides).
	res = w.Step([]Action{ActionLeft})
	if got := w.Positions()[0]; got != (Point{Row: 0, Col: 1}) {
		t.Errorf("latched agent moved to %v", got)
	}
	if got := float64(res.Rewards[0]); math.Abs(got) > 1e-6 {
		t.Errorf("latched reward = %v, want 0", got)
	}
}

func TestStep_LatchSurvivesUntilReset(t *testing.T) {
	w := mustWorld(t, Config{
		Rows: 1, Cols: 2, NumAgents: 1,
		Starts:       []Point{{Row: 0, Col: 0}},
		Destinations: []Point{{Row: 0, Col: 1}},
	})
	w.Reset()
	w.Step([]Action{ActionRight})
	if !w.Arrived()[0] {
		t.Fatal("latch not set")
	}

	w.Reset()
	if w.Arrived()[0] {
		t.Error("latch not cleared by Reset")
	}
	if got := w.Positions()[0]; got != (Point{Row: 0, Col: 0}) {
		t.Errorf("position not restored by Reset: %v", got)
	}
	if w.Steps() != 0 {
		t.Errorf("step counter not zeroed: %d", w.Steps())
	}
}

func TestStep_TerminatesAtStepCap(t *testing.T) {
	// One agent walled off from its destination never arrives; the episode
	// must end at exactly the cap.
	w := mustWorld(t, Config{
		Rows: 1, Cols: 4, NumAgents: 1,
		Obstacles:    []Point{{Row: 0, Col: 2}},
		Starts:       []Point{{Row: 0, Col: 0}},
		Destinations: []Point{{Row: 0, Col: 3}},
	})
	w.Reset()

	for i := 1; i <= DefaultStepCap; i++ {
		res := w.Step([]Action{ActionStay})
		if i < DefaultStepCap && res.Done {
			t.Fatalf("episode done early at step %d", i)
		}
		if i == DefaultStepCap && !res.Done {
			t.Fatalf("episode not done at step cap %d", DefaultStepCap)
		}
	}
}

func TestStep_PanicsOnShortActionSlice(t *testing.T) {
	w := mustWorld(t, Config{
		Rows: 2, Cols: 2, NumAgents: 2,
		Starts:       []Point{{Row: 0, Col: 0}, {Row: 1, Col: 1}},
		Destinations: []Point{{Row: 1, Col: 0}, {Row: 0, Col: 1}},
	})
	w.Reset()

	defer func() {
		if recover() == nil {
			t.Error("Step with short action slice did not panic")
		}
	}()
	w.Step([]Action{ActionStay})
}
