package dqn

import (
	"math/rand"

	"github.com/gridroute/gridroute/encode"
	"github.com/gridroute/gridroute/grid"
)

// Config holds the per-agent learner hyperparameters.
type Config struct {
	StateDim   int
	HiddenSize int
	NumActions int

	BufferCapacity int
	BatchSize      int
	Gamma          float64
	LearningRate   float64
}

// DefaultConfig returns the hyperparameters used throughout training.
func DefaultConfig() Config {
	return Config{
		StateDim:       encode.StateDim,
		HiddenSize:     64,
		NumActions:     grid.NumActions,
		BufferCapacity: 5000,
		BatchSize:      64,
		Gamma:          0.99,
		LearningRate:   1e-3,
	}
}

// Learner is one agent's value learner: a policy network updated every
// optimization call, a target network updated only on SyncTarget, an
// optimizer bound to the policy network alone, and a private replay buffer.
type Learner struct {
	cfg    Config
	policy *Network
	target *Network
	opt    *Adam
	buffer *ReplayBuffer
	rng    *rand.Rand
}

// NewLearner builds a learner whose target network starts as an exact copy
// of the freshly initialized policy network.
func NewLearner(cfg Config, rng *rand.Rand) *Learner {
	dims := []int{cfg.StateDim, cfg.HiddenSize, cfg.HiddenSize, cfg.NumActions}
	policy := NewNetwork(dims, rng)
	target := NewNetwork(dims, rng)
	target.CopyFrom(policy)

	return &Learner{
		cfg:    cfg,
		policy: policy,
		target: target,
		opt:    NewAdam(policy, cfg.LearningRate),
		buffer: NewReplayBuffer(cfg.BufferCapacity),
		rng:    rng,
	}
}

// Buffer exposes the learner's replay buffer.
func (l *Learner) Buffer() *ReplayBuffer { return l.buffer }

// Push stores a transition in the learner's replay buffer.
func (l *Learner) Push(t Transition) { l.buffer.Push(t) }

// SelectAction picks an action epsilon-greedily. An agent that has already
// finished always stays put; otherwise with probability eps a uniformly
// random action is returned, else the argmax of the policy network's value
// estimates (first maximum wins, deterministically).
func (l *Learner) SelectAction(state []float32, eps float64, done bool) grid.Action {
	if done {
		return grid.ActionStay
	}
	if l.rng.Float64() < eps {
		return grid.Action(l.rng.Intn(l.cfg.NumActions))
	}

	q := l.policy.Forward(state)
	best := 0
	for i := 1; i < len(q); i++ {
		if q[i] > q[best] {
			best = i
		}
	}
	return grid.Action(best)
}

// Optimize performs one batched value update on the policy network.
//
// It is a no-op returning ok=false while the buffer holds fewer transitions
// than one batch; that is the expected warm-up condition, not an error.
// Otherwise it samples a uniform batch, forms Bellman targets from the
// target network (no bootstrapping past transitions whose pre-step done
// flag was set), takes one Adam step on the squared error, and returns the
// batch loss.
func (l *Learner) Optimize() (loss float64, ok bool) {
	if l.buffer.Len() < l.cfg.BatchSize {
		return 0, false
	}

	batch := l.buffer.Sample(l.cfg.BatchSize, l.rng)
	grads := newGradients(l.policy)
	invBatch := 1.0 / float64(len(batch))

	for _, t := range batch {
		target := float64(t.Reward)
		if !t.Done {
			next := l.target.Forward(t.NextState)
			best := next[0]
			for _, v := range next[1:] {
				if v > best {
					best = v
				}
			}
			target += l.cfg.Gamma * best
		}

		pre, acts := l.policy.forward(t.State)
		q := acts[len(acts)-1].AtVec(int(t.Action))
		diff := q - target
		loss += diff * diff * invBatch

		// d(MSE)/dq flows only through the taken action's output.
		outDelta := newOutputDelta(l.cfg.NumActions, int(t.Action), 2*diff*invBatch)
		l.policy.accumulate(grads, pre, acts, outDelta)
	}

	l.opt.Step(l.policy, grads)
	return loss, true
}

// SyncTarget overwrites the target network with the policy network's
// current parameters. The orchestrator calls this on a fixed episode
// cadence; the learner never syncs on its own.
func (l *Learner) SyncTarget() {
	l.target.CopyFrom(l.policy)
}
