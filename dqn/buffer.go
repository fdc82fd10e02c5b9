package dqn

import (
	"math/rand"

	"github.com/gridroute/gridroute/grid"
)

// Transition is a single step of experience. Done is the agent's pre-step
// done flag: when true, no bootstrapping is performed past this transition.
type Transition struct {
	State     []float32
	Action    grid.Action
	Reward    float32
	NextState []float32
	Done      bool
}

// ReplayBuffer is a fixed-capacity ring of transitions. Once full, each
// push overwrites the oldest entry. It persists for the whole training run
// and is never cleared between episodes.
type ReplayBuffer struct {
	buf  []Transition
	pos  int
	size int
}

// NewReplayBuffer creates a buffer holding at most capacity transitions.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		panic("dqn: replay buffer capacity must be positive")
	}
	return &ReplayBuffer{buf: make([]Transition, capacity)}
}

// Push appends a transition, evicting the oldest when at capacity.
func (b *ReplayBuffer) Push(t Transition) {
	b.buf[b.pos] = t
	b.pos = (b.pos + 1) % len(b.buf)
	if b.size < len(b.buf) {
		b.size++
	}
}

// Len returns the number of stored transitions.
func (b *ReplayBuffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *ReplayBuffer) Cap() int { return len(b.buf) }

// Sample draws n distinct transitions uniformly at random. It panics when
// fewer than n transitions are stored; callers are expected to check Len.
func (b *ReplayBuffer) Sample(n int, rng *rand.Rand) []Transition {
	if n > b.size {
		panic("dqn: sampling more transitions than stored")
	}
	idx := rng.Perm(b.size)[:n]
	out := make([]Transition, n)
	for i, j := range idx {
		out[i] = b.buf[j]
	}
	return out
}

// Oldest returns the oldest stored transition. Only meaningful when the
// buffer is non-empty; used by eviction diagnostics and tests.
func (b *ReplayBuffer) Oldest() Transition {
	if b.size == 0 {
		return Transition{}
	}
	if b.size < len(b.buf) {
		return b.buf[0]
	}
	return b.buf[b.pos]
}
