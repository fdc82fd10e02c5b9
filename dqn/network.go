// Package dqn implements the per-agent value learner: a small multilayer
// perceptron over grid features, an Adam optimizer, a bounded replay
// buffer, and the epsilon-greedy/optimize/target-sync loop around them.
//
// Each learner owns its policy network, target network, optimizer and
// buffer exclusively; nothing here is shared between agents.
package dqn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

type layer struct {
	w *mat.Dense    // out x in
	b *mat.VecDense // out
}

// Network is a fully-connected value network with ReLU hidden layers and a
// linear output head, one output per action.
type Network struct {
	dims   []int
	layers []layer
}

// NewNetwork builds a network with the given layer sizes, e.g.
// [14, 64, 64, 5]. Weights use Glorot-uniform initialization drawn from
// rng; biases start at zero.
func NewNetwork(dims []int, rng *rand.Rand) *Network {
	if len(dims) < 2 {
		panic(fmt.Sprintf("dqn: network needs at least 2 layer sizes, got %v", dims))
	}

	n := &Network{dims: append([]int(nil), dims...)}
	for l := 0; l < len(dims)-1; l++ {
		in, out := dims[l], dims[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		data := make([]float64, in*out)
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * limit
		}
		n.layers = append(n.layers, layer{
			w: mat.NewDense(out, in, data),
			b: mat.NewVecDense(out, nil),
		})
	}
	return n
}

// InputDim returns the expected feature vector length.
func (n *Network) InputDim() int { return n.dims[0] }

// OutputDim returns the number of action values produced.
func (n *Network) OutputDim() int { return n.dims[len(n.dims)-1] }

// Forward computes the action values for a single state. No gradient
// bookkeeping is done.
func (n *Network) Forward(state []float32) []float64 {
	_, acts := n.forward(state)
	out := acts[len(acts)-1]
	q := make([]float64, out.Len())
	for i := range q {
		q[i] = out.AtVec(i)
	}
	return q
}

// forward runs the network keeping pre-activations and activations for
// backpropagation. acts[0] is the input, acts[len] the linear output.
func (n *Network) forward(state []float32) (pre, acts []*mat.VecDense) {
	if len(state) != n.dims[0] {
		panic(fmt.Sprintf("dqn: state length %d, network expects %d", len(state), n.dims[0]))
	}

	x := mat.NewVecDense(len(state), nil)
	for i, v := range state {
		x.SetVec(i, float64(v))
	}

	acts = append(acts, x)
	for l, lay := range n.layers {
		z := mat.NewVecDense(lay.b.Len(), nil)
		z.MulVec(lay.w, acts[len(acts)-1])
		z.AddVec(z, lay.b)
		pre = append(pre, z)

		if l == len(n.layers)-1 {
			acts = append(acts, z)
			continue
		}
		a := mat.NewVecDense(z.Len(), nil)
		for i := 0; i < z.Len(); i++ {
			a.SetVec(i, math.Max(0, z.AtVec(i)))
		}
		acts = append(acts, a)
	}
	return pre, acts
}

// newOutputDelta builds an output-layer delta that is zero everywhere but
// at the taken action's index.
func newOutputDelta(n, idx int, v float64) *mat.VecDense {
	d := mat.NewVecDense(n, nil)
	d.SetVec(idx, v)
	return d
}

// gradients accumulates parameter gradients with the same shapes as the
// network's layers.
type gradients struct {
	w []*mat.Dense
	b []*mat.VecDense
}

func newGradients(n *Network) *gradients {
	g := &gradients{}
	for _, lay := range n.layers {
		r, c := lay.w.Dims()
		g.w = append(g.w, mat.NewDense(r, c, nil))
		g.b = append(g.b, mat.NewVecDense(lay.b.Len(), nil))
	}
	return g
}

// accumulate backpropagates the output delta for one sample and adds the
// resulting parameter gradients into g.
func (n *Network) accumulate(g *gradients, pre, acts []*mat.VecDense, outDelta *mat.VecDense) {
	delta := outDelta
	for l := len(n.layers) - 1; l >= 0; l-- {
		outer := mat.NewDense(delta.Len(), acts[l].Len(), nil)
		outer.Outer(1, delta, acts[l])
		g.w[l].Add(g.w[l], outer)
		g.b[l].AddVec(g.b[l], delta)

		if l == 0 {
			break
		}
		prev := mat.NewVecDense(acts[l].Len(), nil)
		prev.MulVec(n.layers[l].w.T(), delta)
		// ReLU derivative gates on the previous layer's pre-activation.
		for i := 0; i < prev.Len(); i++ {
			if pre[l-1].AtVec(i) <= 0 {
				prev.SetVec(i, 0)
			}
		}
		delta = prev
	}
}

// params returns the raw backing slices of every parameter, in a stable
// order. The optimizer updates these in place.
func (n *Network) params() [][]float64 {
	var out [][]float64
	for _, lay := range n.layers {
		out = append(out, lay.w.RawMatrix().Data, lay.b.RawVector().Data)
	}
	return out
}

func (g *gradients) flat() [][]float64 {
	var out [][]float64
	for i := range g.w {
		out = append(out, g.w[i].RawMatrix().Data, g.b[i].RawVector().Data)
	}
	return out
}

// CopyFrom overwrites this network's parameters with an exact copy of
// src's. Both networks must have identical layer sizes.
func (n *Network) CopyFrom(src *Network) {
	if len(n.layers) != len(src.layers) {
		panic("dqn: CopyFrom across mismatched networks")
	}
	for l := range n.layers {
		n.layers[l].w.Copy(src.layers[l].w)
		n.layers[l].b.CopyVec(src.layers[l].b)
	}
}

// Adam is a standard Adam optimizer over a network's parameters.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	t int
	m [][]float64
	v [][]float64
}

// NewAdam creates an optimizer bound to net's parameter shapes.
func NewAdam(net *Network, lr float64) *Adam {
	a := &Adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range net.params() {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

// Step applies one Adam update to net's parameters given accumulated
// gradients.
func (a *Adam) Step(net *Network, g *gradients) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))

	params := net.params()
	grads := g.flat()
	for i, p := range params {
		gi := grads[i]
		for j := range p {
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*gi[j]
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*gi[j]*gi[j]
			mHat := a.m[i][j] / c1
			vHat := a.v[i][j] / c2
			p[j] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}
