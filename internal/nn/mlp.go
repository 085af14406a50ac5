package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Dense is a fully connected layer. W is stored row-major as (out, in).
type Dense struct {
	In  int
	Out int
	W   *Tensor
	B   *Tensor
}

func newDense(name string, in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		In:  in,
		Out: out,
		W:   NewTensor(name+".weight", out, in),
		B:   NewTensor(name+".bias", out),
	}
	bound := 1 / math.Sqrt(float64(in))
	for i := range d.W.Data {
		d.W.Data[i] = (2*rng.Float64() - 1) * bound
	}
	for i := range d.B.Data {
		d.B.Data[i] = (2*rng.Float64() - 1) * bound
	}
	return d
}

func (d *Dense) forward(x []float64) []float64 {
	out := make([]float64, d.Out)
	for o := 0; o < d.Out; o++ {
		sum := d.B.Data[o]
		row := d.W.Data[o*d.In : (o+1)*d.In]
		for i, w := range row {
			sum += w * x[i]
		}
		out[o] = sum
	}
	return out
}

type MLPConfig struct {
	Name string
	// Sizes lists layer widths including input and output.
	Sizes            []int
	Activation       string
	OutputActivation string
}

// MLP is a stack of dense layers. Hidden layers use Activation, the last
// layer uses OutputActivation (identity when empty).
type MLP struct {
	cfg      MLPConfig
	layers   []*Dense
	hidden   ActivationFunc
	output   ActivationFunc
	identity bool
}

func NewMLP(cfg MLPConfig, rng *rand.Rand) (*MLP, error) {
	if len(cfg.Sizes) < 2 {
		return nil, errors.New("mlp needs at least input and output sizes")
	}
	for i, s := range cfg.Sizes {
		if s <= 0 {
			return nil, fmt.Errorf("mlp layer %d size must be > 0", i)
		}
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if cfg.Activation == "" {
		cfg.Activation = DefaultActivation
	}
	if cfg.OutputActivation == "" {
		cfg.OutputActivation = "identity"
	}
	hidden, err := GetActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}
	output, err := GetActivation(cfg.OutputActivation)
	if err != nil {
		return nil, err
	}

	m := &MLP{
		cfg:      cfg,
		hidden:   hidden,
		output:   output,
		identity: cfg.OutputActivation == "identity",
	}
	for i := 0; i+1 < len(cfg.Sizes); i++ {
		m.layers = append(m.layers, newDense(fmt.Sprintf("%s.%d", cfg.Name, i), cfg.Sizes[i], cfg.Sizes[i+1], rng))
	}
	return m, nil
}

func (m *MLP) InDim() int  { return m.cfg.Sizes[0] }
func (m *MLP) OutDim() int { return m.cfg.Sizes[len(m.cfg.Sizes)-1] }

func (m *MLP) Forward(x []float64) []float64 {
	h := x
	last := len(m.layers) - 1
	for i, layer := range m.layers {
		h = layer.forward(h)
		fn := m.hidden
		if i == last {
			if m.identity {
				break
			}
			fn = m.output
		}
		for j, v := range h {
			h[j] = fn(v)
		}
	}
	return h
}

func (m *MLP) Parameters() []*Tensor {
	ps := make([]*Tensor, 0, 2*len(m.layers))
	for _, l := range m.layers {
		ps = append(ps, l.W, l.B)
	}
	return ps
}

func (m *MLP) Clone() *MLP {
	c := &MLP{
		cfg:      m.cfg,
		hidden:   m.hidden,
		output:   m.output,
		identity: m.identity,
		layers:   make([]*Dense, len(m.layers)),
	}
	c.cfg.Sizes = append([]int(nil), m.cfg.Sizes...)
	for i, l := range m.layers {
		c.layers[i] = &Dense{In: l.In, Out: l.Out, W: l.W.Clone(), B: l.B.Clone()}
	}
	return c
}

func (m *MLP) CloneModule() Module { return m.Clone() }

// ScaleOutput multiplies the last layer's weights and biases by k. Small
// output layers keep initial policies close to zero.
func (m *MLP) ScaleOutput(k float64) {
	last := m.layers[len(m.layers)-1]
	for i := range last.W.Data {
		last.W.Data[i] *= k
	}
	for i := range last.B.Data {
		last.B.Data[i] *= k
	}
}

func concat(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
