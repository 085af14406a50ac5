package nn

import (
	"math"
	"math/rand/v2"
)

// HeadConfig sizes the reference networks. NetDim is the hidden width.
type HeadConfig struct {
	StateDim   int
	ActionDim  int
	NetDim     int
	Activation string
}

func (c HeadConfig) mlp(name string, in, out int, rng *rand.Rand) (*MLP, error) {
	return NewMLP(MLPConfig{
		Name:       name,
		Sizes:      []int{in, c.NetDim, c.NetDim, out},
		Activation: c.Activation,
	}, rng)
}

// QNet maps a state to one Q value per discrete action.
type QNet struct {
	net *MLP
}

func NewQNet(cfg HeadConfig, rng *rand.Rand) (*QNet, error) {
	net, err := cfg.mlp("q", cfg.StateDim, cfg.ActionDim, rng)
	if err != nil {
		return nil, err
	}
	return &QNet{net: net}, nil
}

func (q *QNet) Forward(state []float64) []float64 { return q.net.Forward(state) }
func (q *QNet) Parameters() []*Tensor             { return q.net.Parameters() }
func (q *QNet) CloneModule() Module               { return &QNet{net: q.net.Clone()} }

// DuelingQNet splits a shared encoding into a state value and per-action
// advantages: Q = V + A - mean(A).
type DuelingQNet struct {
	body  *MLP
	value *MLP
	adv   *MLP
}

func NewDuelingQNet(cfg HeadConfig, rng *rand.Rand) (*DuelingQNet, error) {
	body, err := NewMLP(MLPConfig{
		Name:             "dueling.body",
		Sizes:            []int{cfg.StateDim, cfg.NetDim, cfg.NetDim},
		Activation:       cfg.Activation,
		OutputActivation: orDefault(cfg.Activation, "relu"),
	}, rng)
	if err != nil {
		return nil, err
	}
	value, err := NewMLP(MLPConfig{Name: "dueling.value", Sizes: []int{cfg.NetDim, 1}}, rng)
	if err != nil {
		return nil, err
	}
	adv, err := NewMLP(MLPConfig{Name: "dueling.adv", Sizes: []int{cfg.NetDim, cfg.ActionDim}}, rng)
	if err != nil {
		return nil, err
	}
	return &DuelingQNet{body: body, value: value, adv: adv}, nil
}

func (d *DuelingQNet) Forward(state []float64) []float64 {
	h := d.body.Forward(state)
	v := d.value.Forward(h)[0]
	a := d.adv.Forward(h)
	mean := 0.0
	for _, x := range a {
		mean += x
	}
	mean /= float64(len(a))
	for i := range a {
		a[i] = v + a[i] - mean
	}
	return a
}

func (d *DuelingQNet) Parameters() []*Tensor {
	ps := d.body.Parameters()
	ps = append(ps, d.value.Parameters()...)
	return append(ps, d.adv.Parameters()...)
}

func (d *DuelingQNet) CloneModule() Module {
	return &DuelingQNet{body: d.body.Clone(), value: d.value.Clone(), adv: d.adv.Clone()}
}

// TwinQNet holds two independent discrete Q heads. Forward returns their
// element-wise minimum.
type TwinQNet struct {
	q1 *MLP
	q2 *MLP
}

func NewTwinQNet(cfg HeadConfig, rng *rand.Rand) (*TwinQNet, error) {
	q1, err := cfg.mlp("q1", cfg.StateDim, cfg.ActionDim, rng)
	if err != nil {
		return nil, err
	}
	q2, err := cfg.mlp("q2", cfg.StateDim, cfg.ActionDim, rng)
	if err != nil {
		return nil, err
	}
	return &TwinQNet{q1: q1, q2: q2}, nil
}

func (t *TwinQNet) TwinQValues(state []float64) ([]float64, []float64) {
	return t.q1.Forward(state), t.q2.Forward(state)
}

func (t *TwinQNet) Forward(state []float64) []float64 {
	a, b := t.TwinQValues(state)
	for i := range a {
		a[i] = math.Min(a[i], b[i])
	}
	return a
}

func (t *TwinQNet) Parameters() []*Tensor {
	return append(t.q1.Parameters(), t.q2.Parameters()...)
}

func (t *TwinQNet) CloneModule() Module {
	return &TwinQNet{q1: t.q1.Clone(), q2: t.q2.Clone()}
}

// Actor is a deterministic policy with tanh-bounded output.
type Actor struct {
	net *MLP
}

func NewActor(cfg HeadConfig, rng *rand.Rand) (*Actor, error) {
	net, err := NewMLP(MLPConfig{
		Name:             "actor",
		Sizes:            []int{cfg.StateDim, cfg.NetDim, cfg.NetDim, cfg.ActionDim},
		Activation:       cfg.Activation,
		OutputActivation: "tanh",
	}, rng)
	if err != nil {
		return nil, err
	}
	return &Actor{net: net}, nil
}

func (a *Actor) Act(state []float64) []float64     { return a.net.Forward(state) }
func (a *Actor) Forward(state []float64) []float64 { return a.net.Forward(state) }
func (a *Actor) Parameters() []*Tensor             { return a.net.Parameters() }
func (a *Actor) CloneModule() Module               { return &Actor{net: a.net.Clone()} }

// QCritic scores (state, action) with a single head.
type QCritic struct {
	net *MLP
}

func NewQCritic(cfg HeadConfig, rng *rand.Rand) (*QCritic, error) {
	net, err := cfg.mlp("critic", cfg.StateDim+cfg.ActionDim, 1, rng)
	if err != nil {
		return nil, err
	}
	return &QCritic{net: net}, nil
}

func (c *QCritic) Q(state, action []float64) float64 { return c.net.Forward(concat(state, action))[0] }
func (c *QCritic) Parameters() []*Tensor             { return c.net.Parameters() }
func (c *QCritic) CloneModule() Module               { return &QCritic{net: c.net.Clone()} }

// TwinQCritic holds two (state, action) heads. Q returns their minimum.
type TwinQCritic struct {
	q1 *MLP
	q2 *MLP
}

func NewTwinQCritic(cfg HeadConfig, rng *rand.Rand) (*TwinQCritic, error) {
	q1, err := cfg.mlp("critic1", cfg.StateDim+cfg.ActionDim, 1, rng)
	if err != nil {
		return nil, err
	}
	q2, err := cfg.mlp("critic2", cfg.StateDim+cfg.ActionDim, 1, rng)
	if err != nil {
		return nil, err
	}
	return &TwinQCritic{q1: q1, q2: q2}, nil
}

func (c *TwinQCritic) TwinQ(state, action []float64) (float64, float64) {
	in := concat(state, action)
	return c.q1.Forward(in)[0], c.q2.Forward(in)[0]
}

func (c *TwinQCritic) Q(state, action []float64) float64 {
	return math.Min(c.TwinQ(state, action))
}

func (c *TwinQCritic) Parameters() []*Tensor {
	return append(c.q1.Parameters(), c.q2.Parameters()...)
}

func (c *TwinQCritic) CloneModule() Module {
	return &TwinQCritic{q1: c.q1.Clone(), q2: c.q2.Clone()}
}

// ValueNet scores a state with a single head.
type ValueNet struct {
	net *MLP
}

func NewValueNet(cfg HeadConfig, rng *rand.Rand) (*ValueNet, error) {
	net, err := cfg.mlp("value", cfg.StateDim, 1, rng)
	if err != nil {
		return nil, err
	}
	return &ValueNet{net: net}, nil
}

func (v *ValueNet) Value(state []float64) float64 { return v.net.Forward(state)[0] }
func (v *ValueNet) Parameters() []*Tensor         { return v.net.Parameters() }
func (v *ValueNet) CloneModule() Module           { return &ValueNet{net: v.net.Clone()} }

// TwinValueNet holds two state-value heads. Value returns their minimum.
type TwinValueNet struct {
	v1 *MLP
	v2 *MLP
}

func NewTwinValueNet(cfg HeadConfig, rng *rand.Rand) (*TwinValueNet, error) {
	v1, err := cfg.mlp("value1", cfg.StateDim, 1, rng)
	if err != nil {
		return nil, err
	}
	v2, err := cfg.mlp("value2", cfg.StateDim, 1, rng)
	if err != nil {
		return nil, err
	}
	return &TwinValueNet{v1: v1, v2: v2}, nil
}

func (v *TwinValueNet) TwinValue(state []float64) (float64, float64) {
	return v.v1.Forward(state)[0], v.v2.Forward(state)[0]
}

func (v *TwinValueNet) Value(state []float64) float64 {
	return math.Min(v.TwinValue(state))
}

func (v *TwinValueNet) Parameters() []*Tensor {
	return append(v.v1.Parameters(), v.v2.Parameters()...)
}

func (v *TwinValueNet) CloneModule() Module {
	return &TwinValueNet{v1: v.v1.Clone(), v2: v.v2.Clone()}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
