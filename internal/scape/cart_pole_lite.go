package scape

import (
	"math"
	"math/rand/v2"
)

const cartPoleLiteName = "cart-pole-lite"

var cartPoleLiteStarts = []float64{-0.8, -0.4, 0.0, 0.4, 0.8}

// CartPoleLite is a simplified 1D balancing task: a damped spring pulls the
// cart toward the origin and the agent pushes with a bounded force. Reward
// decays with the distance from the origin.
type CartPoleLite struct {
	rng  *rand.Rand
	x, v float64
	done bool
}

func NewCartPoleLite(rng *rand.Rand) *CartPoleLite {
	c := &CartPoleLite{rng: rng}
	c.Reset()
	return c
}

func (c *CartPoleLite) Spec() Spec {
	return Spec{
		Name:         cartPoleLiteName,
		StateDim:     2,
		ActionDim:    1,
		MaxAction:    1,
		MaxStep:      60,
		TargetReward: 50,
	}
}

func (c *CartPoleLite) Reset() []float64 {
	c.x = cartPoleLiteStarts[c.rng.IntN(len(cartPoleLiteStarts))]
	c.v = 0
	c.done = false
	return []float64{c.x, c.v}
}

func (c *CartPoleLite) Step(action []float64) ([]float64, float64, bool, error) {
	if c.done {
		return nil, 0, true, ErrEpisodeOver
	}
	if err := checkAction(c.Spec(), action); err != nil {
		return nil, 0, false, err
	}
	var reward float64
	c.x, c.v, reward = cartPoleLiteStep(c.x, c.v, action[0])
	c.done = math.Abs(c.x) > 2.0
	return []float64{c.x, c.v}, reward, c.done, nil
}

func cartPoleLiteStep(x, v, force float64) (nextX, nextV, reward float64) {
	const (
		dt       = 0.1
		kPos     = 0.45
		kVel     = 0.15
		forceK   = 1.25
		maxForce = 1.0
	)
	force = clamp(force, -maxForce, maxForce)

	acc := forceK*force - kPos*x - kVel*v
	v = v + acc*dt
	x = x + v*dt
	reward = 1.0 - math.Min(1.0, math.Abs(x)/2.0)
	return x, v, reward
}
