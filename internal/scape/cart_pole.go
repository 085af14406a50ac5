package scape

import (
	"math"
	"math/rand/v2"
)

const (
	cartPoleName         = "cart-pole"
	cartPoleDiscreteName = "cart-pole-discrete"
)

// CartPole balances a single pole on a cart pushed left or right. The
// discrete variant pushes with full force in one of two directions; the
// continuous variant scales the force by an action in [-1, 1].
type CartPole struct {
	spec   Spec
	rng    *rand.Rand
	state  [4]float64
	done   bool
	thetaL float64
}

func NewCartPole(discrete bool, rng *rand.Rand) *CartPole {
	spec := Spec{
		Name:         cartPoleName,
		StateDim:     4,
		ActionDim:    1,
		MaxAction:    1,
		MaxStep:      200,
		TargetReward: 195,
	}
	if discrete {
		spec.Name = cartPoleDiscreteName
		spec.ActionDim = 2
		spec.Discrete = true
	}
	c := &CartPole{spec: spec, rng: rng, thetaL: 12 * 2 * math.Pi / 360}
	c.Reset()
	return c
}

func (c *CartPole) Spec() Spec { return c.spec }

func (c *CartPole) Reset() []float64 {
	for i := range c.state {
		c.state[i] = c.rng.Float64()*0.1 - 0.05
	}
	c.done = false
	return c.observation()
}

func (c *CartPole) Step(action []float64) ([]float64, float64, bool, error) {
	if c.done {
		return nil, 0, true, ErrEpisodeOver
	}
	if err := checkAction(c.spec, action); err != nil {
		return nil, 0, false, err
	}

	const forceMag = 10.0
	force := forceMag * clamp(action[0], -1, 1)
	if c.spec.Discrete {
		force = forceMag
		if action[0] == 0 {
			force = -forceMag
		}
	}
	c.state = simulateCartPole(force, c.state)

	x, theta := c.state[0], c.state[2]
	c.done = math.Abs(x) > 2.4 || math.Abs(theta) > c.thetaL
	return c.observation(), 1, c.done, nil
}

func (c *CartPole) observation() []float64 {
	return []float64{c.state[0], c.state[1], c.state[2], c.state[3]}
}

// simulateCartPole advances (x, x_dot, theta, theta_dot) by one explicit
// Euler step.
func simulateCartPole(force float64, s [4]float64) [4]float64 {
	const (
		gravity   = 9.8
		cartMass  = 1.0
		poleMass  = 0.1
		totalMass = cartMass + poleMass
		length    = 0.5
		poleML    = poleMass * length
		tau       = 0.02
	)
	x, xDot, theta, thetaDot := s[0], s[1], s[2], s[3]
	cos, sin := math.Cos(theta), math.Sin(theta)

	temp := (force + poleML*thetaDot*thetaDot*sin) / totalMass
	thetaAcc := (gravity*sin - cos*temp) / (length * (4.0/3.0 - poleMass*cos*cos/totalMass))
	xAcc := temp - poleML*thetaAcc*cos/totalMass

	return [4]float64{
		x + tau*xDot,
		xDot + tau*xAcc,
		theta + tau*thetaDot,
		thetaDot + tau*thetaAcc,
	}
}
