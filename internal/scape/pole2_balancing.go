package scape

import (
	"math"
	"math/rand/v2"
)

const pole2BalancingName = "pole2-balancing"

// Pole2Balancing balances two poles of different length on one cart. The
// observation is scaled into [-1, 1] except for the angular velocities.
type Pole2Balancing struct {
	rng        *rand.Rand
	state      pole2State
	angleLimit float64
	done       bool
}

type pole2State struct {
	cartPosition float64
	cartVelocity float64
	angle1       float64
	velocity1    float64
	angle2       float64
	velocity2    float64
}

func NewPole2Balancing(rng *rand.Rand) *Pole2Balancing {
	p := &Pole2Balancing{rng: rng, angleLimit: 36.0 * 2 * math.Pi / 360}
	p.Reset()
	return p
}

func (p *Pole2Balancing) Spec() Spec {
	return Spec{
		Name:         pole2BalancingName,
		StateDim:     6,
		ActionDim:    1,
		MaxAction:    1,
		MaxStep:      1200,
		TargetReward: 1000,
	}
}

// Reset tilts the long pole by 1.2 to 4.8 degrees to a random side.
func (p *Pole2Balancing) Reset() []float64 {
	rad := 2 * math.Pi / 360
	tilt := (1.2 + 3.6*p.rng.Float64()) * rad
	if p.rng.IntN(2) == 0 {
		tilt = -tilt
	}
	p.state = pole2State{angle1: tilt}
	p.done = false
	return pole2Observation(p.state, p.angleLimit)
}

func (p *Pole2Balancing) Step(action []float64) ([]float64, float64, bool, error) {
	if p.done {
		return nil, 0, true, ErrEpisodeOver
	}
	if err := checkAction(p.Spec(), action); err != nil {
		return nil, 0, false, err
	}
	force := clamp(action[0], -1, 1)
	p.state = simulateDoublePole(force*10, p.state, 2)
	p.done = pole2OutOfBounds(p.state, p.angleLimit)
	return pole2Observation(p.state, p.angleLimit), 1, p.done, nil
}

func pole2Observation(state pole2State, angleLimit float64) []float64 {
	return []float64{
		scaleToUnit(state.cartPosition, 2.4, -2.4),
		scaleToUnit(state.cartVelocity, 10, -10),
		scaleToUnit(state.angle1, angleLimit, -angleLimit),
		state.velocity1,
		scaleToUnit(state.angle2, angleLimit, -angleLimit),
		state.velocity2,
	}
}

func pole2OutOfBounds(state pole2State, angleLimit float64) bool {
	return math.Abs(state.angle1) > angleLimit ||
		math.Abs(state.angle2) > angleLimit ||
		math.Abs(state.cartPosition) > 2.4
}

func simulateDoublePole(force float64, state pole2State, steps int) pole2State {
	const (
		halfLength1 = 0.5
		halfLength2 = 0.05
		cartMass    = 1.0
		poleMass1   = 0.1
		poleMass2   = 0.01
		muC         = 0.0005
		muP         = 0.000002
		gravity     = -9.81
		delta       = 0.01
	)

	next := state
	for i := 0; i < steps; i++ {
		cur := next
		cos1, sin1 := math.Cos(cur.angle1), math.Sin(cur.angle1)
		cos2, sin2 := math.Cos(cur.angle2), math.Sin(cur.angle2)

		em1 := poleMass1 * (1 - 0.75*cos1*cos1)
		em2 := poleMass2 * (1 - 0.75*cos2*cos2)
		ef1 := poleMass1*halfLength1*cur.velocity1*cur.velocity1*sin1 +
			0.75*poleMass1*cos1*((muP*cur.velocity1)/(poleMass1*halfLength1)+gravity*sin1)
		ef2 := poleMass2*halfLength2*cur.velocity2*cur.velocity2*sin2 +
			0.75*poleMass2*cos2*((muP*cur.velocity2)/(poleMass2*halfLength2)+gravity*sin2)

		cartAcc := (force - muC*sgn(cur.cartVelocity) + ef1 + ef2) / (cartMass + em1 + em2)
		poleAcc1 := -(0.75 / halfLength1) * (cartAcc*cos1 + gravity*sin1 + (muP*cur.velocity1)/(poleMass1*halfLength1))
		poleAcc2 := -(0.75 / halfLength2) * (cartAcc*cos2 + gravity*sin2 + (muP*cur.velocity2)/(poleMass2*halfLength2))

		velocity1 := cur.velocity1 + delta*poleAcc1
		velocity2 := cur.velocity2 + delta*poleAcc2
		next = pole2State{
			cartPosition: cur.cartPosition + delta*cur.cartVelocity,
			cartVelocity: cur.cartVelocity + delta*cartAcc,
			angle1:       cur.angle1 + delta*velocity1,
			velocity1:    velocity1,
			angle2:       cur.angle2 + delta*velocity2,
			velocity2:    velocity2,
		}
	}
	return next
}

func sgn(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func scaleToUnit(v, max, min float64) float64 {
	if max == min {
		return 0
	}
	return clamp(((v-min)/(max-min))*2-1, -1, 1)
}
