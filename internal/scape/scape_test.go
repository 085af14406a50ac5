package scape

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestBuiltinsRegistered(t *testing.T) {
	names := List()
	want := []string{"cart-pole", "cart-pole-discrete", "cart-pole-lite", "pole2-balancing"}
	if len(names) != len(want) {
		t.Fatalf("unexpected scapes: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected scapes: %v", names)
		}
	}
	for _, name := range names {
		env, err := New(name, testRand())
		if err != nil {
			t.Fatalf("new %s: %v", name, err)
		}
		spec := env.Spec()
		if spec.Name != name {
			t.Fatalf("spec name %q for %q", spec.Name, name)
		}
		if got := len(env.Reset()); got != spec.StateDim {
			t.Fatalf("%s reset returned %d values, want %d", name, got, spec.StateDim)
		}
	}
}

func TestNewResolvesAliases(t *testing.T) {
	for alias, want := range map[string]string{
		"CartPole-v1":           "cart-pole",
		"cart_pole_discrete":    "cart-pole-discrete",
		"scape_pole2_balancing": "pole2-balancing",
	} {
		env, err := New(alias, testRand())
		if err != nil {
			t.Fatalf("new %s: %v", alias, err)
		}
		if got := env.Spec().Name; got != want {
			t.Fatalf("alias %q resolved to %q, want %q", alias, got, want)
		}
	}
}

func TestRegistryErrors(t *testing.T) {
	resetScapeRegistryForTests()
	t.Cleanup(resetScapeRegistryForTests)

	if _, err := New("missing", testRand()); !errors.Is(err, ErrScapeNotFound) {
		t.Fatalf("expected ErrScapeNotFound, got %v", err)
	}
	if _, err := New("cart-pole", nil); err == nil {
		t.Fatal("expected nil rng error")
	}
	err := Register("cart-pole", func(rng *rand.Rand) Environment { return NewCartPole(false, rng) })
	if !errors.Is(err, ErrScapeExists) {
		t.Fatalf("expected ErrScapeExists, got %v", err)
	}
	if err := Register("", nil); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCartPoleFallsWithoutControl(t *testing.T) {
	env := NewCartPole(false, testRand())
	env.Reset()
	total := 0.0
	for step := 0; step < env.Spec().MaxStep; step++ {
		_, r, done, err := env.Step([]float64{1})
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		total += r
		if done {
			break
		}
	}
	if total >= float64(env.Spec().MaxStep) {
		t.Fatalf("constant push should topple the pole, survived %v steps", total)
	}
	if _, _, _, err := env.Step([]float64{0}); !errors.Is(err, ErrEpisodeOver) {
		t.Fatalf("expected ErrEpisodeOver, got %v", err)
	}
	env.Reset()
	if _, _, _, err := env.Step([]float64{0}); err != nil {
		t.Fatalf("step after reset: %v", err)
	}
}

func TestCartPoleBalancesWithFeedbackController(t *testing.T) {
	env := NewCartPole(true, testRand())
	obs := env.Reset()
	steps := 0
	for ; steps < env.Spec().MaxStep; steps++ {
		action := 0.0
		if obs[2]+0.5*obs[3] > 0 {
			action = 1
		}
		next, _, done, err := env.Step([]float64{action})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		obs = next
		if done {
			break
		}
	}
	if steps < 50 {
		t.Fatalf("feedback controller should keep the pole up, fell after %d steps", steps)
	}
}

func TestCartPoleRejectsBadActions(t *testing.T) {
	discrete := NewCartPole(true, testRand())
	for _, action := range [][]float64{{2}, {-1}, {0.5}, {0, 1}} {
		if _, _, _, err := discrete.Step(action); err == nil {
			t.Fatalf("expected error for action %v", action)
		}
	}
	continuous := NewCartPole(false, testRand())
	if _, _, _, err := continuous.Step([]float64{0.1, 0.2}); err == nil {
		t.Fatal("expected action length error")
	}
}

func TestCartPoleLiteRewardsCentering(t *testing.T) {
	env := NewCartPoleLite(testRand())
	obs := env.Reset()
	total := 0.0
	for step := 0; step < env.Spec().MaxStep; step++ {
		force := -1.2*obs[0] - 0.6*obs[1]
		next, r, done, err := env.Step([]float64{force})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		total += r
		obs = next
		if done {
			t.Fatalf("controller left the track at step %d", step)
		}
	}
	if avg := total / float64(env.Spec().MaxStep); avg <= 0.5 {
		t.Fatalf("expected avg reward > 0.5, got %f", avg)
	}
}

func TestCartPoleLiteStepClampsForce(t *testing.T) {
	x1, v1, _ := cartPoleLiteStep(0, 0, 5)
	x2, v2, _ := cartPoleLiteStep(0, 0, 1)
	if x1 != x2 || v1 != v2 {
		t.Fatalf("force above the limit should clamp: (%v,%v) vs (%v,%v)", x1, v1, x2, v2)
	}
}

func TestPole2BalancingTerminatesOnAngle(t *testing.T) {
	env := NewPole2Balancing(testRand())
	obs := env.Reset()
	if len(obs) != 6 {
		t.Fatalf("expected 6 observations, got %d", len(obs))
	}
	for step := 0; step < env.Spec().MaxStep; step++ {
		next, r, done, err := env.Step([]float64{0})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if r != 1 {
			t.Fatalf("expected survival reward 1, got %v", r)
		}
		for _, v := range next[:3] {
			if math.Abs(v) > 1 {
				t.Fatalf("scaled observation out of range: %v", next)
			}
		}
		if done {
			return
		}
	}
	t.Fatal("uncontrolled double pole should fall before max step")
}

func TestScaleToUnit(t *testing.T) {
	if got := scaleToUnit(0, 2.4, -2.4); got != 0 {
		t.Fatalf("center should scale to 0, got %v", got)
	}
	if got := scaleToUnit(10, 2.4, -2.4); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	if got := scaleToUnit(1, 1, 1); got != 0 {
		t.Fatalf("degenerate range should give 0, got %v", got)
	}
}
