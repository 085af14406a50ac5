package engine

import (
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/optim"
	"gradus/internal/replay"
)

const (
	testStateDim  = 3
	testActionDim = 2
)

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testOptions(kind AlgorithmKind, rng *rand.Rand) Options {
	return Options{
		Kind:         kind,
		StateDim:     testStateDim,
		ActionDim:    testActionDim,
		BatchSize:    4,
		RepeatTimes:  1,
		LearningRate: 1e-3,
		Rand:         rng,
		Logger:       quietLogger(),
	}
}

func newTestEngine(t *testing.T, kind AlgorithmKind, mods ...func(*Options)) *Engine {
	t.Helper()
	rng := testRand(uint64(kind) + 1)
	nets, err := DefaultNetworks(kind, nn.HeadConfig{StateDim: testStateDim, ActionDim: testActionDim, NetDim: 4}, rng)
	require.NoError(t, err)
	opts := testOptions(kind, rng)
	for _, m := range mods {
		m(&opts)
	}
	e, err := New(opts, nets)
	require.NoError(t, err)
	return e
}

func randomState(rng *rand.Rand) []float64 {
	s := make([]float64, testStateDim)
	for i := range s {
		s[i] = rng.Float64()*2 - 1
	}
	return s
}

func fillReplay(t *testing.T, e *Engine, n, capacity int) *replay.Buffer {
	t.Helper()
	buf, err := replay.NewBuffer(capacity, model.Layout{StateDim: testStateDim, ActionDim: testActionDim})
	require.NoError(t, err)
	rng := testRand(99)
	state := randomState(rng)
	for i := 0; i < n; i++ {
		act, err := e.SelectAction(state, true)
		require.NoError(t, err)
		next := randomState(rng)
		mask := 0.99
		if i%4 == 3 {
			mask = 0
		}
		buf.Write(model.Transition{Reward: state[0], Mask: mask, State: state, Action: act.Stored, NextState: next})
		state = next
	}
	return buf
}

func fillRollout(t *testing.T, e *Engine, n int) *replay.OnlineBuffer {
	t.Helper()
	buf, err := replay.NewOnlineBuffer(n)
	require.NoError(t, err)
	rng := testRand(98)
	for i := 0; i < n; i++ {
		state := randomState(rng)
		act, err := e.SelectAction(state, true)
		require.NoError(t, err)
		mask := 0.99
		if i == n-1 {
			mask = 0
		}
		buf.Push(state[0], mask, state, act.Stored, act.LogProb)
	}
	return buf
}

func TestKindNamesRoundTrip(t *testing.T) {
	require.Len(t, Kinds(), 14)
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	got, err := ParseKind(" Inter-SAC ")
	require.NoError(t, err)
	require.Equal(t, InterSAC, got)

	_, err = ParseKind("a3c")
	require.True(t, errors.Is(err, model.ErrUnknownKind))
	require.Equal(t, "kind(99)", AlgorithmKind(99).String())
}

func TestKindFamilies(t *testing.T) {
	assert.Equal(t, FamilyValue, DoubleQ.Family())
	assert.Equal(t, FamilyDeterministic, TD3.Family())
	assert.Equal(t, FamilyStochastic, InterSAC.Family())
	assert.Equal(t, FamilyOnPolicy, DiscreteGAE.Family())
	assert.True(t, DiscreteGAE.Discrete())
	assert.True(t, QLearning.Discrete())
	assert.False(t, PPO.Discrete())
	assert.True(t, InterGAE.Shared())
	assert.True(t, PPO.OnPolicy())
	assert.False(t, SAC.OnPolicy())
}

func TestEveryKindUpdates(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			e := newTestEngine(t, kind)
			var mem Memory
			if kind.OnPolicy() {
				mem = fillRollout(t, e, 8)
			} else {
				mem = fillReplay(t, e, 8, 64)
			}

			diag, err := e.Update(mem, 2)
			require.NoError(t, err)
			require.Equal(t, 1, diag.Iteration)
			require.Positive(t, diag.CriticSteps)
			require.False(t, math.IsNaN(diag.CriticLoss))
			require.False(t, math.IsNaN(diag.ActorLoss))
			require.Equal(t, 8, diag.BufferLen)
			if e.Capabilities().TrustWeighting {
				require.Greater(t, diag.Rho, 0.0)
			}
			if e.Capabilities().AutoAlpha {
				require.Greater(t, diag.Alpha, 0.0)
			}
		})
	}
}

func TestSelectActionShapes(t *testing.T) {
	rng := testRand(5)
	for _, kind := range Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			e := newTestEngine(t, kind)
			for _, explore := range []bool{true, false} {
				act, err := e.SelectAction(randomState(rng), explore)
				require.NoError(t, err)
				if kind.Discrete() {
					require.Len(t, act.Stored, 1)
					idx := model.ActionIndex(act.Stored)
					require.GreaterOrEqual(t, idx, 0)
					require.Less(t, idx, testActionDim)
					continue
				}
				require.Len(t, act.Stored, testActionDim)
				require.Len(t, act.Env, testActionDim)
				for _, v := range act.Env {
					require.LessOrEqual(t, math.Abs(v), 1.0)
				}
			}
		})
	}
}

func TestSelectActionRejectsWrongStateLength(t *testing.T) {
	e := newTestEngine(t, SAC)
	_, err := e.SelectAction([]float64{1}, true)
	require.Error(t, err)
}

func TestRolloutActionsAreSquashedForEnvironment(t *testing.T) {
	e := newTestEngine(t, PPO)
	act, err := e.SelectAction([]float64{0.1, 0.2, 0.3}, true)
	require.NoError(t, err)
	for i := range act.Stored {
		require.InDelta(t, math.Tanh(act.Stored[i]), act.Env[i], 1e-12)
	}
}

func TestDeterministicExplorationPerturbsGreedyAction(t *testing.T) {
	for _, kind := range []AlgorithmKind{DDPG, TD3} {
		e := newTestEngine(t, kind)
		state := []float64{0.5, -0.5, 0.1}
		greedy, err := e.SelectAction(state, false)
		require.NoError(t, err)
		noisy, err := e.SelectAction(state, true)
		require.NoError(t, err)
		require.NotEqual(t, greedy.Stored, noisy.Stored, kind.String())
		e.ResetExploration()
	}
}

func TestRandomAction(t *testing.T) {
	e := newTestEngine(t, DuelingQ)
	for i := 0; i < 20; i++ {
		idx := model.ActionIndex(e.RandomAction().Stored)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, testActionDim)
	}
	c := newTestEngine(t, TD3)
	for _, v := range c.RandomAction().Env {
		require.LessOrEqual(t, math.Abs(v), 1.0)
	}
}

func TestMissingCapability(t *testing.T) {
	cfg := nn.HeadConfig{StateDim: testStateDim, ActionDim: testActionDim, NetDim: 4}
	rng := testRand(3)
	q, err := nn.NewQNet(cfg, rng)
	require.NoError(t, err)
	actor, err := nn.NewActor(cfg, rng)
	require.NoError(t, err)
	twin, err := nn.NewTwinQCritic(cfg, rng)
	require.NoError(t, err)
	single, err := nn.NewQCritic(cfg, rng)
	require.NoError(t, err)

	cases := []struct {
		name string
		kind AlgorithmKind
		nets Networks
	}{
		{"double q without twin heads", DoubleQ, Networks{Critic: q}},
		{"sac with deterministic actor", SAC, Networks{Actor: actor, Critic: twin}},
		{"td3 with single critic", TD3, Networks{Actor: actor, Critic: single}},
		{"inter ac without shared network", InterAC, Networks{Actor: actor, Critic: single}},
		{"ddpg without actor", DDPG, Networks{Critic: single}},
		{"ppo with q critic", PPO, Networks{Actor: actor, Critic: single}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(testOptions(tc.kind, testRand(4)), tc.nets)
			require.True(t, errors.Is(err, model.ErrMissingCapability), "got %v", err)
		})
	}
}

func TestNewValidatesOptions(t *testing.T) {
	nets, err := DefaultNetworks(SAC, nn.HeadConfig{StateDim: testStateDim, ActionDim: testActionDim, NetDim: 4}, testRand(1))
	require.NoError(t, err)

	bad := testOptions(SAC, testRand(1))
	bad.BatchSize = 0
	_, err = New(bad, nets)
	require.Error(t, err)

	bad = testOptions(SAC, nil)
	_, err = New(bad, nets)
	require.Error(t, err)

	bad = testOptions(SAC, testRand(1))
	bad.Constants = DefaultConstants()
	bad.Constants.LogAlphaMin = 2
	_, err = New(bad, nets)
	require.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	sac := newTestEngine(t, SAC).Capabilities()
	assert.True(t, sac.AutoAlpha)
	assert.True(t, sac.TwinCritic)
	assert.True(t, sac.Stochastic)
	assert.False(t, sac.ActorTarget)
	assert.True(t, sac.CriticTarget)

	inter := newTestEngine(t, InterAC).Capabilities()
	assert.True(t, inter.SharedNetwork)
	assert.True(t, inter.TrustWeighting)
	assert.False(t, inter.Stochastic)

	dq := newTestEngine(t, DoubleQ).Capabilities()
	assert.False(t, dq.HasActor)
	assert.True(t, dq.Discrete)
	assert.True(t, dq.TwinCritic)
}

func TestUpdateRejectsWrongMemory(t *testing.T) {
	off := newTestEngine(t, DDPG)
	on := newTestEngine(t, PPO)

	_, err := off.Update(fillRollout(t, on, 4), 1)
	require.Error(t, err)
	_, err = on.Update(fillReplay(t, off, 4, 16), 1)
	require.Error(t, err)

	empty, err := replay.NewBuffer(8, model.Layout{StateDim: testStateDim, ActionDim: testActionDim})
	require.NoError(t, err)
	_, err = off.Update(empty, 1)
	require.True(t, errors.Is(err, model.ErrEmptyBuffer))

	_, err = off.Update(fillReplay(t, off, 4, 16), 0)
	require.Error(t, err)
}

func TestActorCadence(t *testing.T) {
	cases := []struct {
		kind        AlgorithmKind
		repeat      int
		wantCritic  int
		wantActor   int
		description string
	}{
		{DDPG, 1, 4, 4, "actor every critic step"},
		{TD3, 1, 4, 2, "actor delayed by two critic steps"},
		{SAC, 2, 8, 4, "actor once per repeat block"},
		{DeterministicAC, 2, 8, 4, "actor once per repeat block"},
		{DoubleQ, 1, 4, 0, "no actor"},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			e := newTestEngine(t, tc.kind, func(o *Options) { o.RepeatTimes = tc.repeat })
			// A large buffer keeps the adaptive factor below 1.001.
			mem := fillReplay(t, e, 1, 10000)
			diag, err := e.Update(mem, 4)
			require.NoError(t, err)
			require.Equal(t, tc.wantCritic, diag.CriticSteps, tc.description)
			require.Equal(t, tc.wantActor, diag.ActorSteps, tc.description)
		})
	}
}

func TestAdaptiveBatchScaling(t *testing.T) {
	e := newTestEngine(t, QLearning)
	mem := fillReplay(t, e, 16, 16)
	// k = 1 + 16/16 = 2, so two update steps per collected step.
	diag, err := e.Update(mem, 3)
	require.NoError(t, err)
	require.Equal(t, 6, diag.CriticSteps)
}

func TestOnPolicySampleTimes(t *testing.T) {
	e := newTestEngine(t, GAE, func(o *Options) { o.RepeatTimes = 2 })
	diag, err := e.Update(fillRollout(t, e, 8), 1)
	require.NoError(t, err)
	// repeat * N / batch = 2 * 8 / 4
	require.Equal(t, 4, diag.CriticSteps)
	require.Equal(t, 4, diag.ActorSteps)

	small := newTestEngine(t, PPO, func(o *Options) { o.BatchSize = 64 })
	diag, err = small.Update(fillRollout(t, small, 8), 1)
	require.NoError(t, err)
	require.Equal(t, 1, diag.CriticSteps, "at least one mini-batch per pass")
}

// recordingRollout wraps an on-policy strategy and keeps each mini-batch size.
type recordingRollout struct {
	OnPolicyStrategy
	sizes []int
}

func (r *recordingRollout) StepCritic(mb MiniBatch) (float64, error) {
	r.sizes = append(r.sizes, len(mb.States))
	return r.OnPolicyStrategy.StepCritic(mb)
}

func TestOnPolicyMiniBatchDrawsFullBatchSize(t *testing.T) {
	resetStrategyRegistryForTests()
	t.Cleanup(resetStrategyRegistryForTests)

	var rec *recordingRollout
	UnregisterStrategy(PPO)
	require.NoError(t, RegisterStrategy(PPO, func(w *Wiring) (Strategy, error) {
		s, err := newRolloutStrategy(w)
		if err != nil {
			return nil, err
		}
		rec = &recordingRollout{OnPolicyStrategy: s.(OnPolicyStrategy)}
		return rec, nil
	}))

	e := newTestEngine(t, PPO, func(o *Options) { o.BatchSize = 16 })
	_, err := e.Update(fillRollout(t, e, 5), 1)
	require.NoError(t, err)
	// Indices are drawn with replacement, so a short rollout still fills the batch.
	require.Equal(t, []int{16}, rec.sizes)
}

// nanOptimizer reports a non-finite loss without moving anything.
type nanOptimizer struct {
	params []*nn.Tensor
	lr     float64
}

func (o *nanOptimizer) Name() string { return "nan" }
func (o *nanOptimizer) Step(optim.Objective) (float64, error) { return math.NaN(), nil }
func (o *nanOptimizer) LearningRate() float64 { return o.lr }
func (o *nanOptimizer) SetLearningRate(lr float64) { o.lr = lr }
func (o *nanOptimizer) Parameters() []*nn.Tensor { return o.params }

func TestOnPolicyRejectsNonFiniteCriticLoss(t *testing.T) {
	e := newTestEngine(t, PPO, func(o *Options) {
		o.Optimizer = func(params []*nn.Tensor, lr float64) (optim.Optimizer, error) {
			return &nanOptimizer{params: params, lr: lr}, nil
		}
	})
	_, err := e.Update(fillRollout(t, e, 8), 1)
	require.True(t, errors.Is(err, model.ErrNumericInstability))
	require.Contains(t, err.Error(), "critic")
}

func TestDeepSACActorStepsEveryPass(t *testing.T) {
	e := newTestEngine(t, DeepSAC)
	buf := fillReplay(t, e, 20, 100)
	for pass := 1; pass <= 4; pass++ {
		diag, err := e.Update(buf, 10)
		require.NoError(t, err)
		require.Positive(t, diag.CriticSteps, "pass %d", pass)
		require.Positive(t, diag.ActorSteps, "pass %d", pass)
	}
}

func TestQLearningFitsTerminalRewards(t *testing.T) {
	e := newTestEngine(t, QLearning, func(o *Options) { o.LearningRate = 1e-2 })
	buf, err := replay.NewBuffer(64, model.Layout{StateDim: testStateDim, ActionDim: testActionDim})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		buf.Write(model.Transition{
			Reward:    1,
			Mask:      0,
			State:     []float64{0.5, 0.5, 0.5},
			Action:    []float64{float64(i % testActionDim)},
			NextState: []float64{0, 0, 0},
		})
	}

	first, err := e.Update(buf, 1)
	require.NoError(t, err)
	var last model.UpdateDiagnostics
	for i := 0; i < 150; i++ {
		last, err = e.Update(buf, 1)
		require.NoError(t, err)
	}
	require.Less(t, last.CriticLoss, first.CriticLoss*0.5)
}

func TestSnapshotRestoreResetsTargets(t *testing.T) {
	e := newTestEngine(t, DDPG)
	snap := e.Snapshot()
	require.Contains(t, snap, "actor")
	require.Contains(t, snap, "critic")

	_, err := e.Update(fillReplay(t, e, 8, 64), 2)
	require.NoError(t, err)
	require.NotEqual(t, snap["critic"], nn.Snapshot(e.Modules()["critic"]))

	require.NoError(t, e.Restore("critic", snap["critic"]))
	require.Equal(t, snap["critic"], nn.Snapshot(e.Modules()["critic"]))

	s := e.off.(*deterministicStrategy)
	require.Equal(t, nn.Snapshot(e.Modules()["critic"]), nn.Snapshot(s.criticSync.Target()))

	require.Error(t, e.Restore("missing", snap["critic"]))
	require.True(t, errors.Is(e.Restore("actor", snap["critic"]), model.ErrParameterMismatch))
}

func TestSharedKindsPersistOneNetwork(t *testing.T) {
	e := newTestEngine(t, InterGAE)
	mods := e.Modules()
	require.Len(t, mods, 1)
	require.Contains(t, mods, "actor")
	require.Positive(t, e.ParameterCount())
}

func TestDiscreteGAERefreshesCriticTargetAfterPass(t *testing.T) {
	e := newTestEngine(t, DiscreteGAE)
	_, err := e.Update(fillRollout(t, e, 8), 1)
	require.NoError(t, err)
	s := e.on.(*rolloutStrategy)
	require.Equal(t, nn.Snapshot(e.Modules()["critic"]), nn.Snapshot(s.sync.Target()))
}

func TestDoubleQTargetUsesSmallerHeadMaximum(t *testing.T) {
	e := newTestEngine(t, DoubleQ)
	s := e.off.(*valueStrategy)
	b := model.TransitionBatch{
		Rewards:    []float64{0.5, 1},
		Masks:      []float64{0.9, 0},
		States:     [][]float64{{0, 0, 0}, {0, 0, 0}},
		Actions:    [][]float64{{0}, {1}},
		NextStates: [][]float64{{0.1, 0.2, 0.3}, {1, 1, 1}},
	}
	y := s.CriticTarget(b)

	q1, q2 := s.twin.TwinQValues(b.NextStates[0])
	want := 0.5 + 0.9*math.Min(math.Max(q1[0], q1[1]), math.Max(q2[0], q2[1]))
	require.InDelta(t, want, y[0], 1e-12)
	require.Equal(t, 1.0, y[1], "terminal rows do not bootstrap")
}

func TestSACTargetSubtractsEntropyTerm(t *testing.T) {
	e := newTestEngine(t, SAC)
	s := e.off.(*sacStrategy)
	b := model.TransitionBatch{
		Rewards:    []float64{2},
		Masks:      []float64{0},
		States:     [][]float64{{0, 0, 0}},
		Actions:    [][]float64{{0, 0}},
		NextStates: [][]float64{{0, 0, 0}},
	}
	require.Equal(t, []float64{2}, s.CriticTarget(b))
	require.InDelta(t, 1.0, s.Alpha(), 1e-12, "log alpha starts at zero")
}

func TestDeepSACStartsWithNegativeLogAlpha(t *testing.T) {
	e := newTestEngine(t, DeepSAC)
	want := math.Exp(-math.Log(testActionDim+1) * 0.5 * math.E)
	require.InDelta(t, want, e.Alpha(), 1e-12)
}

func TestLogAlphaStaysClamped(t *testing.T) {
	opts := testOptions(SAC, testRand(2))
	opts.LearningRate = 1
	require.NoError(t, opts.normalize())
	w := &Wiring{Kind: SAC, Options: opts, Rand: opts.Rand}

	tuner, err := newAlphaTuner(w, 0, 0, 0.9)
	require.NoError(t, err)
	// Very unlikely actions mean high entropy, pushing log alpha down.
	for i := 0; i < 60; i++ {
		require.NoError(t, tuner.step([]float64{-50, -60}, 1))
		require.GreaterOrEqual(t, tuner.logAlpha.Data[0], -16.0)
	}
	require.Equal(t, -16.0, tuner.logAlpha.Data[0])

	for i := 0; i < 60; i++ {
		require.NoError(t, tuner.step([]float64{50, 60}, 1))
		require.LessOrEqual(t, tuner.logAlpha.Data[0], 1.0)
	}
	require.Equal(t, 1.0, tuner.logAlpha.Data[0])
}

func TestLossHelpers(t *testing.T) {
	require.InDelta(t, 2.5, mse([]float64{1, 3}, []float64{0, 1}), 1e-12)
	// |0.5| -> 0.125, |3| -> 2.5
	require.InDelta(t, (0.125+2.5)/2, smoothL1([]float64{0.5, 3}, []float64{0, 0}), 1e-12)
	require.Equal(t, 0.0, stdOrZero([]float64{4}))
	require.Equal(t, []float64{1, 2, 3}, flatten([][]float64{{1}, {2, 3}}))
}

func TestStrategyRegistry(t *testing.T) {
	resetStrategyRegistryForTests()
	t.Cleanup(resetStrategyRegistryForTests)

	require.Len(t, ListStrategies(), 14)
	err := RegisterStrategy(SAC, newSACStrategy)
	require.True(t, errors.Is(err, ErrStrategyExists))
	require.Error(t, RegisterStrategy(AlgorithmKind(42), newSACStrategy))
	require.Error(t, RegisterStrategy(SAC, nil))

	UnregisterStrategy(SAC)
	nets, err := DefaultNetworks(SAC, nn.HeadConfig{StateDim: testStateDim, ActionDim: testActionDim, NetDim: 4}, testRand(1))
	require.NoError(t, err)
	_, err = New(testOptions(SAC, testRand(1)), nets)
	require.True(t, errors.Is(err, ErrStrategyNotFound))

	require.NoError(t, RegisterStrategy(SAC, newSACStrategy))
	_, err = New(testOptions(SAC, testRand(1)), nets)
	require.NoError(t, err)
}

func TestPerturbationOptimizerDrivesUpdates(t *testing.T) {
	for _, kind := range []AlgorithmKind{DDPG, QLearning} {
		t.Run(kind.String(), func(t *testing.T) {
			e := newTestEngine(t, kind, func(o *Options) {
				o.Optimizer = PerturbationFactory(testRand(5))
				o.LearningRate = 0.05
			})
			diag, err := e.Update(fillReplay(t, e, 8, 64), 2)
			require.NoError(t, err)
			require.Positive(t, diag.CriticSteps)
			require.False(t, math.IsNaN(diag.CriticLoss))
		})
	}
}
