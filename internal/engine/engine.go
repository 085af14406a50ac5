// Package engine runs the update rules of the supported reinforcement
// learning algorithms over a replay or rollout buffer.
package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"gradus/internal/advantage"
	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/trust"
)

// Memory is the buffer an update pass reads. Off-policy kinds need an
// OffPolicyMemory and on-policy kinds an OnPolicyMemory.
type Memory interface {
	Len() int
}

type OffPolicyMemory interface {
	Memory
	Cap() int
	Sample(rng *rand.Rand, batchSize int) (model.TransitionBatch, error)
}

type OnPolicyMemory interface {
	Memory
	Sample() (model.OnPolicyBatch, error)
}

// Engine owns the networks, optimizers and targets of one algorithm kind.
// It is not safe for concurrent use.
type Engine struct {
	opts      Options
	kind      AlgorithmKind
	caps      Capabilities
	nets      Networks
	log       *logrus.Entry
	rng       *rand.Rand
	trust     *trust.Coefficient
	off       OffPolicyStrategy
	on        OnPolicyStrategy
	explorer  *explorer
	iteration int
}

// New resolves the capabilities of nets for opts.Kind and wires the
// registered strategy. A network lacking a required capability fails here
// with model.ErrMissingCapability.
func New(opts Options, nets Networks) (*Engine, error) {
	customOpt := opts.Optimizer != nil
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	kind := opts.Kind
	if kind.Shared() && nets.Shared == nil {
		return nil, missingShared(kind)
	}
	if !kind.Shared() && nets.Critic == nil {
		return nil, fmt.Errorf("%w: %s needs a critic network", model.ErrMissingCapability, kind)
	}
	if !kind.Shared() && kind.Family() != FamilyValue && nets.Actor == nil {
		return nil, fmt.Errorf("%w: %s needs an actor network", model.ErrMissingCapability, kind)
	}

	factory, err := getStrategy(kind)
	if err != nil {
		return nil, err
	}
	w := &Wiring{Kind: kind, Networks: nets, Options: opts, Rand: opts.Rand, Logger: opts.Logger, customOpt: customOpt}
	strategy, err := factory(w)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts: opts,
		kind: kind,
		caps: capabilitiesOf(kind, nets),
		nets: nets,
		log:  opts.Logger.WithField("kind", kind.String()),
		rng:  opts.Rand,
	}
	switch s := strategy.(type) {
	case OffPolicyStrategy:
		e.off = s
	case OnPolicyStrategy:
		e.on = s
	default:
		return nil, fmt.Errorf("strategy for %s implements neither update loop", kind)
	}
	if kind.OnPolicy() != (e.on != nil) {
		return nil, fmt.Errorf("strategy for %s runs the wrong update loop", kind)
	}
	if e.caps.TrustWeighting {
		if e.trust, err = trust.New(opts.Constants.TrustUpdateFreq); err != nil {
			return nil, err
		}
	}
	if e.explorer, err = newExplorer(kind, nets, opts); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"family":     kind.Family().String(),
		"parameters": e.ParameterCount(),
	}).Debug("engine ready")
	return e, nil
}

func (e *Engine) Kind() AlgorithmKind         { return e.kind }
func (e *Engine) Capabilities() Capabilities { return e.caps }
func (e *Engine) Iteration() int             { return e.iteration }
func (e *Engine) Options() Options           { return e.opts }

// Rho is the current trust coefficient, zero for kinds without one.
func (e *Engine) Rho() float64 {
	if e.trust == nil {
		return 0
	}
	return e.trust.Get()
}

// Alpha is the current entropy temperature, zero for kinds without one.
func (e *Engine) Alpha() float64 {
	for _, s := range []any{e.off, e.on} {
		if a, ok := s.(alphaReporter); ok {
			return a.Alpha()
		}
	}
	return 0
}

// Update runs one update pass. maxStep is the number of environment steps
// collected since the previous pass; off-policy kinds scale their batch
// size and update count by 1 + len/cap.
func (e *Engine) Update(mem Memory, maxStep int) (model.UpdateDiagnostics, error) {
	if mem == nil {
		return model.UpdateDiagnostics{}, errors.New("memory is required")
	}
	if mem.Len() == 0 {
		return model.UpdateDiagnostics{}, fmt.Errorf("update %s: %w", e.kind, model.ErrEmptyBuffer)
	}

	var (
		diag model.UpdateDiagnostics
		err  error
	)
	if e.off != nil {
		m, ok := mem.(OffPolicyMemory)
		if !ok {
			return diag, fmt.Errorf("%s needs a replay buffer, got %T", e.kind, mem)
		}
		diag, err = e.updateOffPolicy(m, maxStep)
	} else {
		m, ok := mem.(OnPolicyMemory)
		if !ok {
			return diag, fmt.Errorf("%s needs a rollout buffer, got %T", e.kind, mem)
		}
		diag, err = e.updateOnPolicy(m)
	}
	if err != nil {
		return diag, fmt.Errorf("update %s: %w", e.kind, err)
	}

	e.iteration++
	diag.Iteration = e.iteration
	diag.BufferLen = mem.Len()
	diag.Rho = e.Rho()
	diag.Alpha = e.Alpha()
	e.log.WithFields(logrus.Fields{
		"iteration":    diag.Iteration,
		"critic_loss":  diag.CriticLoss,
		"actor_loss":   diag.ActorLoss,
		"critic_steps": diag.CriticSteps,
		"actor_steps":  diag.ActorSteps,
		"rho":          diag.Rho,
		"alpha":        diag.Alpha,
	}).Debug("update pass")
	return diag, nil
}

func (e *Engine) updateOffPolicy(mem OffPolicyMemory, maxStep int) (model.UpdateDiagnostics, error) {
	var diag model.UpdateDiagnostics
	if maxStep <= 0 {
		return diag, errors.New("max step must be > 0")
	}
	k := 1 + float64(mem.Len())/float64(mem.Cap())
	batchSize := int(float64(e.opts.BatchSize) * k)
	repeat := e.opts.RepeatTimes
	updates := int(float64(maxStep)*k) * repeat

	var criticSum, actorSum float64
	for i := 0; i < updates; i++ {
		b, err := mem.Sample(e.rng, batchSize)
		if err != nil {
			return diag, err
		}
		y := e.off.CriticTarget(b)
		closs, err := e.off.StepCritic(b, y)
		if err != nil {
			return diag, err
		}
		if err := optimCheck("critic", closs); err != nil {
			return diag, err
		}
		criticSum += closs
		diag.CriticSteps++

		step := Step{Index: i, Repeat: repeat}
		if e.trust != nil {
			if step.Rho, err = e.trust.Update(closs); err != nil {
				return diag, err
			}
		}
		aloss, stepped, err := e.off.StepActor(b, step)
		if err != nil {
			return diag, err
		}
		if stepped {
			actorSum += aloss
			diag.ActorSteps++
		}
		e.off.Sync(step)
	}

	if diag.CriticSteps > 0 {
		diag.CriticLoss = criticSum / float64(diag.CriticSteps)
	}
	if diag.ActorSteps > 0 {
		diag.ActorLoss = actorSum / float64(diag.ActorSteps)
	}
	return diag, nil
}

func (e *Engine) updateOnPolicy(mem OnPolicyMemory) (model.UpdateDiagnostics, error) {
	var diag model.UpdateDiagnostics
	batch, err := mem.Sample()
	if err != nil {
		return diag, err
	}
	values := e.on.Values(batch.States)
	returns, adv, err := advantage.EstimateBatch(batch, values, LambdaAdvantage)
	if err != nil {
		return diag, err
	}

	n := batch.Len()
	sampleTimes := max(1, e.opts.RepeatTimes*n/e.opts.BatchSize)
	size := e.opts.BatchSize
	var criticSum, actorSum float64
	for range sampleTimes {
		mb := MiniBatch{
			States:     make([][]float64, size),
			Actions:    make([][]float64, size),
			LogProbs:   make([]float64, size),
			Returns:    make([]float64, size),
			Advantages: make([]float64, size),
		}
		for j := range size {
			idx := e.rng.IntN(n)
			mb.States[j] = batch.States[idx]
			mb.Actions[j] = batch.Actions[idx]
			mb.LogProbs[j] = batch.LogProbs[idx]
			mb.Returns[j] = returns[idx]
			mb.Advantages[j] = adv[idx]
		}

		closs, err := e.on.StepCritic(mb)
		if err != nil {
			return diag, err
		}
		if err := optimCheck("critic", closs); err != nil {
			return diag, err
		}
		aloss, err := e.on.StepActor(mb)
		if err != nil {
			return diag, err
		}
		if err := optimCheck("actor", aloss); err != nil {
			return diag, err
		}
		criticSum += closs
		actorSum += aloss
	}
	e.on.EndPass()

	diag.CriticSteps = sampleTimes
	diag.ActorSteps = sampleTimes
	diag.CriticLoss = criticSum / float64(sampleTimes)
	diag.ActorLoss = actorSum / float64(sampleTimes)
	return diag, nil
}

// SelectAction picks an action for state. With explore set the kind's
// exploration rule applies; otherwise the greedy action is returned.
func (e *Engine) SelectAction(state []float64, explore bool) (model.Action, error) {
	if len(state) != e.opts.StateDim {
		return model.Action{}, fmt.Errorf("state has %d values, want %d", len(state), e.opts.StateDim)
	}
	return e.explorer.selectAction(state, explore), nil
}

// ResetExploration restarts temporally correlated exploration noise. The
// collector calls it at the start of every episode.
func (e *Engine) ResetExploration() { e.explorer.reset() }

// Modules returns the persisted approximators by name. Shared kinds store
// the whole network under "actor".
func (e *Engine) Modules() map[string]nn.Module {
	if e.nets.Shared != nil {
		return map[string]nn.Module{"actor": e.nets.Shared}
	}
	out := map[string]nn.Module{"critic": e.nets.Critic}
	if e.nets.Actor != nil {
		out["actor"] = e.nets.Actor
	}
	return out
}

// Snapshot copies the parameters of every persisted approximator.
func (e *Engine) Snapshot() map[string][]model.ParameterTensor {
	out := make(map[string][]model.ParameterTensor)
	for name, m := range e.Modules() {
		out[name] = nn.Snapshot(m)
	}
	return out
}

// Restore loads parameters into the named approximator and resets every
// target network to its online counterpart.
func (e *Engine) Restore(name string, tensors []model.ParameterTensor) error {
	m, ok := e.Modules()[name]
	if !ok {
		return fmt.Errorf("%s has no %q network", e.kind, name)
	}
	if err := nn.Restore(m, tensors); err != nil {
		return fmt.Errorf("restore %s: %w", name, err)
	}
	for _, s := range []any{e.off, e.on} {
		if c, ok := s.(targetCopier); ok {
			c.CopyTargets()
		}
	}
	return nil
}

// ParameterCount is the number of trainable scalars across all networks.
func (e *Engine) ParameterCount() int {
	total := 0
	for _, m := range e.Modules() {
		total += nn.CountParameters(m.Parameters())
	}
	return total
}

func missingShared(kind AlgorithmKind) error {
	return fmt.Errorf("%w: %s needs a shared actor-critic network", model.ErrMissingCapability, kind)
}

func optimCheck(what string, v float64) error {
	if !finite(v) {
		return fmt.Errorf("%w: %s loss is %v", model.ErrNumericInstability, what, v)
	}
	return nil
}
