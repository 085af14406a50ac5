package engine

import (
	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/noise"
	"gradus/internal/optim"
	"gradus/internal/target"
)

// deterministicStrategy covers DDPG, DeterministicAC and TD3. The critic
// target is r + mask*Q_target(s', pi_target(s') + noise); TD3 takes the
// smaller head and delays both the actor step and the target sync.
type deterministicStrategy struct {
	actor       nn.Policy
	critic      nn.Critic
	twin        nn.TwinCritic
	actorT      nn.Policy
	criticT     nn.Critic
	actorSync   *target.Synchronizer
	criticSync  *target.Synchronizer
	actorOpt    optim.Optimizer
	criticOpt   optim.Optimizer
	loss        criterion
	policyNoise *noise.Gaussian
	// every is the actor and sync period in critic steps; zero uses Repeat.
	every int
}

func newDeterministicStrategy(w *Wiring) (Strategy, error) {
	actor, err := need[nn.Policy](w.Networks.Actor, w.Kind, "actor", "Act")
	if err != nil {
		return nil, err
	}
	critic, err := need[nn.Critic](w.Networks.Critic, w.Kind, "critic", "Q(state, action)")
	if err != nil {
		return nil, err
	}
	s := &deterministicStrategy{actor: actor, critic: critic, loss: w.criterion()}
	if w.Kind == TD3 {
		if s.twin, err = need[nn.TwinCritic](critic, w.Kind, "critic", "TwinQ"); err != nil {
			return nil, err
		}
		s.every = w.Constants().TD3Delay
	}
	if w.Kind == DDPG {
		s.every = 1
	}
	if std := profiles[w.Kind].policyNoise; std > 0 {
		if s.policyNoise, err = noise.NewGaussian(std, w.Rand); err != nil {
			return nil, err
		}
	}

	soft := target.Soft{Tau: w.Constants().Tau}
	at, err := cloneOf(actor, w.Kind, "actor")
	if err != nil {
		return nil, err
	}
	ct, err := cloneOf(critic, w.Kind, "critic")
	if err != nil {
		return nil, err
	}
	s.actorT, s.criticT = at.(nn.Policy), ct.(nn.Critic)
	if s.actorSync, err = target.New(actor, at, soft); err != nil {
		return nil, err
	}
	if s.criticSync, err = target.New(critic, ct, soft); err != nil {
		return nil, err
	}

	lr := w.Options.LearningRate
	if s.actorOpt, err = w.optimizer(actor.Parameters(), lr); err != nil {
		return nil, err
	}
	if s.criticOpt, err = w.optimizer(critic.Parameters(), lr); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *deterministicStrategy) Family() Family { return FamilyDeterministic }

func (s *deterministicStrategy) period(step Step) int {
	if s.every > 0 {
		return s.every
	}
	return step.Repeat
}

func (s *deterministicStrategy) CriticTarget(b model.TransitionBatch) []float64 {
	y := make([]float64, b.Len())
	for i := range y {
		next := s.actorT.Act(b.NextStates[i])
		if s.policyNoise != nil {
			next = s.policyNoise.Perturb(next)
		}
		y[i] = b.Rewards[i] + b.Masks[i]*s.criticT.Q(b.NextStates[i], next)
	}
	return y
}

func (s *deterministicStrategy) StepCritic(b model.TransitionBatch, y []float64) (float64, error) {
	pred := make([]float64, b.Len())
	if s.twin != nil {
		pred2 := make([]float64, b.Len())
		loss, err := s.criticOpt.Step(func() float64 {
			for i := range pred {
				pred[i], pred2[i] = s.twin.TwinQ(b.States[i], b.Actions[i])
			}
			return s.loss(pred, y) + s.loss(pred2, y)
		})
		return loss / 2, err
	}
	return s.criticOpt.Step(func() float64 {
		for i := range pred {
			pred[i] = s.critic.Q(b.States[i], b.Actions[i])
		}
		return s.loss(pred, y)
	})
}

func (s *deterministicStrategy) StepActor(b model.TransitionBatch, step Step) (float64, bool, error) {
	if step.Index%s.period(step) != 0 {
		return 0, false, nil
	}
	loss, err := s.actorOpt.Step(func() float64 {
		sum := 0.0
		for _, st := range b.States {
			sum -= s.critic.Q(st, s.actor.Act(st))
		}
		return sum / float64(len(b.States))
	})
	return loss, err == nil, err
}

func (s *deterministicStrategy) Sync(step Step) {
	if s.every > 1 && step.Index%s.every != 0 {
		return
	}
	s.actorSync.Sync()
	s.criticSync.Sync()
}

func (s *deterministicStrategy) CopyTargets() {
	s.actorSync.Copy()
	s.criticSync.Copy()
}

// interACStrategy trains one shared network on a united loss. The actor
// term is weighted by rho and the policy-matching correction by 1-rho, so a
// poorly fit critic mostly keeps the actor close to its target.
type interACStrategy struct {
	actor       nn.Policy
	critic      nn.Critic
	actorT      nn.Policy
	criticT     nn.Critic
	sync        *target.Synchronizer
	opt         optim.Optimizer
	loss        criterion
	policyNoise *noise.Gaussian
	consts      Constants

	nextActions [][]float64
	criticLoss  optim.Objective
}

func newInterACStrategy(w *Wiring) (Strategy, error) {
	shared := w.Networks.Shared
	if shared == nil {
		return nil, missingShared(w.Kind)
	}
	actor, err := need[nn.Policy](shared.Actor(), w.Kind, "shared actor", "Act")
	if err != nil {
		return nil, err
	}
	critic, err := need[nn.Critic](shared.Critic(), w.Kind, "shared critic", "Q(state, action)")
	if err != nil {
		return nil, err
	}
	s := &interACStrategy{actor: actor, critic: critic, loss: w.criterion(), consts: w.Constants()}
	if s.policyNoise, err = noise.NewGaussian(profiles[w.Kind].policyNoise, w.Rand); err != nil {
		return nil, err
	}

	t := shared.CloneModule().(nn.SharedNetwork)
	s.actorT = t.Actor()
	if s.criticT, err = need[nn.Critic](t.Critic(), w.Kind, "shared target critic", "Q(state, action)"); err != nil {
		return nil, err
	}
	if s.sync, err = target.New(shared, t, target.Hard{Every: s.consts.HardSyncEvery}); err != nil {
		return nil, err
	}
	if s.opt, err = w.optimizer(shared.Parameters(), w.Options.LearningRate); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *interACStrategy) Family() Family { return FamilyDeterministic }

func (s *interACStrategy) CriticTarget(b model.TransitionBatch) []float64 {
	y := make([]float64, b.Len())
	s.nextActions = make([][]float64, b.Len())
	for i := range y {
		next := s.policyNoise.Perturb(s.actorT.Act(b.NextStates[i]))
		s.nextActions[i] = next
		y[i] = b.Rewards[i] + b.Masks[i]*s.criticT.Q(b.NextStates[i], next)
	}
	return y
}

func (s *interACStrategy) StepCritic(b model.TransitionBatch, y []float64) (float64, error) {
	pred := make([]float64, b.Len())
	s.criticLoss = func() float64 {
		for i := range pred {
			pred[i] = s.critic.Q(b.States[i], b.Actions[i])
		}
		return s.loss(pred, y)
	}
	loss := s.criticLoss()
	return loss, optimCheck("critic", loss)
}

func (s *interACStrategy) StepActor(b model.TransitionBatch, step Step) (float64, bool, error) {
	want := flatten(s.nextActions)
	correction := func() float64 {
		got := make([][]float64, len(b.NextStates))
		for i, ns := range b.NextStates {
			got[i] = s.actor.Act(ns)
		}
		return s.loss(flatten(got), want)
	}
	actorLoss := func() float64 {
		sum := 0.0
		for _, st := range b.States {
			sum -= s.criticT.Q(st, s.actor.Act(st))
		}
		return sum / float64(len(b.States))
	}

	rho := step.Rho
	withActor := step.Index%step.Repeat == 0
	_, err := s.opt.Step(func() float64 {
		loss := s.criticLoss() + correction()*(1-rho)
		if withActor {
			loss += actorLoss() * rho * s.consts.InterACActorWeight
		}
		return loss
	})
	if err != nil || !withActor {
		return 0, false, err
	}
	return actorLoss(), true, nil
}

func (s *interACStrategy) Sync(step Step) {
	s.sync.SyncIf(step.Rho > s.consts.InterACSyncRho)
}

func (s *interACStrategy) CopyTargets() { s.sync.Copy() }
