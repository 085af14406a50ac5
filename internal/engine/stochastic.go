package engine

import (
	"math"

	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/optim"
	"gradus/internal/target"
)

// alphaTuner adjusts the entropy temperature toward a target entropy. The
// loss is log_alpha * (entropy - target), entropy estimated as -log pi.
type alphaTuner struct {
	logAlpha      *nn.Tensor
	opt           optim.Optimizer
	targetEntropy float64
	lo, hi        float64
}

func newAlphaTuner(w *Wiring, targetEntropy, initLogAlpha, beta1 float64) (*alphaTuner, error) {
	t := &alphaTuner{
		logAlpha:      nn.NewTensor("log_alpha", 1),
		targetEntropy: targetEntropy,
		lo:            w.Constants().LogAlphaMin,
		hi:            w.Constants().LogAlphaMax,
	}
	t.logAlpha.Data[0] = initLogAlpha
	t.clamp()
	var err error
	if t.opt, err = w.adam([]*nn.Tensor{t.logAlpha}, w.Options.LearningRate, beta1); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *alphaTuner) Alpha() float64 { return math.Exp(t.logAlpha.Data[0]) }

// step moves log_alpha given the log-likelihoods of freshly sampled
// actions, then clamps it into [lo, hi].
func (t *alphaTuner) step(logProbs []float64, weight float64) error {
	gap := -mean(logProbs) - t.targetEntropy
	_, err := t.opt.Step(func() float64 {
		return weight * t.logAlpha.Data[0] * gap
	})
	t.clamp()
	return err
}

func (t *alphaTuner) clamp() {
	t.logAlpha.Data[0] = math.Max(t.lo, math.Min(t.hi, t.logAlpha.Data[0]))
}

// sacStrategy covers SAC and DeepSAC. DeepSAC samples next actions from an
// actor target, steps the temperature every iteration and gates actor
// steps on the trust coefficient, with the actor learning rate scaled by
// rho.
type sacStrategy struct {
	deep       bool
	actor      nn.ReparameterizedPolicy
	critic     nn.TwinCritic
	criticT    nn.Critic
	criticSync *target.Synchronizer
	nextPolicy nn.StochasticPolicy
	actorSync  *target.Synchronizer
	actorOpt   optim.Optimizer
	criticOpt  optim.Optimizer
	alpha      *alphaTuner
	loss       criterion
	w          *Wiring
	baseLR     float64
	rhoOffset  float64
	actorSteps int
}

func newSACStrategy(w *Wiring) (Strategy, error) {
	actor, err := need[nn.ReparameterizedPolicy](w.Networks.Actor, w.Kind, "actor", "Reparameterize")
	if err != nil {
		return nil, err
	}
	critic, err := need[nn.TwinCritic](w.Networks.Critic, w.Kind, "critic", "TwinQ")
	if err != nil {
		return nil, err
	}
	s := &sacStrategy{
		deep:       w.Kind == DeepSAC,
		actor:      actor,
		critic:     critic,
		nextPolicy: actor,
		loss:       w.criterion(),
		w:          w,
		baseLR:     w.Options.LearningRate,
		rhoOffset:  w.Constants().DeepSACRhoOffset,
	}

	ct, err := cloneOf(critic, w.Kind, "critic")
	if err != nil {
		return nil, err
	}
	s.criticT = ct.(nn.Critic)
	if s.criticSync, err = target.New(critic, ct, target.Soft{Tau: w.Constants().Tau}); err != nil {
		return nil, err
	}

	ad := float64(w.Options.ActionDim)
	targetEntropy, initLogAlpha := math.Log(ad)*0.98, 0.0
	if s.deep {
		at, err := cloneOf(actor, w.Kind, "actor")
		if err != nil {
			return nil, err
		}
		s.nextPolicy = at.(nn.StochasticPolicy)
		if s.actorSync, err = target.New(actor, at, target.Soft{Tau: w.Constants().Tau}); err != nil {
			return nil, err
		}
		targetEntropy = math.Log(ad+1) * 0.5
		initLogAlpha = -targetEntropy * math.E
	}
	if s.alpha, err = newAlphaTuner(w, targetEntropy, initLogAlpha, 0.9); err != nil {
		return nil, err
	}
	if s.actorOpt, err = w.optimizer(actor.Parameters(), s.baseLR); err != nil {
		return nil, err
	}
	if s.criticOpt, err = w.optimizer(critic.Parameters(), s.baseLR); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sacStrategy) Family() Family { return FamilyStochastic }

func (s *sacStrategy) Alpha() float64 { return s.alpha.Alpha() }

func (s *sacStrategy) CriticTarget(b model.TransitionBatch) []float64 {
	alpha := s.alpha.Alpha()
	y := make([]float64, b.Len())
	for i := range y {
		next, logp := s.nextPolicy.SampleWithLogProb(s.w.Rand, b.NextStates[i])
		q := s.criticT.Q(b.NextStates[i], next)
		y[i] = b.Rewards[i] + b.Masks[i]*(q-alpha*logp)
	}
	return y
}

func (s *sacStrategy) StepCritic(b model.TransitionBatch, y []float64) (float64, error) {
	return stepTwinCritic(s.criticOpt, s.critic, s.loss, b, y)
}

func (s *sacStrategy) StepActor(b model.TransitionBatch, step Step) (float64, bool, error) {
	if !s.deep && step.Index%step.Repeat != 0 {
		return 0, false, nil
	}
	noise := drawNoise(s.w, s.actor.NoiseDim(), b.Len())
	if err := s.alpha.step(reparamLogProbs(s.actor, b.States, noise), 1); err != nil {
		return 0, false, err
	}

	if s.deep {
		// Keep actor steps at most (rho + offset) of this pass's critic steps.
		if step.Index == 0 {
			s.actorSteps = 0
		}
		i := step.Index + 1
		if float64(s.actorSteps)/float64(i) >= step.Rho+s.rhoOffset {
			return 0, false, nil
		}
		s.actorOpt.SetLearningRate(s.baseLR * step.Rho)
	}

	alpha := s.alpha.Alpha()
	loss, err := s.actorOpt.Step(func() float64 {
		sum := 0.0
		for i, st := range b.States {
			a, logp := s.actor.Reparameterize(st, noise[i])
			sum += alpha*logp - s.critic.Q(st, a)
		}
		return sum / float64(len(b.States))
	})
	if err != nil {
		return 0, false, err
	}
	s.actorSteps++
	if s.actorSync != nil {
		s.actorSync.Sync()
	}
	return loss, true, nil
}

func (s *sacStrategy) Sync(Step) { s.criticSync.Sync() }

func (s *sacStrategy) CopyTargets() {
	s.criticSync.Copy()
	if s.actorSync != nil {
		s.actorSync.Copy()
	}
}

// interSACStrategy trains a shared Gaussian actor and twin critic on one
// united loss: critic + (1-rho)*policy-matching + rho*actor.
type interSACStrategy struct {
	actor      nn.GaussianPolicy
	critic     nn.TwinCritic
	actorT     nn.GaussianPolicy
	criticT    nn.Critic
	sync       *target.Synchronizer
	opt        optim.Optimizer
	alpha      *alphaTuner
	loss       criterion
	w          *Wiring
	consts     Constants
	criticLoss optim.Objective
}

func newInterSACStrategy(w *Wiring) (Strategy, error) {
	shared := w.Networks.Shared
	if shared == nil {
		return nil, missingShared(w.Kind)
	}
	actor, err := need[nn.GaussianPolicy](shared.Actor(), w.Kind, "shared actor", "Distribution")
	if err != nil {
		return nil, err
	}
	critic, err := need[nn.TwinCritic](shared.Critic(), w.Kind, "shared critic", "TwinQ")
	if err != nil {
		return nil, err
	}
	s := &interSACStrategy{actor: actor, critic: critic, loss: w.criterion(), w: w, consts: w.Constants()}

	t := shared.CloneModule().(nn.SharedNetwork)
	s.actorT = t.Actor().(nn.GaussianPolicy)
	s.criticT = t.Critic().(nn.Critic)
	if s.sync, err = target.New(shared, t, target.Soft{Tau: s.consts.SharedTau}); err != nil {
		return nil, err
	}

	targetEntropy := math.Log(float64(w.Options.ActionDim)+1) * 0.5
	if s.alpha, err = newAlphaTuner(w, targetEntropy, -targetEntropy*math.E, 0.5); err != nil {
		return nil, err
	}
	if s.opt, err = w.adam(shared.Parameters(), w.Options.LearningRate, 0.5); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *interSACStrategy) Family() Family { return FamilyStochastic }

func (s *interSACStrategy) Alpha() float64 { return s.alpha.Alpha() }

func (s *interSACStrategy) CriticTarget(b model.TransitionBatch) []float64 {
	alpha := s.alpha.Alpha()
	y := make([]float64, b.Len())
	for i := range y {
		next, logp := s.actorT.SampleWithLogProb(s.w.Rand, b.NextStates[i])
		y[i] = b.Rewards[i] + b.Masks[i]*(s.criticT.Q(b.NextStates[i], next)-alpha*logp)
	}
	return y
}

func (s *interSACStrategy) StepCritic(b model.TransitionBatch, y []float64) (float64, error) {
	pred1 := make([]float64, b.Len())
	pred2 := make([]float64, b.Len())
	s.criticLoss = func() float64 {
		for i := range pred1 {
			pred1[i], pred2[i] = s.critic.TwinQ(b.States[i], b.Actions[i])
		}
		return s.loss(pred1, y) + s.loss(pred2, y)
	}
	loss := s.criticLoss() / 2
	return loss, optimCheck("critic", loss)
}

func (s *interSACStrategy) StepActor(b model.TransitionBatch, step Step) (float64, bool, error) {
	rho := step.Rho
	noise := drawNoise(s.w, s.actor.NoiseDim(), b.Len())
	if err := s.alpha.step(reparamLogProbs(s.actor, b.States, noise), rho); err != nil {
		return 0, false, err
	}
	alpha := s.alpha.Alpha()

	var wantMean, wantStd [][]float64
	for _, st := range b.States {
		m, ls := s.actorT.Distribution(st)
		wantMean = append(wantMean, m)
		wantStd = append(wantStd, ls)
	}
	flatMean, flatStd := flatten(wantMean), flatten(wantStd)
	correction := func() float64 {
		gotMean := make([][]float64, len(b.States))
		gotStd := make([][]float64, len(b.States))
		for i, st := range b.States {
			gotMean[i], gotStd[i] = s.actor.Distribution(st)
		}
		return s.loss(flatten(gotMean), flatMean) + s.loss(flatten(gotStd), flatStd)
	}
	actorLoss := func() float64 {
		sum := 0.0
		for i, st := range b.States {
			a, logp := s.actor.Reparameterize(st, noise[i])
			sum += alpha*logp - s.criticT.Q(st, a)
		}
		return sum / float64(len(b.States))
	}

	withActor := rho > s.consts.InterSACActorRho
	_, err := s.opt.Step(func() float64 {
		loss := s.criticLoss() + correction()*(1-rho)
		if withActor {
			loss += actorLoss() * rho
		}
		return loss
	})
	if err != nil || !withActor {
		return 0, false, err
	}
	return actorLoss(), true, nil
}

func (s *interSACStrategy) Sync(Step) { s.sync.Sync() }

func (s *interSACStrategy) CopyTargets() { s.sync.Copy() }

// stepTwinCritic regresses both heads onto y and reports half the summed loss.
func stepTwinCritic(opt optim.Optimizer, critic nn.TwinCritic, loss criterion, b model.TransitionBatch, y []float64) (float64, error) {
	pred1 := make([]float64, b.Len())
	pred2 := make([]float64, b.Len())
	l, err := opt.Step(func() float64 {
		for i := range pred1 {
			pred1[i], pred2[i] = critic.TwinQ(b.States[i], b.Actions[i])
		}
		return loss(pred1, y) + loss(pred2, y)
	})
	return l / 2, err
}

func drawNoise(w *Wiring, dim, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = nn.StandardNormal(w.Rand, dim)
	}
	return out
}

func reparamLogProbs(p nn.ReparameterizedPolicy, states, noise [][]float64) []float64 {
	out := make([]float64, len(states))
	for i, st := range states {
		_, out[i] = p.Reparameterize(st, noise[i])
	}
	return out
}
