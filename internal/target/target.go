// Package target keeps lagged copies of approximator parameters for
// bootstrapped targets.
package target

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"gradus/internal/nn"
)

// Policy decides how a target parameter set follows its online set.
type Policy interface {
	// due reports whether the call-th sync (1-based) updates the target.
	due(call int) bool
	apply(target, online []*nn.Tensor)
	String() string
}

// Soft blends target <- tau*online + (1-tau)*target on every call.
type Soft struct {
	Tau float64
}

func (Soft) due(int) bool { return true }

func (s Soft) apply(target, online []*nn.Tensor) {
	for i := range target {
		floats.Scale(1-s.Tau, target[i].Data)
		floats.AddScaled(target[i].Data, s.Tau, online[i].Data)
	}
}

func (s Soft) String() string { return fmt.Sprintf("soft(tau=%g)", s.Tau) }

// Hard copies target <- online every Every calls and leaves it frozen in
// between.
type Hard struct {
	Every int
}

func (h Hard) due(call int) bool { return call%h.Every == 0 }

func (Hard) apply(target, online []*nn.Tensor) {
	for i := range target {
		copy(target[i].Data, online[i].Data)
	}
}

func (h Hard) String() string { return fmt.Sprintf("hard(every=%d)", h.Every) }

// Synchronizer owns the cadence for one online/target pair. It never aliases
// the two sets: every update copies values.
type Synchronizer struct {
	online nn.Module
	target nn.Module
	policy Policy
	calls  int
}

// New validates the pair and makes the target bit-identical to online.
func New(online, target nn.Module, policy Policy) (*Synchronizer, error) {
	if online == nil || target == nil {
		return nil, errors.New("online and target modules are required")
	}
	switch p := policy.(type) {
	case Soft:
		if p.Tau <= 0 || p.Tau > 1 {
			return nil, fmt.Errorf("soft tau must be in (0, 1], got %g", p.Tau)
		}
	case Hard:
		if p.Every <= 0 {
			return nil, fmt.Errorf("hard sync period must be > 0, got %d", p.Every)
		}
	default:
		return nil, errors.New("sync policy is required")
	}
	if err := nn.CopyParameters(target.Parameters(), online.Parameters()); err != nil {
		return nil, err
	}
	return &Synchronizer{online: online, target: target, policy: policy}, nil
}

func (s *Synchronizer) Target() nn.Module { return s.target }
func (s *Synchronizer) Policy() Policy    { return s.policy }
func (s *Synchronizer) Calls() int        { return s.calls }

// Sync advances the cadence and updates the target when due. It reports
// whether the target changed.
func (s *Synchronizer) Sync() bool {
	return s.SyncIf(true)
}

// SyncIf advances the cadence like Sync but only touches the target when
// allow is true. A skipped due call is not deferred to the next call.
func (s *Synchronizer) SyncIf(allow bool) bool {
	s.calls++
	if !allow || !s.policy.due(s.calls) {
		return false
	}
	s.policy.apply(s.target.Parameters(), s.online.Parameters())
	return true
}

// Copy makes the target bit-identical to online regardless of policy.
func (s *Synchronizer) Copy() {
	Hard{}.apply(s.target.Parameters(), s.online.Parameters())
}
