package replay

import (
	"fmt"

	"gradus/internal/model"
)

// OnlineBuffer is the on-policy rollout store. It keeps no history across
// update cycles: the collector clears it before every collection phase so the
// stored log-probabilities always belong to the policy that produced them.
type OnlineBuffer struct {
	maxLen      int
	transitions []model.OnPolicyTransition
}

// NewOnlineBuffer returns a store whose collection target is maxLen steps.
// maxLen is a target for the collector, not a hard cap: the last episode may
// run past it.
func NewOnlineBuffer(maxLen int) (*OnlineBuffer, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("max length must be > 0")
	}
	return &OnlineBuffer{
		maxLen:      maxLen,
		transitions: make([]model.OnPolicyTransition, 0, maxLen),
	}, nil
}

func (b *OnlineBuffer) MaxLen() int { return b.maxLen }

func (b *OnlineBuffer) Len() int { return len(b.transitions) }

func (b *OnlineBuffer) Push(reward, mask float64, state, action []float64, logProb float64) {
	b.transitions = append(b.transitions, model.OnPolicyTransition{
		Reward:  reward,
		Mask:    mask,
		State:   append([]float64(nil), state...),
		Action:  append([]float64(nil), action...),
		LogProb: logProb,
	})
}

func (b *OnlineBuffer) Extend(ts []model.OnPolicyTransition) {
	for _, t := range ts {
		b.Push(t.Reward, t.Mask, t.State, t.Action, t.LogProb)
	}
}

// Sample returns every stored transition as columns, in insertion order.
func (b *OnlineBuffer) Sample() (model.OnPolicyBatch, error) {
	n := len(b.transitions)
	if n == 0 {
		return model.OnPolicyBatch{}, fmt.Errorf("sample: %w", model.ErrEmptyBuffer)
	}
	batch := model.OnPolicyBatch{
		Rewards:  make([]float64, n),
		Masks:    make([]float64, n),
		States:   make([][]float64, n),
		Actions:  make([][]float64, n),
		LogProbs: make([]float64, n),
	}
	for i, t := range b.transitions {
		batch.Rewards[i] = t.Reward
		batch.Masks[i] = t.Mask
		batch.States[i] = t.State
		batch.Actions[i] = t.Action
		batch.LogProbs[i] = t.LogProb
	}
	return batch, nil
}

func (b *OnlineBuffer) Clear() {
	clear(b.transitions)
	b.transitions = b.transitions[:0]
}
