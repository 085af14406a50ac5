package model

import "math"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Transition is one environment step. Mask is 0 when the episode ended at this
// step and the discount factor otherwise, so targets are reward + mask*next.
type Transition struct {
	Reward    float64   `json:"reward"`
	Mask      float64   `json:"mask"`
	State     []float64 `json:"state"`
	Action    []float64 `json:"action"`
	NextState []float64 `json:"next_state"`
}

// OnPolicyTransition carries the log-likelihood of the taken action under the
// policy that collected it.
type OnPolicyTransition struct {
	Reward  float64   `json:"reward"`
	Mask    float64   `json:"mask"`
	State   []float64 `json:"state"`
	Action  []float64 `json:"action"`
	LogProb float64   `json:"log_prob"`
}

// Layout fixes the row shape of an off-policy buffer:
// reward | mask | state | action | next_state.
type Layout struct {
	StateDim  int `json:"state_dim"`
	ActionDim int `json:"action_dim"`
}

func (l Layout) Width() int {
	return 2 + 2*l.StateDim + l.ActionDim
}

func (l Layout) stateOffset() int  { return 2 }
func (l Layout) actionOffset() int { return 2 + l.StateDim }
func (l Layout) nextOffset() int   { return 2 + l.StateDim + l.ActionDim }

// Encode writes t into dst, which must have length Width().
func (l Layout) Encode(t Transition, dst []float64) {
	dst[0] = t.Reward
	dst[1] = t.Mask
	clear(dst[2:])
	copy(dst[l.stateOffset():l.actionOffset()], t.State)
	copy(dst[l.actionOffset():l.nextOffset()], t.Action)
	copy(dst[l.nextOffset():], t.NextState)
}

// Decode returns a transition whose slices are copies of row.
func (l Layout) Decode(row []float64) Transition {
	return Transition{
		Reward:    row[0],
		Mask:      row[1],
		State:     append([]float64(nil), row[l.stateOffset():l.actionOffset()]...),
		Action:    append([]float64(nil), row[l.actionOffset():l.nextOffset()]...),
		NextState: append([]float64(nil), row[l.nextOffset():l.Width()]...),
	}
}

// TransitionBatch is a column-major view of sampled transitions.
type TransitionBatch struct {
	Rewards    []float64
	Masks      []float64
	States     [][]float64
	Actions    [][]float64
	NextStates [][]float64
}

func (b TransitionBatch) Len() int {
	return len(b.Rewards)
}

// ActionIndex recovers a discrete action stored as a float-encoded integer.
func (b TransitionBatch) ActionIndex(i int) int {
	return ActionIndex(b.Actions[i])
}

// OnPolicyBatch is the whole on-policy rollout, column-major, oldest first.
type OnPolicyBatch struct {
	Rewards  []float64
	Masks    []float64
	States   [][]float64
	Actions  [][]float64
	LogProbs []float64
}

func (b OnPolicyBatch) Len() int {
	return len(b.Rewards)
}

// ActionIndex decodes the first component of a stored action as an index.
func ActionIndex(action []float64) int {
	if len(action) == 0 {
		return 0
	}
	return int(math.Round(action[0]))
}

// Action is what a policy hands to the collector. Stored goes into the buffer,
// Env is sent to the environment before max-action scaling.
type Action struct {
	Stored  []float64
	Env     []float64
	LogProb float64
}

// ParameterTensor is a named, flat copy of one parameter tensor.
type ParameterTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Checkpoint is the persisted parameter set of one function approximator.
type Checkpoint struct {
	VersionedRecord
	RunID      string            `json:"run_id"`
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Parameters []ParameterTensor `json:"parameters"`
}

// UpdateDiagnostics summarizes one update pass of the engine.
type UpdateDiagnostics struct {
	Iteration   int     `json:"iteration"`
	ActorLoss   float64 `json:"actor_loss"`
	CriticLoss  float64 `json:"critic_loss"`
	Rho         float64 `json:"rho"`
	Alpha       float64 `json:"alpha"`
	ActorSteps  int     `json:"actor_steps"`
	CriticSteps int     `json:"critic_steps"`
	Episodes    int     `json:"episodes"`
	AvgReturn   float64 `json:"avg_return"`
	BufferLen   int     `json:"buffer_len"`
}

// RunSummary is the persisted record of a training run.
type RunSummary struct {
	VersionedRecord
	RunID       string  `json:"run_id"`
	Kind        string  `json:"kind"`
	Scape       string  `json:"scape"`
	Iterations  int     `json:"iterations"`
	TotalSteps  int     `json:"total_steps"`
	Episodes    int     `json:"episodes"`
	BestReturn  float64 `json:"best_return"`
	FinalReturn float64 `json:"final_return"`
	Seed        uint64  `json:"seed"`
	NetDim      int     `json:"net_dim"`
	Activation  string  `json:"activation,omitempty"`
}
