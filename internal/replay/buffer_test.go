package replay

import (
	"errors"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradus/internal/model"
)

func newTestRand() *rand.Rand {
	return rand.New(rand.NewPCG(7, 11))
}

func transitionWithReward(r float64) model.Transition {
	return model.Transition{
		Reward:    r,
		Mask:      0.99,
		State:     []float64{r, -r},
		Action:    []float64{r / 10},
		NextState: []float64{r + 1, -r - 1},
	}
}

func TestNewBufferValidation(t *testing.T) {
	_, err := NewBuffer(0, model.Layout{StateDim: 1, ActionDim: 1})
	require.Error(t, err)
	_, err = NewBuffer(4, model.Layout{StateDim: 0, ActionDim: 1})
	require.Error(t, err)
	_, err = NewBuffer(4, model.Layout{StateDim: 1, ActionDim: 0})
	require.Error(t, err)
}

func TestBufferKeepsMostRecentAfterWrap(t *testing.T) {
	buf, err := NewBuffer(4, model.Layout{StateDim: 2, ActionDim: 1})
	require.NoError(t, err)

	for _, r := range []float64{1, 2, 3, 4, 5, 6} {
		buf.Write(transitionWithReward(r))
	}

	require.Equal(t, 4, buf.Len())
	require.True(t, buf.IsFull())
	require.Equal(t, 2, buf.Cursor())

	rewards := buf.Rewards()
	sort.Float64s(rewards)
	require.Equal(t, []float64{3, 4, 5, 6}, rewards)
}

func TestBufferLenBeforeWrap(t *testing.T) {
	buf, err := NewBuffer(8, model.Layout{StateDim: 2, ActionDim: 1})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		buf.Write(transitionWithReward(float64(i)))
		require.Equal(t, i, buf.Len())
		require.False(t, buf.IsFull())
	}
}

func TestBufferLenStaysAtCapacity(t *testing.T) {
	const capacity = 5
	buf, err := NewBuffer(capacity, model.Layout{StateDim: 2, ActionDim: 1})
	require.NoError(t, err)

	for i := 1; i <= 23; i++ {
		buf.Write(transitionWithReward(float64(i)))
		if i >= capacity {
			require.Equal(t, capacity, buf.Len())
		}
	}
	rewards := buf.Rewards()
	sort.Float64s(rewards)
	require.Equal(t, []float64{19, 20, 21, 22, 23}, rewards)
}

func TestBufferSampleEmpty(t *testing.T) {
	buf, err := NewBuffer(4, model.Layout{StateDim: 2, ActionDim: 1})
	require.NoError(t, err)

	_, err = buf.Sample(newTestRand(), 8)
	require.True(t, errors.Is(err, model.ErrEmptyBuffer), "got %v", err)
}

func TestBufferSampleOnlyWrittenSlots(t *testing.T) {
	buf, err := NewBuffer(64, model.Layout{StateDim: 2, ActionDim: 1})
	require.NoError(t, err)
	buf.Write(transitionWithReward(1))
	buf.Write(transitionWithReward(2))
	buf.Write(transitionWithReward(3))

	batch, err := buf.Sample(newTestRand(), 256)
	require.NoError(t, err)
	require.Equal(t, 256, batch.Len())

	seen := map[float64]bool{}
	for i := 0; i < batch.Len(); i++ {
		r := batch.Rewards[i]
		require.Contains(t, []float64{1, 2, 3}, r)
		seen[r] = true
		assert.Equal(t, []float64{r, -r}, batch.States[i])
		assert.Equal(t, []float64{r + 1, -r - 1}, batch.NextStates[i])
		assert.InDelta(t, r/10, batch.Actions[i][0], 1e-12)
		assert.Equal(t, 0.99, batch.Masks[i])
	}
	require.Len(t, seen, 3, "uniform sampling with replacement should hit every slot")
}

func TestBufferSampleValidation(t *testing.T) {
	buf, err := NewBuffer(4, model.Layout{StateDim: 2, ActionDim: 1})
	require.NoError(t, err)
	buf.Write(transitionWithReward(1))

	_, err = buf.Sample(newTestRand(), 0)
	require.Error(t, err)
	_, err = buf.Sample(nil, 1)
	require.Error(t, err)
}

func TestBufferDiscreteActionRoundTrip(t *testing.T) {
	buf, err := NewBuffer(4, model.Layout{StateDim: 1, ActionDim: 1})
	require.NoError(t, err)
	buf.Write(model.Transition{Reward: 1, State: []float64{0}, Action: []float64{3}, NextState: []float64{1}})

	batch, err := buf.Sample(newTestRand(), 2)
	require.NoError(t, err)
	require.Equal(t, 3, batch.ActionIndex(0))
	require.Equal(t, 3, batch.ActionIndex(1))
}

func encodeRows(t *testing.T, layout model.Layout, rewards ...float64) [][]float64 {
	t.Helper()
	rows := make([][]float64, len(rewards))
	for i, r := range rewards {
		rows[i] = make([]float64, layout.Width())
		layout.Encode(transitionWithReward(r), rows[i])
	}
	return rows
}

func TestBufferExtendStraddlesEnd(t *testing.T) {
	layout := model.Layout{StateDim: 2, ActionDim: 1}
	buf, err := NewBuffer(5, layout)
	require.NoError(t, err)

	require.NoError(t, buf.Extend(encodeRows(t, layout, 1, 2, 3)))
	require.Equal(t, 3, buf.Cursor())
	require.False(t, buf.IsFull())

	require.NoError(t, buf.Extend(encodeRows(t, layout, 4, 5, 6, 7)))
	require.True(t, buf.IsFull())
	require.Equal(t, 2, buf.Cursor())
	require.Equal(t, 5, buf.Len())

	// Tail write filled slots 3 and 4, head write filled slots 0 and 1.
	require.Equal(t, []float64{6, 7, 3, 4, 5}, buf.Rewards())
}

func TestBufferExtendExactlyToEnd(t *testing.T) {
	layout := model.Layout{StateDim: 2, ActionDim: 1}
	buf, err := NewBuffer(4, layout)
	require.NoError(t, err)

	require.NoError(t, buf.Extend(encodeRows(t, layout, 1, 2, 3, 4)))
	require.True(t, buf.IsFull())
	require.Equal(t, 0, buf.Cursor())
	require.Equal(t, []float64{1, 2, 3, 4}, buf.Rewards())
}

func TestBufferExtendLargerThanCapacity(t *testing.T) {
	layout := model.Layout{StateDim: 2, ActionDim: 1}
	buf, err := NewBuffer(3, layout)
	require.NoError(t, err)
	buf.Write(transitionWithReward(100))

	require.NoError(t, buf.Extend(encodeRows(t, layout, 1, 2, 3, 4, 5, 6, 7)))
	require.Equal(t, 3, buf.Len())
	// cursor moves by 7 from 1 and wraps to 2
	require.Equal(t, 2, buf.Cursor())
	rewards := buf.Rewards()
	sort.Float64s(rewards)
	require.Equal(t, []float64{5, 6, 7}, rewards)
}

func TestBufferExtendMatchesSequentialWrites(t *testing.T) {
	layout := model.Layout{StateDim: 2, ActionDim: 1}
	bulk, err := NewBuffer(7, layout)
	require.NoError(t, err)
	single, err := NewBuffer(7, layout)
	require.NoError(t, err)

	batches := [][]float64{{1, 2, 3}, {4, 5, 6, 7, 8}, {9}, {10, 11, 12, 13, 14, 15}}
	for _, rewards := range batches {
		require.NoError(t, bulk.Extend(encodeRows(t, layout, rewards...)))
		for _, r := range rewards {
			single.Write(transitionWithReward(r))
		}
		require.Equal(t, single.Cursor(), bulk.Cursor())
		require.Equal(t, single.Len(), bulk.Len())
		require.Equal(t, single.Rewards(), bulk.Rewards())
	}
}

func TestBufferExtendRejectsWidthMismatch(t *testing.T) {
	layout := model.Layout{StateDim: 2, ActionDim: 1}
	buf, err := NewBuffer(4, layout)
	require.NoError(t, err)

	rows := encodeRows(t, layout, 1, 2)
	rows = append(rows, []float64{1, 2, 3})
	err = buf.Extend(rows)
	require.True(t, errors.Is(err, model.ErrCapacityMismatch), "got %v", err)
	require.Equal(t, 0, buf.Len(), "a rejected batch writes nothing")
}

func TestBufferExtendTransitions(t *testing.T) {
	buf, err := NewBuffer(4, model.Layout{StateDim: 2, ActionDim: 1})
	require.NoError(t, err)

	require.NoError(t, buf.ExtendTransitions([]model.Transition{transitionWithReward(1), transitionWithReward(2)}))
	got, err := buf.At(1)
	require.NoError(t, err)
	require.Equal(t, transitionWithReward(2), got)

	_, err = buf.At(2)
	require.Error(t, err)
}

func TestBufferSizeBytes(t *testing.T) {
	buf, err := NewBuffer(10, model.Layout{StateDim: 2, ActionDim: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(10*7*8), buf.SizeBytes())
}
