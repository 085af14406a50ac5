// Package replay holds the transition stores used by the update engine: a
// fixed-capacity ring for off-policy families and an append-then-clear rollout
// store for on-policy families.
//
// Neither store is safe for concurrent writers. A run owns its buffers and
// drives them from a single goroutine.
package replay

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gradus/internal/model"
)

// Buffer is the off-policy ring. Rows are stored contiguously in one backing
// slice; writes wrap at capacity and overwrite the oldest row.
type Buffer struct {
	layout   model.Layout
	width    int
	capacity int
	data     []float64
	cursor   int
	full     bool
}

func NewBuffer(capacity int, layout model.Layout) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be > 0")
	}
	if layout.StateDim <= 0 {
		return nil, errors.New("state dim must be > 0")
	}
	if layout.ActionDim <= 0 {
		return nil, errors.New("action dim must be > 0")
	}
	width := layout.Width()
	return &Buffer{
		layout:   layout,
		width:    width,
		capacity: capacity,
		data:     make([]float64, capacity*width),
	}, nil
}

func (b *Buffer) Layout() model.Layout { return b.layout }

func (b *Buffer) Cap() int { return b.capacity }

// Len is the number of written rows, capped at Cap once the ring has wrapped.
func (b *Buffer) Len() int {
	if b.full {
		return b.capacity
	}
	return b.cursor
}

func (b *Buffer) IsFull() bool { return b.full }

// Cursor is the row index the next write lands on.
func (b *Buffer) Cursor() int { return b.cursor }

// SizeBytes is the footprint of the backing array.
func (b *Buffer) SizeBytes() uint64 {
	return uint64(len(b.data)) * 8
}

// Write inserts t at the cursor. Fields longer than the layout are truncated
// and shorter ones are zero-filled.
func (b *Buffer) Write(t model.Transition) {
	b.layout.Encode(t, b.row(b.cursor))
	b.advance(1)
}

// Extend bulk-inserts rows already encoded with the buffer layout. A batch that
// straddles the end of the backing array is split into a tail write and a head
// write. When rows exceeds capacity only the most recent Cap rows are kept.
func (b *Buffer) Extend(rows [][]float64) error {
	for i, row := range rows {
		if len(row) != b.width {
			return fmt.Errorf("%w: row %d has width %d, want %d", model.ErrCapacityMismatch, i, len(row), b.width)
		}
	}
	if len(rows) > b.capacity {
		skipped := len(rows) - b.capacity
		b.advance(skipped)
		rows = rows[skipped:]
	}

	n := len(rows)
	tail := b.capacity - b.cursor
	if n <= tail {
		b.copyRows(b.cursor, rows)
	} else {
		b.copyRows(b.cursor, rows[:tail])
		b.copyRows(0, rows[tail:])
	}
	b.advance(n)
	return nil
}

// ExtendTransitions encodes and bulk-inserts ts.
func (b *Buffer) ExtendTransitions(ts []model.Transition) error {
	rows := make([][]float64, len(ts))
	for i, t := range ts {
		rows[i] = make([]float64, b.width)
		b.layout.Encode(t, rows[i])
	}
	return b.Extend(rows)
}

// Sample draws batchSize rows uniformly with replacement from the written
// region [0, Len).
func (b *Buffer) Sample(rng *rand.Rand, batchSize int) (model.TransitionBatch, error) {
	n := b.Len()
	if n == 0 {
		return model.TransitionBatch{}, fmt.Errorf("sample: %w", model.ErrEmptyBuffer)
	}
	if batchSize <= 0 {
		return model.TransitionBatch{}, errors.New("batch size must be > 0")
	}
	if rng == nil {
		return model.TransitionBatch{}, errors.New("random source is required")
	}

	batch := model.TransitionBatch{
		Rewards:    make([]float64, batchSize),
		Masks:      make([]float64, batchSize),
		States:     make([][]float64, batchSize),
		Actions:    make([][]float64, batchSize),
		NextStates: make([][]float64, batchSize),
	}
	for i := 0; i < batchSize; i++ {
		t := b.layout.Decode(b.row(rng.IntN(n)))
		batch.Rewards[i] = t.Reward
		batch.Masks[i] = t.Mask
		batch.States[i] = t.State
		batch.Actions[i] = t.Action
		batch.NextStates[i] = t.NextState
	}
	return batch, nil
}

// At decodes row i of the written region in storage order.
func (b *Buffer) At(i int) (model.Transition, error) {
	if i < 0 || i >= b.Len() {
		return model.Transition{}, fmt.Errorf("index %d out of range [0, %d)", i, b.Len())
	}
	return b.layout.Decode(b.row(i)), nil
}

// Rewards returns the reward column of the written region in storage order.
func (b *Buffer) Rewards() []float64 {
	out := make([]float64, b.Len())
	for i := range out {
		out[i] = b.data[i*b.width]
	}
	return out
}

func (b *Buffer) row(i int) []float64 {
	return b.data[i*b.width : (i+1)*b.width]
}

func (b *Buffer) copyRows(start int, rows [][]float64) {
	for i, row := range rows {
		copy(b.row(start+i), row)
	}
}

func (b *Buffer) advance(n int) {
	next := b.cursor + n
	if next >= b.capacity {
		b.full = true
		next %= b.capacity
	}
	b.cursor = next
}
