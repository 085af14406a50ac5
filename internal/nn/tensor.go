package nn

import (
	"fmt"

	"gradus/internal/model"
)

// Tensor is a named flat parameter array with a logical shape.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

func NewTensor(name string, shape ...int) *Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Tensor{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, size),
	}
}

func (t *Tensor) Size() int { return len(t.Data) }

func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Name:  t.Name,
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

// CopyParameters copies src into dst by value. Both sets must be aligned
// tensor by tensor.
func CopyParameters(dst, src []*Tensor) error {
	if err := CheckAligned(dst, src); err != nil {
		return err
	}
	for i := range dst {
		copy(dst[i].Data, src[i].Data)
	}
	return nil
}

// CheckAligned verifies that two parameter sets have the same tensor count
// and per-tensor sizes.
func CheckAligned(a, b []*Tensor) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: tensor count %d != %d", model.ErrParameterMismatch, len(a), len(b))
	}
	for i := range a {
		if a[i].Size() != b[i].Size() {
			return fmt.Errorf("%w: tensor %d (%s) size %d != %d", model.ErrParameterMismatch, i, a[i].Name, a[i].Size(), b[i].Size())
		}
	}
	return nil
}

func CountParameters(ps []*Tensor) int {
	n := 0
	for _, p := range ps {
		n += p.Size()
	}
	return n
}

// Flatten appends every parameter value to dst in tensor order.
func Flatten(dst []float64, ps []*Tensor) []float64 {
	for _, p := range ps {
		dst = append(dst, p.Data...)
	}
	return dst
}

// Assign writes a flat vector produced by Flatten back into ps.
func Assign(ps []*Tensor, flat []float64) {
	off := 0
	for _, p := range ps {
		off += copy(p.Data, flat[off:])
	}
}
