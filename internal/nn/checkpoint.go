package nn

import (
	"fmt"

	"gradus/internal/model"
)

// Snapshot copies a module's parameters into persistable tensors.
func Snapshot(m Module) []model.ParameterTensor {
	ps := m.Parameters()
	out := make([]model.ParameterTensor, len(ps))
	for i, p := range ps {
		out[i] = model.ParameterTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Data...),
		}
	}
	return out
}

// Restore writes persisted tensors back into m. Names and sizes must match
// the module's parameter layout exactly.
func Restore(m Module, tensors []model.ParameterTensor) error {
	ps := m.Parameters()
	if len(ps) != len(tensors) {
		return fmt.Errorf("%w: tensor count %d != %d", model.ErrParameterMismatch, len(tensors), len(ps))
	}
	for i, p := range ps {
		t := tensors[i]
		if t.Name != p.Name {
			return fmt.Errorf("%w: tensor %d name %q != %q", model.ErrParameterMismatch, i, t.Name, p.Name)
		}
		if len(t.Data) != p.Size() {
			return fmt.Errorf("%w: tensor %s size %d != %d", model.ErrParameterMismatch, p.Name, len(t.Data), p.Size())
		}
	}
	for i, p := range ps {
		copy(p.Data, tensors[i].Data)
	}
	return nil
}
