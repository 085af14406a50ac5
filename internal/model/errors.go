package model

import "errors"

var (
	// ErrEmptyBuffer is returned when sampling is requested before any write.
	ErrEmptyBuffer = errors.New("buffer is empty")
	// ErrCapacityMismatch is returned when a bulk batch row does not match the buffer layout.
	ErrCapacityMismatch = errors.New("transition layout mismatch")
	// ErrNumericInstability marks a tracked scalar that became non-finite.
	ErrNumericInstability = errors.New("numeric instability")
	// ErrMissingCapability is returned at wiring time when an approximator lacks a required capability.
	ErrMissingCapability = errors.New("missing collaborator capability")
	ErrUnknownKind       = errors.New("unknown algorithm kind")
	ErrParameterMismatch = errors.New("parameter set mismatch")
	// ErrVersionMismatch is returned when a persisted record was written by another schema or codec version.
	ErrVersionMismatch = errors.New("record version mismatch")
)
