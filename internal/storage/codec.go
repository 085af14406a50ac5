package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gradus/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// ErrVersionMismatch aliases the model sentinel so callers can match either.
var ErrVersionMismatch = model.ErrVersionMismatch

// CurrentVersion is the record header every writer stamps.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// EncodeCheckpoint relies on encoding/json emitting the shortest decimal that
// parses back to the same float64, so parameters round-trip bit-exactly.
func EncodeCheckpoint(c model.Checkpoint) ([]byte, error) {
	for _, p := range c.Parameters {
		if want := shapeSize(p.Shape); len(p.Shape) > 0 && want != len(p.Data) {
			return nil, fmt.Errorf("checkpoint %s/%s tensor %s: shape %v holds %d values, got %d",
				c.RunID, c.Name, p.Name, p.Shape, want, len(p.Data))
		}
	}
	return json.Marshal(c)
}

func DecodeCheckpoint(data []byte) (model.Checkpoint, error) {
	var checkpoint model.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return model.Checkpoint{}, err
	}
	if err := checkVersion(checkpoint.VersionedRecord); err != nil {
		return model.Checkpoint{}, err
	}
	return checkpoint, nil
}

func EncodeRunSummary(s model.RunSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func EncodeReturnHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeReturnHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func EncodeDiagnostics(diagnostics []model.UpdateDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeDiagnostics(data []byte) ([]model.UpdateDiagnostics, error) {
	var diagnostics []model.UpdateDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// validateKey rejects identifiers that cannot be used as a path element or
// a key segment by every backend.
func validateKey(what, key string) error {
	if key == "" {
		return fmt.Errorf("%s is required", what)
	}
	if strings.ContainsAny(key, `/\:`) || key == "." || key == ".." {
		return fmt.Errorf("invalid %s %q", what, key)
	}
	return nil
}

func checkpointKeys(c model.Checkpoint) error {
	return errors.Join(validateKey("run id", c.RunID), validateKey("checkpoint name", c.Name))
}
