package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gradus/internal/model"
)

const (
	runSummaryFile    = "summary.json"
	diagnosticsFile   = "diagnostics.json"
	returnHistoryFile = "returns.json"
	checkpointDir     = "checkpoints"
)

// FileStore keeps one directory per run under root:
//
//	<root>/<run>/summary.json
//	<root>/<run>/diagnostics.json
//	<root>/<run>/returns.json
//	<root>/<run>/checkpoints/<name>.json
//
// Files are replaced through a rename so readers never see a partial write.
type FileStore struct {
	root string

	mu          sync.RWMutex
	initialized bool
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == "" {
		return errors.New("file store root is required")
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create store root: %w", err)
	}
	s.initialized = true
	return nil
}

func (s *FileStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	if err := checkpointKeys(checkpoint); err != nil {
		return err
	}
	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	return s.write(filepath.Join(checkpoint.RunID, checkpointDir, checkpoint.Name+".json"), payload)
}

func (s *FileStore) GetCheckpoint(_ context.Context, runID, name string) (model.Checkpoint, bool, error) {
	if err := errors.Join(validateKey("run id", runID), validateKey("checkpoint name", name)); err != nil {
		return model.Checkpoint{}, false, err
	}
	payload, ok, err := s.read(filepath.Join(runID, checkpointDir, name+".json"))
	if err != nil || !ok {
		return model.Checkpoint{}, false, err
	}
	checkpoint, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s/%s: %w", runID, name, err)
	}
	return checkpoint, true, nil
}

func (s *FileStore) ListCheckpoints(_ context.Context, runID string) ([]string, error) {
	if err := validateKey("run id", runID); err != nil {
		return nil, err
	}
	entries, err := s.list(filepath.Join(runID, checkpointDir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok && !e.IsDir() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *FileStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	if err := validateKey("run id", summary.RunID); err != nil {
		return err
	}
	payload, err := EncodeRunSummary(summary)
	if err != nil {
		return err
	}
	return s.write(filepath.Join(summary.RunID, runSummaryFile), payload)
}

func (s *FileStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	if err := validateKey("run id", runID); err != nil {
		return model.RunSummary{}, false, err
	}
	payload, ok, err := s.read(filepath.Join(runID, runSummaryFile))
	if err != nil || !ok {
		return model.RunSummary{}, false, err
	}
	summary, err := DecodeRunSummary(payload)
	if err != nil {
		return model.RunSummary{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return summary, true, nil
}

// ListRuns returns the runs that have a summary on disk.
func (s *FileStore) ListRuns(_ context.Context) ([]string, error) {
	entries, err := s.list("")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), runSummaryFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *FileStore) SaveDiagnostics(_ context.Context, runID string, diagnostics []model.UpdateDiagnostics) error {
	if err := validateKey("run id", runID); err != nil {
		return err
	}
	payload, err := EncodeDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.write(filepath.Join(runID, diagnosticsFile), payload)
}

func (s *FileStore) GetDiagnostics(_ context.Context, runID string) ([]model.UpdateDiagnostics, bool, error) {
	if err := validateKey("run id", runID); err != nil {
		return nil, false, err
	}
	payload, ok, err := s.read(filepath.Join(runID, diagnosticsFile))
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := DecodeDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *FileStore) SaveReturnHistory(_ context.Context, runID string, history []float64) error {
	if err := validateKey("run id", runID); err != nil {
		return err
	}
	payload, err := EncodeReturnHistory(history)
	if err != nil {
		return err
	}
	return s.write(filepath.Join(runID, returnHistoryFile), payload)
}

func (s *FileStore) GetReturnHistory(_ context.Context, runID string) ([]float64, bool, error) {
	if err := validateKey("run id", runID); err != nil {
		return nil, false, err
	}
	payload, ok, err := s.read(filepath.Join(runID, returnHistoryFile))
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeReturnHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode return history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *FileStore) write(rel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	path := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) read(rel string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, false, errNotInitialized
	}

	payload, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *FileStore) list(rel string) ([]fs.DirEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, errNotInitialized
	}

	entries, err := os.ReadDir(filepath.Join(s.root, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}
