// Package stats writes and reads on-disk artifacts of training runs: the run
// configuration, per-iteration update diagnostics as JSON and CSV, the
// episode return history and a run index.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gradus/internal/model"
)

const (
	runIndexFile       = "run_index.json"
	configFile         = "config.json"
	summaryFile        = "summary.json"
	returnHistoryFile  = "return_history.json"
	diagnosticsJSON    = "diagnostics.json"
	diagnosticsCSV     = "diagnostics.csv"
	benchmarkFile      = "benchmark_summary.json"
	artifactDirPerm    = 0o755
	artifactFilePerm   = 0o644
	diagnosticsColumns = 10
)

type RunConfig struct {
	RunID         string  `json:"run_id"`
	Kind          string  `json:"kind"`
	Scape         string  `json:"scape"`
	Seed          uint64  `json:"seed"`
	Iterations    int     `json:"iterations"`
	BatchSize     int     `json:"batch_size"`
	RepeatTimes   int     `json:"repeat_times"`
	LearningRate  float64 `json:"learning_rate"`
	Gamma         float64 `json:"gamma"`
	RewardScale   float64 `json:"reward_scale"`
	NetDim        int     `json:"net_dim"`
	MaxMemo       int     `json:"max_memo"`
	MaxStep       int     `json:"max_step"`
	InitialSteps  int     `json:"initial_steps,omitempty"`
	EvalEpisodes  int     `json:"eval_episodes,omitempty"`
	Store         string  `json:"store,omitempty"`
	StoreLocation string  `json:"store_location,omitempty"`
}

type RunArtifacts struct {
	Config        RunConfig                 `json:"config"`
	Summary       model.RunSummary          `json:"summary"`
	ReturnHistory []float64                 `json:"return_history"`
	Diagnostics   []model.UpdateDiagnostics `json:"diagnostics,omitempty"`
	Benchmark     *BenchmarkSummary         `json:"benchmark,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Kind         string  `json:"kind"`
	Scape        string  `json:"scape"`
	Seed         uint64  `json:"seed"`
	Iterations   int     `json:"iterations"`
	TotalSteps   int     `json:"total_steps"`
	BestReturn   float64 `json:"best_return"`
	FinalReturn  float64 `json:"final_return"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, artifactDirPerm); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, returnHistoryFile), artifacts.ReturnHistory); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, diagnosticsJSON), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := WriteDiagnosticsCSV(filepath.Join(runDir, diagnosticsCSV), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if artifacts.Benchmark != nil {
		if err := writeJSON(filepath.Join(runDir, benchmarkFile), artifacts.Benchmark); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, artifactDirPerm); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir. The benchmark summary
// is optional; every other artifact must exist.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, artifactDirPerm); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, summaryFile, returnHistoryFile, diagnosticsJSON, diagnosticsCSV} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	benchmarkPath := filepath.Join(src, benchmarkFile)
	if _, err := os.Stat(benchmarkPath); err == nil {
		if err := copyFile(benchmarkPath, filepath.Join(dst, benchmarkFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = runID
	}
	if cfg.RunID != runID {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, runID)
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, artifactDirPerm); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadRunSummary(baseDir, runID string) (model.RunSummary, bool, error) {
	var summary model.RunSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &summary)
	return summary, ok, err
}

func ReadReturnHistory(baseDir, runID string) ([]float64, bool, error) {
	var history []float64
	ok, err := readJSON(filepath.Join(baseDir, runID, returnHistoryFile), &history)
	return history, ok, err
}

func ReadDiagnostics(baseDir, runID string) ([]model.UpdateDiagnostics, bool, error) {
	var diagnostics []model.UpdateDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, diagnosticsJSON), &diagnostics)
	return diagnostics, ok, err
}

func ReadBenchmarkSummary(baseDir, runID string) (BenchmarkSummary, bool, error) {
	var summary BenchmarkSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, benchmarkFile), &summary)
	return summary, ok, err
}

var diagnosticsHeader = []string{
	"iteration", "critic_loss", "actor_loss", "rho", "alpha",
	"critic_steps", "actor_steps", "episodes", "avg_return", "buffer_len",
}

// WriteDiagnosticsCSV writes one row per update pass. Floats use the shortest
// representation that parses back exactly.
func WriteDiagnosticsCSV(path string, diagnostics []model.UpdateDiagnostics) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return EncodeDiagnosticsCSV(file, diagnostics)
}

func EncodeDiagnosticsCSV(w io.Writer, diagnostics []model.UpdateDiagnostics) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(diagnosticsHeader); err != nil {
		return err
	}
	for _, d := range diagnostics {
		if err := writer.Write([]string{
			strconv.Itoa(d.Iteration),
			formatFloat(d.CriticLoss),
			formatFloat(d.ActorLoss),
			formatFloat(d.Rho),
			formatFloat(d.Alpha),
			strconv.Itoa(d.CriticSteps),
			strconv.Itoa(d.ActorSteps),
			strconv.Itoa(d.Episodes),
			formatFloat(d.AvgReturn),
			strconv.Itoa(d.BufferLen),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadDiagnosticsCSV(path string) ([]model.UpdateDiagnostics, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.UpdateDiagnostics{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != diagnosticsColumns {
		return nil, false, fmt.Errorf("diagnostics header must have %d columns, got %d", diagnosticsColumns, len(header))
	}

	out := make([]model.UpdateDiagnostics, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		d, err := parseDiagnosticsRow(record)
		if err != nil {
			return nil, false, err
		}
		out = append(out, d)
	}
	return out, true, nil
}

func parseDiagnosticsRow(record []string) (model.UpdateDiagnostics, error) {
	var (
		d    model.UpdateDiagnostics
		errs []error
	)
	atoi := func(s string) int {
		v, err := strconv.Atoi(s)
		errs = append(errs, err)
		return v
	}
	atof := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		errs = append(errs, err)
		return v
	}
	d.Iteration = atoi(record[0])
	d.CriticLoss = atof(record[1])
	d.ActorLoss = atof(record[2])
	d.Rho = atof(record[3])
	d.Alpha = atof(record[4])
	d.CriticSteps = atoi(record[5])
	d.ActorSteps = atoi(record[6])
	d.Episodes = atoi(record[7])
	d.AvgReturn = atof(record[8])
	d.BufferLen = atoi(record[9])
	if err := errors.Join(errs...); err != nil {
		return model.UpdateDiagnostics{}, fmt.Errorf("diagnostics row %v: %w", record, err)
	}
	return d, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, artifactFilePerm)
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
