// Package gradus is the public entry point for training reinforcement
// learning agents, inspecting stored runs and loading trained policies.
package gradus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gradus/internal/agent"
	"gradus/internal/config"
	"gradus/internal/engine"
	"gradus/internal/model"
	"gradus/internal/nn"
	"gradus/internal/scape"
	"gradus/internal/stats"
	"gradus/internal/storage"
	"gradus/internal/trainer"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "gradus.db"
)

// Config is a training run configuration.
type Config = config.Config

// DefaultConfig returns the defaults for the named algorithm kind.
func DefaultConfig(kind string) (Config, error) {
	k, err := engine.ParseKind(kind)
	if err != nil {
		return Config{}, err
	}
	return config.Default(k), nil
}

// Kinds lists the supported algorithm kinds.
func Kinds() []string {
	kinds := engine.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

// Scapes lists the registered environments.
func Scapes() []string {
	return scape.List()
}

// Activations lists the hidden-layer activations a config may name.
func Activations() []string {
	return nn.ListActivations()
}

type Options struct {
	StoreKind     string
	StoreLocation string
	ArtifactsDir  string
	ExportsDir    string
	Logger        *logrus.Entry
}

type Client struct {
	store storage.Store
	log   *logrus.Entry

	artifactsDir string
	exportsDir   string

	mu          sync.Mutex
	initialized bool
	runs        map[string]context.CancelFunc
}

type TrainSummary struct {
	RunID         string
	ArtifactsDir  string
	Iterations    int
	TotalSteps    int
	BestReturn    float64
	FinalReturn   float64
	ReturnHistory []float64
	Benchmark     *stats.BenchmarkSummary
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID       string
	Kind        string
	Scape       string
	Seed        uint64
	Iterations  int
	TotalSteps  int
	BestReturn  float64
	FinalReturn float64
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ReturnHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type EvaluateRequest struct {
	RunID    string
	Episodes int
	Seed     uint64
}

type EvaluateSummary struct {
	RunID     string
	Episodes  int
	AvgReturn float64
	Returns   []float64
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	location := opts.StoreLocation
	if location == "" && storeKind == "sqlite" {
		location = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	store, err := storage.NewStore(storeKind, location)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:        store,
		log:          log,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		runs:         make(map[string]context.CancelFunc),
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Train runs cfg to completion against the client's store; cfg.Store is
// ignored. An empty cfg.ArtifactsDir uses the client's artifact directory.
func (c *Client) Train(ctx context.Context, cfg Config) (TrainSummary, error) {
	if err := c.Init(ctx); err != nil {
		return TrainSummary{}, err
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = c.artifactsDir
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := c.registerRun(cfg.RunID, cancel); err != nil {
		return TrainSummary{}, err
	}
	defer c.unregisterRun(cfg.RunID)

	t, err := trainer.New(c.store, c.log)
	if err != nil {
		return TrainSummary{}, err
	}
	res, err := t.Run(ctx, cfg)
	if err != nil {
		return TrainSummary{}, err
	}
	return TrainSummary{
		RunID:         res.RunID,
		ArtifactsDir:  res.ArtifactsDir,
		Iterations:    res.Summary.Iterations,
		TotalSteps:    res.Summary.TotalSteps,
		BestReturn:    res.Summary.BestReturn,
		FinalReturn:   res.Summary.FinalReturn,
		ReturnHistory: res.ReturnHistory,
		Benchmark:     res.Benchmark,
	}, nil
}

// Stop cancels an in-flight Train call.
func (c *Client) Stop(runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.runs[runID]
	if !ok {
		return fmt.Errorf("run is not active: %s", runID)
	}
	cancel()
	return nil
}

// Active lists the runs currently training.
func (c *Client) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.runs))
	for id := range c.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Client) registerRun(runID string, cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	c.runs[runID] = cancel
	return nil
}

func (c *Client) unregisterRun(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, runID)
}

// Runs lists stored runs ordered by run id.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	ids, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(ids) > req.Limit {
		ids = ids[:req.Limit]
	}
	out := make([]RunItem, 0, len(ids))
	for _, id := range ids {
		s, ok, err := c.store.GetRunSummary(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, RunItem{
			RunID:       s.RunID,
			Kind:        s.Kind,
			Scape:       s.Scape,
			Seed:        s.Seed,
			Iterations:  s.Iterations,
			TotalSteps:  s.TotalSteps,
			BestReturn:  s.BestReturn,
			FinalReturn: s.FinalReturn,
		})
	}
	return out, nil
}

// LoadCheckpoint returns the stored parameters of one approximator.
func (c *Client) LoadCheckpoint(ctx context.Context, runID, name string) (model.Checkpoint, error) {
	if err := c.Init(ctx); err != nil {
		return model.Checkpoint{}, err
	}
	cp, ok, err := c.store.GetCheckpoint(ctx, runID, name)
	if err != nil {
		return model.Checkpoint{}, err
	}
	if !ok {
		return model.Checkpoint{}, fmt.Errorf("checkpoint not found: %s/%s", runID, name)
	}
	return cp, nil
}

// Checkpoints lists the approximator names stored for a run.
func (c *Client) Checkpoints(ctx context.Context, runID string) ([]string, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListCheckpoints(ctx, runID)
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.UpdateDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.UpdateDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) ReturnHistory(ctx context.Context, req ReturnHistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetReturnHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("return history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

// Export copies a run's artifact directory to req.OutDir.
func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Evaluate restores a stored run's networks and runs greedy episodes on the
// run's environment.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	if req.RunID == "" {
		return EvaluateSummary{}, errors.New("run id is required")
	}
	if req.Episodes <= 0 {
		req.Episodes = 1
	}
	if err := c.Init(ctx); err != nil {
		return EvaluateSummary{}, err
	}
	e, err := trainer.LoadEngine(ctx, c.store, req.RunID, c.log)
	if err != nil {
		return EvaluateSummary{}, err
	}
	summary, _, err := c.store.GetRunSummary(ctx, req.RunID)
	if err != nil {
		return EvaluateSummary{}, err
	}
	env, err := scape.New(summary.Scape, trainer.NewRand(req.Seed))
	if err != nil {
		return EvaluateSummary{}, err
	}
	collector, err := agent.NewCollector(req.RunID+":eval", env, e, agent.Config{Gamma: 1})
	if err != nil {
		return EvaluateSummary{}, err
	}
	st, err := collector.Evaluate(ctx, req.Episodes)
	if err != nil {
		return EvaluateSummary{}, err
	}
	return EvaluateSummary{
		RunID:     req.RunID,
		Episodes:  st.Episodes,
		AvgReturn: st.AvgReturn(),
		Returns:   st.Returns,
	}, nil
}

// resolveRunID picks the newest run of the artifact index when latest is
// set.
func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if !latest {
		if runID == "" {
			return "", errors.New("run id or latest is required")
		}
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
