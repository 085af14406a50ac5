package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"gradus/internal/storage"
	gradusapi "gradus/pkg/gradus"
)

const (
	artifactsDir = "runs"
	exportsDir   = "exports"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "train":
		return runTrain(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "checkpoint":
		return runCheckpoint(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "kinds":
		return runKinds(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// storeFlags registers the store selection flags shared by every command
// that reads or writes runs.
func storeFlags(fs *flag.FlagSet) (kind, location, artifacts *string) {
	kind = fs.String("store", storage.DefaultStoreKind(), "store backend: "+strings.Join(storage.Kinds(), "|"))
	location = fs.String("store-location", "", "store directory, database path, redis address or postgres dsn")
	artifacts = fs.String("artifacts-dir", artifactsDir, "run artifacts directory")
	return kind, location, artifacts
}

func newClient(kind, location, artifacts string, log *logrus.Entry) (*gradusapi.Client, error) {
	return gradusapi.New(gradusapi.Options{
		StoreKind:     kind,
		StoreLocation: location,
		ArtifactsDir:  artifacts,
		ExportsDir:    exportsDir,
		Logger:        log,
	})
}

func newLogger(level string) (*logrus.Entry, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(l), nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional JSON run config")
	envFile := fs.String("env-file", ".env", "dotenv file with GRADUS_* overrides")
	flags := registerTrainFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := resolveTrainConfig(*configPath, *envFile, flags, setFlags)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	client, err := newClient(cfg.Store, cfg.StoreLocation, cfg.ArtifactsDir, log)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s kind=%s scape=%s iterations=%d total_steps=%d best_return=%.4f final_return=%.4f\n",
		summary.RunID, cfg.Kind, cfg.Scape, summary.Iterations, summary.TotalSteps, summary.BestReturn, summary.FinalReturn)
	if summary.Benchmark != nil {
		fmt.Printf("benchmark target=%.2f passed=%t first_solved=%d mean=%.4f std=%.4f\n",
			summary.Benchmark.TargetReturn, summary.Benchmark.Passed, summary.Benchmark.FirstSolved,
			summary.Benchmark.ReturnMean, summary.Benchmark.ReturnStd)
	}
	if summary.ArtifactsDir != "" {
		fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind, location, artifacts := storeFlags(fs)
	limit := fs.Int("limit", 20, "max runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *location, *artifacts, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, gradusapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s kind=%s scape=%s seed=%d iterations=%d total_steps=%d best_return=%.4f final_return=%.4f\n",
			r.RunID, r.Kind, r.Scape, r.Seed, r.Iterations, r.TotalSteps, r.BestReturn, r.FinalReturn)
	}
	return nil
}

func runCheckpoint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	storeKind, location, artifacts := storeFlags(fs)
	runID := fs.String("run-id", "", "run id")
	name := fs.String("name", "", "approximator name; empty lists every checkpoint of the run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("checkpoint requires --run-id")
	}

	client, err := newClient(*storeKind, *location, *artifacts, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	names := []string{*name}
	if *name == "" {
		if names, err = client.Checkpoints(ctx, *runID); err != nil {
			return err
		}
		if len(names) == 0 {
			return fmt.Errorf("no checkpoints for run id: %s", *runID)
		}
	}
	for _, n := range names {
		cp, err := client.LoadCheckpoint(ctx, *runID, n)
		if err != nil {
			return err
		}
		params := 0
		for _, t := range cp.Parameters {
			params += len(t.Data)
		}
		fmt.Printf("name=%s kind=%s tensors=%d parameters=%d size=%s schema=%d codec=%d\n",
			cp.Name, cp.Kind, len(cp.Parameters), params, humanize.Bytes(uint64(params*8)), cp.SchemaVersion, cp.CodecVersion)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	storeKind, location, artifacts := storeFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the newest indexed run")
	limit := fs.Int("limit", 0, "max iterations to show, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *location, *artifacts, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, gradusapi.DiagnosticsRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for _, d := range diagnostics {
		fmt.Printf("iteration=%d critic_loss=%.6f actor_loss=%.6f rho=%.4f alpha=%.4f critic_steps=%d actor_steps=%d episodes=%d avg_return=%.4f buffer_len=%d\n",
			d.Iteration, d.CriticLoss, d.ActorLoss, d.Rho, d.Alpha, d.CriticSteps, d.ActorSteps, d.Episodes, d.AvgReturn, d.BufferLen)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	storeKind, location, artifacts := storeFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the newest indexed run")
	limit := fs.Int("limit", 0, "max evaluations to show, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *location, *artifacts, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.ReturnHistory(ctx, gradusapi.ReturnHistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for i, r := range history {
		fmt.Printf("evaluation=%d return=%.4f\n", i+1, r)
	}
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	storeKind, location, artifacts := storeFlags(fs)
	runID := fs.String("run-id", "", "run id")
	episodes := fs.Int("episodes", 4, "greedy episodes to run")
	seed := fs.Uint64("seed", 1, "environment seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *location, *artifacts, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, gradusapi.EvaluateRequest{RunID: *runID, Episodes: *episodes, Seed: *seed})
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s episodes=%d avg_return=%.4f\n", summary.RunID, summary.Episodes, summary.AvgReturn)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	artifacts := fs.String("artifacts-dir", artifactsDir, "run artifacts directory")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the newest indexed run")
	outDir := fs.String("out", exportsDir, "export directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient("memory", "", *artifacts, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, gradusapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runKinds(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("kinds", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range gradusapi.Kinds() {
		cfg, err := gradusapi.DefaultConfig(name)
		if err != nil {
			return err
		}
		fmt.Printf("kind=%s scape=%s learning_rate=%g\n", name, cfg.Scape, cfg.LearningRate)
	}
	fmt.Printf("scapes=%s\n", strings.Join(gradusapi.Scapes(), ","))
	fmt.Printf("activations=%s\n", strings.Join(gradusapi.Activations(), ","))
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: gradusctl <train|runs|checkpoint|diagnostics|history|evaluate|export|kinds> [flags]", msg)
}
