package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/askiada/go-sensor-pipeline/internal/predict"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
	"github.com/askiada/go-sensor-pipeline/internal/runlog"
)

// PredictTask annotates CSV files with the latest model, or watches a directory for them.
type PredictTask struct {
	watchDir string
	output   string
	progress bool
}

func (*PredictTask) Name() string     { return "predict" }
func (*PredictTask) Args() string     { return "[FILE.csv...]" }
func (*PredictTask) Synopsis() string { return "predict the class of every row of CSV files" }

func (t *PredictTask) SetFlags(f *flag.FlagSet) {
	f.StringVar(&t.watchDir, "watch", "", "predict every CSV file written to this directory until interrupted")
	f.StringVar(&t.output, "output", "", "output directory (default: prediction_dir)")
	f.BoolVar(&t.progress, "progress", false, "show a progress bar")
}

func (t *PredictTask) Run(ctx context.Context, env Env, args []string) error {
	if (len(args) == 0) == (t.watchDir == "") {
		return ErrUsage
	}

	cfg := env.Config

	resolver, err := registry.New(cfg.RegistryDir, registry.WithLogger(env.Logger))
	if err != nil {
		return err
	}

	ledger, err := runlog.Open(ctx, cfg.RunLog.Path, runlog.WithLogger(env.Logger))
	if err != nil {
		return err
	}
	defer ledger.Close()

	p := &predict.Predictor{
		Resolver:    resolver,
		OutputDir:   cfg.PredictionDir,
		ChunkSize:   cfg.Predict.ChunkSize,
		Concurrency: cfg.Predict.Concurrency,
		Ledger:      ledger,
		Logger:      env.Logger,
	}

	if t.output != "" {
		p.OutputDir = t.output
	}

	if t.progress || cfg.Predict.Progress {
		p.Progress = env.Stderr
	}

	if t.watchDir != "" {
		return p.Watch(ctx, t.watchDir)
	}

	for _, input := range args {
		out, err := p.Predict(ctx, input)
		if err != nil {
			return err
		}

		fmt.Fprintln(env.Stdout, out.Path)
	}

	return nil
}
