package cli

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"github.com/askiada/go-sensor-pipeline/internal/config"
	"github.com/askiada/go-sensor-pipeline/internal/docstore"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
	"github.com/askiada/go-sensor-pipeline/internal/runlog"
	"github.com/askiada/go-sensor-pipeline/internal/training"
)

// TrainTask runs a training pipeline on the document collection.
type TrainTask struct {
	drawPath string
}

func (*TrainTask) Name() string     { return "train" }
func (*TrainTask) Args() string     { return "" }
func (*TrainTask) Synopsis() string { return "train a model and publish it when it beats the deployed one" }

func (t *TrainTask) SetFlags(f *flag.FlagSet) {
	f.StringVar(&t.drawPath, "draw", "", "write a DOT graph of the stages to this file")
}

func (t *TrainTask) Run(ctx context.Context, env Env, args []string) error {
	if len(args) > 0 {
		return ErrUsage
	}

	cfg := env.Config

	source, err := docstore.Connect(ctx, mongoConfig(cfg, env.Logger))
	if err != nil {
		return err
	}
	defer source.Close(context.WithoutCancel(ctx))

	resolver, err := registry.New(cfg.RegistryDir, registry.WithLogger(env.Logger))
	if err != nil {
		return err
	}

	ledger, err := runlog.Open(ctx, cfg.RunLog.Path, runlog.WithLogger(env.Logger))
	if err != nil {
		return err
	}
	defer ledger.Close()

	runner := &training.Runner{
		Config:   cfg,
		Source:   source,
		Resolver: resolver,
		Ledger:   ledger,
		Logger:   env.Logger,
		DrawPath: t.drawPath,
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.Stdout, "published version %d from %s\n", res.Pusher.Version, res.Layout.Dir)

	return nil
}

func mongoConfig(cfg *config.Config, logger *slog.Logger) docstore.MongoConfig {
	return docstore.MongoConfig{
		URL:        cfg.Mongo.URL,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		Timeout:    cfg.Mongo.Timeout,
		Logger:     logger,
	}
}
