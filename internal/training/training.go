// Package training runs the training stages in dependency order.
package training

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/boost"
	"github.com/askiada/go-sensor-pipeline/internal/config"
	"github.com/askiada/go-sensor-pipeline/internal/docstore"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
	"github.com/askiada/go-sensor-pipeline/internal/preprocess"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
	"github.com/askiada/go-sensor-pipeline/internal/runlog"
	"github.com/askiada/go-sensor-pipeline/internal/sensorerr"
	"github.com/askiada/go-sensor-pipeline/internal/stages"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/drawer"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/measure"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/model"
)

// Ledger records the start and the outcome of a run.
type Ledger interface {
	StartRun(ctx context.Context, artifactDir string) (string, error)
	FinishRun(ctx context.Context, id string, out runlog.Outcome) error
}

// Runner trains, evaluates and publishes one model per Run call.
type Runner struct {
	Config   *config.Config
	Source   docstore.Source
	Resolver *registry.Resolver
	// Ledger is optional.
	Ledger Ledger
	Logger *slog.Logger
	// DrawPath, when set, receives a DOT graph of the stages labelled with
	// their durations. The stream reading the collection is drawn next to it.
	DrawPath string
	Now      func() time.Time
}

// Result holds the artifacts of every stage that completed.
type Result struct {
	RunID          string
	Layout         stages.Layout
	Ingestion      *stages.DataIngestionArtifact
	Validation     *stages.DataValidationArtifact
	Transformation *stages.DataTransformationArtifact
	Trainer        *stages.ModelTrainerArtifact
	Evaluation     *stages.ModelEvaluationArtifact
	Pusher         *stages.ModelPusherArtifact
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}

	return time.Now()
}

// Run executes the stages, stopping at the first failure. The returned Result
// is never nil and holds what was produced before the failure.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.Config == nil || r.Source == nil || r.Resolver == nil {
		return nil, errors.New("runner needs a configuration, a source and a resolver")
	}

	logger := logging.Or(r.Logger)
	res := &Result{Layout: stages.NewLayout(r.Config.ArtifactDir, r.now(), r.Config.FeatureStore)}

	if r.Ledger != nil {
		id, err := r.Ledger.StartRun(ctx, res.Layout.Dir)
		if err != nil {
			return res, errors.Wrap(err, "unable to record run start")
		}

		res.RunID = id
		logger = logger.With(slog.String("run_id", id))
	}

	logger.Info("training run started", slog.String("artifact_dir", res.Layout.Dir))

	err := r.run(ctx, logger, res)

	if r.Ledger != nil {
		// the run outcome is recorded even when ctx was cancelled
		finishErr := r.Ledger.FinishRun(context.WithoutCancel(ctx), res.RunID, outcome(res, err))
		if finishErr != nil {
			logger.Error("unable to record run outcome", slog.Any("error", finishErr))
		}
	}

	if err != nil {
		logger.Error("training run failed", slog.Any("error", err))

		return res, err
	}

	logger.Info("training run succeeded", slog.Int("version", res.Pusher.Version))

	return res, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, res *Result) error {
	d, err := newDAG(r.stages(logger))
	if err != nil {
		return err
	}

	ordered, err := d.order()
	if err != nil {
		return err
	}

	parents, err := d.parents()
	if err != nil {
		return err
	}

	msr := measure.NewDefaultMeasure()
	for _, s := range ordered {
		msr.AddMetric(s.name, 1)
	}

	start := time.Now()
	finished := make(map[string]time.Time, len(ordered))

	for _, s := range ordered {
		stageStart := time.Now()
		metric := msr.GetMetric(s.name)

		for _, parent := range parents[s.name] {
			metric.AddTransportDuration(parent, stageStart.Sub(finished[parent]))
		}

		err = s.run(ctx, res)

		metric.AddDuration(time.Since(stageStart))
		metric.SetTotalDuration(time.Since(start))
		finished[s.name] = time.Now()

		if err != nil {
			break
		}
	}

	if r.DrawPath != "" {
		drawErr := draw(r.DrawPath, ordered, parents, msr)
		if drawErr != nil {
			logger.Warn("unable to draw stages", slog.Any("error", drawErr))
		}
	}

	return err
}

func draw(path string, ordered []stage, parents map[string][]string, msr measure.Measure) error {
	d := drawer.NewDOTDrawer(path)

	for _, s := range ordered {
		err := d.AddStep(s.name)
		if err != nil {
			return err
		}
	}

	for _, s := range ordered {
		for _, parent := range parents[s.name] {
			err := d.AddLink(parent, s.name)
			if err != nil {
				return err
			}
		}
	}

	err := d.AddMeasure(msr)
	if err != nil {
		return err
	}

	return d.Draw()
}

func (r *Runner) pipelineOptions() []model.PipelineOption {
	if r.DrawPath == "" {
		return nil
	}

	msr := measure.NewDefaultMeasure()

	return []model.PipelineOption{
		measure.PipelineMeasure(msr),
		drawer.PipelineDrawer(drawer.NewDOTDrawer(r.DrawPath+".ingestion.dot"), msr),
	}
}

func (r *Runner) stages(logger *slog.Logger) []stage {
	cfg := r.Config

	return []stage{
		{name: stages.IngestionStage, run: func(ctx context.Context, res *Result) error {
			s := &stages.Ingestion{
				Source:          r.Source,
				Layout:          res.Layout,
				TestSize:        cfg.Ingestion.TestSize,
				Seed:            cfg.Ingestion.Seed,
				Logger:          logger,
				PipelineOptions: r.pipelineOptions(),
			}

			var err error
			res.Ingestion, err = s.Run(ctx)

			return err
		}},
		{name: stages.ValidationStage, run: func(ctx context.Context, res *Result) error {
			s := &stages.Validation{
				BaseFilePath:     cfg.Validation.BaseFilePath,
				TargetColumn:     cfg.TargetColumn,
				MissingThreshold: cfg.Validation.MissingThreshold,
				DriftPValue:      cfg.Validation.DriftPValue,
				Layout:           res.Layout,
				Logger:           logger,
			}

			var err error
			res.Validation, err = s.Run(ctx, res.Ingestion)

			return err
		}},
		{name: stages.TransformationStage, run: func(ctx context.Context, res *Result) error {
			s := &stages.Transformation{
				TargetColumn: cfg.TargetColumn,
				Resample:     cfg.Transformation.Resample,
				SMOTE:        preprocess.SMOTE{K: cfg.Transformation.SMOTENeighbors, Seed: cfg.Transformation.Seed},
				Layout:       res.Layout,
				Logger:       logger,
			}

			var err error
			res.Transformation, err = s.Run(ctx, res.Ingestion)

			return err
		}},
		{name: stages.TrainerStage, run: func(ctx context.Context, res *Result) error {
			params := boost.DefaultParams()
			params.NEstimators = cfg.Trainer.NEstimators
			params.MaxDepth = cfg.Trainer.MaxDepth
			params.LearningRate = cfg.Trainer.LearningRate
			params.Bins = cfg.Trainer.Bins

			s := &stages.Trainer{
				Params:               params,
				ExpectedScore:        cfg.Trainer.ExpectedScore,
				OverfittingThreshold: cfg.Trainer.OverfittingThreshold,
				Layout:               res.Layout,
				Logger:               logger,
			}

			var err error
			res.Trainer, err = s.Run(ctx, res.Transformation)

			return err
		}},
		{name: stages.EvaluationStage, run: func(ctx context.Context, res *Result) error {
			s := &stages.Evaluation{
				Resolver:        r.Resolver,
				TargetColumn:    cfg.TargetColumn,
				ChangeThreshold: cfg.Evaluation.ChangeThreshold,
				Logger:          logger,
			}

			var err error
			res.Evaluation, err = s.Run(ctx, res.Ingestion, res.Transformation, res.Trainer)

			return err
		}},
		{name: stages.PusherStage, run: func(ctx context.Context, res *Result) error {
			s := &stages.Pusher{Resolver: r.Resolver, Layout: res.Layout, Logger: logger}

			var err error
			res.Pusher, err = s.Run(ctx, res.Transformation, res.Trainer)

			return err
		}},
	}
}

func outcome(res *Result, err error) runlog.Outcome {
	out := runlog.Outcome{Err: err}

	if stage, ok := sensorerr.StageOf(err); ok {
		out.FailedStage = stage
	}

	if res.Trainer != nil {
		out.F1Train = &res.Trainer.F1TrainScore
		out.F1Test = &res.Trainer.F1TestScore
	}

	if res.Pusher != nil {
		out.Version = &res.Pusher.Version
	}

	return out
}
