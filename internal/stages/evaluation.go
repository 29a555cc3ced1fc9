package stages

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/frame"
	"github.com/askiada/go-sensor-pipeline/internal/inference"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
	"github.com/askiada/go-sensor-pipeline/internal/sensorerr"
)

// Evaluation compares the new model with the latest registry version on the
// raw test set.
type Evaluation struct {
	Resolver     *registry.Resolver
	TargetColumn string
	// ChangeThreshold is the F1 improvement the new model must exceed.
	ChangeThreshold float64
	Logger          *slog.Logger
}

func (s *Evaluation) Run(
	ctx context.Context,
	ingestion *DataIngestionArtifact,
	transformation *DataTransformationArtifact,
	trainer *ModelTrainerArtifact,
) (*ModelEvaluationArtifact, error) {
	res, err := s.run(ctx, ingestion, transformation, trainer)

	return res, sensorerr.Wrap(EvaluationStage, err)
}

func (s *Evaluation) run(
	ctx context.Context,
	ingestion *DataIngestionArtifact,
	transformation *DataTransformationArtifact,
	trainer *ModelTrainerArtifact,
) (*ModelEvaluationArtifact, error) {
	logger := logging.Or(s.Logger)
	logger.Info(logging.Banner("Model Evaluation"))

	previous, err := s.Resolver.Latest()
	if errors.Is(err, registry.ErrNoVersion) {
		logger.Info("no deployed model, accepting the new one")

		return &ModelEvaluationArtifact{IsModelAccepted: true, PreviousVersion: registry.NoVersion}, nil
	}

	if err != nil {
		return nil, err
	}

	test, err := frame.ReadCSVFile(ingestion.TestPath)
	if err != nil {
		return nil, errors.Wrap(err, "test dataset")
	}

	err = test.ToFloat(s.TargetColumn)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert columns to numbers")
	}

	deployed, err := inference.Load(ctx, inference.VersionPaths(previous))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load version %d", previous.Number)
	}

	current, err := inference.Load(ctx, inference.Paths{
		Transformer:   transformation.TransformerPath,
		Model:         trainer.ModelPath,
		TargetEncoder: transformation.TargetEncoderPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to load trained model")
	}

	previousScore, err := deployed.Score(test, s.TargetColumn)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to score version %d", previous.Number)
	}

	currentScore, err := current.Score(test, s.TargetColumn)
	if err != nil {
		return nil, errors.Wrap(err, "unable to score trained model")
	}

	improved := currentScore - previousScore

	logger.Info("model compared",
		slog.Int("previous_version", previous.Number),
		slog.Float64("previous_f1", previousScore),
		slog.Float64("current_f1", currentScore))

	if improved <= s.ChangeThreshold {
		return nil, errors.Wrapf(ErrModelNotImproved, "f1 change %.4f not above %.4f", improved, s.ChangeThreshold)
	}

	return &ModelEvaluationArtifact{
		IsModelAccepted:  true,
		ImprovedAccuracy: &improved,
		PreviousVersion:  previous.Number,
	}, nil
}
