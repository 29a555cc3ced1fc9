package stages

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/artifact"
	"github.com/askiada/go-sensor-pipeline/internal/inference"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
	"github.com/askiada/go-sensor-pipeline/internal/sensorerr"
)

// Pusher copies the accepted artifacts into the run directory and publishes
// them as the next registry version.
type Pusher struct {
	Resolver *registry.Resolver
	Layout   Layout
	Logger   *slog.Logger
}

func (s *Pusher) Run(
	ctx context.Context,
	transformation *DataTransformationArtifact,
	trainer *ModelTrainerArtifact,
) (*ModelPusherArtifact, error) {
	res, err := s.run(ctx, transformation, trainer)

	return res, sensorerr.Wrap(PusherStage, err)
}

func (s *Pusher) run(
	ctx context.Context,
	transformation *DataTransformationArtifact,
	trainer *ModelTrainerArtifact,
) (*ModelPusherArtifact, error) {
	logger := logging.Or(s.Logger)
	logger.Info(logging.Banner("Model Pusher"))

	bundle, err := inference.Load(ctx, inference.Paths{
		Transformer:   transformation.TransformerPath,
		Model:         trainer.ModelPath,
		TargetEncoder: transformation.TargetEncoderPath,
	})
	if err != nil {
		return nil, err
	}

	local := registry.Version{Number: registry.NoVersion, Dir: s.Layout.PusherDir()}

	err = saveBundle(local, bundle)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to write %s", local.Dir)
	}

	published, err := s.Resolver.Publish(ctx, func(stage registry.Version) error {
		return saveBundle(stage, bundle)
	})
	if err != nil {
		return nil, err
	}

	res := &ModelPusherArtifact{
		PusherModelDir: local.Dir,
		SavedModelDir:  s.Resolver.Root(),
		Version:        published.Number,
	}

	logger.Info("model pusher artifact",
		slog.String("pusher_dir", res.PusherModelDir),
		slog.String("saved_model_dir", res.SavedModelDir),
		slog.Int("version", res.Version))

	return res, nil
}

func saveBundle(v registry.Version, b *inference.Bundle) error {
	err := artifact.Save(v.TransformerPath(), b.Transformer)
	if err != nil {
		return err
	}

	err = artifact.Save(v.ModelPath(), b.Model)
	if err != nil {
		return err
	}

	return artifact.Save(v.TargetEncoderPath(), b.Encoder)
}
