package stages

import (
	"context"
	"log/slog"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/askiada/go-sensor-pipeline/internal/artifact"
	"github.com/askiada/go-sensor-pipeline/internal/boost"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
	"github.com/askiada/go-sensor-pipeline/internal/sensorerr"
)

// Trainer fits the classifier on the transformed train set.
type Trainer struct {
	Params boost.Params
	// ExpectedScore is the minimum F1 score on the test set.
	ExpectedScore float64
	// OverfittingThreshold is the maximum gap between train and test F1 scores.
	OverfittingThreshold float64
	Layout               Layout
	Logger               *slog.Logger
}

func (s *Trainer) Run(ctx context.Context, transformation *DataTransformationArtifact) (*ModelTrainerArtifact, error) {
	res, err := s.run(ctx, transformation)

	return res, sensorerr.Wrap(TrainerStage, err)
}

func (s *Trainer) run(ctx context.Context, transformation *DataTransformationArtifact) (*ModelTrainerArtifact, error) {
	logger := logging.Or(s.Logger)
	logger.Info(logging.Banner("Model Trainer"))

	train, err := artifact.Load[*mat.Dense](transformation.TransformedTrainPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load train matrix")
	}

	test, err := artifact.Load[*mat.Dense](transformation.TransformedTestPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load test matrix")
	}

	xTrain, yTrain := SplitLabels(train)
	xTest, yTest := SplitLabels(test)

	model, err := boost.Train(ctx, xTrain, yTrain, s.Params)
	if err != nil {
		return nil, errors.Wrap(err, "unable to train model")
	}

	trainScore, err := score(model, xTrain, yTrain)
	if err != nil {
		return nil, errors.Wrap(err, "train set")
	}

	testScore, err := score(model, xTest, yTest)
	if err != nil {
		return nil, errors.Wrap(err, "test set")
	}

	logger.Info("model scored", slog.Float64("f1_train", trainScore), slog.Float64("f1_test", testScore))

	if testScore < s.ExpectedScore {
		return nil, errors.Wrapf(ErrUnderfitting, "test f1 %.4f below expected %.4f", testScore, s.ExpectedScore)
	}

	diff := math.Abs(trainScore - testScore)
	if diff > s.OverfittingThreshold {
		return nil, errors.Wrapf(ErrOverfitting, "train/test f1 gap %.4f above %.4f", diff, s.OverfittingThreshold)
	}

	err = artifact.Save(s.Layout.ModelPath(), model)
	if err != nil {
		return nil, errors.Wrap(err, "unable to save model")
	}

	return &ModelTrainerArtifact{
		ModelPath:    s.Layout.ModelPath(),
		F1TrainScore: trainScore,
		F1TestScore:  testScore,
	}, nil
}

func score(model *boost.Model, x mat.Matrix, y []int) (float64, error) {
	pred, err := model.Predict(x)
	if err != nil {
		return 0, err
	}

	return boost.F1(y, pred)
}
