package stages

import (
	"context"
	"log/slog"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/askiada/go-sensor-pipeline/internal/artifact"
	"github.com/askiada/go-sensor-pipeline/internal/frame"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
	"github.com/askiada/go-sensor-pipeline/internal/preprocess"
	"github.com/askiada/go-sensor-pipeline/internal/sensorerr"
)

// Transformation fits the feature transformer and the target encoder on the
// train set and saves both sets as matrices whose last column is the label.
type Transformation struct {
	TargetColumn string
	// Resample rebalances the train set with SMOTE.
	Resample bool
	SMOTE    preprocess.SMOTE
	Layout   Layout
	Logger   *slog.Logger
}

func (s *Transformation) Run(ctx context.Context, ingestion *DataIngestionArtifact) (*DataTransformationArtifact, error) {
	res, err := s.run(ctx, ingestion)

	return res, sensorerr.Wrap(TransformationStage, err)
}

func (s *Transformation) run(ctx context.Context, ingestion *DataIngestionArtifact) (*DataTransformationArtifact, error) {
	logger := logging.Or(s.Logger)
	logger.Info(logging.Banner("Data Transformation"))

	train, err := s.read(ingestion.TrainPath)
	if err != nil {
		return nil, errors.Wrap(err, "train dataset")
	}

	test, err := s.read(ingestion.TestPath)
	if err != nil {
		return nil, errors.Wrap(err, "test dataset")
	}

	features := slices.DeleteFunc(train.Columns(), func(name string) bool { return name == s.TargetColumn })

	trainTarget, err := train.Column(s.TargetColumn)
	if err != nil {
		return nil, err
	}

	encoder, err := preprocess.FitLabelEncoder(trainTarget.Strings())
	if err != nil {
		return nil, errors.Wrap(err, "unable to fit target encoder")
	}

	yTrain, err := encoder.Transform(trainTarget.Strings())
	if err != nil {
		return nil, err
	}

	yTest, err := s.encodeTarget(encoder, test)
	if err != nil {
		return nil, err
	}

	rawTrain, err := train.Matrix(features...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build train matrix")
	}

	transformer, err := preprocess.FitTransformer(features, rawTrain)
	if err != nil {
		return nil, errors.Wrap(err, "unable to fit transformer")
	}

	xTrain, err := transformer.Transform(rawTrain)
	if err != nil {
		return nil, err
	}

	xTest, err := transformer.TransformFrame(test)
	if err != nil {
		return nil, errors.Wrap(err, "unable to transform test set")
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if s.Resample {
		before := len(yTrain)

		xTrain, yTrain, err = s.SMOTE.Resample(xTrain, yTrain)
		if err != nil {
			return nil, errors.Wrap(err, "unable to resample train set")
		}

		logger.Info("train set resampled", slog.Int("before", before), slog.Int("after", len(yTrain)))
	}

	res := &DataTransformationArtifact{
		TransformerPath:      s.Layout.TransformerPath(),
		TransformedTrainPath: s.Layout.TransformedTrainPath(),
		TransformedTestPath:  s.Layout.TransformedTestPath(),
		TargetEncoderPath:    s.Layout.TargetEncoderPath(),
	}

	saves := []struct {
		name string
		save func() error
	}{
		{"train matrix", func() error { return artifact.Save(res.TransformedTrainPath, WithLabels(xTrain, yTrain)) }},
		{"test matrix", func() error { return artifact.Save(res.TransformedTestPath, WithLabels(xTest, yTest)) }},
		{"transformer", func() error { return artifact.Save(res.TransformerPath, transformer) }},
		{"target encoder", func() error { return artifact.Save(res.TargetEncoderPath, encoder) }},
	}

	for _, item := range saves {
		err = item.save()
		if err != nil {
			return nil, errors.Wrapf(err, "unable to save %s", item.name)
		}
	}

	logger.Info("data transformation artifact",
		slog.String("transformer", res.TransformerPath),
		slog.Int("features", len(features)),
		slog.Any("classes", encoder.Classes))

	return res, nil
}

func (s *Transformation) read(path string) (*frame.Frame, error) {
	f, err := frame.ReadCSVFile(path)
	if err != nil {
		return nil, err
	}

	err = f.ToFloat(s.TargetColumn)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert columns to numbers")
	}

	return f, nil
}

func (s *Transformation) encodeTarget(encoder *preprocess.LabelEncoder, f *frame.Frame) ([]int, error) {
	target, err := f.Column(s.TargetColumn)
	if err != nil {
		return nil, err
	}

	return encoder.Transform(target.Strings())
}

// WithLabels returns x with y appended as the last column.
func WithLabels(x mat.Matrix, y []int) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols+1, nil)

	for i := range rows {
		for j := range cols {
			out.Set(i, j, x.At(i, j))
		}

		out.Set(i, cols, float64(y[i]))
	}

	return out
}

// SplitLabels is the inverse of WithLabels.
func SplitLabels(m *mat.Dense) (mat.Matrix, []int) {
	rows, cols := m.Dims()
	y := make([]int, rows)

	for i := range rows {
		y[i] = int(m.At(i, cols-1))
	}

	return m.Slice(0, rows, 0, cols-1), y
}
