// Package stages implements the steps of a training run. Each stage reads the
// artifacts of earlier stages and returns a record of the ones it wrote.
package stages

import "github.com/pkg/errors"

var (
	// ErrEmptyAfterCleaning is returned when dropping sparse columns leaves none.
	ErrEmptyAfterCleaning = errors.New("no column left after dropping missing values")
	// ErrUnderfitting is returned when the test score is below the expected score.
	ErrUnderfitting = errors.New("model is underfitting")
	// ErrOverfitting is returned when train and test scores are too far apart.
	ErrOverfitting = errors.New("model is overfitting")
	// ErrModelNotImproved is returned when the new model does not beat the deployed one.
	ErrModelNotImproved = errors.New("model is not better than the deployed one")
)

type DataIngestionArtifact struct {
	FeatureStorePath string
	TrainPath        string
	TestPath         string
	Rows             int
}

type DataValidationArtifact struct {
	ReportPath string
}

type DataTransformationArtifact struct {
	TransformerPath      string
	TransformedTrainPath string
	TransformedTestPath  string
	TargetEncoderPath    string
}

type ModelTrainerArtifact struct {
	ModelPath    string
	F1TrainScore float64
	F1TestScore  float64
}

type ModelEvaluationArtifact struct {
	IsModelAccepted bool
	// ImprovedAccuracy is nil when there was no deployed model to compare with.
	ImprovedAccuracy *float64
	PreviousVersion  int
}

type ModelPusherArtifact struct {
	PusherModelDir string
	SavedModelDir  string
	Version        int
}
