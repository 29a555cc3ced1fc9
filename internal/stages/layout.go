package stages

import (
	"path/filepath"
	"time"
)

// TimestampLayout names run directories and prediction files (MMDDYYYY__HHMMSS).
const TimestampLayout = "01022006__150405"

// Layout is the artifact directory of one training run.
type Layout struct {
	Dir string
	// FeatureStoreFile is the file name of the raw collection dump.
	FeatureStoreFile string
}

// NewLayout returns the layout of a run started at t under root.
func NewLayout(root string, t time.Time, featureStoreFile string) Layout {
	if featureStoreFile == "" {
		featureStoreFile = "sensor.csv"
	}

	return Layout{Dir: filepath.Join(root, t.Format(TimestampLayout)), FeatureStoreFile: featureStoreFile}
}

func (l Layout) stage(name string, parts ...string) string {
	return filepath.Join(append([]string{l.Dir, name}, parts...)...)
}

func (l Layout) FeatureStorePath() string {
	return l.stage(IngestionStage, "feature_store", l.FeatureStoreFile)
}

func (l Layout) TrainPath() string {
	return l.stage(IngestionStage, "dataset", "train.csv")
}

func (l Layout) TestPath() string {
	return l.stage(IngestionStage, "dataset", "test.csv")
}

func (l Layout) ReportPath() string {
	return l.stage(ValidationStage, "report.yaml")
}

func (l Layout) TransformerPath() string {
	return l.stage(TransformationStage, "transformer", "transformer.gob")
}

func (l Layout) TransformedTrainPath() string {
	return l.stage(TransformationStage, "transformed", "train.gob")
}

func (l Layout) TransformedTestPath() string {
	return l.stage(TransformationStage, "transformed", "test.gob")
}

func (l Layout) TargetEncoderPath() string {
	return l.stage(TransformationStage, "target_encoder", "target_encoder.gob")
}

func (l Layout) ModelPath() string {
	return l.stage(TrainerStage, "model", "model.gob")
}

func (l Layout) PusherDir() string {
	return l.stage(PusherStage, "saved_models")
}

// Stage names, also used as directory names.
const (
	IngestionStage      = "data_ingestion"
	ValidationStage     = "data_validation"
	TransformationStage = "data_transformation"
	TrainerStage        = "model_trainer"
	EvaluationStage     = "model_evaluation"
	PusherStage         = "model_pusher"
)
