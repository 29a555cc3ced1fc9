package stages

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/askiada/go-sensor-pipeline/internal/drift"
	"github.com/askiada/go-sensor-pipeline/internal/frame"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
	"github.com/askiada/go-sensor-pipeline/internal/sensorerr"
)

// Report section names.
const (
	MissingValuesBaseKey   = "missing_values_within_base_dataset"
	MissingValuesTrainKey  = "missing_values_within_train_dataset"
	MissingValuesTestKey   = "missing_values_within_test_dataset"
	MissingColumnsTrainKey = "missing_columns_within_train_dataset"
	MissingColumnsTestKey  = "missing_columns_within_test_dataset"
	DataDriftTrainKey      = "data_drift_within_train_dataset"
	DataDriftTestKey       = "data_drift_within_test_dataset"
)

// DriftEntry is the drift finding for one column.
type DriftEntry struct {
	PValue           float64 `yaml:"p_value"`
	SameDistribution bool    `yaml:"same_distribution"`
}

// Validation compares the ingested train and test sets with a trusted base
// dataset. Findings accumulate in a report written once at the end of Run.
type Validation struct {
	BaseFilePath     string
	TargetColumn     string
	MissingThreshold float64
	// DriftPValue is the p-value above which a column has not drifted.
	DriftPValue float64
	Layout      Layout
	Logger      *slog.Logger

	report map[string]any
}

// Report returns the findings recorded so far.
func (v *Validation) Report() map[string]any {
	if v.report == nil {
		v.report = make(map[string]any)
	}

	return v.report
}

func (v *Validation) logger() *slog.Logger {
	return logging.Or(v.Logger)
}

// DropMissingColumns drops, in place, every column whose missing fraction is
// above MissingThreshold and records their names under reportKey.
func (v *Validation) DropMissingColumns(f *frame.Frame, reportKey string) (*frame.Frame, error) {
	dropped := []string{}

	for _, name := range f.Columns() {
		c, err := f.Column(name)
		if err != nil {
			return nil, err
		}

		if c.MissingFraction() > v.MissingThreshold {
			dropped = append(dropped, name)
		}
	}

	v.logger().Info("dropping columns with missing values",
		slog.Float64("threshold", v.MissingThreshold), slog.Any("columns", dropped))

	v.Report()[reportKey] = dropped
	f.Drop(dropped...)

	if len(f.Columns()) == 0 {
		return nil, errors.Wrap(ErrEmptyAfterCleaning, reportKey)
	}

	return f, nil
}

// RequiredColumnsExist reports whether every base column is in current. The
// missing ones are recorded under reportKey.
func (v *Validation) RequiredColumnsExist(base, current *frame.Frame, reportKey string) bool {
	missing := []string{}

	for _, name := range base.Columns() {
		if !current.Has(name) {
			v.logger().Info("required column is not available", slog.String("column", name))

			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		v.Report()[reportKey] = missing

		return false
	}

	return true
}

// DataDrift runs a Kolmogorov–Smirnov test on every base column present in
// current and records one DriftEntry per column under reportKey. Text columns
// are compared on the rank of their values.
func (v *Validation) DataDrift(base, current *frame.Frame, reportKey string) error {
	entries := make(map[string]DriftEntry)

	for _, name := range base.Columns() {
		if !current.Has(name) {
			continue
		}

		a, b, err := samples(base, current, name)
		if err != nil {
			return errors.Wrapf(err, "unable to compare column %s", name)
		}

		res := drift.KS(a, b)
		entries[name] = DriftEntry{PValue: res.PValue, SameDistribution: res.Same(v.DriftPValue)}

		v.logger().Debug("drift test", slog.String("column", name), slog.Float64("p_value", res.PValue))
	}

	v.Report()[reportKey] = entries

	return nil
}

// samples returns both columns as numbers, using rank codes over the union of
// their values when either is text.
func samples(base, current *frame.Frame, name string) ([]float64, []float64, error) {
	bc, err := base.Column(name)
	if err != nil {
		return nil, nil, err
	}

	cc, err := current.Column(name)
	if err != nil {
		return nil, nil, err
	}

	if bc.IsNumeric() && cc.IsNumeric() {
		a, err := bc.Floats()
		if err != nil {
			return nil, nil, err
		}

		b, err := cc.Floats()

		return a, b, err
	}

	categories := slices.Concat(present(bc), present(cc))
	slices.Sort(categories)
	categories = slices.Compact(categories)

	return rankCodes(bc, categories), rankCodes(cc, categories), nil
}

func present(c *frame.Column) []string {
	out := make([]string, 0, c.Len())

	for i := range c.Len() {
		if !c.IsMissing(i) {
			out = append(out, c.String(i))
		}
	}

	return out
}

func rankCodes(c *frame.Column, categories []string) []float64 {
	out := make([]float64, c.Len())

	for i := range c.Len() {
		if c.IsMissing(i) {
			out[i] = math.NaN()

			continue
		}

		code, _ := slices.BinarySearch(categories, c.String(i))
		out[i] = float64(code)
	}

	return out
}

// Run validates the ingested datasets and writes the report.
func (v *Validation) Run(ctx context.Context, ingestion *DataIngestionArtifact) (*DataValidationArtifact, error) {
	res, err := v.run(ctx, ingestion)

	return res, sensorerr.Wrap(ValidationStage, err)
}

func (v *Validation) run(ctx context.Context, ingestion *DataIngestionArtifact) (*DataValidationArtifact, error) {
	logger := v.logger()
	logger.Info(logging.Banner("Data Validation"))

	v.report = make(map[string]any)

	base, err := v.readAndClean(v.BaseFilePath, MissingValuesBaseKey)
	if err != nil {
		return nil, errors.Wrap(err, "base dataset")
	}

	train, err := v.readAndClean(ingestion.TrainPath, MissingValuesTrainKey)
	if err != nil {
		return nil, errors.Wrap(err, "train dataset")
	}

	test, err := v.readAndClean(ingestion.TestPath, MissingValuesTestKey)
	if err != nil {
		return nil, errors.Wrap(err, "test dataset")
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if v.RequiredColumnsExist(base, train, MissingColumnsTrainKey) {
		logger.Info("all required columns present in train set, detecting data drift")

		err = v.DataDrift(base, train, DataDriftTrainKey)
		if err != nil {
			return nil, err
		}
	}

	if v.RequiredColumnsExist(base, test, MissingColumnsTestKey) {
		logger.Info("all required columns present in test set, detecting data drift")

		err = v.DataDrift(base, test, DataDriftTestKey)
		if err != nil {
			return nil, err
		}
	}

	err = v.writeReport(v.Layout.ReportPath())
	if err != nil {
		return nil, err
	}

	logger.Info("data validation artifact", slog.String("report", v.Layout.ReportPath()))

	return &DataValidationArtifact{ReportPath: v.Layout.ReportPath()}, nil
}

func (v *Validation) readAndClean(path, reportKey string) (*frame.Frame, error) {
	f, err := frame.ReadCSVFile(path)
	if err != nil {
		return nil, err
	}

	f, err = v.DropMissingColumns(f, reportKey)
	if err != nil {
		return nil, err
	}

	err = f.ToFloat(v.TargetColumn)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert columns to numbers")
	}

	return f, nil
}

func (v *Validation) writeReport(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return errors.Wrapf(err, "unable to create directory for %s", path)
	}

	content, err := yaml.Marshal(v.Report())
	if err != nil {
		return errors.Wrap(err, "unable to encode report")
	}

	err = os.WriteFile(path, content, 0o600)
	if err != nil {
		return errors.Wrapf(err, "unable to write report %s", path)
	}

	return nil
}
