package stages_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/askiada/go-sensor-pipeline/internal/boost"
	"github.com/askiada/go-sensor-pipeline/internal/docstore"
	"github.com/askiada/go-sensor-pipeline/internal/frame"
	"github.com/askiada/go-sensor-pipeline/internal/preprocess"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
	"github.com/askiada/go-sensor-pipeline/internal/sensorerr"
	"github.com/askiada/go-sensor-pipeline/internal/stages"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline"
)

type sliceSource []docstore.Document

func (s sliceSource) Stream(ctx context.Context, out chan<- docstore.Document) error {
	for _, doc := range s {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- doc:
		}
	}

	return nil
}

// sensorDocs returns n documents where one in four is pos. Classes are
// separated by a gap on aa_000.
func sensorDocs(n int) sliceSource {
	docs := make(sliceSource, 0, n)

	for i := range n {
		class := "neg"
		aa := float64((i*7)%100) / 250

		if i%4 == 0 {
			class = "pos"
			aa += 0.6
		}

		var ab any = float64(i % 7)
		if i%10 == 3 {
			ab = "na"
		}

		var sparse any = "na"
		if i%20 == 0 {
			sparse = 1.0
		}

		docs = append(docs, docstore.Document{
			{Key: docstore.IDField, Value: fmt.Sprintf("id-%d", i)},
			{Key: "aa_000", Value: aa},
			{Key: "ab_000", Value: ab},
			{Key: "sparse", Value: sparse},
			{Key: "class", Value: class},
		})
	}

	return docs
}

func testLayout(t *testing.T) stages.Layout {
	t.Helper()

	return stages.NewLayout(t.TempDir(), time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC), "sensor.csv")
}

func mustFrame(t *testing.T, header []string, records ...[]string) *frame.Frame {
	t.Helper()

	f, err := frame.FromRecords(header, records)
	require.NoError(t, err)

	return f
}

func TestLayout(t *testing.T) {
	t.Parallel()

	l := stages.NewLayout("artifact", time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC), "")

	assert.Equal(t, "artifact/03072024__140509", l.Dir)
	assert.Equal(t, "artifact/03072024__140509/data_ingestion/feature_store/sensor.csv", l.FeatureStorePath())
	assert.Equal(t, "artifact/03072024__140509/data_ingestion/dataset/test.csv", l.TestPath())
	assert.Equal(t, "artifact/03072024__140509/data_validation/report.yaml", l.ReportPath())
	assert.Equal(t, "artifact/03072024__140509/model_pusher/saved_models", l.PusherDir())
}

func TestIngestion(t *testing.T) {
	t.Parallel()

	layout := testLayout(t)
	s := &stages.Ingestion{Source: sensorDocs(100), Layout: layout, TestSize: 0.2, Seed: 42}

	res, err := s.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 100, res.Rows)

	store, err := frame.ReadCSVFile(res.FeatureStorePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa_000", "ab_000", "sparse", "class"}, store.Columns())

	train, err := frame.ReadCSVFile(res.TrainPath)
	require.NoError(t, err)

	test, err := frame.ReadCSVFile(res.TestPath)
	require.NoError(t, err)

	assert.Equal(t, 80, train.Len())
	assert.Equal(t, 20, test.Len())
}

func TestIngestionEmptyCollection(t *testing.T) {
	t.Parallel()

	s := &stages.Ingestion{Source: sliceSource{}, Layout: testLayout(t), TestSize: 0.2}

	_, err := s.Run(t.Context())
	require.Error(t, err)

	stage, ok := sensorerr.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, stages.IngestionStage, stage)
}

type brokenSource struct {
	after int
	err   error
}

func (s brokenSource) Stream(ctx context.Context, out chan<- docstore.Document) error {
	for _, doc := range sensorDocs(s.after) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- doc:
		}
	}

	return s.err
}

func TestIngestionSourceFailure(t *testing.T) {
	t.Parallel()

	errCursor := errors.New("cursor lost")

	s := &stages.Ingestion{Source: brokenSource{after: 5, err: errCursor}, Layout: testLayout(t), TestSize: 0.2}

	_, err := s.Run(t.Context())
	require.ErrorIs(t, err, errCursor)

	stage, ok := sensorerr.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, stages.IngestionStage, stage)

	step, ok := pipeline.FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "read documents", step)
}

func TestDropMissingColumns(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		threshold   float64
		expectCols  []string
		expectDrop  []string
		expectedErr error
	}{
		"strictly above is dropped": {
			threshold:  0.5,
			expectCols: []string{"full", "half"},
			expectDrop: []string{"empty"},
		},
		"zero threshold": {
			threshold:  0,
			expectCols: []string{"full"},
			expectDrop: []string{"half", "empty"},
		},
		"nothing left": {
			threshold:   -1,
			expectedErr: stages.ErrEmptyAfterCleaning,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := mustFrame(t, []string{"full", "half", "empty"},
				[]string{"1", "na", "na"},
				[]string{"2", "3", ""},
			)
			v := &stages.Validation{MissingThreshold: tc.threshold}

			out, err := v.DropMissingColumns(f, "dropped")
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectCols, out.Columns())
			assert.Equal(t, tc.expectDrop, v.Report()["dropped"])
		})
	}
}

func TestDropMissingColumnsNullTokens(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		cells      []string
		expectCols []string
		expectDrop []string
	}{
		"null tokens": {
			cells:      []string{"NaN", "nan", "NULL", "5"},
			expectCols: []string{"a"},
			expectDrop: []string{"b"},
		},
		"pandas spellings": {
			cells:      []string{"N/A", "None", "null", "5"},
			expectCols: []string{"a"},
			expectDrop: []string{"b"},
		},
		"half present": {
			cells:      []string{"NaN", "4", "NULL", "5"},
			expectCols: []string{"a", "b"},
			expectDrop: []string{},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			records := make([][]string, len(tc.cells))
			for i, cell := range tc.cells {
				records[i] = []string{fmt.Sprint(i), cell}
			}

			f := mustFrame(t, []string{"a", "b"}, records...)
			v := &stages.Validation{MissingThreshold: 0.5}

			out, err := v.DropMissingColumns(f, "dropped")
			require.NoError(t, err)

			assert.Equal(t, tc.expectCols, out.Columns())
			assert.Equal(t, tc.expectDrop, v.Report()["dropped"])
			require.NoError(t, out.ToFloat())
		})
	}
}

func TestDropMissingColumnsCastsKept(t *testing.T) {
	t.Parallel()

	records := make([][]string, 0, 10)
	for i := range 10 {
		sparse, dense := fmt.Sprint(i), fmt.Sprint(i*2)
		if i < 4 {
			sparse = "na"
		}

		if i < 2 {
			dense = "na"
		}

		records = append(records, []string{sparse, dense})
	}

	f := mustFrame(t, []string{"forty", "twenty"}, records...)
	v := &stages.Validation{MissingThreshold: 0.3}

	out, err := v.DropMissingColumns(f, "dropped")
	require.NoError(t, err)
	assert.Equal(t, []string{"forty"}, v.Report()["dropped"])
	require.NoError(t, out.ToFloat())

	values, err := out.Floats("twenty")
	require.NoError(t, err)
	assert.InDelta(t, 18, values[9], 1e-9)
}

func TestRequiredColumnsExist(t *testing.T) {
	t.Parallel()

	base := mustFrame(t, []string{"a", "b", "c"}, []string{"1", "2", "3"})

	v := &stages.Validation{}

	assert.True(t, v.RequiredColumnsExist(base, mustFrame(t, []string{"c", "b", "a", "d"}, []string{"1", "2", "3", "4"}), "ok"))
	assert.NotContains(t, v.Report(), "ok")

	assert.False(t, v.RequiredColumnsExist(base, mustFrame(t, []string{"a"}, []string{"1"}), "missing"))
	assert.Equal(t, []string{"b", "c"}, v.Report()["missing"])
}

func TestDataDrift(t *testing.T) {
	t.Parallel()

	base := mustFrame(t, []string{"num", "cat", "only_base"},
		[]string{"1", "x", "1"},
		[]string{"2", "y", "2"},
		[]string{"3", "x", "3"},
		[]string{"4", "y", "4"},
	)
	require.NoError(t, base.ToFloat("cat"))

	current := mustFrame(t, []string{"num", "cat"},
		[]string{"4", "y"},
		[]string{"3", "x"},
		[]string{"2", "na"},
		[]string{"1", "x"},
	)
	require.NoError(t, current.ToFloat("cat"))

	v := &stages.Validation{DriftPValue: 0.05}

	require.NoError(t, v.DataDrift(base, current, "drift"))

	entries, ok := v.Report()["drift"].(map[string]stages.DriftEntry)
	require.True(t, ok)
	require.Len(t, entries, 2)

	assert.InDelta(t, 1, entries["num"].PValue, 1e-9)
	assert.True(t, entries["num"].SameDistribution)
	assert.True(t, entries["cat"].SameDistribution)
	assert.GreaterOrEqual(t, entries["cat"].PValue, 0.0)
	assert.LessOrEqual(t, entries["cat"].PValue, 1.0)
}

func TestDataDriftDetectsShift(t *testing.T) {
	t.Parallel()

	header := []string{"num"}
	baseRows := make([][]string, 0, 50)
	currentRows := make([][]string, 0, 50)

	for i := range 50 {
		baseRows = append(baseRows, []string{fmt.Sprint(i)})
		currentRows = append(currentRows, []string{fmt.Sprint(i + 1000)})
	}

	base := mustFrame(t, header, baseRows...)
	current := mustFrame(t, header, currentRows...)
	require.NoError(t, base.ToFloat())
	require.NoError(t, current.ToFloat())

	v := &stages.Validation{DriftPValue: 0.05}
	require.NoError(t, v.DataDrift(base, current, "drift"))

	entry := v.Report()["drift"].(map[string]stages.DriftEntry)["num"]
	assert.False(t, entry.SameDistribution)
	assert.Less(t, entry.PValue, 0.05)
}

type trainingRun struct {
	layout         stages.Layout
	ingestion      *stages.DataIngestionArtifact
	transformation *stages.DataTransformationArtifact
	trainer        *stages.ModelTrainerArtifact
}

func newTrainingRun(t *testing.T) *trainingRun {
	t.Helper()

	ctx := t.Context()
	run := &trainingRun{layout: testLayout(t)}

	var err error

	run.ingestion, err = (&stages.Ingestion{Source: sensorDocs(400), Layout: run.layout, TestSize: 0.2, Seed: 42}).Run(ctx)
	require.NoError(t, err)

	run.transformation, err = (&stages.Transformation{
		TargetColumn: "class",
		Resample:     true,
		SMOTE:        preprocess.SMOTE{K: 5, Seed: 42},
		Layout:       run.layout,
	}).Run(ctx, run.ingestion)
	require.NoError(t, err)

	params := boost.DefaultParams()
	params.NEstimators = 20

	run.trainer, err = (&stages.Trainer{
		Params:               params,
		ExpectedScore:        0.7,
		OverfittingThreshold: 0.1,
		Layout:               run.layout,
	}).Run(ctx, run.transformation)
	require.NoError(t, err)

	return run
}

func TestValidationRun(t *testing.T) {
	t.Parallel()

	layout := testLayout(t)

	ingestion, err := (&stages.Ingestion{Source: sensorDocs(200), Layout: layout, TestSize: 0.2, Seed: 1}).Run(t.Context())
	require.NoError(t, err)

	v := &stages.Validation{
		BaseFilePath:     ingestion.FeatureStorePath,
		TargetColumn:     "class",
		MissingThreshold: 0.2,
		DriftPValue:      0.05,
		Layout:           layout,
	}

	res, err := v.Run(t.Context(), ingestion)
	require.NoError(t, err)

	content, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)

	report := map[string]any{}
	require.NoError(t, yaml.Unmarshal(content, &report))

	assert.Equal(t, []any{"sparse"}, report[stages.MissingValuesBaseKey])
	assert.Equal(t, []any{"sparse"}, report[stages.MissingValuesTrainKey])
	assert.NotContains(t, report, stages.MissingColumnsTrainKey)

	drift, ok := report[stages.DataDriftTrainKey].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, drift, "aa_000")
	assert.Contains(t, drift, "class")
	assert.NotContains(t, drift, "sparse")
	assert.Contains(t, report, stages.DataDriftTestKey)
}

func TestTrainingStages(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	run := newTrainingRun(t)

	assert.Greater(t, run.trainer.F1TrainScore, 0.9)
	assert.Greater(t, run.trainer.F1TestScore, 0.8)

	resolver, err := registry.New(t.TempDir())
	require.NoError(t, err)

	evaluation := &stages.Evaluation{Resolver: resolver, TargetColumn: "class", ChangeThreshold: 0.01}

	accepted, err := evaluation.Run(ctx, run.ingestion, run.transformation, run.trainer)
	require.NoError(t, err)
	assert.True(t, accepted.IsModelAccepted)
	assert.Nil(t, accepted.ImprovedAccuracy)
	assert.Equal(t, registry.NoVersion, accepted.PreviousVersion)

	pushed, err := (&stages.Pusher{Resolver: resolver, Layout: run.layout}).Run(ctx, run.transformation, run.trainer)
	require.NoError(t, err)
	assert.Equal(t, 0, pushed.Version)
	assert.Equal(t, resolver.Root(), pushed.SavedModelDir)
	assert.True(t, registry.Version{Dir: pushed.PusherModelDir}.Complete())

	latest, err := resolver.Latest()
	require.NoError(t, err)
	assert.True(t, latest.Complete())

	// the same model does not improve on itself
	_, err = evaluation.Run(ctx, run.ingestion, run.transformation, run.trainer)
	require.ErrorIs(t, err, stages.ErrModelNotImproved)

	stage, ok := sensorerr.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, stages.EvaluationStage, stage)

	loose := &stages.Evaluation{Resolver: resolver, TargetColumn: "class", ChangeThreshold: -1}

	res, err := loose.Run(ctx, run.ingestion, run.transformation, run.trainer)
	require.NoError(t, err)
	require.NotNil(t, res.ImprovedAccuracy)
	assert.InDelta(t, 0, *res.ImprovedAccuracy, 1e-9)
	assert.Equal(t, 0, res.PreviousVersion)
}

func TestTrainerThresholds(t *testing.T) {
	t.Parallel()

	run := newTrainingRun(t)
	params := boost.DefaultParams()
	params.NEstimators = 5

	tcs := map[string]struct {
		expectedScore float64
		overfitting   float64
		expectedErr   error
	}{
		"underfitting": {expectedScore: 1.5, overfitting: 1, expectedErr: stages.ErrUnderfitting},
		"overfitting":  {expectedScore: 0, overfitting: -1, expectedErr: stages.ErrOverfitting},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := &stages.Trainer{
				Params:               params,
				ExpectedScore:        tc.expectedScore,
				OverfittingThreshold: tc.overfitting,
				Layout:               testLayout(t),
			}

			_, err := s.Run(t.Context(), run.transformation)
			require.ErrorIs(t, err, tc.expectedErr)

			stage, ok := sensorerr.StageOf(err)
			require.True(t, ok)
			assert.Equal(t, stages.TrainerStage, stage)
		})
	}
}

func TestWithLabels(t *testing.T) {
	t.Parallel()

	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	m := stages.WithLabels(x, []int{1, 0})
	assert.Equal(t, []float64{1, 2, 1}, m.RawRowView(0))
	assert.Equal(t, []float64{3, 4, 0}, m.RawRowView(1))

	features, labels := stages.SplitLabels(m)
	assert.True(t, mat.Equal(x, features))
	assert.Equal(t, []int{1, 0}, labels)
}
