package inference_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/askiada/go-sensor-pipeline/internal/artifact"
	"github.com/askiada/go-sensor-pipeline/internal/boost"
	"github.com/askiada/go-sensor-pipeline/internal/frame"
	"github.com/askiada/go-sensor-pipeline/internal/inference"
	"github.com/askiada/go-sensor-pipeline/internal/preprocess"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
)

// thresholdCSV labels a row pos when aa_000 is above 50.
func thresholdCSV(rows int) string {
	var b strings.Builder

	b.WriteString("aa_000,ab_000,class\n")

	for i := range rows {
		v := i % 100
		class := "neg"

		if v > 50 {
			class = "pos"
		}

		fmt.Fprintf(&b, "%d,%d,%s\n", v, i%7, class)
	}

	return b.String()
}

func fitBundle(t *testing.T) *inference.Bundle {
	t.Helper()

	f, err := frame.ReadCSV(strings.NewReader(thresholdCSV(200)))
	require.NoError(t, err)

	x, err := f.Matrix("aa_000", "ab_000")
	require.NoError(t, err)

	tr, err := preprocess.FitTransformer([]string{"aa_000", "ab_000"}, x)
	require.NoError(t, err)

	xt, err := tr.Transform(x)
	require.NoError(t, err)

	class, err := f.Column("class")
	require.NoError(t, err)

	enc, err := preprocess.FitLabelEncoder(class.Strings())
	require.NoError(t, err)

	y, err := enc.Transform(class.Strings())
	require.NoError(t, err)

	params := boost.DefaultParams()
	params.NEstimators = 20

	model, err := boost.Train(context.Background(), xt, y, params)
	require.NoError(t, err)

	return &inference.Bundle{Transformer: tr, Model: model, Encoder: enc}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	b := fitBundle(t)

	r, err := registry.New(filepath.Join(t.TempDir(), "saved_models"))
	require.NoError(t, err)

	v, err := r.Publish(context.Background(), func(stage registry.Version) error {
		require.NoError(t, artifact.Save(stage.TransformerPath(), b.Transformer))
		require.NoError(t, artifact.Save(stage.ModelPath(), b.Model))

		return artifact.Save(stage.TargetEncoderPath(), b.Encoder)
	})
	require.NoError(t, err)

	loaded, err := inference.Load(context.Background(), inference.VersionPaths(v))
	require.NoError(t, err)
	assert.Equal(t, b.Transformer, loaded.Transformer)
	assert.Equal(t, b.Encoder, loaded.Encoder)
	assert.Len(t, loaded.Model.Trees, 20)

	_, err = inference.Load(context.Background(), inference.Paths{
		Transformer:   v.TransformerPath(),
		Model:         filepath.Join(t.TempDir(), "missing.gob"),
		TargetEncoder: v.TargetEncoderPath(),
	})
	require.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestPredictAndScore(t *testing.T) {
	t.Parallel()

	b := fitBundle(t)

	f, err := frame.ReadCSV(strings.NewReader("ab_000,aa_000\n1,10\n2,90\nna,na\n"))
	require.NoError(t, err)
	assert.Empty(t, b.MissingFeatures(f))

	codes, labels, err := b.Predict(f)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, codes[:2])
	assert.Equal(t, []string{"neg", "pos"}, labels[:2])

	annotated, err := b.Annotate(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab_000", "aa_000", inference.PredictionColumn, inference.CategoryColumn}, annotated.Columns())
	assert.Equal(t, []string{"ab_000", "aa_000"}, f.Columns(), "input frame must not change")

	test, err := frame.ReadCSV(strings.NewReader(thresholdCSV(100)))
	require.NoError(t, err)

	score, err := b.Score(test, "class")
	require.NoError(t, err)
	assert.Greater(t, score, 0.9)

	_, err = b.Score(test, "label")
	require.ErrorIs(t, err, frame.ErrColumnNotFound)
}

func TestMissingFeatures(t *testing.T) {
	t.Parallel()

	b := fitBundle(t)

	f, err := frame.ReadCSV(strings.NewReader("ab_000\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"aa_000"}, b.MissingFeatures(f))

	_, _, err = b.Predict(f)
	require.ErrorIs(t, err, frame.ErrColumnNotFound)
}

func TestTransformerMatrixShape(t *testing.T) {
	t.Parallel()

	b := fitBundle(t)

	_, err := b.Model.Predict(mat.NewDense(1, 3, nil))
	require.ErrorIs(t, err, boost.ErrShape)
}
