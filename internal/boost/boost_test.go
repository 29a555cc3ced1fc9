package boost_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/askiada/go-sensor-pipeline/internal/artifact"
	"github.com/askiada/go-sensor-pipeline/internal/boost"
)

func TestF1(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		yTrue, yPred []int
		expect       float64
	}{
		"perfect": {
			yTrue:  []int{0, 1, 1, 0},
			yPred:  []int{0, 1, 1, 0},
			expect: 1,
		},
		"hand computed": {
			// tp=2 fp=1 fn=1
			yTrue:  []int{1, 1, 1, 0, 0, 0},
			yPred:  []int{1, 1, 0, 1, 0, 0},
			expect: 4.0 / 6,
		},
		"no positives at all": {
			yTrue:  []int{0, 0},
			yPred:  []int{0, 0},
			expect: 0,
		},
		"all wrong": {
			yTrue:  []int{1, 0},
			yPred:  []int{0, 1},
			expect: 0,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := boost.F1(tc.yTrue, tc.yPred)
			require.NoError(t, err)
			assert.InDelta(t, tc.expect, got, 1e-12)
		})
	}

	_, err := boost.F1([]int{1}, nil)
	require.ErrorIs(t, err, boost.ErrShape)
}

// twoBlobs returns points around (-2,-2) labelled 0 and around (2,2) labelled 1.
func twoBlobs(n int, seed uint64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewPCG(seed, seed))
	x := mat.NewDense(n, 3, nil)
	y := make([]int, n)

	for i := range n {
		label := i % 2
		centre := -2.0
		if label == 1 {
			centre = 2
		}

		x.Set(i, 0, centre+rng.NormFloat64())
		x.Set(i, 1, centre+rng.NormFloat64())
		x.Set(i, 2, rng.NormFloat64())
		y[i] = label
	}

	return x, y
}

func TestTrainSeparable(t *testing.T) {
	t.Parallel()

	xTrain, yTrain := twoBlobs(400, 1)
	xTest, yTest := twoBlobs(200, 2)

	params := boost.DefaultParams()
	params.NEstimators = 30

	model, err := boost.Train(context.Background(), xTrain, yTrain, params)
	require.NoError(t, err)
	assert.Len(t, model.Trees, 30)

	pred, err := model.Predict(xTest)
	require.NoError(t, err)

	f1, err := boost.F1(yTest, pred)
	require.NoError(t, err)
	assert.Greater(t, f1, 0.95)

	proba, err := model.PredictProba(xTest)
	require.NoError(t, err)

	for _, p := range proba {
		assert.True(t, p > 0 && p < 1)
	}
}

func TestModelSurvivesSerialisation(t *testing.T) {
	t.Parallel()

	x, y := twoBlobs(100, 3)
	params := boost.DefaultParams()
	params.NEstimators = 5

	model, err := boost.Train(context.Background(), x, y, params)
	require.NoError(t, err)

	path := t.TempDir() + "/model.gob"
	require.NoError(t, artifact.Save(path, model))

	loaded, err := artifact.Load[*boost.Model](path)
	require.NoError(t, err)

	want, err := model.PredictProba(x)
	require.NoError(t, err)
	got, err := loaded.PredictProba(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestTrainConstantFeature(t *testing.T) {
	t.Parallel()

	x := mat.NewDense(4, 1, []float64{1, 1, 1, 1})

	model, err := boost.Train(context.Background(), x, []int{0, 1, 1, 1}, boost.DefaultParams())
	require.NoError(t, err)

	proba, err := model.PredictProba(x)
	require.NoError(t, err)
	// no split is possible, the model learns the prior
	assert.InDelta(t, proba[0], proba[3], 1e-12)
	assert.Greater(t, proba[0], 0.5)
}

func TestTrainErrors(t *testing.T) {
	t.Parallel()

	x := mat.NewDense(2, 1, []float64{1, 2})

	tcs := map[string]struct {
		ctx    func() context.Context
		y      []int
		params func(p *boost.Params)
		expect error
	}{
		"not binary": {
			y:      []int{0, 2},
			expect: boost.ErrNotBinary,
		},
		"label count": {
			y:      []int{0},
			expect: boost.ErrShape,
		},
		"cancelled": {
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				return ctx
			},
			y:      []int{0, 1},
			expect: context.Canceled,
		},
		"bad params": {
			y:      []int{0, 1},
			params: func(p *boost.Params) { p.Bins = 1 },
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			if tc.ctx != nil {
				ctx = tc.ctx()
			}

			params := boost.DefaultParams()
			if tc.params != nil {
				tc.params(&params)
			}

			_, err := boost.Train(ctx, x, tc.y, params)
			require.Error(t, err)

			if tc.expect != nil {
				require.ErrorIs(t, err, tc.expect)
			}
		})
	}

	model, err := boost.Train(context.Background(), x, []int{0, 1}, boost.DefaultParams())
	require.NoError(t, err)

	_, err = model.Predict(mat.NewDense(1, 2, nil))
	require.ErrorIs(t, err, boost.ErrShape)
}
