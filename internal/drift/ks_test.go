package drift_test

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/askiada/go-sensor-pipeline/internal/drift"
)

func TestKS(t *testing.T) {
	t.Parallel()

	nan := math.NaN()

	tcs := map[string]struct {
		a, b            []float64
		expectStatistic float64
		expectPValue    float64
		delta           float64
	}{
		"identical": {
			a:               []float64{1, 2, 3, 4, 5},
			b:               []float64{5, 4, 3, 2, 1},
			expectStatistic: 0,
			expectPValue:    1,
		},
		"disjoint": {
			a:               []float64{1, 2, 3, 4, 5},
			b:               []float64{6, 7, 8, 9, 10},
			expectStatistic: 1,
			expectPValue:    0.00378,
			delta:           1e-4,
		},
		"half shifted": {
			a:               []float64{1, 2, 3, 4},
			b:               []float64{3, 4, 5, 6},
			expectStatistic: 0.5,
			expectPValue:    0.5344,
			delta:           1e-3,
		},
		"missing values ignored": {
			a:               []float64{nan, 1, 2, 3, 4, 5},
			b:               []float64{6, 7, nan, 8, 9, 10},
			expectStatistic: 1,
			expectPValue:    0.00378,
			delta:           1e-4,
		},
		"empty sample": {
			a:               []float64{nan, nan},
			b:               []float64{1, 2},
			expectStatistic: 0,
			expectPValue:    1,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			res := drift.KS(tc.a, tc.b)
			assert.InDelta(t, tc.expectStatistic, res.Statistic, 1e-12)
			assert.InDelta(t, tc.expectPValue, res.PValue, tc.delta+1e-12)
		})
	}
}

func TestKSDoesNotReorderInput(t *testing.T) {
	t.Parallel()

	a := []float64{3, 1, 2}
	drift.KS(a, []float64{1})
	assert.Equal(t, []float64{3, 1, 2}, a)
}

func TestPValueRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))

	for range 200 {
		n := 1 + rng.IntN(500)
		m := 1 + rng.IntN(500)
		d := rng.Float64()

		p := drift.PValue(d, n, m)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestPValueMonotonic(t *testing.T) {
	t.Parallel()

	prev := 1.0
	for d := 0.01; d <= 1; d += 0.01 {
		p := drift.PValue(d, 50, 60)
		assert.LessOrEqual(t, p, prev+1e-12)
		prev = p
	}
}

func TestSame(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		pValue float64
		expect bool
	}{
		"above": {pValue: 0.06, expect: true},
		"equal": {pValue: drift.DefaultPValue, expect: false},
		"below": {pValue: 0.01, expect: false},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expect, drift.Result{PValue: tc.pValue}.Same(drift.DefaultPValue))
		})
	}
}

func TestLargeSamplesSameDistribution(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 7))
	sample := make([]float64, 4000)

	for i := range sample {
		sample[i] = rng.NormFloat64()
	}

	slices.Sort(sample)

	// interleaving one sorted sample keeps both halves within one step of each other
	a := make([]float64, 0, 2000)
	b := make([]float64, 0, 2000)

	for i, v := range sample {
		if i%2 == 0 {
			a = append(a, v)
		} else {
			b = append(b, v)
		}
	}

	assert.True(t, drift.KS(a, b).Same(drift.DefaultPValue))

	for i := range b {
		b[i] += 1
	}

	assert.False(t, drift.KS(a, b).Same(drift.DefaultPValue))
}
