// Package preprocess holds the fitted transforms applied to features and labels
// before training and prediction.
package preprocess

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/askiada/go-sensor-pipeline/internal/frame"
)

// ErrShape is returned when an input does not have the fitted number of features.
var ErrShape = errors.New("unexpected number of features")

// Transformer fills missing values with a constant and then scales each
// feature by its median and inter-quartile range.
type Transformer struct {
	// FeatureNamesIn lists the input columns in the order they were fitted.
	FeatureNamesIn []string
	FillValue      float64
	Centers        []float64
	Scales         []float64
}

// FitTransformer fits on x, whose columns are named by features.
func FitTransformer(features []string, x mat.Matrix) (*Transformer, error) {
	rows, cols := x.Dims()
	if cols != len(features) {
		return nil, errors.Wrapf(ErrShape, "%d names for %d columns", len(features), cols)
	}

	if rows == 0 {
		return nil, errors.New("cannot fit on an empty matrix")
	}

	t := &Transformer{
		FeatureNamesIn: slices.Clone(features),
		Centers:        make([]float64, cols),
		Scales:         make([]float64, cols),
	}

	column := make([]float64, rows)

	for j := range cols {
		for i := range rows {
			column[i] = t.fill(x.At(i, j))
		}

		slices.Sort(column)

		t.Centers[j] = percentile(column, 0.5)

		iqr := percentile(column, 0.75) - percentile(column, 0.25)
		if iqr == 0 {
			iqr = 1
		}

		t.Scales[j] = iqr
	}

	return t, nil
}

func (t *Transformer) fill(v float64) float64 {
	if math.IsNaN(v) {
		return t.FillValue
	}

	return v
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	h := p * float64(len(sorted)-1)
	lo := math.Floor(h)
	hi := math.Ceil(h)

	return sorted[int(lo)] + (h-lo)*(sorted[int(hi)]-sorted[int(lo)])
}

// Transform returns a new matrix with x filled and scaled.
func (t *Transformer) Transform(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != len(t.Centers) {
		return nil, errors.Wrapf(ErrShape, "got %d, fitted on %d", cols, len(t.Centers))
	}

	if rows == 0 {
		return nil, errors.New("cannot transform an empty matrix")
	}

	var out mat.Dense
	out.Apply(func(_, j int, v float64) float64 {
		return (t.fill(v) - t.Centers[j]) / t.Scales[j]
	}, x)

	return &out, nil
}

// TransformFrame selects FeatureNamesIn from f and transforms them.
// Extra columns in f are ignored; a missing one is an error.
func (t *Transformer) TransformFrame(f *frame.Frame) (*mat.Dense, error) {
	x, err := f.Matrix(t.FeatureNamesIn...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to select input features")
	}

	return t.Transform(x)
}
