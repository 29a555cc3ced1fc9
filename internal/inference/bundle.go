// Package inference runs the transformer, model and target encoder of one
// registry version together.
package inference

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/go-sensor-pipeline/internal/artifact"
	"github.com/askiada/go-sensor-pipeline/internal/boost"
	"github.com/askiada/go-sensor-pipeline/internal/frame"
	"github.com/askiada/go-sensor-pipeline/internal/preprocess"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
)

// Bundle is the set of artifacts needed to predict.
type Bundle struct {
	Transformer *preprocess.Transformer
	Model       *boost.Model
	Encoder     *preprocess.LabelEncoder
}

// Paths locate the three artifacts of a bundle.
type Paths struct {
	Transformer   string
	Model         string
	TargetEncoder string
}

// VersionPaths returns the artifact paths of v.
func VersionPaths(v registry.Version) Paths {
	return Paths{
		Transformer:   v.TransformerPath(),
		Model:         v.ModelPath(),
		TargetEncoder: v.TargetEncoderPath(),
	}
}

// Load reads the three artifacts concurrently.
func Load(ctx context.Context, paths Paths) (*Bundle, error) {
	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), "load cancelled")
	}

	b := &Bundle{}

	var eg errgroup.Group

	eg.Go(func() error {
		var err error

		b.Transformer, err = artifact.Load[*preprocess.Transformer](paths.Transformer)

		return errors.Wrap(err, "unable to load transformer")
	})
	eg.Go(func() error {
		var err error

		b.Model, err = artifact.Load[*boost.Model](paths.Model)

		return errors.Wrap(err, "unable to load model")
	})
	eg.Go(func() error {
		var err error

		b.Encoder, err = artifact.Load[*preprocess.LabelEncoder](paths.TargetEncoder)

		return errors.Wrap(err, "unable to load target encoder")
	})

	err := eg.Wait()
	if err != nil {
		return nil, err
	}

	return b, nil
}

// MissingFeatures returns the fitted input features absent from f.
func (b *Bundle) MissingFeatures(f *frame.Frame) []string {
	missing := []string{}

	for _, name := range b.Transformer.FeatureNamesIn {
		if !f.Has(name) {
			missing = append(missing, name)
		}
	}

	return missing
}

// Predict returns the encoded prediction and its class for every row of f.
func (b *Bundle) Predict(f *frame.Frame) ([]int, []string, error) {
	x, err := b.Transformer.TransformFrame(f)
	if err != nil {
		return nil, nil, err
	}

	codes, err := b.Model.Predict(x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to predict")
	}

	labels, err := b.Encoder.InverseTransform(codes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to decode predictions")
	}

	return codes, labels, nil
}

// Score returns the F1 score of the bundle on f, whose labels are in targetColumn.
func (b *Bundle) Score(f *frame.Frame, targetColumn string) (float64, error) {
	target, err := f.Column(targetColumn)
	if err != nil {
		return 0, err
	}

	truth, err := b.Encoder.Transform(target.Strings())
	if err != nil {
		return 0, errors.Wrap(err, "unable to encode labels")
	}

	pred, _, err := b.Predict(f)
	if err != nil {
		return 0, err
	}

	return boost.F1(truth, pred)
}

// Annotate appends the prediction and cat_pred columns to a copy of f,
// replacing them when f already carries them.
func (b *Bundle) Annotate(f *frame.Frame) (*frame.Frame, error) {
	codes, labels, err := b.Predict(f)
	if err != nil {
		return nil, err
	}

	out, err := f.Select(slices.DeleteFunc(f.Columns(), IsOutputColumn)...)
	if err != nil {
		return nil, err
	}

	prediction := make([]float64, len(codes))
	for i, c := range codes {
		prediction[i] = float64(c)
	}

	err = out.AppendFloats(PredictionColumn, prediction)
	if err != nil {
		return nil, err
	}

	err = out.AppendStrings(CategoryColumn, labels)
	if err != nil {
		return nil, err
	}

	return out, nil
}

const (
	PredictionColumn = "prediction"
	CategoryColumn   = "cat_pred"
)

// IsOutputColumn reports whether name is one of the columns Annotate writes.
func IsOutputColumn(name string) bool {
	return name == PredictionColumn || name == CategoryColumn
}
