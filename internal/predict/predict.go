// Package predict annotates CSV files with the predictions of the latest
// registry version.
package predict

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	pb "github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/frame"
	"github.com/askiada/go-sensor-pipeline/internal/inference"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
	"github.com/askiada/go-sensor-pipeline/internal/registry"
	"github.com/askiada/go-sensor-pipeline/internal/runlog"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/model"
)

// TimestampLayout suffixes output file names (MMDDYYYY__HHMMSS).
const TimestampLayout = "01022006__150405"

const (
	DefaultChunkSize   = 1000
	DefaultConcurrency = 4
)

// ErrMissingFeatures is returned when the input lacks a column the model was fitted on.
var ErrMissingFeatures = errors.New("input is missing model features")

// Ledger records the predictions made.
type Ledger interface {
	RecordPrediction(ctx context.Context, p runlog.Prediction) (int64, error)
}

// Predictor runs batch predictions.
type Predictor struct {
	Resolver  *registry.Resolver
	OutputDir string
	// ChunkSize is the number of rows predicted at once.
	ChunkSize int
	// Concurrency is the number of chunks predicted in parallel.
	Concurrency int
	// Progress, when set, receives a progress bar.
	Progress io.Writer
	// Ledger is optional.
	Ledger          Ledger
	Logger          *slog.Logger
	PipelineOptions []model.PipelineOption
	Now             func() time.Time
}

// Output describes a written prediction file.
type Output struct {
	Path    string
	Version int
	Rows    int
}

// OutputPath returns the file written for input at t.
func OutputPath(dir, input string, t time.Time) string {
	base := strings.TrimSuffix(filepath.Base(input), ".csv")

	return filepath.Join(dir, base+t.Format(TimestampLayout)+".csv")
}

func (p *Predictor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}

	return time.Now()
}

type chunk struct {
	index int
	rows  *frame.Frame
}

// Predict annotates the rows of inputPath with the prediction and cat_pred
// columns. Every artifact comes from the same registry version.
func (p *Predictor) Predict(ctx context.Context, inputPath string) (*Output, error) {
	logger := logging.Or(p.Logger)

	version, err := p.Resolver.Latest()
	if err != nil {
		return nil, err
	}

	bundle, err := inference.Load(ctx, inference.VersionPaths(version))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load version %d", version.Number)
	}

	f, err := frame.ReadCSVFile(inputPath)
	if err != nil {
		return nil, err
	}

	// a previous output scored again gets fresh predictions
	f.Drop(inference.PredictionColumn, inference.CategoryColumn)

	if missing := bundle.MissingFeatures(f); len(missing) > 0 {
		return nil, errors.Wrapf(ErrMissingFeatures, "%s: %s", inputPath, strings.Join(missing, ", "))
	}

	others := slices.DeleteFunc(f.Columns(), func(name string) bool {
		return slices.Contains(bundle.Transformer.FeatureNamesIn, name)
	})

	err = f.ToFloat(others...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert features to numbers")
	}

	out := &Output{
		Path:    OutputPath(p.OutputDir, inputPath, p.now()),
		Version: version.Number,
		Rows:    f.Len(),
	}

	logger.Info("predicting",
		slog.String("input", inputPath),
		slog.Int("rows", f.Len()),
		slog.Int("version", version.Number))

	err = p.write(ctx, out.Path, bundle, f)
	if err != nil {
		return nil, err
	}

	if p.Ledger != nil {
		_, err = p.Ledger.RecordPrediction(ctx, runlog.Prediction{
			InputPath:  inputPath,
			OutputPath: out.Path,
			Version:    out.Version,
			Rows:       out.Rows,
		})
		if err != nil {
			return nil, errors.Wrap(err, "unable to record prediction")
		}
	}

	logger.Info("prediction written", slog.String("output", out.Path))

	return out, nil
}

// write streams the annotated rows into a temporary file renamed onto path.
func (p *Predictor) write(ctx context.Context, path string, bundle *inference.Bundle, f *frame.Frame) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return errors.Wrapf(err, "unable to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "unable to create temporary file in %s", dir)
	}

	defer os.Remove(tmp.Name())

	cw := frame.NewCSVWriter(tmp)

	if f.Len() == 0 {
		err = cw.Write(emptyOutput(f))
	} else {
		err = p.stream(ctx, cw, bundle, f)
	}

	if err == nil {
		err = cw.Flush()
	}

	closeErr := tmp.Close()
	if err != nil {
		return err
	}

	if closeErr != nil {
		return errors.Wrapf(closeErr, "unable to close %s", tmp.Name())
	}

	return errors.Wrapf(os.Rename(tmp.Name(), path), "unable to move output to %s", path)
}

// emptyOutput is f with the output columns and no row.
func emptyOutput(f *frame.Frame) *frame.Frame {
	out := frame.New(0)
	for _, name := range f.Columns() {
		_ = out.AppendStrings(name, nil)
	}

	_ = out.AppendFloats(inference.PredictionColumn, nil)
	_ = out.AppendStrings(inference.CategoryColumn, nil)

	return out
}

func (p *Predictor) stream(ctx context.Context, cw *frame.CSVWriter, bundle *inference.Bundle, f *frame.Frame) error {
	size := p.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var bar *pb.ProgressBar

	if p.Progress != nil {
		bar = pb.New64(int64(f.Len()))
		bar.SetWriter(p.Progress)
		bar.Start()

		defer bar.Finish()
	}

	pipe, err := pipeline.New(ctx, p.PipelineOptions...)
	if err != nil {
		return errors.Wrap(err, "unable to create pipeline")
	}

	chunks, err := pipeline.AddRootStep(pipe, "split rows", func(ctx context.Context, out chan<- chunk) error {
		for i, from := 0, 0; from < f.Len(); i, from = i+1, from+size {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- chunk{index: i, rows: f.Slice(from, from+size)}:
			}
		}

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "unable to add split step")
	}

	predicted, err := pipeline.AddStepOneToOne(pipe, "predict", chunks, func(_ context.Context, c chunk) (chunk, error) {
		rows, err := bundle.Annotate(c.rows)
		if err != nil {
			return chunk{}, errors.Wrapf(err, "chunk %d", c.index)
		}

		return chunk{index: c.index, rows: rows}, nil
	}, pipeline.StepConcurrency(concurrency))
	if err != nil {
		return errors.Wrap(err, "unable to add predict step")
	}

	// chunks finish out of order; they are written in input order
	pending := make(map[int]*frame.Frame)
	next := 0

	err = pipeline.AddSink(pipe, "write", predicted, func(_ context.Context, c chunk) error {
		pending[c.index] = c.rows

		for rows, ok := pending[next]; ok; rows, ok = pending[next] {
			err := cw.Write(rows)
			if err != nil {
				return err
			}

			if bar != nil {
				bar.Add(rows.Len())
			}

			delete(pending, next)
			next++
		}

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "unable to add write sink")
	}

	err = pipe.Run()
	if err != nil {
		if step, ok := pipeline.FailedStep(err); ok {
			logging.Or(p.Logger).Error("prediction step failed", slog.String("step", step))
		}

		return errors.Wrap(err, "unable to predict")
	}

	return nil
}
