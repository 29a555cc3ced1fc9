package stages

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/docstore"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
	"github.com/askiada/go-sensor-pipeline/internal/sensorerr"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/model"
)

// Ingestion dumps the document collection to CSV and splits it into train and test sets.
type Ingestion struct {
	Source   docstore.Source
	Layout   Layout
	TestSize float64
	Seed     uint64
	Logger   *slog.Logger
	// PipelineOptions are passed to the streaming pipeline reading the collection.
	PipelineOptions []model.PipelineOption
}

func (s *Ingestion) Run(ctx context.Context) (*DataIngestionArtifact, error) {
	res, err := s.run(ctx)

	return res, sensorerr.Wrap(IngestionStage, err)
}

func (s *Ingestion) run(ctx context.Context) (*DataIngestionArtifact, error) {
	logger := logging.Or(s.Logger)
	logger.Info(logging.Banner("Data Ingestion"))

	docs, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	f, err := docstore.ToFrame(docs)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build frame from documents")
	}

	if f.Len() == 0 {
		return nil, errors.New("collection is empty")
	}

	logger.Info("collection read", slog.Int("rows", f.Len()), slog.Int("columns", len(f.Columns())))

	err = f.WriteCSVFile(s.Layout.FeatureStorePath())
	if err != nil {
		return nil, errors.Wrap(err, "unable to write feature store")
	}

	train, test := f.Split(s.TestSize, s.Seed)

	err = train.WriteCSVFile(s.Layout.TrainPath())
	if err != nil {
		return nil, errors.Wrap(err, "unable to write train set")
	}

	err = test.WriteCSVFile(s.Layout.TestPath())
	if err != nil {
		return nil, errors.Wrap(err, "unable to write test set")
	}

	res := &DataIngestionArtifact{
		FeatureStorePath: s.Layout.FeatureStorePath(),
		TrainPath:        s.Layout.TrainPath(),
		TestPath:         s.Layout.TestPath(),
		Rows:             f.Len(),
	}

	logger.Info("data ingestion artifact",
		slog.String("feature_store", res.FeatureStorePath),
		slog.Int("train_rows", train.Len()),
		slog.Int("test_rows", test.Len()))

	return res, nil
}

// collect streams the collection through a pipeline dropping the identity field.
func (s *Ingestion) collect(ctx context.Context) ([]docstore.Document, error) {
	pipe, err := pipeline.New(ctx, s.PipelineOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create pipeline")
	}

	read, err := pipeline.AddRootStep(pipe, "read documents", s.Source.Stream)
	if err != nil {
		return nil, errors.Wrap(err, "unable to add read step")
	}

	clean, err := pipeline.AddStepOneToOne(pipe, "drop identity", read,
		func(_ context.Context, doc docstore.Document) (docstore.Document, error) {
			out := make(docstore.Document, 0, len(doc))

			for _, f := range doc {
				if f.Key != docstore.IDField {
					out = append(out, f)
				}
			}

			return out, nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "unable to add clean step")
	}

	docs := []docstore.Document{}

	err = pipeline.AddSink(pipe, "collect", clean, func(_ context.Context, doc docstore.Document) error {
		docs = append(docs, doc)

		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to add collect sink")
	}

	err = pipe.Run()
	if err != nil {
		if step, ok := pipeline.FailedStep(err); ok {
			logging.Or(s.Logger).Error("collection step failed", slog.String("step", step))
		}

		return nil, errors.Wrap(err, "unable to read collection")
	}

	return docs, nil
}
