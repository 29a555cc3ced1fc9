package docstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/askiada/go-sensor-pipeline/internal/logging"
)

// Source streams every document of a collection.
type Source interface {
	Stream(ctx context.Context, out chan<- Document) error
}

// Sink stores documents.
type Sink interface {
	InsertMany(ctx context.Context, docs []Document) error
}

// Mongo is a collection of a MongoDB database.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// MongoConfig locates the collection.
type MongoConfig struct {
	URL        string
	Database   string
	Collection string
	// Timeout bounds every operation; zero keeps the driver default.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Connect opens a client and checks the server answers.
func Connect(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	opts := options.Client().ApplyURI(cfg.URL)
	if cfg.Timeout > 0 {
		opts.SetTimeout(cfg.Timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to mongo")
	}

	err = client.Ping(ctx, readpref.Primary())
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))

		return nil, errors.Wrap(err, "unable to reach mongo")
	}

	return &Mongo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logging.Or(cfg.Logger).With(slog.String("database", cfg.Database), slog.String("collection", cfg.Collection)),
	}, nil
}

// Stream sends every document of the collection to out, in natural order.
func (m *Mongo) Stream(ctx context.Context, out chan<- Document) error {
	cursor, err := m.collection.Find(ctx, bson.D{})
	if err != nil {
		return errors.Wrap(err, "unable to query collection")
	}
	defer cursor.Close(context.WithoutCancel(ctx))

	count := 0

	for cursor.Next(ctx) {
		var raw bson.D

		err := cursor.Decode(&raw)
		if err != nil {
			return errors.Wrapf(err, "unable to decode document %d", count+1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- FromBSON(raw):
			count++
		}
	}

	err = cursor.Err()
	if err != nil {
		return errors.Wrap(err, "unable to iterate collection")
	}

	m.logger.Debug("collection read", slog.Int("documents", count))

	return nil
}

// InsertMany stores docs in one batch.
func (m *Mongo) InsertMany(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := make([]interface{}, len(docs))
	for i, doc := range docs {
		batch[i] = doc.BSON()
	}

	res, err := m.collection.InsertMany(ctx, batch)
	if err != nil {
		return errors.Wrap(err, "unable to insert documents")
	}

	m.logger.Debug("documents inserted", slog.Int("documents", len(res.InsertedIDs)))

	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return errors.Wrap(m.client.Disconnect(ctx), "unable to disconnect from mongo")
}

var (
	_ Source = (*Mongo)(nil)
	_ Sink   = (*Mongo)(nil)
)
