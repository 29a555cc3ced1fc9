package docstore

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/pkg/errors"
)

// DefaultBatchSize is the number of documents inserted at once by Dump.
const DefaultBatchSize = 1000

type dumpOptions struct {
	batchSize int
	onBatch   func(rows int)
}

type DumpOption func(o *dumpOptions)

func WithBatchSize(size int) DumpOption {
	return func(o *dumpOptions) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithProgress calls fn with the number of rows of every inserted batch.
func WithProgress(fn func(rows int)) DumpOption {
	return func(o *dumpOptions) {
		o.onBatch = fn
	}
}

// Dump inserts every row of the CSV file at path into sink and returns the row count.
func Dump(ctx context.Context, sink Sink, path string, opts ...DumpOption) (int, error) {
	o := dumpOptions{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&o)
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return 0, errors.Wrapf(err, "unable to read header of %s", path)
	}

	total := 0
	batch := make([]Document, 0, o.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		err := sink.InsertMany(ctx, batch)
		if err != nil {
			return errors.Wrapf(err, "unable to insert rows %d to %d", total+1, total+len(batch))
		}

		total += len(batch)

		if o.onBatch != nil {
			o.onBatch(len(batch))
		}

		batch = make([]Document, 0, o.batchSize)

		return nil
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return total, errors.Wrapf(err, "unable to read %s", path)
		}

		batch = append(batch, FromRecord(header, record))

		if len(batch) == o.batchSize {
			err = flush()
			if err != nil {
				return total, err
			}
		}
	}

	return total, flush()
}
