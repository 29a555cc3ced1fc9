package cli

import (
	"context"
	"flag"
	"fmt"

	pb "github.com/cheggaaa/pb/v3"

	"github.com/askiada/go-sensor-pipeline/internal/docstore"
)

// DumpTask loads a CSV file into the document collection.
type DumpTask struct {
	batchSize int
	progress  bool
}

func (*DumpTask) Name() string     { return "dump" }
func (*DumpTask) Args() string     { return "FILE.csv" }
func (*DumpTask) Synopsis() string { return "insert every row of a CSV file into the document collection" }

func (t *DumpTask) SetFlags(f *flag.FlagSet) {
	f.IntVar(&t.batchSize, "batch", docstore.DefaultBatchSize, "documents inserted at once")
	f.BoolVar(&t.progress, "progress", false, "show a progress counter")
}

func (t *DumpTask) Run(ctx context.Context, env Env, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}

	sink, err := docstore.Connect(ctx, mongoConfig(env.Config, env.Logger))
	if err != nil {
		return err
	}
	defer sink.Close(context.WithoutCancel(ctx))

	opts := []docstore.DumpOption{docstore.WithBatchSize(t.batchSize)}

	if t.progress {
		// the row count is unknown until the end: the bar only counts
		bar := pb.New(0)
		bar.SetWriter(env.Stderr)
		bar.Start()

		defer bar.Finish()

		opts = append(opts, docstore.WithProgress(func(rows int) { bar.Add(rows) }))
	}

	rows, err := docstore.Dump(ctx, sink, args[0], opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.Stdout, "inserted %d documents into %s.%s\n", rows, env.Config.Mongo.Database, env.Config.Mongo.Collection)

	return nil
}
