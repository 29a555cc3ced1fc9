package cli

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/askiada/go-sensor-pipeline/internal/runlog"
)

// HistoryTask prints the training runs or the predictions recorded in the ledger.
type HistoryTask struct {
	limit       int
	predictions bool
}

func (*HistoryTask) Name() string     { return "history" }
func (*HistoryTask) Args() string     { return "" }
func (*HistoryTask) Synopsis() string { return "show past training runs or predictions" }

func (t *HistoryTask) SetFlags(f *flag.FlagSet) {
	f.IntVar(&t.limit, "limit", 20, "number of entries, 0 for all")
	f.BoolVar(&t.predictions, "predictions", false, "show predictions instead of training runs")
}

func (t *HistoryTask) Run(ctx context.Context, env Env, args []string) error {
	if len(args) > 0 {
		return ErrUsage
	}

	ledger, err := runlog.Open(ctx, env.Config.RunLog.Path, runlog.WithLogger(env.Logger))
	if err != nil {
		return err
	}
	defer ledger.Close()

	w := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)

	if t.predictions {
		err = printPredictions(ctx, w, ledger, t.limit)
	} else {
		err = printRuns(ctx, w, ledger, t.limit)
	}

	if err != nil {
		return err
	}

	return w.Flush()
}

func printRuns(ctx context.Context, w *tabwriter.Writer, ledger *runlog.Ledger, limit int) error {
	runs, err := ledger.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tF1 TEST\tVERSION\tFAILED STAGE")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.Status,
			optional(run.F1Test, func(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }),
			optional(run.Version, strconv.Itoa),
			run.FailedStage,
		)
	}

	return nil
}

func printPredictions(ctx context.Context, w *tabwriter.Writer, ledger *runlog.Ledger, limit int) error {
	predictions, err := ledger.ListPredictions(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "CREATED\tVERSION\tROWS\tINPUT\tOUTPUT")

	for _, p := range predictions {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			p.CreatedAt.Local().Format(time.DateTime), p.Version, p.Rows, p.InputPath, p.OutputPath)
	}

	return nil
}

func optional[T any](v *T, format func(T) string) string {
	if v == nil {
		return "-"
	}

	return format(*v)
}
