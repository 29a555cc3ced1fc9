// Package runlog records training runs and batch predictions in a SQLite ledger.
package runlog

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/askiada/go-sensor-pipeline/internal/logging"
)

// Status is the state of a training run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound is returned by FinishRun for an unknown run id.
var ErrRunNotFound = errors.New("training run not found")

// Run is one row of the training ledger. Pointer fields are nil when unknown.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      Status
	ArtifactDir string
	FailedStage string
	Error       string
	F1Train     *float64
	F1Test      *float64
	Version     *int
}

// Outcome is how a run ended.
type Outcome struct {
	// Err is nil for a successful run.
	Err         error
	FailedStage string
	F1Train     *float64
	F1Test      *float64
	Version     *int
}

// Prediction is one batch prediction.
type Prediction struct {
	ID         int64
	CreatedAt  time.Time
	InputPath  string
	OutputPath string
	Version    int
	Rows       int
}

// Ledger is the SQLite database holding the runs.
type Ledger struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

type Option func(l *Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Open creates or upgrades the database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	l.logger = logging.Or(l.logger)

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create directory for %s", path)
	}

	err = migrateUp(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to migrate %s", path)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()

		return nil, errors.Wrapf(err, "unable to reach %s", path)
	}

	l.db = db

	return l, nil
}

func (l *Ledger) Close() error {
	return errors.Wrap(l.db.Close(), "unable to close ledger")
}

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)

	return t, errors.Wrapf(err, "invalid timestamp %q", s)
}

// StartRun inserts a running run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, artifactDir string) (string, error) {
	id := uuid.NewString()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO training_runs (id, started_at, status, artifact_dir) VALUES (?, ?, ?, ?)`,
		id, formatTime(l.now()), StatusRunning, artifactDir)
	if err != nil {
		return "", errors.Wrap(err, "unable to insert training run")
	}

	l.logger.Debug("training run started", slog.String("run_id", id))

	return id, nil
}

// FinishRun stores the outcome of run id.
func (l *Ledger) FinishRun(ctx context.Context, id string, out Outcome) error {
	status := StatusSucceeded
	errText := sql.NullString{}

	if out.Err != nil {
		status = StatusFailed
		errText = sql.NullString{String: out.Err.Error(), Valid: true}
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE training_runs
		SET finished_at = ?, status = ?, failed_stage = ?, error = ?, f1_train = ?, f1_test = ?, model_version = ?
		WHERE id = ?`,
		formatTime(l.now()), status, nullString(out.FailedStage), errText,
		nullFloat(out.F1Train), nullFloat(out.F1Test), nullInt(out.Version), id)
	if err != nil {
		return errors.Wrapf(err, "unable to update training run %s", id)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "unable to count updated runs")
	}

	if n == 0 {
		return errors.Wrap(ErrRunNotFound, id)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// ListRuns returns the latest runs first. limit <= 0 returns every run.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, artifact_dir, failed_stage, error, f1_train, f1_test, model_version
		FROM training_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "unable to query training runs")
	}
	defer rows.Close()

	runs := []Run{}

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, errors.Wrap(rows.Err(), "unable to read training runs")
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run             Run
		started         string
		finished        sql.NullString
		stage, errText  sql.NullString
		f1Train, f1Test sql.NullFloat64
		version         sql.NullInt64
	)

	err := rows.Scan(&run.ID, &started, &finished, &run.Status, &run.ArtifactDir, &stage, &errText, &f1Train, &f1Test, &version)
	if err != nil {
		return Run{}, errors.Wrap(err, "unable to scan training run")
	}

	run.StartedAt, err = parseTime(started)
	if err != nil {
		return Run{}, err
	}

	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return Run{}, err
		}

		run.FinishedAt = &t
	}

	run.FailedStage = stage.String
	run.Error = errText.String

	if f1Train.Valid {
		run.F1Train = &f1Train.Float64
	}

	if f1Test.Valid {
		run.F1Test = &f1Test.Float64
	}

	if version.Valid {
		v := int(version.Int64)
		run.Version = &v
	}

	return run, nil
}

// RecordPrediction stores p and returns its id. CreatedAt defaults to now.
func (l *Ledger) RecordPrediction(ctx context.Context, p Prediction) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = l.now()
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO predictions (created_at, input_path, output_path, model_version, rows) VALUES (?, ?, ?, ?, ?)`,
		formatTime(p.CreatedAt), p.InputPath, p.OutputPath, p.Version, p.Rows)
	if err != nil {
		return 0, errors.Wrap(err, "unable to insert prediction")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "unable to read prediction id")
	}

	return id, nil
}

// ListPredictions returns the latest predictions first. limit <= 0 returns every prediction.
func (l *Ledger) ListPredictions(ctx context.Context, limit int) ([]Prediction, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, created_at, input_path, output_path, model_version, rows
		FROM predictions ORDER BY created_at DESC, id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "unable to query predictions")
	}
	defer rows.Close()

	predictions := []Prediction{}

	for rows.Next() {
		var (
			p       Prediction
			created string
		)

		err := rows.Scan(&p.ID, &created, &p.InputPath, &p.OutputPath, &p.Version, &p.Rows)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan prediction")
		}

		p.CreatedAt, err = parseTime(created)
		if err != nil {
			return nil, err
		}

		predictions = append(predictions, p)
	}

	return predictions, errors.Wrap(rows.Err(), "unable to read predictions")
}

// sqlLimit maps "no limit" to -1, which SQLite reads as unbounded.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}

	return limit
}
