package runlog_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-sensor-pipeline/internal/runlog"
)

// fakeClock advances one second per call.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Second)

	return c.now
}

func openLedger(t *testing.T) (*runlog.Ledger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger", "runs.db")
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}

	l, err := runlog.Open(context.Background(), path, runlog.WithClock(clock.Now))
	require.NoError(t, err)

	t.Cleanup(func() { l.Close() })

	return l, path
}

func ptr[T any](v T) *T {
	return &v
}

func TestRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openLedger(t)

	failed, err := l.StartRun(ctx, "artifact/03012024__100001")
	require.NoError(t, err)
	require.NoError(t, l.FinishRun(ctx, failed, runlog.Outcome{
		Err:         errors.New("model is overfitting"),
		FailedStage: "trainer",
		F1Train:     ptr(0.99),
		F1Test:      ptr(0.71),
	}))

	ok, err := l.StartRun(ctx, "artifact/03012024__100003")
	require.NoError(t, err)
	require.NoError(t, l.FinishRun(ctx, ok, runlog.Outcome{F1Train: ptr(0.9), F1Test: ptr(0.85), Version: ptr(4)}))

	running, err := l.StartRun(ctx, "artifact/03012024__100005")
	require.NoError(t, err)

	runs, err := l.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	assert.Equal(t, running, runs[0].ID)
	assert.Equal(t, runlog.StatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Nil(t, runs[0].Version)

	assert.Equal(t, ok, runs[1].ID)
	assert.Equal(t, runlog.StatusSucceeded, runs[1].Status)
	require.NotNil(t, runs[1].Version)
	assert.Equal(t, 4, *runs[1].Version)
	require.NotNil(t, runs[1].F1Test)
	assert.InDelta(t, 0.85, *runs[1].F1Test, 1e-12)
	require.NotNil(t, runs[1].FinishedAt)
	assert.True(t, runs[1].FinishedAt.After(runs[1].StartedAt))
	assert.Empty(t, runs[1].Error)

	assert.Equal(t, failed, runs[2].ID)
	assert.Equal(t, runlog.StatusFailed, runs[2].Status)
	assert.Equal(t, "trainer", runs[2].FailedStage)
	assert.Equal(t, "model is overfitting", runs[2].Error)
	assert.Equal(t, "artifact/03012024__100001", runs[2].ArtifactDir)

	limited, err := l.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFinishUnknownRun(t *testing.T) {
	t.Parallel()

	l, _ := openLedger(t)
	require.ErrorIs(t, l.FinishRun(context.Background(), "nope", runlog.Outcome{}), runlog.ErrRunNotFound)
}

func TestPredictions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := openLedger(t)

	first, err := l.RecordPrediction(ctx, runlog.Prediction{InputPath: "in/a.csv", OutputPath: "prediction/a03012024__100001.csv", Version: 3, Rows: 10})
	require.NoError(t, err)

	second, err := l.RecordPrediction(ctx, runlog.Prediction{InputPath: "in/b.csv", OutputPath: "prediction/b03012024__100002.csv", Version: 4, Rows: 7})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	predictions, err := l.ListPredictions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, predictions, 2)
	assert.Equal(t, second, predictions[0].ID)
	assert.Equal(t, "in/b.csv", predictions[0].InputPath)
	assert.Equal(t, 4, predictions[0].Version)
	assert.Equal(t, 7, predictions[0].Rows)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 2, 0, time.UTC), predictions[0].CreatedAt)
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, path := openLedger(t)

	_, err := l.StartRun(ctx, "artifact/x")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := runlog.Open(ctx, path)
	require.NoError(t, err)

	defer reopened.Close()

	runs, err := reopened.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
