package predict

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/logging"
)

// DefaultSettle is how long a file must stay unchanged before it is predicted.
const DefaultSettle = 500 * time.Millisecond

// WatchOption configures Watch.
type WatchOption func(w *watcher)

// WithSettle sets how long a file must stay unchanged before it is predicted.
func WithSettle(d time.Duration) WatchOption {
	return func(w *watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithResults receives every written output. Sends block, so the channel must be drained.
func WithResults(results chan<- *Output) WatchOption {
	return func(w *watcher) {
		w.results = results
	}
}

type watcher struct {
	settle  time.Duration
	results chan<- *Output
	pending map[string]time.Time
}

// Watch predicts every .csv file created or written in dir until ctx is done.
// A failed prediction is logged and does not stop the watch.
func (p *Predictor) Watch(ctx context.Context, dir string, opts ...WatchOption) error {
	logger := logging.Or(p.Logger)

	same, err := sameDir(dir, p.OutputDir)
	if err != nil {
		return err
	}

	if same {
		return errors.Errorf("cannot watch the output directory %s", dir)
	}

	w := &watcher{settle: DefaultSettle, pending: make(map[string]time.Time)}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "unable to create watcher")
	}
	defer fsw.Close()

	err = fsw.Add(dir)
	if err != nil {
		return errors.Wrapf(err, "unable to watch %s", dir)
	}

	logger.Info("watching for input files", slog.String("dir", dir))

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if isInput(event) {
				w.pending[event.Name] = time.Now()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			logger.Warn("watch error", slog.Any("error", err))
		case now := <-ticker.C:
			for path, last := range w.pending {
				if now.Sub(last) < w.settle {
					continue
				}

				delete(w.pending, path)

				out, err := p.Predict(ctx, path)
				if err != nil {
					logger.Error("prediction failed", slog.String("input", path), slog.Any("error", err))

					continue
				}

				if w.results != nil {
					select {
					case <-ctx.Done():
						return nil
					case w.results <- out:
					}
				}
			}
		}
	}
}

func sameDir(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, errors.Wrapf(err, "unable to resolve %s", a)
	}

	absB, err := filepath.Abs(b)
	if err != nil {
		return false, errors.Wrapf(err, "unable to resolve %s", b)
	}

	return absA == absB, nil
}

// isInput skips hidden files, which include the temporary outputs.
func isInput(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}

	name := filepath.Base(event.Name)

	return filepath.Ext(name) == ".csv" && !strings.HasPrefix(name, ".")
}
