// Package logging builds the slog logger shared by the CLI, the stages and the predictor.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownFormat is returned for a log format other than text or json.
var ErrUnknownFormat = errors.New("unknown log format")

// Options selects the handler.
type Options struct {
	Level  string
	Format string
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(opts.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", opts.Format)
	}
}

// ParseLevel accepts the slog level names, case-insensitively. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level

	err := level.UnmarshalText([]byte(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", s)
	}

	return level, nil
}

// Or returns logger, or slog.Default() when logger is nil.
func Or(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}

	return logger
}

// Banner is the line logged when a stage starts.
func Banner(name string) string {
	return strings.Repeat(">>", 20) + " " + name + " " + strings.Repeat("<<", 20)
}
