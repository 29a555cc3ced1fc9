// Package cli holds the sensor command line.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/config"
	"github.com/askiada/go-sensor-pipeline/internal/logging"
)

// ErrUsage makes a command print its usage and exit with a usage status.
var ErrUsage = errors.New("usage error")

// Env is what every command runs with.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// Task is the part of a command specific to it. Build turns it into a
// subcommands.Command sharing the -config flag and the error handling.
type Task interface {
	Name() string
	Synopsis() string
	// Args describes the positional arguments, for the usage line.
	Args() string
	SetFlags(f *flag.FlagSet)
	Run(ctx context.Context, env Env, args []string) error
}

type command struct {
	task       Task
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

// Build wraps task into a subcommands.Command.
func Build(task Task, stdout, stderr io.Writer) subcommands.Command {
	return &command{task: task, stdout: stdout, stderr: stderr}
}

func (c *command) Name() string {
	return c.task.Name()
}

func (c *command) Synopsis() string {
	return c.task.Synopsis()
}

func (c *command) Usage() string {
	usage := "Usage: " + c.task.Name() + " [flags]"
	if args := c.task.Args(); args != "" {
		usage += " " + args
	}

	return usage + "\n\n  " + strings.TrimSpace(c.task.Synopsis()) + "\n\nFlags:\n"
}

func (c *command) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to the YAML configuration file")
	c.task.SetFlags(f)
}

func (c *command) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		fmt.Fprintln(c.stderr, err)

		return subcommands.ExitFailure
	}

	logger, err := logging.New(c.stderr, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintln(c.stderr, err)

		return subcommands.ExitFailure
	}

	logger = logger.With(slog.String("command", c.task.Name()))

	err = c.task.Run(ctx, Env{Config: cfg, Logger: logger, Stdout: c.stdout, Stderr: c.stderr}, f.Args())
	if err == nil {
		return subcommands.ExitSuccess
	}

	if errors.Is(err, ErrUsage) {
		fmt.Fprintln(c.stderr, err)

		if p, ok := commander(args); ok {
			p.ExplainCommand(c.stderr, c)
		}

		return subcommands.ExitUsageError
	}

	logger.Error("command failed", slog.Any("error", err))

	return subcommands.ExitFailure
}

func commander(args []any) (*subcommands.Commander, bool) {
	for _, arg := range args {
		if p, ok := arg.(*subcommands.Commander); ok {
			return p, true
		}
	}

	return nil, false
}

// Tasks returns every command of the sensor tool.
func Tasks() []Task {
	return []Task{
		&TrainTask{},
		&PredictTask{},
		&DumpTask{},
		&VersionsTask{},
		&HistoryTask{},
	}
}

// Main runs the command named in args and returns the process exit status.
func Main(ctx context.Context, name string, args []string, stdout, stderr io.Writer) int {
	top := flag.NewFlagSet(name, flag.ContinueOnError)
	top.SetOutput(stderr)

	err := top.Parse(args)
	if err != nil {
		return int(subcommands.ExitUsageError)
	}

	cdr := subcommands.NewCommander(top, name)
	cdr.Output = stdout
	cdr.Error = stderr

	cdr.Register(cdr.HelpCommand(), "help")
	cdr.Register(cdr.FlagsCommand(), "help")
	cdr.Register(cdr.CommandsCommand(), "help")

	for _, task := range Tasks() {
		cdr.Register(Build(task, stdout, stderr), "")
	}

	return int(cdr.Execute(ctx, cdr))
}
