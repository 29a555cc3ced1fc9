package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/askiada/go-sensor-pipeline/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	status := cli.Main(ctx, filepath.Base(os.Args[0]), os.Args[1:], os.Stdout, os.Stderr)

	cancel()
	os.Exit(status)
}
