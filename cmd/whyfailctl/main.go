package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/whyfailclub/whyfail.go/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		out := &cli.Output{Format: cli.FormatOf(root), Writer: os.Stdout, ErrWriter: os.Stderr}
		out.Failure(err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
