// Package main provides the mosaicd daemon entrypoint.
//
// mosaicd runs the reconstruction pipeline as a long-lived process: it
// accepts framed scans on a unix feed socket, optionally watches a
// spool directory, and sweeps session retention on a ticker. Scanner
// hosts pipe into it with `mosaic feed`.
//
// Usage:
//
//	mosaicd [options]
//
// Exit codes:
//   - 0: orderly shutdown (SIGINT/SIGTERM)
//   - 1: startup or serve failure
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/mosaic/cli/cmd"
	"github.com/justapithecus/mosaic/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	serve := cmd.DaemonCommand()

	app := &cli.App{
		Name:           "mosaicd",
		Usage:          "Mosaic reconstruction daemon",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:          serve.Flags,
		Action:         serve.Action,
		ExitErrHandler: exitErrHandler,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
