package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kei1-dev/terakoya-invoicer/cmd"
	"github.com/kei1-dev/terakoya-invoicer/internal/observability"
)

// Mockable in tests.
var osExit = os.Exit

func main() {
	// Interrupts cancel the context; the run command finishes its
	// teardown (browser shutdown, report writing) before we get back
	// here.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted.")
		osExit(130)
	default:
		osExit(1)
	}
}
