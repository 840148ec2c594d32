package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional status for a process ended by SIGINT.
const exitInterrupted = 130

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// shutdownContext cancels the returned context on SIGINT or SIGTERM. Running
// uploads and the watcher stop at their next context check; a second signal
// exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		handleSignals(ctx, parent, cancel, sigCh, logger)
	}()

	return ctx
}

// handleSignals cancels on the first signal and exits on the second. It
// returns when the parent is done.
func handleSignals(
	ctx, parent context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal, logger *slog.Logger,
) {
	select {
	case sig := <-sigCh:
		logger.Warn("stopping, interrupt again to exit immediately", slog.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-sigCh:
		logger.Warn("exiting without cleanup", slog.String("signal", sig.String()))
		exitFunc(exitInterrupted)
	case <-parent.Done():
	}
}
