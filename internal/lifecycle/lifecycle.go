package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// State tracks whether the local server is draining. /health reports
// shutting-down while it is set.
type State struct {
	shuttingDown atomic.Bool
}

// BeginShutdown marks the process as draining. It is idempotent.
func (s *State) BeginShutdown() {
	s.shuttingDown.Store(true)
}

// ShuttingDown returns true if the process is draining and should not receive new traffic.
func (s *State) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// NotifyShutdown returns a context cancelled on SIGINT or SIGTERM. When that
// happens s is marked as shutting down before the context is cancelled.
func (s *State) NotifyShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer stop()
		select {
		case <-sigCtx.Done():
			if parent.Err() == nil {
				s.BeginShutdown()
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
