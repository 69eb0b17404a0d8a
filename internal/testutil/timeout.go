package testutil

import (
	"context"
	"testing"
	"time"
)

// Timeouts for tests that run real-time loops or talk to servers.
const (
	// DefaultLoopTimeout bounds a test that runs a loop on the system clock.
	DefaultLoopTimeout = 30 * time.Second

	// DefaultServerTimeout bounds a test that talks to an HTTP server.
	DefaultServerTimeout = 10 * time.Second

	// deadlineMargin is kept free before the test binary's own deadline
	// so cleanups still run.
	deadlineMargin = time.Second
)

// LoopContext creates a context for running a loop on the system clock.
// It ends shortly before the test deadline, or after DefaultLoopTimeout
// when there is none.
func LoopContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return deadlineContext(t, DefaultLoopTimeout)
}

// ServerContext creates a context for HTTP and websocket calls against a
// test server.
func ServerContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return deadlineContext(t, DefaultServerTimeout)
}

func deadlineContext(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	if deadline, ok := t.Deadline(); ok {
		if d := time.Until(deadline) - deadlineMargin; d > 0 && d < fallback {
			return context.WithTimeout(context.Background(), d)
		}
	}
	return context.WithTimeout(context.Background(), fallback)
}

// WaitClosed fails the test unless done is closed within timeout, e.g. a
// listener's Done channel after Stop.
func WaitClosed(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("not closed within %v", timeout)
	}
}
