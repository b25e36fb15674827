package testutil

import (
	"context"
	"testing"
	"time"
)

// Context returns a context cancelled when the test ends. It expires a few seconds
// before the test binary's -timeout so a hung query fails the test instead of panicking.
func Context(t *testing.T) context.Context {
	t.Helper()

	deadline, ok := t.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	} else {
		deadline = deadline.Add(-5 * time.Second)
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	t.Cleanup(cancel)
	return ctx
}
