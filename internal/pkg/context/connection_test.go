package context

import (
	"context"
	"testing"
)

func TestIDs(t *testing.T) {
	ctx := context.Background()
	if RunID(ctx) != "" || QueryID(ctx) != "" {
		t.Error("empty context should carry no ids")
	}

	ctx = WithQueryID(WithRunID(ctx, "run-1"), "q1")
	if got := RunID(ctx); got != "run-1" {
		t.Errorf("RunID() = %q, want run-1", got)
	}
	if got := QueryID(ctx); got != "q1" {
		t.Errorf("QueryID() = %q, want q1", got)
	}

	ctx = WithQueryID(ctx, "q2")
	if got := QueryID(ctx); got != "q2" {
		t.Errorf("QueryID() after override = %q, want q2", got)
	}
}
