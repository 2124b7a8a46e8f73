package logger

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	log := New()
	if log == nil {
		t.Fatal("expected logger to be non-nil")
	}
}

func TestWithInvocationID_RoundTrip(t *testing.T) {
	ctx := WithInvocationID(context.Background(), "inv-123")

	if got := InvocationIDFromContext(ctx); got != "inv-123" {
		t.Errorf("expected inv-123, got %q", got)
	}
}

func TestInvocationIDFromContext_Empty(t *testing.T) {
	if got := InvocationIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty invocation ID, got %q", got)
	}
}

func TestFromContext_AttachesID(t *testing.T) {
	base := New()

	ctx := WithInvocationID(context.Background(), "inv-456")
	withID := FromContext(ctx, base)
	if withID == base {
		t.Error("expected a derived logger when an invocation ID is present")
	}

	plain := FromContext(context.Background(), base)
	if plain != base {
		t.Error("expected the base logger when no invocation ID is present")
	}
}
