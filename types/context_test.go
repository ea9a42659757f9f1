package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := TraceID(ctx); ok {
		t.Fatal("empty context must not carry a trace ID")
	}

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithTenantID(ctx, "tenant")
	if got, ok := TenantID(ctx); !ok || got != "tenant" {
		t.Fatalf("TenantID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	if _, ok := Roles(WithRoles(ctx, nil)); ok {
		t.Fatal("empty roles must report false")
	}
	ctx = WithRoles(ctx, []string{"operator"})
	if got, ok := Roles(ctx); !ok || len(got) != 1 || got[0] != "operator" {
		t.Fatalf("Roles mismatch: %v %v", got, ok)
	}
}
