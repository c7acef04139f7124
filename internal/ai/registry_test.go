package ai

import (
	"context"
	"testing"
)

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" Fake ", func(ctx context.Context, model string) (Provider, error) {
		return nil, nil
	})

	if !reg.Has("fake") || reg.Has("gemini") {
		t.Fatalf("unexpected Has results for %v", reg.Names())
	}

	_, err := reg.Get(context.Background(), "gemini", "gemini-2.5-pro")
	if err == nil {
		t.Fatalf("expected error for unregistered provider")
	}
	if IsRetryable(AsProviderError(err)) {
		t.Fatalf("unknown provider must not be retryable")
	}
}
