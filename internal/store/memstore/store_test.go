package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/suPer8Hu/smart-doctor/internal/chat"
)

func TestReplyExpires(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.SetReply(ctx, "m1", chat.CompletionResponse{ID: "r1", Content: "Hi"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.GetReply(ctx, "m1")
	if err != nil || !ok || got.ID != "r1" {
		t.Fatalf("expected cached reply, got %+v ok=%v err=%v", got, ok, err)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := s.GetReply(ctx, "m1"); ok {
		t.Fatalf("expected expiry")
	}
}

func TestIncrFixedWindow(t *testing.T) {
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.Incr(ctx, "1.2.3.4", time.Minute)
		if err != nil || n != i {
			t.Fatalf("incr %d: got %d err=%v", i, n, err)
		}
	}

	now = now.Add(61 * time.Second)
	if n, _ := s.Incr(ctx, "1.2.3.4", time.Minute); n != 1 {
		t.Fatalf("expected new window, got %d", n)
	}
}
