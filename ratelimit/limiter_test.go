package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowUnlimited(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		if !l.Allow("flow.zoho.com", 0) {
			t.Fatal("Allow with rate 0 should always return true")
		}
	}
}

func TestAllowBurstThenDeny(t *testing.T) {
	l := New()

	if !l.Allow("flow.zoho.com", 2) || !l.Allow("flow.zoho.com", 2) {
		t.Fatal("bucket should start full")
	}
	if l.Allow("flow.zoho.com", 2) {
		t.Fatal("third call should be denied")
	}
	if !l.Allow("other.example.com", 2) {
		t.Fatal("keys must not share buckets")
	}
}

func TestRateChangeResetsBucket(t *testing.T) {
	l := New()
	l.Allow("h", 1)
	if l.Allow("h", 1) {
		t.Fatal("expected bucket of 1 to be empty")
	}
	if !l.Allow("h", 5) {
		t.Fatal("expected a new bucket after the rate changed")
	}
}

func TestRefill(t *testing.T) {
	l := New()
	for i := 0; i < 10; i++ {
		l.Allow("h", 10)
	}
	if l.Allow("h", 10) {
		t.Fatal("should be denied after exhausting bucket")
	}

	time.Sleep(200 * time.Millisecond)

	if !l.Allow("h", 10) {
		t.Fatal("should be allowed after refill")
	}
}

func TestWaitCancelled(t *testing.T) {
	l := New()
	l.Allow("h", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx, "h", 1); err == nil {
		t.Fatal("expected context error")
	}
}

func TestReset(t *testing.T) {
	l := New()
	l.Allow("h", 1)
	l.Reset("h")
	if !l.Allow("h", 1) {
		t.Fatal("expected fresh bucket after Reset")
	}
}
