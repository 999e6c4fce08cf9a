package providers

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker open after %d failures, threshold 3", i+1)
		}
	}

	b.RecordFailure()
	if b.Allow() {
		t.Error("breaker should be open after 3 failures")
	}
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, time.Minute, 10*time.Millisecond)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	// First call after cooldown is the probe.
	if !b.Allow() {
		t.Fatal("expected half-open probe to be allowed")
	}
	// Concurrent second call is rejected while the probe is in flight.
	if b.Allow() {
		t.Error("second call should be rejected during probe")
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed after successful probe", b.State())
	}
	if !b.Allow() {
		t.Error("closed breaker should allow calls")
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	b.RecordFailure()

	if b.Allow() {
		t.Error("breaker should reopen after failed probe")
	}
	if st := b.Status(); st.TotalTrips != 2 {
		t.Errorf("trips = %d, want 2", st.TotalTrips)
	}
}

func TestBreakerWindowExpiry(t *testing.T) {
	b := NewBreaker(3, 20*time.Millisecond, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	// Old failures fell out of the window.
	b.RecordFailure()

	if !b.Allow() {
		t.Error("breaker opened on stale failures outside the window")
	}
}

func TestBreakerSuccessResets(t *testing.T) {
	b := NewBreaker(3, time.Minute, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if !b.Allow() {
		t.Error("success should have cleared the failure count")
	}
}
