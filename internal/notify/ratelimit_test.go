package notify

import (
	"testing"
	"time"
)

func TestSMSRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewSMSRateLimiter(3, time.Hour)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("org-1") {
			t.Fatalf("send %d should be allowed", i+1)
		}
	}
	if l.Allow("org-1") {
		t.Fatal("fourth send in the window must be denied")
	}

	// Another org has its own budget.
	if !l.Allow("org-2") {
		t.Fatal("other org must not share the bucket")
	}

	// The window resets after it elapses.
	now = now.Add(time.Hour)
	if !l.Allow("org-1") {
		t.Fatal("send after window expiry should be allowed")
	}

	// Mid-window advance does not reset.
	now = now.Add(30 * time.Minute)
	l.Allow("org-1")
	l.Allow("org-1")
	if l.Allow("org-1") {
		t.Fatal("budget must span the whole fixed window")
	}
}
