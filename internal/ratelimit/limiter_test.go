package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"second", time.Second, false},
		{"minute", time.Minute, false},
		{"hour", time.Hour, false},
		{"day", 24 * time.Hour, false},
		{"30s", 30 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"", 0, true},
		{"fortnight", 0, true},
		{"-5s", 0, true},
		{"0s", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseInterval(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseInterval(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseInterval(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewUserLimiter_RejectsMisconfiguration(t *testing.T) {
	if _, err := NewUserLimiter(Config{Tokens: 0, Interval: "minute"}); err == nil {
		t.Error("zero tokens should fail at construction")
	}
	if _, err := NewUserLimiter(Config{Tokens: -1, Interval: "minute"}); err == nil {
		t.Error("negative tokens should fail at construction")
	}
	if _, err := NewUserLimiter(Config{Tokens: 5, Interval: "sometimes"}); err == nil {
		t.Error("invalid interval should fail at construction")
	}
}

func TestBucket_BurstThenDeny(t *testing.T) {
	now := time.Now()
	b := NewBucketAt(3, 3.0/60, now)

	for i := 0; i < 3; i++ {
		if !b.AllowAt(now) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if b.AllowAt(now) {
		t.Error("4th request within the interval should be denied")
	}
}

func TestBucket_RefillCappedAtCapacity(t *testing.T) {
	now := time.Now()
	b := NewBucketAt(3, 3.0/60, now)

	// Exhaust, then wait several intervals: refill must cap at capacity.
	for i := 0; i < 3; i++ {
		b.AllowAt(now)
	}
	later := now.Add(10 * time.Minute)

	for i := 0; i < 3; i++ {
		if !b.AllowAt(later) {
			t.Fatalf("request %d after refill should be allowed", i)
		}
	}
	if b.AllowAt(later) {
		t.Error("refill should not accumulate beyond capacity")
	}
}

func TestBucket_PartialRefill(t *testing.T) {
	now := time.Now()
	b := NewBucketAt(2, 2.0/60, now) // one token per 30s

	b.AllowAt(now)
	b.AllowAt(now)
	if b.AllowAt(now.Add(10 * time.Second)) {
		t.Error("10s is not enough elapsed time for a token")
	}
	if !b.AllowAt(now.Add(31 * time.Second)) {
		t.Error("31s should have replenished one token")
	}
}

func TestUserLimiter_IndependentPrincipals(t *testing.T) {
	l, err := NewUserLimiter(Config{Tokens: 3, Interval: "minute"})
	if err != nil {
		t.Fatalf("NewUserLimiter: %v", err)
	}
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.CanProcessAt("u1", now) {
			t.Fatalf("u1 request %d should be allowed", i)
		}
	}
	if l.CanProcessAt("u1", now) {
		t.Error("u1 should be denied after burst")
	}
	if !l.CanProcessAt("u2", now) {
		t.Error("u2 has an independent bucket and should be allowed")
	}
}

func TestUserLimiter_OnePerMinuteScenario(t *testing.T) {
	l, err := NewUserLimiter(Config{Tokens: 1, Interval: "minute"})
	if err != nil {
		t.Fatalf("NewUserLimiter: %v", err)
	}
	now := time.Now()

	if !l.CanProcessAt("u1", now) {
		t.Fatal("first call should be admitted")
	}
	if l.CanProcessAt("u1", now) {
		t.Fatal("immediate second call should be denied")
	}
	if !l.CanProcessAt("u1", now.Add(time.Minute)) {
		t.Fatal("call after one minute should be admitted again")
	}
}

func TestUserLimiter_LRUEviction(t *testing.T) {
	l, err := NewUserLimiter(Config{Tokens: 1, Interval: "minute", MaxUsers: 3, Shards: 1})
	if err != nil {
		t.Fatalf("NewUserLimiter: %v", err)
	}
	now := time.Now()

	// Fill to capacity, exhausting each principal's single token.
	l.CanProcessAt("a", now)
	l.CanProcessAt("b", now)
	l.CanProcessAt("c", now)

	// Touch "a" so "b" becomes least recently used.
	l.CanProcessAt("a", now)

	// Inserting a 4th principal evicts exactly one entry: "b".
	l.CanProcessAt("d", now)
	if got := l.TrackedUsers(); got != 3 {
		t.Fatalf("tracked users = %d, want 3", got)
	}

	// The evicted principal is fresh again: full bucket, admitted.
	// (Re-inserting it evicts the current least-recently-used entry.)
	if !l.CanProcessAt("b", now) {
		t.Error("evicted principal should look new and be admitted")
	}

	// "a" survived every eviction and kept its exhausted bucket.
	if l.CanProcessAt("a", now) {
		t.Error("surviving principal should still be rate limited")
	}
}

func TestUserLimiter_ResetUser(t *testing.T) {
	l, err := NewUserLimiter(Config{Tokens: 2, Interval: "hour"})
	if err != nil {
		t.Fatalf("NewUserLimiter: %v", err)
	}
	now := time.Now()

	l.CanProcessAt("u1", now)
	l.CanProcessAt("u1", now)
	if l.CanProcessAt("u1", now) {
		t.Fatal("u1 should be exhausted")
	}

	l.ResetUser("u1")

	for i := 0; i < 2; i++ {
		if !l.CanProcessAt("u1", now) {
			t.Fatalf("u1 request %d after reset should be allowed", i)
		}
	}
}

func TestUserLimiter_ResetAll(t *testing.T) {
	l, err := NewUserLimiter(Config{Tokens: 1, Interval: "day"})
	if err != nil {
		t.Fatalf("NewUserLimiter: %v", err)
	}
	now := time.Now()

	for _, id := range []string{"u1", "u2", "u3"} {
		l.CanProcessAt(id, now)
		if l.CanProcessAt(id, now) {
			t.Fatalf("%s should be exhausted", id)
		}
	}

	l.ResetAll()

	if got := l.TrackedUsers(); got != 0 {
		t.Fatalf("tracked users after ResetAll = %d, want 0", got)
	}
	for _, id := range []string{"u1", "u2", "u3"} {
		if !l.CanProcessAt(id, now) {
			t.Errorf("%s should be admitted after ResetAll", id)
		}
	}
}

func TestUserLimiter_ConcurrentFirstTouchSingleBucket(t *testing.T) {
	l, err := NewUserLimiter(Config{Tokens: 5, Interval: "minute"})
	if err != nil {
		t.Fatalf("NewUserLimiter: %v", err)
	}
	now := time.Now()

	// 20 concurrent first-touch checks for one principal must share a
	// single bucket: exactly 5 admissions.
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CanProcessAt("shared", now) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 5 {
		t.Errorf("admitted = %d, want exactly 5", admitted)
	}
	if got := l.TrackedUsers(); got != 1 {
		t.Errorf("tracked users = %d, want 1", got)
	}
}

func TestUserLimiter_ConcurrentDistinctPrincipals(t *testing.T) {
	l, err := NewUserLimiter(Config{Tokens: 1, Interval: "minute"})
	if err != nil {
		t.Fatalf("NewUserLimiter: %v", err)
	}
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", n)
			if !l.CanProcessAt(id, now) {
				t.Errorf("%s first request should be admitted", id)
			}
			if l.CanProcessAt(id, now) {
				t.Errorf("%s second request should be denied", id)
			}
		}(i)
	}
	wg.Wait()
}
