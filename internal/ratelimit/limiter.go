// Package ratelimit provides per-principal admission control for agent
// message handling.
//
// Each principal (end user) gets an independent token bucket, created
// lazily on first admission check. The set of tracked principals is
// bounded: once the configured capacity is reached the least-recently-used
// principal is silently evicted and appears fresh on its next request.
// Buckets live in a sharded LRU so admission checks for different
// principals do not serialize behind a single lock.
package ratelimit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// DefaultMaxUsers bounds the number of principals tracked at once.
	DefaultMaxUsers = 1_000_000

	// DefaultShards is the number of independent LRU segments.
	DefaultShards = 16
)

// Config configures a UserLimiter. Tokens and Interval together define the
// bucket shape: each principal may burst up to Tokens requests and refills
// to full over one Interval.
type Config struct {
	// Tokens is the number of requests granted per interval.
	Tokens int `yaml:"tokens"`

	// Interval is a symbolic unit ("second", "minute", "hour", "day") or
	// a Go duration string such as "30s".
	Interval string `yaml:"interval"`

	// MaxUsers bounds the number of tracked principals (default one million).
	MaxUsers int `yaml:"max_users"`

	// Shards is the number of LRU segments (default 16). Tests that assert
	// exact global LRU order should set this to 1.
	Shards int `yaml:"shards"`
}

// ParseInterval resolves a symbolic interval name or duration string.
func ParseInterval(s string) (time.Duration, error) {
	switch s {
	case "second":
		return time.Second, nil
	case "minute":
		return time.Minute, nil
	case "hour":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid rate limit interval %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid rate limit interval %q: must be positive", s)
	}
	return d, nil
}

// shard is one LRU segment. The mutex covers only bucket lookup, creation,
// and eviction; token consumption happens under the bucket's own lock.
type shard struct {
	mu      sync.Mutex
	buckets *lru.LRU[string, *Bucket]
}

// UserLimiter tracks an independent token bucket per principal inside a
// bounded, LRU-evicting structure. All methods are safe for concurrent use.
type UserLimiter struct {
	shards     []*shard
	capacity   float64
	refillRate float64 // tokens per second
}

// NewUserLimiter validates cfg and builds a limiter. It fails only on
// misconfiguration; admission checks themselves never return errors.
func NewUserLimiter(cfg Config) (*UserLimiter, error) {
	if cfg.Tokens <= 0 {
		return nil, fmt.Errorf("invalid rate limit tokens %d: must be positive", cfg.Tokens)
	}
	interval, err := ParseInterval(cfg.Interval)
	if err != nil {
		return nil, err
	}

	maxUsers := cfg.MaxUsers
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	shardCount := cfg.Shards
	if shardCount <= 0 {
		shardCount = DefaultShards
	}
	if shardCount > maxUsers {
		shardCount = 1
	}

	perShard := maxUsers / shardCount
	if maxUsers%shardCount != 0 {
		perShard++
	}

	l := &UserLimiter{
		shards:     make([]*shard, shardCount),
		capacity:   float64(cfg.Tokens),
		refillRate: float64(cfg.Tokens) / interval.Seconds(),
	}
	for i := range l.shards {
		// NewLRU only fails for non-positive sizes; perShard >= 1 here.
		cache, err := lru.NewLRU[string, *Bucket](perShard, nil)
		if err != nil {
			return nil, fmt.Errorf("build rate limit cache: %w", err)
		}
		l.shards[i] = &shard{buckets: cache}
	}
	return l, nil
}

// CanProcess reports whether the next request from the given principal is
// admitted, consuming one token when it is. A denied principal simply
// receives false; there is no queueing at this layer.
func (l *UserLimiter) CanProcess(principalID string) bool {
	return l.CanProcessAt(principalID, time.Now())
}

// CanProcessAt is CanProcess with an explicit timestamp, for deterministic
// tests.
func (l *UserLimiter) CanProcessAt(principalID string, now time.Time) bool {
	return l.bucketFor(principalID, now).AllowAt(now)
}

// bucketFor returns the principal's bucket, creating it (full) on first
// touch. Creation is race-safe: the shard lock guarantees a single bucket
// per principal, and LRU recency is updated on every lookup.
func (l *UserLimiter) bucketFor(principalID string, now time.Time) *Bucket {
	s := l.shardFor(principalID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if bucket, ok := s.buckets.Get(principalID); ok {
		return bucket
	}

	bucket := NewBucketAt(l.capacity, l.refillRate, now)
	// Add evicts the least-recently-used principal when the shard is full.
	// Eviction is silent: the evicted principal's remaining tokens are
	// discarded and it appears new on its next request.
	s.buckets.Add(principalID, bucket)
	return bucket
}

// ResetUser discards the principal's bucket. Their next request gets a
// fresh, full bucket.
func (l *UserLimiter) ResetUser(principalID string) {
	s := l.shardFor(principalID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets.Remove(principalID)
}

// ResetAll discards every tracked bucket.
func (l *UserLimiter) ResetAll() {
	for _, s := range l.shards {
		s.mu.Lock()
		s.buckets.Purge()
		s.mu.Unlock()
	}
}

// TrackedUsers returns the number of principals currently holding a bucket.
func (l *UserLimiter) TrackedUsers() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += s.buckets.Len()
		s.mu.Unlock()
	}
	return total
}

func (l *UserLimiter) shardFor(principalID string) *shard {
	if len(l.shards) == 1 {
		return l.shards[0]
	}
	h := fnv.New32a()
	h.Write([]byte(principalID))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}
