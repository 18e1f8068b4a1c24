package gateway

import (
	"sync"
	"time"

	"github.com/harun/parley/pkg/clock"
)

const (
	DefaultRequestsPerMinute = 120
	DefaultMaxConcurrent     = 10
)

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	clock              clock.Clock
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
}

// NewClientRateLimiter creates a new rate limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(DefaultRequestsPerMinute, DefaultMaxConcurrent)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return newClientRateLimiter(clock.Real(), requestsPerMinute, maxConcurrent)
}

func newClientRateLimiter(c clock.Clock, requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &ClientRateLimiter{
		clock:             c,
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		requests:          make([]time.Time, 0),
	}
}

// Acquire admits a request if both limits allow it and records its start.
// The caller must call RecordRequestEnd once the request completes.
func (r *ClientRateLimiter) Acquire() (bool, int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests >= r.maxConcurrent {
		return false, TooManyConcurrent, "too many concurrent requests"
	}

	r.pruneLocked()
	if len(r.requests) >= r.requestsPerMinute {
		return false, RateLimitExceeded, "rate limit exceeded"
	}

	r.requests = append(r.requests, r.clock.Now())
	r.concurrentRequests++
	return true, 0, ""
}

// RecordRequestEnd records the end of a request
func (r *ClientRateLimiter) RecordRequestEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// UpdateLimits updates the rate limits
func (r *ClientRateLimiter) UpdateLimits(requestsPerMinute, maxConcurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestsPerMinute = requestsPerMinute
	r.maxConcurrent = maxConcurrent
}

// GetStats returns current rate limiter statistics
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return len(r.requests), r.concurrentRequests
}

// Idle reports whether the limiter has no recent or running requests
func (r *ClientRateLimiter) Idle() bool {
	count, running := r.GetStats()
	return count == 0 && running == 0
}

func (r *ClientRateLimiter) pruneLocked() {
	cutoff := r.clock.Now().Add(-time.Minute)
	kept := r.requests[:0]
	for _, reqTime := range r.requests {
		if reqTime.After(cutoff) {
			kept = append(kept, reqTime)
		}
	}
	r.requests = kept
}

// limiterSet holds one limiter per HTTP client address
type limiterSet struct {
	mu                sync.Mutex
	clock             clock.Clock
	requestsPerMinute int
	maxConcurrent     int
	limiters          map[string]*ClientRateLimiter
}

func newLimiterSet(c clock.Clock, requestsPerMinute, maxConcurrent int) *limiterSet {
	return &limiterSet{
		clock:             c,
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		limiters:          make(map[string]*ClientRateLimiter),
	}
}

func (s *limiterSet) get(key string) *ClientRateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.limiters[key]; ok {
		return l
	}
	if len(s.limiters) > 1024 {
		for k, l := range s.limiters {
			if l.Idle() {
				delete(s.limiters, k)
			}
		}
	}
	l := newClientRateLimiter(s.clock, s.requestsPerMinute, s.maxConcurrent)
	s.limiters[key] = l
	return l
}

// update changes the limits of every tracked client and of those seen later
func (s *limiterSet) update(requestsPerMinute, maxConcurrent int) {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestsPerMinute = requestsPerMinute
	s.maxConcurrent = maxConcurrent
	for _, l := range s.limiters {
		l.UpdateLimits(requestsPerMinute, maxConcurrent)
	}
}
