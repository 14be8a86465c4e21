package reviewapi

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// perIPLimiterStore is a minimal echo middleware.RateLimiterStore backed
// directly by golang.org/x/time/rate, rather than echo's built-in
// in-memory store, so the dependency is exercised explicitly.
type perIPLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPerIPLimiterStore(requestsPerSecond float64, burst int) *perIPLimiterStore {
	return &perIPLimiterStore{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (s *perIPLimiterStore) Allow(identifier string) (bool, error) {
	s.mu.Lock()
	l, ok := s.limiters[identifier]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[identifier] = l
	}
	s.mu.Unlock()
	return l.Allow(), nil
}

func clientIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
