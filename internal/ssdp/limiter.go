package ssdp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Clients repeat M-SEARCH a few times per probe, so the burst covers
	// one full probe and the rate throttles anything chattier.
	searchRate  = rate.Limit(1)
	searchBurst = 4

	limiterSweepInterval = 5 * time.Minute
)

// requesterLimits throttles search responses per requester address so a
// misbehaving client cannot turn the responder into a packet amplifier.
type requesterLimits struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	perIP     map[string]*rate.Limiter
	lastSweep time.Time
}

func newRequesterLimits(limit rate.Limit, burst int) *requesterLimits {
	return &requesterLimits{
		limit:     limit,
		burst:     burst,
		perIP:     make(map[string]*rate.Limiter),
		lastSweep: time.Now(),
	}
}

// Allow reports whether a response to ip is within its allowance.
func (l *requesterLimits) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastSweep) >= limiterSweepInterval {
		l.perIP = make(map[string]*rate.Limiter)
		l.lastSweep = time.Now()
	}

	limiter, ok := l.perIP[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.perIP[ip] = limiter
	}
	return limiter.Allow()
}
