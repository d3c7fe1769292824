// Package proxypool implements contracts.ProxyPool: a scored set of proxy
// endpoints, rate-gated per proxy, with a cooldown that trips after
// repeated failures and clears once the cooldown period elapses.
package proxypool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/deepcrawl/spidercore/internal/contracts"
)

const (
	defaultScore            = 100
	minScoreFloor           = 0
	successScoreStep        = 5
	failureScoreStep        = 10
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
)

type entry struct {
	addr                string
	score               int
	limiter             *rate.Limiter
	consecutiveFailures int
	cooldownUntil       time.Time
}

func (e *entry) inCooldown(now time.Time) bool {
	return now.Before(e.cooldownUntil)
}

// Pool is a round-robin, score- and rate-gated set of proxy endpoints.
type Pool struct {
	mu               sync.Mutex
	entries          []*entry
	next             int
	failureThreshold int
	cooldown         time.Duration
}

// New builds a Pool seeding every addr at the default score, each gated by
// its own token bucket of ratePerSecond tokens with the given burst.
func New(addrs []string, ratePerSecond float64, burst int) *Pool {
	entries := make([]*entry, 0, len(addrs))
	for _, addr := range addrs {
		entries = append(entries, &entry{
			addr:    addr,
			score:   defaultScore,
			limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		})
	}
	return &Pool{
		entries:          entries,
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
	}
}

// Lease implements contracts.ProxyPool: round-robins over proxies scoring
// at least minScore, skipping any in cooldown or currently rate-limited.
func (p *Pool) Lease(ctx context.Context, minScore int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return "", false
	}

	now := time.Now()
	for i := 0; i < len(p.entries); i++ {
		idx := (p.next + i) % len(p.entries)
		e := p.entries[idx]
		if e.score < minScore || e.inCooldown(now) {
			continue
		}
		if !e.limiter.Allow() {
			continue
		}
		p.next = (idx + 1) % len(p.entries)
		return e.addr, true
	}
	return "", false
}

// Release implements contracts.ProxyPool: ok=true nudges the score up and
// clears the failure streak; ok=false nudges the score down and, after
// failureThreshold consecutive failures, opens a cooldown window — the
// same "trip after repeated failures, recover after a timeout" shape as a
// circuit breaker, scoped to a single proxy instead of the whole pool.
func (p *Pool) Release(proxy string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.addr != proxy {
			continue
		}
		if ok {
			e.consecutiveFailures = 0
			e.score += successScoreStep
			if e.score > defaultScore {
				e.score = defaultScore
			}
			return
		}
		e.consecutiveFailures++
		e.score -= failureScoreStep
		if e.score < minScoreFloor {
			e.score = minScoreFloor
		}
		if e.consecutiveFailures >= p.failureThreshold {
			e.cooldownUntil = time.Now().Add(p.cooldown)
			e.consecutiveFailures = 0
		}
		return
	}
}

var _ contracts.ProxyPool = (*Pool)(nil)
