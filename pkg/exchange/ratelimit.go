package exchange

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiter wraps golang.org/x/time/rate with the cool-down-on-server-rejection behavior the spec
// calls for: Acquire blocks on the nominal bucket, but after the exchange reports a rate-limit
// error the bucket is swapped for a reduced-rate one for a fixed window before being restored.
// The teacher's own pkg/exchanges/common.RateLimiter only tracks used-weight from response
// headers for logging; it cannot block a caller, so it is not reused here (see SPEC_FULL.md §10).
type limiter struct {
	mu          sync.Mutex
	nominal     *rate.Limiter
	current     *rate.Limiter
	nominalRPS  int
	cooldownEnd time.Time
}

func newLimiter(rps int) *limiter {
	if rps <= 0 {
		rps = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), rps)
	return &limiter{nominal: l, current: l, nominalRPS: rps}
}

// Acquire blocks until a token is available on whichever bucket is currently active.
func (l *limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.cooldownEnd.IsZero() && time.Now().After(l.cooldownEnd) {
		l.current = l.nominal
		l.cooldownEnd = time.Time{}
	}
	cur := l.current
	l.mu.Unlock()
	return cur.Wait(ctx)
}

// EnterCooldown is called after the exchange rejects a request for exceeding its rate limit.
// It sleeps the suggested delay (or a default) and installs a reduced-rate bucket for the
// cool-down window, resolving the spec's Open Question: sleep inside the client, then let the
// caller decide whether to retry via the returned ExchangeError.
func (l *limiter) EnterCooldown(ctx context.Context, suggestedDelay time.Duration, window time.Duration) {
	if suggestedDelay <= 0 {
		suggestedDelay = 5 * time.Second
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	log.Printf("exchange: rate limit hit, sleeping %s before resuming at reduced rate", suggestedDelay)
	select {
	case <-time.After(suggestedDelay):
	case <-ctx.Done():
		return
	}

	reducedRPS := l.nominalRPS / 4
	if reducedRPS < 1 {
		reducedRPS = 1
	}
	l.mu.Lock()
	l.current = rate.NewLimiter(rate.Limit(reducedRPS), reducedRPS)
	l.cooldownEnd = time.Now().Add(window)
	l.mu.Unlock()
}
