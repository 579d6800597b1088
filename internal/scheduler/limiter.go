package scheduler

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token-bucket rate limiter shared by all workers of one
// backend. It supports both a requests-per-second and a requests-per-minute
// ceiling; the stricter of the two wins. Zero for both means unlimited.
type Limiter struct {
	mu        sync.Mutex
	rate      float64 // tokens replenished per second
	maxTokens float64
	available float64
	last      time.Time
	unlimited bool
}

func NewLimiter(rps, rpm int) *Limiter {
	l := &Limiter{}
	if rps <= 0 && rpm <= 0 {
		l.unlimited = true
		return l
	}

	perSecond := float64(rps)
	if rps <= 0 {
		perSecond = float64(rpm) // only rpm set; bounded below
	}
	perMinute := float64(rpm) / 60
	if rpm <= 0 {
		perMinute = perSecond
	}

	l.rate = perSecond
	if perMinute < l.rate {
		l.rate = perMinute
	}
	l.maxTokens = l.rate
	if l.maxTokens < 1 {
		l.maxTokens = 1
	}
	l.available = l.maxTokens
	l.last = time.Now()
	return l
}

// Wait blocks until a dispatch token is available or ctx is done. It holds
// the lock only to account tokens, never across the sleep.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.unlimited {
		return ctx.Err()
	}

	for {
		l.mu.Lock()
		now := time.Now()
		l.available += now.Sub(l.last).Seconds() * l.rate
		if l.available > l.maxTokens {
			l.available = l.maxTokens
		}
		l.last = now

		if l.available >= 1 {
			l.available--
			l.mu.Unlock()
			return nil
		}
		sleep := time.Duration((1 - l.available) / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
