package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	successesBeforeSpeedup = 3
	failuresBeforeSlowdown = 2
)

// AdaptiveLimiter paces requests with a single delay that shrinks after a run
// of successes and grows after a run of failures. The delay always stays
// within [minDelay, maxDelay]. One limiter is shared by every worker.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	minDelay    time.Duration
	maxDelay    time.Duration
	factor      float64 // > 1
	current     time.Duration
	lastRequest time.Time
	successes   int
	failures    int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *logrus.Entry
}

// NewAdaptiveLimiter creates a limiter starting at minDelay.
// factor must be > 1; speeding up divides the delay by it, slowing down multiplies.
func NewAdaptiveLimiter(minDelay, maxDelay time.Duration, factor float64, log *logrus.Entry) *AdaptiveLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if factor <= 1 {
		factor = 1.5
	}
	return &AdaptiveLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		factor:   factor,
		current:  minDelay,
		now:      time.Now,
		sleep:    sleepContext,
		log:      log,
	}
}

// Wait blocks until current delay has elapsed since the previous request,
// then marks the start of a new request.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	var pause time.Duration
	if !l.lastRequest.IsZero() {
		pause = l.current - l.now().Sub(l.lastRequest)
	}
	l.mu.Unlock()

	if pause > 0 {
		l.log.WithField("sleep", pause).Trace("Adaptive limiter sleeping")
		if err := l.sleep(ctx, pause); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.lastRequest = l.now()
	l.mu.Unlock()
	return nil
}

// RecordSuccess counts a fetched URL; every third consecutive success shortens the delay.
func (l *AdaptiveLimiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures = 0
	l.successes++
	if l.successes < successesBeforeSpeedup {
		return
	}
	l.successes = 0
	prev := l.current
	l.current = time.Duration(float64(l.current) / l.factor)
	if l.current < l.minDelay {
		l.current = l.minDelay
	}
	if l.current != prev {
		l.log.WithFields(logrus.Fields{"from": prev, "to": l.current}).Debug("Adaptive limiter speeding up")
	}
}

// RecordFailure counts a URL that failed on every host; every second
// consecutive failure lengthens the delay.
func (l *AdaptiveLimiter) RecordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.successes = 0
	l.failures++
	if l.failures < failuresBeforeSlowdown {
		return
	}
	l.failures = 0
	prev := l.current
	l.current = time.Duration(float64(l.current) * l.factor)
	if l.current > l.maxDelay {
		l.current = l.maxDelay
	}
	if l.current != prev {
		l.log.WithFields(logrus.Fields{"from": prev, "to": l.current}).Info("Adaptive limiter slowing down")
	}
}

// CurrentDelay returns the delay applied between requests.
func (l *AdaptiveLimiter) CurrentDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
