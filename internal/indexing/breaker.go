package indexing

import (
	"context"
	"sync"
	"time"
)

/*
breaker pauses a batch after consecutive upstream-API failures so a
struggling provider is not hammered by the remaining jobs. The count
resets on any successful job, and a full cooldown also resets it so
the pipeline probes again instead of stalling forever.
*/
type breaker struct {
	mu        sync.Mutex
	count     int
	threshold int
	cooldown  time.Duration
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
}

func (b *breaker) reset() {
	b.mu.Lock()
	b.count = 0
	b.mu.Unlock()
}

func (b *breaker) failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// open reports whether the consecutive-failure count has reached the
// threshold.
func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count >= b.threshold
}

// waitIfOpen blocks for the cooldown when the breaker is open,
// honoring ctx. A completed cooldown zeroes the count; an interrupted
// one leaves it untouched and returns ctx.Err().
func (b *breaker) waitIfOpen(ctx context.Context) error {
	if !b.open() {
		return nil
	}
	timer := time.NewTimer(b.cooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	b.reset()
	return nil
}
