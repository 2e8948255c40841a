package async

import (
	"context"
	"sync"
	"time"
)

// vacuumPacer decides whether a scheduled vacuum attempt should run and
// how hard to push when it fails. Two concerns share the one type
// because they feed on the same failure signal:
//
//   - within a tick, a failed vacuum is retried a couple of times with
//     doubling delays. A foreground writer briefly holding write.lock is
//     the common transient cause and is usually gone within a second.
//   - across ticks, consecutive failed ticks accumulate strikes. At the
//     strike limit the pacer holds off for a cool-off period, so a
//     structurally broken catalog (corrupt store, undeletable sidecars)
//     stops being hammered every interval and fails fast instead.
//
// The zero-timeout try-lock every foreground mutation uses is
// deliberately not routed through this: a second process already
// writing must abort immediately, never wait or retry. The scheduler's
// periodic tick is the one place in the catalog where retrying a failed
// durable operation is the right behavior.
type vacuumPacer struct {
	retries     int           // extra in-tick attempts after the first
	baseDelay   time.Duration // before the first retry; doubles per retry
	maxDelay    time.Duration
	strikeLimit int
	coolOff     time.Duration

	mu        sync.Mutex
	strikes   int
	holdUntil time.Time
}

func newVacuumPacer(coolOff time.Duration) *vacuumPacer {
	return &vacuumPacer{
		retries:     2,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    5 * time.Second,
		strikeLimit: 3,
		coolOff:     coolOff,
	}
}

// ready reports whether attempts are currently allowed, i.e. the pacer
// is not inside a cool-off window.
func (p *vacuumPacer) ready(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !now.Before(p.holdUntil)
}

// run executes attempt with the in-tick retry schedule, records the
// tick's outcome against the strike count, and returns the last error.
func (p *vacuumPacer) run(ctx context.Context, attempt func() error) error {
	var err error
	delay := p.baseDelay
	for try := 0; ; try++ {
		err = attempt()
		if err == nil || try >= p.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
	p.record(err)
	return err
}

func (p *vacuumPacer) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.strikes = 0
		p.holdUntil = time.Time{}
		return
	}
	p.strikes++
	if p.strikes >= p.strikeLimit {
		p.holdUntil = time.Now().Add(p.coolOff)
		p.strikes = 0
	}
}
