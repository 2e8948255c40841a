// Package async runs catalog maintenance in the background, outside the
// request path of any foreground search or mutation.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nightshadow92/cbird/internal/index"
)

// VacuumTarget is the subset of the catalog façade the scheduler needs.
// The catalog itself satisfies this directly.
type VacuumTarget interface {
	Vacuum(ctx context.Context) (*index.CheckResult, error)
	LastActivity() time.Time
}

// VacuumScheduler runs Vacuum periodically on an idle catalog: no record
// added more recently than idleTimeout, and no foreground mutation or
// external writer in flight (enforced by Vacuum's own write-lock
// acquisition, not by this scheduler). Failed attempts are paced by a
// vacuumPacer — quick in-tick retries for transient failures, a
// cool-off of one scheduler interval after repeated broken ticks.
type VacuumScheduler struct {
	target      VacuumTarget
	interval    time.Duration
	idleTimeout time.Duration
	pacer       *vacuumPacer

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	lastErr error
}

// NewVacuumScheduler builds a scheduler that attempts a vacuum every
// interval, skipping the attempt whenever the catalog saw activity
// within idleTimeout.
func NewVacuumScheduler(target VacuumTarget, interval, idleTimeout time.Duration) *VacuumScheduler {
	return &VacuumScheduler{
		target:      target,
		interval:    interval,
		idleTimeout: idleTimeout,
		pacer:       newVacuumPacer(interval),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the scheduler loop in a background goroutine. Non-blocking.
func (v *VacuumScheduler) Start(ctx context.Context) {
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return
	}
	v.running = true
	v.mu.Unlock()

	go v.run(ctx)
}

func (v *VacuumScheduler) run(ctx context.Context) {
	defer close(v.doneCh)
	defer func() {
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
	}()

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.stopCh:
			return
		case <-ticker.C:
			v.attempt(ctx)
		}
	}
}

func (v *VacuumScheduler) attempt(ctx context.Context) {
	if since := time.Since(v.target.LastActivity()); since < v.idleTimeout {
		slog.Debug("vacuum scheduler: skipping, catalog not idle long enough",
			slog.Duration("since_last_activity", since), slog.Duration("idle_timeout", v.idleTimeout))
		return
	}

	if !v.pacer.ready(time.Now()) {
		slog.Debug("vacuum scheduler: skipping, cooling off after repeated failures")
		return
	}

	err := v.pacer.run(ctx, func() error {
		_, err := v.target.Vacuum(ctx)
		return err
	})
	if err != nil {
		slog.Warn("vacuum scheduler: attempt failed", slog.String("error", err.Error()))
		v.mu.Lock()
		v.lastErr = err
		v.mu.Unlock()
		return
	}
	slog.Info("vacuum scheduler: completed a scheduled vacuum")
}

// Stop signals the loop to exit and waits for it to finish.
func (v *VacuumScheduler) Stop() {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	close(v.stopCh)
	<-v.doneCh
}

// LastError returns the error from the most recent failed attempt, if any.
func (v *VacuumScheduler) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}
