// Package scheduler owns the refresh cadence: a single long-lived loop that
// invokes the fetch pipeline at the configured interval, supports manual
// rate-limited triggering and survives fetch failures indefinitely.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"feedhub/models"

	log "github.com/sirupsen/logrus"
)

// Refresher runs one fetch batch over all registered feeds
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Notifier fans an event out to every connected subscriber
type Notifier interface {
	Broadcast(envelope models.Envelope)
}

// Config for a Scheduler. Zero durations fall back to the defaults used in
// production.
type Config struct {
	Refresher Refresher
	Notifier  Notifier

	// Tick is the countdown granularity, one second by default
	Tick time.Duration

	// Cooldown is the minimum spacing between a completed fetch and the
	// next manual trigger, 30 seconds by default
	Cooldown time.Duration

	// IdleWait is how long the loop sleeps while disabled or after an
	// error, 30 seconds by default
	IdleWait time.Duration

	// StartupDelay postpones the first fetch so the process can finish
	// wiring, 10 seconds by default
	StartupDelay time.Duration
}

type Scheduler struct {
	refresher Refresher
	notifier  Notifier

	tick         time.Duration
	cooldown     time.Duration
	idleWait     time.Duration
	startupDelay time.Duration

	intervalMinutes atomic.Int64
	lastFetch       atomic.Int64 // unix nanos of the last completed fetch

	// Single-slot wake signal. Setting it while already set is a no-op so
	// at most one interrupt is ever pending.
	wake chan struct{}
}

func New(config Config) *Scheduler {
	scheduler := &Scheduler{
		refresher:    config.Refresher,
		notifier:     config.Notifier,
		tick:         config.Tick,
		cooldown:     config.Cooldown,
		idleWait:     config.IdleWait,
		startupDelay: config.StartupDelay,
		wake:         make(chan struct{}, 1),
	}
	if scheduler.tick == 0 {
		scheduler.tick = time.Second
	}
	if scheduler.cooldown == 0 {
		scheduler.cooldown = 30 * time.Second
	}
	if scheduler.idleWait == 0 {
		scheduler.idleWait = 30 * time.Second
	}
	return scheduler
}

// SetRefreshRate updates the refresh interval in minutes. Zero or less
// disables automatic fetching.
func (s *Scheduler) SetRefreshRate(minutes int) {
	s.intervalMinutes.Store(int64(minutes))
	log.WithFields(log.Fields{
		"minutes": minutes,
	}).Info("Refresh rate updated")
}

func (s *Scheduler) RefreshRate() int {
	return int(s.intervalMinutes.Load())
}

// Trigger requests an immediate refresh. Requests within the cooldown window
// of the last completed fetch are ignored and reported as not accepted.
func (s *Scheduler) Trigger() bool {
	last := s.lastFetch.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < s.cooldown {
		return false
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Run is the scheduler loop. It only returns when the context is cancelled,
// every failure inside a cycle is reported and followed by a bounded wait.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info("Scheduler started")

	if s.startupDelay > 0 {
		s.wait(ctx, s.startupDelay)
	}

	for ctx.Err() == nil {
		s.cycle(ctx)
	}

	log.Info("Scheduler stopped")
}

// cycle runs one pass of the state machine: Disabled wait, or
// Fetching followed by CountingDown.
func (s *Scheduler) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"panic": r,
			}).Error("Recovered scheduler cycle")
			s.notifier.Broadcast(models.ErrorEnvelope("background fetch error"))
			s.wait(ctx, s.idleWait)
		}
	}()

	interval := time.Duration(s.intervalMinutes.Load()) * time.Minute
	if interval <= 0 {
		// Disabled. A manual trigger still runs a one-off fetch.
		if s.wait(ctx, s.idleWait) {
			s.fetch(ctx)
		}
		return
	}

	if !s.fetch(ctx) {
		// Failed fetches already waited out the backoff, restart the
		// cycle instead of counting down
		return
	}

	remaining := int(interval / s.tick)
	for remaining > 0 {
		if ctx.Err() != nil {
			return
		}
		// Re-evaluate the configured interval each tick so a runtime
		// rate change takes effect without waiting out the countdown
		if s.intervalMinutes.Load() <= 0 {
			return
		}

		ticks := remaining
		s.notifier.Broadcast(models.Envelope{Type: models.EventCountdown, Remaining: &ticks})

		if s.wait(ctx, s.tick) {
			// Interrupted, short-circuit back to Fetching
			return
		}
		remaining--
	}
}

func (s *Scheduler) fetch(ctx context.Context) bool {
	newCount, err := s.refresher.Refresh(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Error refreshing feeds")
		s.notifier.Broadcast(models.ErrorEnvelope("background fetch error"))
		s.wait(ctx, s.idleWait)
		return false
	}

	s.lastFetch.Store(time.Now().UnixNano())
	log.WithFields(log.Fields{
		"new": newCount,
	}).Info("Scheduled refresh complete")
	return true
}

// wait sleeps for the duration, returning early with true when interrupted
// by Trigger. Consuming the wake signal resets the single pending interrupt.
func (s *Scheduler) wait(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
		return true
	case <-timer.C:
		return false
	}
}
