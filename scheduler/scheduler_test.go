package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedhub/models"
	"feedhub/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls atomic.Int64
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 0, f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Envelope
}

func (n *recordingNotifier) Broadcast(envelope models.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, envelope)
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, event := range n.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func newTestScheduler(refresher scheduler.Refresher, notifier scheduler.Notifier, cooldown time.Duration) *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{
		Refresher: refresher,
		Notifier:  notifier,
		Tick:      5 * time.Millisecond,
		Cooldown:  cooldown,
		IdleWait:  10 * time.Millisecond,
	})
}

func TestDisabledScheduleNeverFetches(t *testing.T) {
	refresher := &fakeRefresher{}
	sched := newTestScheduler(refresher, &recordingNotifier{}, time.Second)
	sched.SetRefreshRate(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int64(0), refresher.calls.Load())
}

func TestEnabledScheduleFetchesAndCountsDown(t *testing.T) {
	refresher := &fakeRefresher{}
	notifier := &recordingNotifier{}
	sched := newTestScheduler(refresher, notifier, time.Second)
	sched.SetRefreshRate(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, refresher.calls.Load(), int64(1))
	assert.Greater(t, notifier.count(models.EventCountdown), 0)
}

func TestTriggerCooldown(t *testing.T) {
	refresher := &fakeRefresher{}
	sched := newTestScheduler(refresher, &recordingNotifier{}, 500*time.Millisecond)
	sched.SetRefreshRate(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	// Two triggers in quick succession collapse into one pending wake
	sched.Trigger()
	sched.Trigger()

	require.Eventually(t, func() bool {
		return refresher.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Within the cooldown window of the completed fetch the trigger is
	// rejected and no further fetch happens
	assert.False(t, sched.Trigger())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), refresher.calls.Load())

	cancel()
	<-done
}

func TestTriggerWhileDisabledRunsOneFetch(t *testing.T) {
	refresher := &fakeRefresher{}
	sched := newTestScheduler(refresher, &recordingNotifier{}, time.Millisecond)
	sched.SetRefreshRate(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	assert.True(t, sched.Trigger())
	require.Eventually(t, func() bool {
		return refresher.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRefreshErrorKeepsLoopAlive(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("upstream exploded")}
	notifier := &recordingNotifier{}
	sched := newTestScheduler(refresher, notifier, time.Millisecond)
	sched.SetRefreshRate(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	// The loop reports the failure and keeps running through the backoff
	require.Eventually(t, func() bool {
		return refresher.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Greater(t, notifier.count(models.EventError), 0)

	cancel()
	<-done
}

func TestSetRefreshRateTakesEffect(t *testing.T) {
	sched := newTestScheduler(&fakeRefresher{}, &recordingNotifier{}, time.Second)

	assert.Equal(t, 0, sched.RefreshRate())
	sched.SetRefreshRate(5)
	assert.Equal(t, 5, sched.RefreshRate())
	sched.SetRefreshRate(-1)
	assert.Equal(t, -1, sched.RefreshRate())
}
