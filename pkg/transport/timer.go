package transport

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/logging"
)

// TimerCallback runs when a timer fires, on the timer's own goroutine.
type TimerCallback func()

// TimerKey names a pending timer. Controllers key bootstrap retries by router id.
type TimerKey uint64

// Timer is one scheduled callback.
type Timer struct {
	ID       TimerKey
	Duration time.Duration
	Callback TimerCallback
	Stop     chan struct{}
}

// TimerManager runs one-shot timers keyed by TimerKey. Scheduling a key that is already
// pending replaces the old timer.
type TimerManager struct {
	mu      sync.Mutex
	timers  map[TimerKey]*Timer
	stopAll chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewTimerManager() *TimerManager {
	return &TimerManager{
		timers:  make(map[TimerKey]*Timer),
		stopAll: make(chan struct{}),
	}
}

// Schedule runs callback once after duration. It does nothing after Stop.
func (tm *TimerManager) Schedule(id TimerKey, duration time.Duration, callback TimerCallback) {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	// Drop the old entry before closing so StopTimer never closes it twice.
	if existing, exists := tm.timers[id]; exists {
		delete(tm.timers, id)
		close(existing.Stop)
	}

	t := &Timer{
		ID:       id,
		Duration: duration,
		Callback: callback,
		Stop:     make(chan struct{}),
	}
	tm.timers[id] = t
	tm.wg.Add(1)
	tm.mu.Unlock()

	go func(t *Timer) {
		defer tm.wg.Done()

		tt := time.NewTimer(t.Duration)
		defer tt.Stop()

		select {
		case <-tt.C:
			tm.executeCallback(t)
		case <-t.Stop:
		case <-tm.stopAll:
		}
	}(t)
}

// StopTimer cancels a pending timer and reports whether one existed.
func (tm *TimerManager) StopTimer(id TimerKey) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if timer, exists := tm.timers[id]; exists {
		close(timer.Stop)
		delete(tm.timers, id)
		return true
	}
	return false
}

// HasTimer reports whether id is pending.
func (tm *TimerManager) HasTimer(id TimerKey) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	_, exists := tm.timers[id]
	return exists
}

// executeCallback runs t's callback unless t was replaced or stopped meanwhile. No lock is
// held while user code runs.
func (tm *TimerManager) executeCallback(t *Timer) {
	tm.mu.Lock()
	current, exists := tm.timers[t.ID]
	if !exists || current != t {
		tm.mu.Unlock()
		return
	}
	delete(tm.timers, t.ID)
	tm.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Timer callback panicked", zap.Uint64("timer", uint64(t.ID)), zap.Any("panic", r))
		}
	}()

	t.Callback()
}

// Stop cancels all timers and waits for running callbacks to return.
func (tm *TimerManager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	close(tm.stopAll)
	tm.timers = make(map[TimerKey]*Timer)
	tm.mu.Unlock()
	tm.wg.Wait()
}
