package cron

import (
	"sync"
	"time"
)

// ScheduleStatus is the lifecycle state of a scheduled job.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusIdle      ScheduleStatus = "idle"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCanceled  ScheduleStatus = "canceled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusStopped   ScheduleStatus = "stopped"
)

// Terminal reports whether the job will not run again.
func (s ScheduleStatus) Terminal() bool {
	switch s {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

// Handle observes and controls one scheduled job.
type Handle interface {
	ID() int64
	Cancel()
	Status() ScheduleStatus
	// Err is the error of the most recent run, if it failed.
	Err() error
	// Runs counts started runs.
	Runs() int
	LastRun() time.Time
	// Done is closed once the job reaches a terminal status.
	Done() <-chan struct{}
}

type jobHandle struct {
	scheduler *Scheduler
	id        int64
	entryID   int
	done      chan struct{}
	once      sync.Once
	closeOnce sync.Once

	mu      sync.RWMutex
	status  ScheduleStatus
	err     error
	runs    int
	lastRun time.Time
}

func (h *jobHandle) ID() int64 {
	if h == nil {
		return 0
	}
	return h.id
}

// Cancel removes the job from the scheduler. A run already in progress is
// not interrupted.
func (h *jobHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.scheduler != nil {
			h.scheduler.removeHandle(h.id)
		}
		h.terminate(ScheduleStatusCanceled, nil)
	})
}

func (h *jobHandle) Status() ScheduleStatus {
	if h == nil {
		return ScheduleStatusStopped
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *jobHandle) Err() error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

func (h *jobHandle) Runs() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runs
}

func (h *jobHandle) LastRun() time.Time {
	if h == nil {
		return time.Time{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastRun
}

func (h *jobHandle) Done() <-chan struct{} {
	if h == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.done
}

// begin marks a run as started. It returns false when the job is already
// terminal and must not run.
func (h *jobHandle) begin(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.Terminal() {
		return false
	}
	h.status = ScheduleStatusRunning
	h.runs++
	h.lastRun = now
	return true
}

// finish records the outcome of a recurring run. A failed run leaves the
// job idle so the next tick runs it again; Err keeps the failure until a
// run succeeds. A terminal status set by Cancel or Stop is kept.
func (h *jobHandle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
	if h.status.Terminal() {
		return
	}
	h.status = ScheduleStatusIdle
}

// terminate moves the job to a final status. The first terminal status
// wins.
func (h *jobHandle) terminate(status ScheduleStatus, err error) {
	h.mu.Lock()
	if !h.status.Terminal() {
		h.status = status
		if err != nil {
			h.err = err
		}
	}
	h.mu.Unlock()

	h.closeOnce.Do(func() { close(h.done) })
}
