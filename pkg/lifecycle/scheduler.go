package lifecycle

import (
	"time"

	"k8s.io/utils/clock"
)

// Task is a handle to a scheduled callback.
type Task interface {
	// Cancel prevents the callback from running. It returns false if the
	// callback already ran or was already cancelled.
	Cancel() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Task
}

// ClockScheduler schedules callbacks on a clock. When the timer fires the
// callback is handed to Post, which moves it onto the owner's thread of
// control. A nil Post runs the callback on the timer goroutine.
type ClockScheduler struct {
	Clock clock.WithDelayedExecution
	Post  func(func())
}

// Schedule implements Scheduler.
func (s ClockScheduler) Schedule(d time.Duration, fn func()) Task {
	post := s.Post
	t := s.Clock.AfterFunc(d, func() {
		if post != nil {
			post(fn)
			return
		}
		fn()
	})
	return timerTask{t: t}
}

type timerTask struct {
	t clock.Timer
}

func (t timerTask) Cancel() bool {
	return t.t.Stop()
}

// execution tracks a scheduled simulated run for one workload.
type execution struct {
	token     uint64
	task      Task
	startedAt time.Time
	resolveAt time.Time
}

// cancel stops the pending resolution.
func (e *execution) cancel() {
	if e.task != nil {
		e.task.Cancel()
	}
}
