package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrDisposed is returned by engine commands after Dispose.
var ErrDisposed = errors.New("engine disposed")

// loop is the single thread of control that every state mutation runs on.
type loop struct {
	work    chan func()
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newLoop() *loop {
	l := &loop{
		work:    make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.stopped)
	for {
		select {
		case fn := <-l.work:
			fn()
		case <-l.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it to finish.
func (l *loop) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case l.work <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrDisposed
	}
	// an accepted task always runs to completion
	<-done
	return nil
}

// post hands fn to the loop without waiting for it to run. It is dropped
// once the loop has stopped.
func (l *loop) post(fn func()) {
	select {
	case l.work <- fn:
	case <-l.stopped:
	}
}

func (l *loop) stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.stopped
}
