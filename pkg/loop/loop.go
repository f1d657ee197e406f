// Package loop provides a single-goroutine task queue. State owned by a Loop is only
// touched from tasks running on it, which is how the network side and the UI side of
// a replica hand work to each other without sharing locks.
package loop

import (
	"context"
	"errors"
	"sync"
)

var ErrStopped = errors.New("loop stopped")

// Task runs on the loop goroutine. The context is the one passed to Run.
type Task func(ctx context.Context)

type Loop struct {
	name     string
	tasks    chan Task
	stopped  chan struct{}
	stopOnce sync.Once
}

func New(name string, buffer int) *Loop {
	if buffer < 1 {
		buffer = 1
	}
	return &Loop{
		name:    name,
		tasks:   make(chan Task, buffer),
		stopped: make(chan struct{}),
	}
}

func (l *Loop) Name() string {
	return l.name
}

// Run executes posted tasks in order until ctx is done. A Loop runs once.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stopOnce.Do(func() { close(l.stopped) })
	for {
		// prefer stopping over draining once the context is gone
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case task := <-l.tasks:
			task(ctx)
		}
	}
}

// Post queues a task. It blocks while the queue is full and returns false once the
// loop has stopped.
func (l *Loop) Post(task Task) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.tasks <- task:
		return true
	case <-l.stopped:
		return false
	}
}

// Do queues a task and waits for it to finish.
func (l *Loop) Do(ctx context.Context, task Task) error {
	done := make(chan struct{})
	if !l.Post(func(ctx context.Context) {
		defer close(done)
		task(ctx)
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		// the task may have been queued but never run
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped is closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}
