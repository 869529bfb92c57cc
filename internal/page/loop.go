// Package page implements an in-memory rendered page: an HTML tree owned by a
// single event-loop goroutine, with capture-phase click dispatch, subtree
// mutation batches and a transient notification overlay.
package page

import (
	"sync"

	"go.uber.org/zap"
)

// Loop runs posted tasks one at a time on its own goroutine, in post order.
// Posting never blocks, so tasks may post follow-up tasks.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
	logger *zap.Logger
}

// NewLoop starts a loop goroutine.
func NewLoop(logger *zap.Logger) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Post queues task. It returns false once the loop is closed.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs task on the loop and waits for it. Never call Do from a task.
func (l *Loop) Do(task func()) {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		task()
	}) {
		return
	}
	select {
	case <-finished:
	case <-l.done:
	}
}

// Flush waits until the queue is empty, including tasks posted while draining.
func (l *Loop) Flush() {
	for {
		l.Do(func() {})
		l.mu.Lock()
		n, closed := len(l.queue), l.closed
		l.mu.Unlock()
		if n == 0 || closed {
			return
		}
	}
}

// Close stops accepting tasks; queued tasks still run.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(task)
	}
}

// exec runs one task. A panicking task is logged and the loop keeps going,
// the way an uncaught script error does not take the page down.
func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("page task panicked", zap.Any("panic", r))
		}
	}()
	task()
}
