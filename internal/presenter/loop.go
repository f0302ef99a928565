// Package presenter owns the client-side view state: the entity stores, the
// optimistic tracker, the ingestors feeding them and the virtualized windows
// handed to the renderer.
package presenter

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when posting to a loop that has stopped.
var ErrClosed = errors.New("presenter loop closed")

type task struct {
	fn   func()
	done chan struct{}
}

// Batch hooks run around every batch of tasks drained in one wake-up.
type Batch struct {
	Before func()
	After  func()
}

// Loop serializes every view mutation on one goroutine. Tasks queued while a
// batch runs are folded into it; hooks run once per batch.
type Loop struct {
	tasks  chan task
	stop   chan struct{}
	once   sync.Once
	hooks  []Batch
	logger *zap.Logger
}

// NewLoop creates a loop with room for buffer queued tasks.
func NewLoop(buffer int, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		tasks:  make(chan task, max(buffer, 1)),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// Hook registers batch hooks. It must be called before Run.
func (l *Loop) Hook(b Batch) {
	l.hooks = append(l.hooks, b)
}

// Post queues fn. It blocks while the queue is full.
func (l *Loop) Post(fn func()) error {
	return l.post(task{fn: fn})
}

// Do runs fn on the loop and waits until the batch containing it finished,
// hooks included. It must not be called from the loop itself.
func (l *Loop) Do(fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	if err := l.post(t); err != nil {
		return err
	}
	select {
	case <-t.done:
		return nil
	case <-l.stop:
		return ErrClosed
	}
}

func (l *Loop) post(t task) error {
	select {
	case <-l.stop:
		return ErrClosed
	default:
	}
	select {
	case l.tasks <- t:
		return nil
	case <-l.stop:
		return ErrClosed
	}
}

// Run processes tasks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()
	var waiting []chan struct{}
	for {
		var first task
		select {
		case first = <-l.tasks:
		case <-ctx.Done():
			l.logger.Debug("presenter loop stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-l.stop:
			return ErrClosed
		}

		for _, h := range l.hooks {
			if h.Before != nil {
				h.Before()
			}
		}
		waiting = l.exec(first, waiting[:0])
	drain:
		for {
			select {
			case t := <-l.tasks:
				waiting = l.exec(t, waiting)
			default:
				break drain
			}
		}
		for _, h := range l.hooks {
			if h.After != nil {
				h.After()
			}
		}
		for _, d := range waiting {
			close(d)
		}
	}
}

// Close stops the loop. Queued tasks are dropped.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Loop) exec(t task, waiting []chan struct{}) []chan struct{} {
	t.fn()
	if t.done != nil {
		waiting = append(waiting, t.done)
	}
	return waiting
}
