// Package session provides conversation-scoped execution: stable session
// keys and a queue that serializes handler execution per key.
package session

import (
	"context"
	"fmt"
	"sync"
)

// Task is a unit of work executed under a session key.
type Task func(ctx context.Context) error

// Queue guarantees that tasks sharing a key never run concurrently, while
// tasks for distinct keys run independently. Within a key, tasks run in
// strict submission order. A failing (or panicking) task never wedges its
// key; the next queued task still runs.
type Queue struct {
	mu   sync.Mutex
	keys map[string]*keyQueue
}

type keyQueue struct {
	pending []*job
	active  bool
}

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{keys: make(map[string]*keyQueue)}
}

// Run enqueues fn behind any running or queued task sharing key and blocks
// until it has executed, returning the task's own outcome. If ctx is
// cancelled while waiting, Run returns early with the context error; the
// task still executes in its turn so per-key ordering is preserved.
func (q *Queue) Run(ctx context.Context, key string, fn Task) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	kq, ok := q.keys[key]
	if !ok {
		kq = &keyQueue{}
		q.keys[key] = kq
	}
	kq.pending = append(kq.pending, j)
	if !kq.active {
		kq.active = true
		go q.drain(key)
	}
	q.mu.Unlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain executes queued jobs for one key in FIFO order. When the queue for
// the key empties, the key's state is removed so idle conversations don't
// retain memory.
func (q *Queue) drain(key string) {
	for {
		q.mu.Lock()
		kq := q.keys[key]
		if len(kq.pending) == 0 {
			delete(q.keys, key)
			q.mu.Unlock()
			return
		}
		j := kq.pending[0]
		kq.pending = kq.pending[1:]
		q.mu.Unlock()

		j.done <- safeCall(j.ctx, j.fn)
	}
}

// safeCall runs the task, converting a panic into an error so one bad
// handler can't take down the key's worker.
func safeCall(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(ctx)
}

// PendingKeys returns the number of keys with queued or running work.
func (q *Queue) PendingKeys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}
