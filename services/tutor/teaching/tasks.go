// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.

package teaching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// =============================================================================
// Write-Back Task Queue
// =============================================================================

// ErrQueueClosed is returned by Enqueue after the queue has stopped.
var ErrQueueClosed = errors.New("task queue is closed")

// DefaultQueueCapacity sizes the queue so that enqueueing never blocks the
// response path under realistic load. A full queue means persistence has
// fallen thousands of writes behind; blocking briefly at that point is the
// correct backpressure.
const DefaultQueueCapacity = 1024

// Task is one unit of deferred persistence work. Name labels logs when the
// work fails; Run carries the work itself.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskQueue executes persistence tasks on a background worker so that
// memory writes never sit between the model and the student.
//
// # Description
//
// The queue is bounded. Tasks are executed in enqueue order by a single
// worker goroutine. Failures and panics are logged and counted, never
// propagated: a lost interaction record must not take the service down.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
//
// # Example
//
//	queue := NewTaskQueue(0, logger)
//	if err := queue.Start(ctx); err != nil {
//	    return err
//	}
//	defer queue.Stop()
//
//	queue.Enqueue(Task{Name: "record_interaction", Run: func(ctx context.Context) error {
//	    return memoryManager.RecordInteraction(ctx, userID, interaction)
//	}})
type TaskQueue struct {
	tasks  chan Task
	logger *slog.Logger

	done    chan struct{}
	mu      sync.RWMutex
	running bool

	pending   sync.WaitGroup
	queued    atomic.Int64
	processed atomic.Int64
}

// NewTaskQueue creates a stopped queue. capacity <= 0 selects
// DefaultQueueCapacity.
func NewTaskQueue(capacity int, logger *slog.Logger) *TaskQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		tasks:  make(chan Task, capacity),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine.
//
// ctx bounds task executions, not the worker: the worker runs until Stop
// so that accepted tasks are never stranded. Tasks enqueued after ctx is
// cancelled simply see the cancelled context.
func (q *TaskQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("task queue is already running")
	}
	q.running = true
	q.done = make(chan struct{}) // Reset done channel for potential restart
	q.mu.Unlock()

	go q.runLoop(ctx)
	return nil
}

// Stop closes the queue for new work, waits for everything already
// enqueued to execute, and returns. Safe to call multiple times.
func (q *TaskQueue) Stop() error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.done)
	q.mu.Unlock()

	q.pending.Wait()
	return nil
}

// Enqueue hands a task to the worker. It blocks only when the queue is
// full; capacity is sized so that only tests ever fill it.
func (q *TaskQueue) Enqueue(task Task) error {
	// Read lock held across the send: Stop cannot retire the worker while
	// a sender is still waiting for buffer space.
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.running {
		return ErrQueueClosed
	}
	q.pending.Add(1)
	q.queued.Add(1)
	q.tasks <- task
	return nil
}

// Drain blocks until every enqueued task has executed or ctx expires.
func (q *TaskQueue) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queued returns the count of tasks accepted since creation.
func (q *TaskQueue) Queued() int64 {
	return q.queued.Load()
}

// Processed returns the count of tasks executed, including failures.
func (q *TaskQueue) Processed() int64 {
	return q.processed.Load()
}

// Depth returns the number of tasks currently waiting in the buffer.
func (q *TaskQueue) Depth() int {
	return len(q.tasks)
}

// =============================================================================
// Internal Methods
// =============================================================================

func (q *TaskQueue) runLoop(ctx context.Context) {
	for {
		select {
		case task := <-q.tasks:
			q.execute(ctx, task)
		case <-q.done:
			q.drainRemaining(ctx)
			return
		}
	}
}

// drainRemaining empties the buffer after shutdown is signalled. Stop has
// the write lock ordering guarantee that no sender is still in flight, so
// an empty buffer here is final.
func (q *TaskQueue) drainRemaining(ctx context.Context) {
	for {
		select {
		case task := <-q.tasks:
			q.execute(ctx, task)
		default:
			return
		}
	}
}

func (q *TaskQueue) execute(ctx context.Context, task Task) {
	defer q.pending.Done()
	defer q.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("persistence task panicked", "task", task.Name, "panic", r)
		}
	}()

	if err := task.Run(ctx); err != nil {
		q.logger.Warn("persistence task failed", "task", task.Name, "error", err)
	}
}
