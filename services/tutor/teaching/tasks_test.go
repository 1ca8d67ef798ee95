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
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *TaskQueue {
	t.Helper()
	return NewTaskQueue(8, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTaskQueue_ExecutesInEnqueueOrder(t *testing.T) {
	queue := newTestQueue(t)
	require.NoError(t, queue.Start(context.Background()))
	defer queue.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, queue.Enqueue(Task{Name: "ordered", Run: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}}))
	}

	require.NoError(t, queue.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, int64(5), queue.Queued())
	assert.Equal(t, int64(5), queue.Processed())
	assert.Zero(t, queue.Depth())
}

func TestTaskQueue_EnqueueBeforeStart(t *testing.T) {
	queue := newTestQueue(t)

	err := queue.Enqueue(Task{Name: "early", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestTaskQueue_EnqueueAfterStop(t *testing.T) {
	queue := newTestQueue(t)
	require.NoError(t, queue.Start(context.Background()))
	require.NoError(t, queue.Stop())

	err := queue.Enqueue(Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

// TestTaskQueue_StopDrainsAcceptedTasks: once Enqueue has accepted a task,
// Stop must not return until it has executed. Accepted work is never lost.
func TestTaskQueue_StopDrainsAcceptedTasks(t *testing.T) {
	queue := newTestQueue(t)
	require.NoError(t, queue.Start(context.Background()))

	var executed atomic.Int32
	for i := 0; i < 6; i++ {
		require.NoError(t, queue.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			executed.Add(1)
			return nil
		}}))
	}

	require.NoError(t, queue.Stop())
	assert.Equal(t, int32(6), executed.Load())
}

// TestTaskQueue_PanicDoesNotKillWorker: a panicking task is logged and the
// worker keeps serving the queue.
func TestTaskQueue_PanicDoesNotKillWorker(t *testing.T) {
	queue := newTestQueue(t)
	require.NoError(t, queue.Start(context.Background()))
	defer queue.Stop()

	var survived atomic.Bool
	require.NoError(t, queue.Enqueue(Task{Name: "bomb", Run: func(ctx context.Context) error {
		panic("boom")
	}}))
	require.NoError(t, queue.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error {
		survived.Store(true)
		return nil
	}}))

	require.NoError(t, queue.Drain(context.Background()))
	assert.True(t, survived.Load())
	assert.Equal(t, int64(2), queue.Processed())
}

func TestTaskQueue_TaskErrorsAreSwallowed(t *testing.T) {
	queue := newTestQueue(t)
	require.NoError(t, queue.Start(context.Background()))
	defer queue.Stop()

	require.NoError(t, queue.Enqueue(Task{Name: "failing", Run: func(ctx context.Context) error {
		return errors.New("storage offline")
	}}))

	require.NoError(t, queue.Drain(context.Background()))
	assert.Equal(t, int64(1), queue.Processed())
}

func TestTaskQueue_DoubleStartFails(t *testing.T) {
	queue := newTestQueue(t)
	require.NoError(t, queue.Start(context.Background()))
	defer queue.Stop()

	assert.Error(t, queue.Start(context.Background()))
}

// TestTaskQueue_RestartAfterStop: the queue supports a stop/start cycle, as
// happens across configuration reloads.
func TestTaskQueue_RestartAfterStop(t *testing.T) {
	queue := newTestQueue(t)
	require.NoError(t, queue.Start(context.Background()))
	require.NoError(t, queue.Stop())
	require.NoError(t, queue.Stop(), "repeated stops are harmless")

	require.NoError(t, queue.Start(context.Background()))
	defer queue.Stop()

	var executed atomic.Bool
	require.NoError(t, queue.Enqueue(Task{Name: "second-life", Run: func(ctx context.Context) error {
		executed.Store(true)
		return nil
	}}))
	require.NoError(t, queue.Drain(context.Background()))
	assert.True(t, executed.Load())
}

func TestTaskQueue_DrainHonorsContext(t *testing.T) {
	queue := newTestQueue(t)
	require.NoError(t, queue.Start(context.Background()))

	block := make(chan struct{})
	require.NoError(t, queue.Enqueue(Task{Name: "stuck", Run: func(ctx context.Context) error {
		<-block
		return nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, queue.Drain(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, queue.Stop())
}
