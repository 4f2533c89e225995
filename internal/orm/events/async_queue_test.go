package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAsyncQueue_StartStop(t *testing.T) {
	queue := NewAsyncQueue(2, nil)
	queue.Start()

	executed := make(chan bool, 1)
	task := AsyncTask{
		Name: "test-task",
		Fn: func(ctx context.Context) error {
			executed <- true
			return nil
		},
	}

	if err := queue.Enqueue(task); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Error("Task did not execute within timeout")
	}

	queue.Shutdown()
}

func TestAsyncQueue_MultipleWorkers(t *testing.T) {
	queue := NewAsyncQueue(4, nil)
	queue.Start()
	defer queue.Shutdown()

	taskCount := 20
	var executed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(taskCount)

	for i := 0; i < taskCount; i++ {
		task := AsyncTask{
			Name: "concurrent-task",
			Fn: func(ctx context.Context) error {
				defer wg.Done()
				executed.Add(1)
				time.Sleep(5 * time.Millisecond)
				return nil
			},
		}
		if err := queue.Enqueue(task); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	wg.Wait()

	if got := executed.Load(); got != int32(taskCount) {
		t.Errorf("Expected %d tasks executed, got %d", taskCount, got)
	}
}

func TestAsyncQueue_EnqueueBeforeStart(t *testing.T) {
	queue := NewAsyncQueue(1, nil)

	err := queue.Enqueue(AsyncTask{Name: "early", Fn: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Error("Expected error when enqueueing before start")
	}
}

func TestAsyncQueue_EnqueueAfterShutdown(t *testing.T) {
	queue := NewAsyncQueue(1, nil)
	queue.Start()
	queue.Shutdown()

	err := queue.Enqueue(AsyncTask{Name: "late", Fn: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Error("Expected error when enqueueing after shutdown")
	}
}

func TestAsyncQueue_FailuresDoNotStopWorkers(t *testing.T) {
	queue := NewAsyncQueue(1, nil)
	queue.Start()
	defer queue.Shutdown()

	done := make(chan struct{})
	tasks := []AsyncTask{
		{Name: "error", Fn: func(ctx context.Context) error { return errors.New("task failed") }},
		{Name: "panic", Fn: func(ctx context.Context) error { panic("task panicked") }},
		{Name: "ok", Fn: func(ctx context.Context) error { close(done); return nil }},
	}
	for _, task := range tasks {
		if err := queue.Enqueue(task); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Worker stopped after failing task")
	}
}

func TestAsyncQueue_ShutdownDrains(t *testing.T) {
	queue := NewAsyncQueue(2, nil)
	queue.Start()

	var executed atomic.Int32
	for i := 0; i < 10; i++ {
		_ = queue.Enqueue(AsyncTask{Name: "drain", Fn: func(ctx context.Context) error {
			executed.Add(1)
			return nil
		}})
	}

	queue.Shutdown()

	if got := executed.Load(); got != 10 {
		t.Errorf("Expected 10 tasks after shutdown, got %d", got)
	}
}
