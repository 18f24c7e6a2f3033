package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_BasicFunctionality(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	q := NewQueue(logger, 3, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		job := func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			completed.Add(1)
			return nil
		}
		if !q.Enqueue(job) {
			t.Errorf("Failed to enqueue job %d", i)
		}
	}

	// 等待任务完成
	time.Sleep(500 * time.Millisecond)
	q.Shutdown()

	if completed.Load() != 5 {
		t.Errorf("Expected 5 completed jobs, got %d", completed.Load())
	}

	stats := q.GetStats()
	if stats.TotalEnqueued != 5 {
		t.Errorf("Expected 5 enqueued, got %d", stats.TotalEnqueued)
	}
	if stats.TotalSucceeded != 5 {
		t.Errorf("Expected 5 succeeded, got %d", stats.TotalSucceeded)
	}
}

func TestQueue_ErrorHandling(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	q := NewQueue(logger, 2, 5)

	var errorCount atomic.Int32
	q.SetErrorHandler(func(err error, job Job) {
		errorCount.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	q.Enqueue(func(ctx context.Context) error {
		return nil
	})
	q.Enqueue(func(ctx context.Context) error {
		return errors.New("smtp unreachable")
	})

	time.Sleep(300 * time.Millisecond)
	q.Shutdown()

	if errorCount.Load() != 1 {
		t.Errorf("Expected 1 error, got %d", errorCount.Load())
	}

	stats := q.GetStats()
	if stats.TotalFailed != 1 {
		t.Errorf("Expected 1 failed, got %d", stats.TotalFailed)
	}
}

func TestQueue_PanicRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	q := NewQueue(logger, 1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	q.Enqueue(func(ctx context.Context) error {
		panic("boom")
	})

	var completed atomic.Int32
	q.Enqueue(func(ctx context.Context) error {
		completed.Add(1)
		return nil
	})

	time.Sleep(300 * time.Millisecond)
	q.Shutdown()

	if completed.Load() != 1 {
		t.Errorf("Expected worker to survive panic and run next job")
	}
	if q.GetStats().TotalPanics != 1 {
		t.Errorf("Expected 1 panic recorded, got %d", q.GetStats().TotalPanics)
	}
}

func TestQueue_EnqueueFullDrops(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	q := NewQueue(logger, 1, 1)

	// 队列未启动，容量 1：第二个入队应当被拒绝
	if !q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatalf("expected second enqueue to be dropped")
	}
	if q.GetStats().TotalDropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", q.GetStats().TotalDropped)
	}
}

func TestQueue_ShutdownWithTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	q := NewQueue(logger, 1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	q.Enqueue(func(ctx context.Context) error {
		time.Sleep(2 * time.Second)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	if err := q.ShutdownWithTimeout(100 * time.Millisecond); err == nil {
		t.Fatalf("expected timeout error for long running job")
	}
}
