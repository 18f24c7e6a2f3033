package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type mockStore struct {
	deleteFunc  func(ctx context.Context) (int64, error)
	deleteCalls atomic.Int32
}

func (m *mockStore) DeleteCompleted(ctx context.Context) (int64, error) {
	m.deleteCalls.Add(1)
	return m.deleteFunc(ctx)
}

func TestSweeper_DeletesOnTick(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &mockStore{
		deleteFunc: func(ctx context.Context) (int64, error) { return 3, nil },
	}

	sweeper := NewSweeper(store, logger, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(180 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop on cancel")
	}

	if store.deleteCalls.Load() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", store.deleteCalls.Load())
	}
}

func TestSweeper_KeepsRunningAfterError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &mockStore{}
	store.deleteFunc = func(ctx context.Context) (int64, error) {
		if store.deleteCalls.Load() == 1 {
			return 0, errors.New("db gone")
		}
		return 1, nil
	}

	sweeper := NewSweeper(store, logger, 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	if store.deleteCalls.Load() < 2 {
		t.Fatalf("expected sweeper to survive a failed sweep, calls=%d", store.deleteCalls.Load())
	}
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	sweeper := NewSweeper(&mockStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	if sweeper.interval != 24*time.Hour {
		t.Fatalf("expected default interval 24h, got %v", sweeper.interval)
	}
}
