package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestNewHandler(t *testing.T) {
	h := NewHandler(5 * time.Second)
	if h.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", h.timeout)
	}
	select {
	case <-h.Done():
		t.Error("Done channel should not be closed initially")
	default:
	}
}

func recordOrder(h *Handler, mu *sync.Mutex, order *[]int, n int) {
	for i := 1; i <= n; i++ {
		id := i
		h.OnShutdown(func(ctx context.Context) error {
			mu.Lock()
			*order = append(*order, id)
			mu.Unlock()
			return nil
		})
	}
}

func TestHandler_Wait_WithSignal(t *testing.T) {
	h := NewHandler(5 * time.Second)

	var mu sync.Mutex
	var order []int
	recordOrder(h, &mu, &order, 3)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Wait()
	}()

	// Give Wait time to set up signal handler
	time.Sleep(50 * time.Millisecond)
	syscall.Kill(syscall.Getpid(), syscall.SIGINT)

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("hooks called in order %v, want [3 2 1]", order)
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done channel should be closed after Wait completes")
	}
}

func TestHandler_WaitContext_Cancelled(t *testing.T) {
	h := NewHandler(time.Second)

	var mu sync.Mutex
	var order []int
	recordOrder(h, &mu, &order, 2)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.WaitContext(ctx)
	}()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("WaitContext() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitContext() did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 {
		t.Errorf("hooks called = %d, want 2", len(order))
	}
}

func TestHandler_Shutdown_HookErrors(t *testing.T) {
	h := NewHandler(5 * time.Second)

	errA := errors.New("hook a")
	errB := errors.New("hook b")
	h.OnShutdown(func(ctx context.Context) error { return errA })
	h.OnShutdown(func(ctx context.Context) error { return nil })
	h.OnShutdown(func(ctx context.Context) error { return errB })

	err := h.Shutdown()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Shutdown() = %v, want both hook errors", err)
	}
}

func TestHandler_Shutdown_HookDeadline(t *testing.T) {
	h := NewHandler(50 * time.Millisecond)

	h.OnShutdown(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("hook ctx has no deadline")
		}
		return nil
	})
	if err := h.Shutdown(); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestHandler_Shutdown_RunsHooksOnce(t *testing.T) {
	h := NewHandler(time.Second)

	var calls int
	h.OnShutdown(func(ctx context.Context) error {
		calls++
		return nil
	})
	h.Shutdown()
	h.Shutdown()

	if calls != 1 {
		t.Errorf("hook calls = %d, want 1", calls)
	}
}

func TestHandler_ConcurrentOnShutdown(t *testing.T) {
	h := NewHandler(5 * time.Second)

	var wg sync.WaitGroup
	const numGoroutines = 10
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.OnShutdown(func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.hooks) != numGoroutines {
		t.Errorf("expected %d hooks, got %d", numGoroutines, len(h.hooks))
	}
}
