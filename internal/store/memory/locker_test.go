package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"opsassist/internal/store"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "payment-service")
			if err != nil {
				t.Errorf("Lock error: %v", err)
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after all holders released", l.Len())
	}
}

func TestLocker_IndependentKeys(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "payment-service")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	defer unlockA()

	// A different key must not block.
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	unlockB, err := l.Lock(ctx, "auth-api")
	if err != nil {
		t.Fatalf("Lock on independent key error: %v", err)
	}
	unlockB()
}

func TestLocker_ContextTimeout(t *testing.T) {
	l := NewLocker()

	unlock, err := l.Lock(context.Background(), "svc")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "svc")
	if !errors.Is(err, store.ErrLockTimeout) {
		t.Errorf("Lock error = %v, want ErrLockTimeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock error = %v, should wrap context.DeadlineExceeded", err)
	}

	unlock()
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestLocker_UnlockIsIdempotent(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "svc")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	unlock()
	unlock()

	unlock, err = l.Lock(ctx, "svc")
	if err != nil {
		t.Fatalf("Lock after release error: %v", err)
	}
	unlock()
}
