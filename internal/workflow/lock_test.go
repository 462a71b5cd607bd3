package workflow

import (
	"context"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()

	locks := newKeyedMutex()

	unlock, err := locks.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, 1); err == nil {
		t.Fatalf("expected second lock on the same key to wait until the deadline")
	}

	other, err := locks.Lock(context.Background(), 2)
	if err != nil {
		t.Fatalf("expected a different key to lock immediately, got %v", err)
	}
	other()

	unlock()
	unlock()

	again, err := locks.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected key to be free after unlock, got %v", err)
	}
	again()

	locks.mu.Lock()
	remaining := len(locks.slots)
	locks.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected idle slots to be released, got %d", remaining)
	}
}
