package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Fatal("Get returned ok for missing key")
	}

	if err := m.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Get = %q, %v, %v; want v1, true, nil", got, ok, err)
	}

	// Overwrite is unconditional.
	if err := m.Set(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _, _ = m.Get(ctx, "k")
	if string(got) != "v2" {
		t.Fatalf("Get after overwrite = %q, want v2", got)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	now := time.Unix(1_700_000_000, 0)
	m.SetClock(func() time.Time { return now })

	if err := m.Set(ctx, "k", []byte("v"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("key absent before expiry")
	}

	now = now.Add(101 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key present after expiry")
	}
}

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	now := time.Unix(1_700_000_000, 0)
	m.SetClock(func() time.Time { return now })

	ok, err := m.SetNX(ctx, "lock", []byte("a"), time.Second)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v; want true, nil", ok, err)
	}

	ok, _ = m.SetNX(ctx, "lock", []byte("b"), time.Second)
	if ok {
		t.Fatal("second SetNX succeeded while key live")
	}
	got, _, _ := m.Get(ctx, "lock")
	if string(got) != "a" {
		t.Fatalf("lock value = %q, want original holder", got)
	}

	// After expiry the lock is free again.
	now = now.Add(2 * time.Second)
	ok, _ = m.SetNX(ctx, "lock", []byte("c"), time.Second)
	if !ok {
		t.Fatal("SetNX failed after TTL expiry")
	}
}

func TestMemoryStoreValueIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	val := []byte("abc")
	_ = m.Set(ctx, "k", val, 0)
	val[0] = 'z' // caller mutation must not leak in

	got, _, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value = %q, want abc", got)
	}
	got[0] = 'z' // reader mutation must not leak back
	again, _, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value after reader mutation = %q, want abc", again)
	}
}

func TestMemoryStoreConcurrentSetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan int, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if ok, _ := m.SetNX(ctx, "lock", []byte{byte(id)}, time.Minute); ok {
				wins <- id
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("SetNX winners = %d, want exactly 1", count)
	}
}

func TestHealthCheckRoundtrip(t *testing.T) {
	ctx := context.Background()
	status := HealthCheck(ctx, NewMemoryStore())
	if !status.Connected {
		t.Fatalf("HealthCheck = %+v, want connected", status)
	}
}
