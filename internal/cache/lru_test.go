package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeNow struct {
	mu  sync.Mutex
	cur time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.cur = f.cur.Add(d)
	f.mu.Unlock()
}

func newTestLRU(t *testing.T, opts Options[int, string]) *LRU[int, string] {
	t.Helper()
	c, err := NewLRU(opts)
	if err != nil {
		t.Fatalf("NewLRU() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNewLRURejectsNegativeLimits(t *testing.T) {
	if _, err := NewLRU(Options[int, string]{MaxSize: -1}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative MaxSize error = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewLRU(Options[int, string]{MaxAge: -time.Second}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative MaxAge error = %v, want ErrInvalidConfig", err)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	var evictedKeys []int
	c := newTestLRU(t, Options[int, string]{
		MaxSize: 2,
		OnEvict: func(key int, _ string, reason EvictReason) {
			if reason != EvictCapacity {
				t.Errorf("reason = %s, want capacity", reason)
			}
			evictedKeys = append(evictedKeys, key)
		},
	})

	c.Add(2019, "a")
	c.Add(2020, "b")
	c.Add(2021, "c")

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get(ctx, 2019); ok {
		t.Error("Get(2019) found, want evicted")
	}
	if v, ok := c.Get(ctx, 2020); !ok || v != "b" {
		t.Errorf("Get(2020) = %q, %v", v, ok)
	}
	if v, ok := c.Get(ctx, 2021); !ok || v != "c" {
		t.Errorf("Get(2021) = %q, %v", v, ok)
	}
	if len(evictedKeys) != 1 || evictedKeys[0] != 2019 {
		t.Errorf("evicted = %v, want [2019]", evictedKeys)
	}
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	c := newTestLRU(t, Options[int, string]{MaxSize: 2})

	c.Add(1, "a")
	c.Add(2, "b")
	c.Get(ctx, 1)
	c.Add(3, "c")

	if _, ok := c.Peek(2); ok {
		t.Error("key 2 should have been evicted")
	}
	if _, ok := c.Peek(1); !ok {
		t.Error("key 1 was touched and should remain")
	}
	keys := c.Keys()
	if len(keys) != 2 || keys[0] != 3 || keys[1] != 1 {
		t.Errorf("Keys() = %v, want [3 1]", keys)
	}
}

func TestLRUTTLExpiryOnGet(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{cur: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTestLRU(t, Options[int, string]{MaxAge: time.Minute, Now: clock.Now})

	c.Add(1, "a")
	clock.Advance(time.Minute)
	if _, ok := c.Get(ctx, 1); !ok {
		t.Fatal("entry exactly maxAge old should still be present")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(ctx, 1); ok {
		t.Fatal("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want expired entry removed", c.Len())
	}
}

func TestLRUAddResetsAge(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{cur: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTestLRU(t, Options[int, string]{MaxAge: time.Minute, Now: clock.Now})

	c.Add(1, "a")
	clock.Advance(50 * time.Second)
	c.Add(1, "b")
	clock.Advance(50 * time.Second)

	if v, ok := c.Get(ctx, 1); !ok || v != "b" {
		t.Errorf("Get(1) = %q, %v, want refreshed value", v, ok)
	}
}

func TestLRUEvictRemovesExpiredThenOverflow(t *testing.T) {
	clock := &fakeNow{cur: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newTestLRU(t, Options[int, string]{MaxAge: time.Minute, Now: clock.Now})

	c.Add(1, "old")
	clock.Advance(2 * time.Minute)
	c.Add(2, "new")

	removed := c.Evict()
	if len(removed) != 0 {
		// Add already evicted the stale entry.
		t.Fatalf("Evict() = %v, want nothing left to evict", removed)
	}
	if _, ok := c.Peek(1); ok {
		t.Error("stale entry survived Add")
	}

	clock.Advance(2 * time.Minute)
	removed = c.Evict()
	if len(removed) != 1 || removed[0].Key != 2 || removed[0].Value != "new" {
		t.Errorf("Evict() = %v, want [2]", removed)
	}
}

func TestLRULoaderPopulatesOnMiss(t *testing.T) {
	ctx := context.Background()
	calls := 0
	c := newTestLRU(t, Options[int, string]{
		MaxSize: 2,
		Loader: func(_ context.Context, key int) (string, bool) {
			calls++
			if key < 0 {
				return "", false
			}
			return "loaded", true
		},
	})

	if v, ok := c.Get(ctx, 7); !ok || v != "loaded" {
		t.Fatalf("Get(7) = %q, %v", v, ok)
	}
	if _, ok := c.Get(ctx, 7); !ok {
		t.Fatal("loaded value not cached")
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}

	if _, ok := c.Get(ctx, -1); ok {
		t.Error("empty loader result returned")
	}
	if _, ok := c.Peek(-1); ok {
		t.Error("empty loader result cached")
	}
}

func TestLRUDelete(t *testing.T) {
	c := newTestLRU(t, Options[int, string]{})
	c.Add(1, "a")

	if v, ok := c.Delete(1); !ok || v != "a" {
		t.Errorf("Delete(1) = %q, %v", v, ok)
	}
	if _, ok := c.Delete(1); ok {
		t.Error("second Delete(1) reported a value")
	}
}

func TestLRUBackgroundEviction(t *testing.T) {
	clock := &fakeNow{cur: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	done := make(chan int, 1)
	c := newTestLRU(t, Options[int, string]{
		MaxAge:        time.Minute,
		EvictInterval: 10 * time.Millisecond,
		Now:           clock.Now,
		OnEvict: func(key int, _ string, _ EvictReason) {
			done <- key
		},
	})

	c.Add(1, "cold")
	clock.Advance(2 * time.Minute)

	select {
	case key := <-done:
		if key != 1 {
			t.Errorf("evicted key = %d, want 1", key)
		}
	case <-time.After(time.Second):
		t.Fatal("background eviction did not run")
	}
}

func TestLRUConcurrentMissesShareOneLoad(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	release := make(chan struct{})
	c := newTestLRU(t, Options[int, string]{
		MaxSize: 2,
		Loader: func(_ context.Context, key int) (string, bool) {
			mu.Lock()
			calls++
			mu.Unlock()
			<-release
			return "loaded", true
		},
	})

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _ := c.Get(context.Background(), 2024)
			results <- v
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != "loaded" {
			t.Errorf("Get() = %q, want loaded", v)
		}
	}
	if calls != 1 {
		t.Errorf("loader calls = %d, want 1", calls)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
