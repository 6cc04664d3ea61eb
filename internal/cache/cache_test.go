package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, "key1", []byte("value2"), time.Minute)

		val, _ := cache.Get(ctx, "key1")
		if string(val) != "value2" {
			t.Errorf("expected 'value2', got '%s'", string(val))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}

		if err := cache.Delete(ctx, "never-set"); err != nil {
			t.Errorf("deleting a missing key should succeed, got %v", err)
		}
	})

	t.Run("RequiresKey", func(t *testing.T) {
		if err := cache.Set(ctx, "", []byte("value"), time.Minute); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("expected ErrEmptyKey, got %v", err)
		}
		if _, err := cache.Get(ctx, ""); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("expected ErrEmptyKey, got %v", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestLRUExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewLRUCache(10)
	cache.now = clock.now

	_ = cache.Set(ctx, "expiring", []byte("temp"), time.Minute)
	_ = cache.Set(ctx, "forever", []byte("kept"), 0)

	if val, _ := cache.Get(ctx, "expiring"); val == nil {
		t.Error("expected value before expiration")
	}

	clock.advance(2 * time.Minute)

	if val, _ := cache.Get(ctx, "expiring"); val != nil {
		t.Error("expected nil after expiration")
	}
	if val, _ := cache.Get(ctx, "forever"); string(val) != "kept" {
		t.Error("zero ttl entries should not expire")
	}

	if size := cache.Stats().Size; size != 1 {
		t.Errorf("expired entry should be removed, size %d", size)
	}
}

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(3)

	_ = cache.Set(ctx, "a", []byte("1"), time.Minute)
	_ = cache.Set(ctx, "b", []byte("2"), time.Minute)
	_ = cache.Set(ctx, "c", []byte("3"), time.Minute)

	// Touch 'a' so 'b' becomes least recently used
	_, _ = cache.Get(ctx, "a")

	_ = cache.Set(ctx, "d", []byte("4"), time.Minute)

	if val, _ := cache.Get(ctx, "b"); val != nil {
		t.Error("expected 'b' to be evicted")
	}
	if val, _ := cache.Get(ctx, "a"); val == nil {
		t.Error("expected 'a' to still exist")
	}
}

func TestLRUStats(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(50)

	_ = cache.Set(ctx, "k1", []byte("v1"), time.Minute)
	_ = cache.Set(ctx, "k2", []byte("v2"), time.Minute)
	_, _ = cache.Get(ctx, "k1")
	_, _ = cache.Get(ctx, "k1")
	_, _ = cache.Get(ctx, "missing")

	stats := cache.Stats()
	if stats.Size != 2 || stats.Capacity != 50 {
		t.Errorf("unexpected occupancy: %+v", stats)
	}
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %+v", stats)
	}

	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if val, _ := cache.Get(ctx, "k1"); val != nil {
		t.Error("expected cache to be cleared after close")
	}
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	local := NewLRUCache(10)
	remote := NewLRUCache(10)
	cache := newTwoPhase(local, remote, 30*time.Second)

	t.Run("WritesBothLevels", func(t *testing.T) {
		if err := cache.Set(ctx, "aggregates", []byte("snapshot"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		if val, _ := local.Get(ctx, "aggregates"); string(val) != "snapshot" {
			t.Error("expected L1 to hold the value")
		}
		if val, _ := remote.Get(ctx, "aggregates"); string(val) != "snapshot" {
			t.Error("expected L2 to hold the value")
		}
	})

	t.Run("FillsL1FromL2", func(t *testing.T) {
		_ = remote.Set(ctx, "remote-only", []byte("r"), time.Minute)

		val, err := cache.Get(ctx, "remote-only")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "r" {
			t.Errorf("expected 'r', got '%s'", string(val))
		}
		if val, _ := local.Get(ctx, "remote-only"); string(val) != "r" {
			t.Error("expected L1 to be filled after an L2 hit")
		}
	})

	t.Run("DeleteBothLevels", func(t *testing.T) {
		if err := cache.Delete(ctx, "aggregates"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, "aggregates"); val != nil {
			t.Error("expected miss after delete")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(10)

	type snapshot struct {
		Customers int     `json:"customers"`
		Revenue   float64 `json:"revenue"`
	}

	var out snapshot
	found, err := GetJSON(ctx, cache, "snap", &out)
	if err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}

	in := snapshot{Customers: 42, Revenue: 1234.5}
	if err := SetJSON(ctx, cache, "snap", in, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	found, err = GetJSON(ctx, cache, "snap", &out)
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if out != in {
		t.Errorf("expected %+v, got %+v", in, out)
	}

	_ = cache.Set(ctx, "corrupt", []byte("{not json"), time.Minute)
	if _, err := GetJSON(ctx, cache, "corrupt", &out); err == nil {
		t.Error("expected decode error for corrupt entry")
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
