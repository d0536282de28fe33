package cache_test

import (
	"errors"
	"testing"
	"time"

	"statevault/internal/cache"
	"statevault/internal/errs"
)

func newTestCache(t *testing.T, config cache.Config) *cache.Cache {
	t.Helper()
	if config.Name == "" {
		config.Name = "test-cache"
	}
	c, err := cache.New(config)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCacheBasics(t *testing.T) {
	t.Run("Basic_CRUD_Operations", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		if err := c.Set("key1", "value1", 0); err != nil {
			t.Fatalf("Failed to set key: %v", err)
		}

		value, ok := c.Get("key1")
		if !ok {
			t.Fatalf("Key should be found after set")
		}
		if value.(string) != "value1" {
			t.Errorf("Retrieved value doesn't match: expected value1, got %v", value)
		}

		if !c.Contains("key1") {
			t.Errorf("Contains should report the key")
		}
		if c.Contains("missing") {
			t.Errorf("Contains should not report a missing key")
		}

		if !c.Delete("key1") {
			t.Errorf("Delete should report the key existed")
		}
		if _, ok := c.Get("key1"); ok {
			t.Errorf("Key should not be found after deletion")
		}
		if c.Delete("key1") {
			t.Errorf("Second delete should report the key was absent")
		}
	})

	t.Run("Heterogeneous_Value_Types", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		values := map[string]interface{}{
			"string": "hello",
			"int":    42,
			"int64":  int64(-7),
			"float":  3.14,
			"bool":   true,
			"bytes":  []byte{1, 2, 3},
			"map":    map[string]interface{}{"nested": "yes"},
		}
		for key, value := range values {
			if err := c.Set(key, value, 0); err != nil {
				t.Fatalf("Failed to set %s: %v", key, err)
			}
		}

		if v, _ := c.Get("string"); v.(string) != "hello" {
			t.Errorf("string round-trip failed: got %v", v)
		}
		if v, _ := c.Get("int"); v.(int) != 42 {
			t.Errorf("int round-trip failed: got %v", v)
		}
		if v, _ := c.Get("int64"); v.(int64) != -7 {
			t.Errorf("int64 round-trip failed: got %v", v)
		}
		if v, _ := c.Get("float"); v.(float64) != 3.14 {
			t.Errorf("float64 round-trip failed: got %v", v)
		}
		if v, _ := c.Get("bool"); v.(bool) != true {
			t.Errorf("bool round-trip failed: got %v", v)
		}
		if v, _ := c.Get("bytes"); len(v.([]byte)) != 3 {
			t.Errorf("[]byte round-trip failed: got %v", v)
		}
		if v, _ := c.Get("map"); v.(map[string]interface{})["nested"] != "yes" {
			t.Errorf("map round-trip failed: got %v", v)
		}
	})

	t.Run("Overwrite_Replaces_Value", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		c.Set("key", "first", 0)
		c.Set("key", "second", 0)

		value, _ := c.Get("key")
		if value.(string) != "second" {
			t.Errorf("Expected overwritten value, got %v", value)
		}
		if c.Len() != 1 {
			t.Errorf("Overwrite should not grow the cache, got %d entries", c.Len())
		}
	})

	t.Run("GetDefault", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		if v := c.GetDefault("missing", "fallback"); v.(string) != "fallback" {
			t.Errorf("Expected fallback for missing key, got %v", v)
		}
		c.Set("present", "real", 0)
		if v := c.GetDefault("present", "fallback"); v.(string) != "real" {
			t.Errorf("Expected stored value, got %v", v)
		}
	})

	t.Run("Empty_Key_Rejected", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})
		if err := c.Set("", "value", 0); err == nil {
			t.Errorf("Expected error for empty key")
		}
	})
}

func TestCacheExpiration(t *testing.T) {
	t.Run("TTL_Expiry", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		if err := c.Set("expiring", "value", 50*time.Millisecond); err != nil {
			t.Fatalf("Failed to set key with TTL: %v", err)
		}

		if _, ok := c.Get("expiring"); !ok {
			t.Errorf("Key should be found before expiry")
		}

		time.Sleep(80 * time.Millisecond)

		if _, ok := c.Get("expiring"); ok {
			t.Errorf("Key should be expired")
		}
		if c.Contains("expiring") {
			t.Errorf("Contains should not report an expired key")
		}
	})

	t.Run("Default_TTL_Applied", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true, DefaultTTL: 50 * time.Millisecond})

		c.Set("key", "value", 0)
		time.Sleep(80 * time.Millisecond)
		if _, ok := c.Get("key"); ok {
			t.Errorf("Key should have inherited the default TTL and expired")
		}
	})

	t.Run("Delete_On_Expired_Key_Returns_False", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		c.Set("key", "value", 20*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		if c.Delete("key") {
			t.Errorf("Delete of an expired key should report absence")
		}
	})

	t.Run("SweepExpired", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		c.Set("short1", "v", 20*time.Millisecond)
		c.Set("short2", "v", 20*time.Millisecond)
		c.Set("long", "v", time.Hour)
		time.Sleep(50 * time.Millisecond)

		removed := c.SweepExpired()
		if removed != 2 {
			t.Errorf("Expected 2 swept entries, got %d", removed)
		}
		if c.Len() != 1 {
			t.Errorf("Expected 1 surviving entry, got %d", c.Len())
		}

		stats := c.Stats()
		if stats.Expirations != 2 {
			t.Errorf("Expected 2 recorded expirations, got %d", stats.Expirations)
		}
	})
}

func TestCacheEviction(t *testing.T) {
	t.Run("LRU_Evicts_Least_Recently_Used", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true, MaxEntries: 3, EvictionPolicy: "lru"})

		c.Set("a", "1", 0)
		time.Sleep(2 * time.Millisecond)
		c.Set("b", "2", 0)
		time.Sleep(2 * time.Millisecond)
		c.Set("c", "3", 0)
		time.Sleep(2 * time.Millisecond)

		// Touch a so b becomes the least recently used.
		c.Get("a")
		time.Sleep(2 * time.Millisecond)

		c.Set("d", "4", 0)

		if c.Contains("b") {
			t.Errorf("LRU should have evicted b")
		}
		for _, key := range []string{"a", "c", "d"} {
			if !c.Contains(key) {
				t.Errorf("Key %s should have survived", key)
			}
		}
	})

	t.Run("LFU_Evicts_Least_Frequently_Used", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true, MaxEntries: 3, EvictionPolicy: "lfu"})

		c.Set("a", "1", 0)
		c.Set("b", "2", 0)
		c.Set("c", "3", 0)

		c.Get("a")
		c.Get("a")
		c.Get("c")

		c.Set("d", "4", 0)

		if c.Contains("b") {
			t.Errorf("LFU should have evicted the never-read b")
		}
		for _, key := range []string{"a", "c", "d"} {
			if !c.Contains(key) {
				t.Errorf("Key %s should have survived", key)
			}
		}
	})

	t.Run("FIFO_Ignores_Access_Order", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true, MaxEntries: 3, EvictionPolicy: "fifo"})

		c.Set("a", "1", 0)
		time.Sleep(2 * time.Millisecond)
		c.Set("b", "2", 0)
		time.Sleep(2 * time.Millisecond)
		c.Set("c", "3", 0)

		// Heavy access must not save the oldest insert.
		for i := 0; i < 10; i++ {
			c.Get("a")
		}

		c.Set("d", "4", 0)

		if c.Contains("a") {
			t.Errorf("FIFO should have evicted the first insert regardless of access")
		}
	})

	t.Run("TTL_Policy_Evicts_Nearest_Expiry", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true, MaxEntries: 3, EvictionPolicy: "ttl"})

		c.Set("soon", "1", time.Minute)
		c.Set("later", "2", time.Hour)
		c.Set("never", "3", 0)

		c.Set("d", "4", 0)

		if c.Contains("soon") {
			t.Errorf("TTL policy should have evicted the entry closest to expiry")
		}
		for _, key := range []string{"later", "never", "d"} {
			if !c.Contains(key) {
				t.Errorf("Key %s should have survived", key)
			}
		}
	})

	t.Run("Memory_Budget_Eviction", func(t *testing.T) {
		// Strings serialize byte-for-byte, so sizes are predictable.
		c := newTestCache(t, cache.Config{ThreadSafe: true, MaxMemory: 100, EvictionPolicy: "lru"})

		c.Set("a", "0123456789012345678901234567890123456789", 0) // 40 bytes
		time.Sleep(2 * time.Millisecond)
		c.Set("b", "0123456789012345678901234567890123456789", 0) // 40 bytes
		time.Sleep(2 * time.Millisecond)
		c.Set("c", "0123456789012345678901234567890123456789", 0) // 40 bytes, evicts a

		if c.Contains("a") {
			t.Errorf("Oldest entry should have been evicted to fit the byte budget")
		}
		if !c.Contains("b") || !c.Contains("c") {
			t.Errorf("Newer entries should have survived")
		}

		stats := c.Stats()
		if stats.Evictions == 0 {
			t.Errorf("Expected eviction counter to advance")
		}
		if stats.MemoryUsed > 100 {
			t.Errorf("Memory accounting exceeds budget: %d", stats.MemoryUsed)
		}
	})

	t.Run("Oversized_Value_Fails_With_CacheFull", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true, MaxMemory: 16})

		err := c.Set("big", "this value is far larger than sixteen bytes", 0)
		if err == nil {
			t.Fatalf("Expected an error for an oversized value")
		}
		if !errors.Is(err, errs.ErrCacheFull) {
			t.Errorf("Expected ErrCacheFull, got %v", err)
		}
		if !errors.Is(err, errs.ErrPersistence) {
			t.Errorf("ErrCacheFull should be branchable as ErrPersistence")
		}
		if c.Contains("big") {
			t.Errorf("Failed set must not leave a partial entry")
		}
	})

	t.Run("Eviction_Callback_Fires", func(t *testing.T) {
		var evicted []string
		config := cache.Config{
			Name:           "evict-cb",
			ThreadSafe:     true,
			MaxEntries:     2,
			EvictionPolicy: "fifo",
			OnEvict: func(key string, entry *cache.Entry) {
				evicted = append(evicted, key)
			},
		}
		c := newTestCache(t, config)

		c.Set("a", "1", 0)
		time.Sleep(2 * time.Millisecond)
		c.Set("b", "2", 0)
		c.Set("c", "3", 0)

		if len(evicted) != 1 || evicted[0] != "a" {
			t.Errorf("Expected eviction callback for a, got %v", evicted)
		}
	})
}

func TestCacheStats(t *testing.T) {
	t.Run("Hit_Miss_Accounting", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		c.Set("key", "value", 0)
		c.Get("key")
		c.Get("key")
		c.Get("missing")

		stats := c.Stats()
		if stats.Hits != 2 {
			t.Errorf("Expected 2 hits, got %d", stats.Hits)
		}
		if stats.Misses != 1 {
			t.Errorf("Expected 1 miss, got %d", stats.Misses)
		}
		if rate := stats.HitRate(); rate < 66.0 || rate > 67.0 {
			t.Errorf("Expected hit rate near 66.7, got %.2f", rate)
		}
	})

	t.Run("Clear_Resets_Contents", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		c.Set("a", "1", 0)
		c.Set("b", "2", 0)
		c.Clear()

		if c.Len() != 0 {
			t.Errorf("Expected empty cache after clear, got %d entries", c.Len())
		}
		stats := c.Stats()
		if stats.MemoryUsed != 0 {
			t.Errorf("Expected zero memory after clear, got %d", stats.MemoryUsed)
		}
	})

	t.Run("Keys_Lists_Unexpired", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		c.Set("live", "1", 0)
		c.Set("dead", "2", 20*time.Millisecond)
		time.Sleep(50 * time.Millisecond)

		keys := c.Keys()
		if len(keys) != 1 || keys[0] != "live" {
			t.Errorf("Expected only the live key, got %v", keys)
		}
	})
}

func TestEntryMetadata(t *testing.T) {
	t.Run("Metadata_Reflects_Access", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		c.Set("key", "value", time.Hour)
		c.Get("key")
		c.Get("key")

		md, err := c.EntryMetadata("key")
		if err != nil {
			t.Fatalf("Failed to read metadata: %v", err)
		}
		if md.Key != "key" {
			t.Errorf("Expected key in metadata, got %s", md.Key)
		}
		if md.AccessCount != 2 {
			t.Errorf("Expected access count 2, got %d", md.AccessCount)
		}
		if md.Size != uint64(len("value")) {
			t.Errorf("Expected size %d, got %d", len("value"), md.Size)
		}
		if md.ExpiresAt.IsZero() {
			t.Errorf("Expected a populated expiry")
		}
	})

	t.Run("Contains_Does_Not_Touch_Metadata", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		c.Set("key", "value", 0)
		c.Contains("key")
		c.Contains("key")

		md, err := c.EntryMetadata("key")
		if err != nil {
			t.Fatalf("Failed to read metadata: %v", err)
		}
		if md.AccessCount != 0 {
			t.Errorf("Contains must not advance the access count, got %d", md.AccessCount)
		}
	})

	t.Run("Missing_Key_Fails_With_EntryNotFound", func(t *testing.T) {
		c := newTestCache(t, cache.Config{ThreadSafe: true})

		_, err := c.EntryMetadata("missing")
		if !errors.Is(err, errs.ErrEntryNotFound) {
			t.Errorf("Expected ErrEntryNotFound, got %v", err)
		}
	})
}

func TestEvictionPolicyFactory(t *testing.T) {
	for _, name := range []string{"lru", "lfu", "fifo", "ttl"} {
		policy, err := cache.NewEvictionPolicy(name)
		if err != nil {
			t.Errorf("Policy %s should be supported: %v", name, err)
			continue
		}
		if policy.PolicyName() != name {
			t.Errorf("Expected policy name %s, got %s", name, policy.PolicyName())
		}
		if candidate := policy.NextEvictionCandidate(); candidate != "" {
			t.Errorf("Empty policy %s should have no candidate, got %s", name, candidate)
		}
	}

	if _, err := cache.NewEvictionPolicy("random"); err == nil {
		t.Errorf("Unknown policy should be rejected")
	}
}
