package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"statevault/internal/cache"
	"statevault/internal/errs"
	"statevault/internal/persistence"
	"statevault/internal/snapshot"
)

func testEngineConfig(basePath string) persistence.Config {
	cfg := persistence.DefaultConfig(basePath)
	cfg.InstanceID = "engine-test"
	cfg.CacheConfig = cache.Config{Name: "store", MaxEntries: 1000, EvictionPolicy: "lru"}
	cfg.MaxChainLength = 8
	cfg.MaxSnapshots = 5
	return cfg
}

func startTestEngine(t *testing.T, cfg persistence.Config) *persistence.Engine {
	t.Helper()
	engine, err := persistence.NewEngine(cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	t.Cleanup(func() { engine.Stop() })
	return engine
}

func TestEngineLifecycle(t *testing.T) {
	t.Run("Double_Start_Fails", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))
		if err := engine.Start(context.Background()); err == nil {
			t.Errorf("Second start should fail")
		}
	})

	t.Run("Stop_Is_Idempotent", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))
		if err := engine.Stop(); err != nil {
			t.Fatalf("First stop failed: %v", err)
		}
		if err := engine.Stop(); err != nil {
			t.Errorf("Second stop should be a no-op: %v", err)
		}
	})

	t.Run("Empty_Base_Path_Rejected", func(t *testing.T) {
		_, err := persistence.NewEngine(persistence.Config{})
		if !errors.Is(err, errs.ErrPersistence) {
			t.Errorf("Expected ErrPersistence for empty base path, got %v", err)
		}
	})
}

func TestEngineStateOperations(t *testing.T) {
	t.Run("Set_Get_Delete", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		if err := engine.Set("user", "alex"); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}
		if err := engine.Set("count", 3); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}

		if v, ok := engine.Get("user"); !ok || v.(string) != "alex" {
			t.Errorf("Get mismatch: %v (found=%v)", v, ok)
		}
		if v := engine.GetDefault("missing", "fallback"); v.(string) != "fallback" {
			t.Errorf("Expected fallback, got %v", v)
		}

		if !engine.Delete("user") {
			t.Errorf("Delete should report presence")
		}
		if engine.Delete("user") {
			t.Errorf("Repeated delete should report absence")
		}
		if _, ok := engine.Get("user"); ok {
			t.Errorf("Deleted key should be gone")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		engine.Set("a", 1)
		engine.Set("b", 2)
		engine.Clear()

		if len(engine.State()) != 0 {
			t.Errorf("State should be empty after clear")
		}
		if _, ok := engine.Get("a"); ok {
			t.Errorf("Cleared key should be gone")
		}
	})

	t.Run("State_Returns_Copy", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		engine.Set("key", "value")
		state := engine.State()
		state["key"] = "tampered"

		if v, _ := engine.Get("key"); v.(string) != "value" {
			t.Errorf("Mutating the returned state must not affect the engine")
		}
	})
}

func TestEngineSaveLoad(t *testing.T) {
	t.Run("State_Survives_Restart", func(t *testing.T) {
		dir := t.TempDir()

		engine := startTestEngine(t, testEngineConfig(dir))
		state := map[string]interface{}{
			"name":   "vault",
			"count":  12,
			"nested": map[string]interface{}{"deep": true},
		}
		opID, err := engine.Save(state)
		if err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		if opID == "" {
			t.Errorf("Save should return an operation id")
		}
		engine.Stop()

		reopened := startTestEngine(t, testEngineConfig(dir))
		loaded, err := reopened.Load()
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if !reflect.DeepEqual(loaded, state) {
			t.Errorf("Loaded state mismatch: got %v, want %v", loaded, state)
		}

		// The cache was repopulated during load.
		if v, ok := reopened.Get("name"); !ok || v.(string) != "vault" {
			t.Errorf("Cache should serve loaded state: %v (found=%v)", v, ok)
		}
	})

	t.Run("Load_Without_Save_Is_Empty", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))
		loaded, err := engine.Load()
		if err != nil {
			t.Fatalf("First load should succeed: %v", err)
		}
		if len(loaded) != 0 {
			t.Errorf("Expected empty state, got %v", loaded)
		}
	})

	t.Run("Journal_Replays_Unsaved_Operations", func(t *testing.T) {
		dir := t.TempDir()
		cfg := testEngineConfig(dir)
		cfg.JournalEnabled = true
		cfg.JournalSyncPolicy = "always"

		engine := startTestEngine(t, cfg)
		if _, err := engine.Save(map[string]interface{}{"committed": 1}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		// Mutations after the save exist only in the journal.
		engine.Set("pending", "write")
		engine.Delete("committed")
		engine.Stop()

		reopened := startTestEngine(t, cfg)
		loaded, err := reopened.Load()
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if loaded["pending"] != "write" {
			t.Errorf("Journaled SET should be replayed: %v", loaded)
		}
		if _, ok := loaded["committed"]; ok {
			t.Errorf("Journaled DEL should be replayed: %v", loaded)
		}
	})
}

func TestEngineSnapshots(t *testing.T) {
	t.Run("Create_And_Restore", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		engine.Set("version", "v1")
		version, err := engine.CreateSnapshot(snapshot.Options{Description: "checkpoint"})
		if err != nil {
			t.Fatalf("Failed to snapshot: %v", err)
		}

		engine.Set("version", "v2")
		engine.Set("extra", true)

		if err := engine.RestoreSnapshot(version); err != nil {
			t.Fatalf("Failed to restore: %v", err)
		}
		if v, _ := engine.Get("version"); v.(string) != "v1" {
			t.Errorf("Restore should roll back the value, got %v", v)
		}
		if _, ok := engine.Get("extra"); ok {
			t.Errorf("Restore should drop keys added after the snapshot")
		}
	})

	t.Run("Restore_By_Tag", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		engine.Set("state", "good")
		if _, err := engine.CreateSnapshot(snapshot.Options{Tags: []string{"stable"}}); err != nil {
			t.Fatalf("Failed to snapshot: %v", err)
		}
		engine.Set("state", "broken")

		if err := engine.RestoreSnapshotByTag("stable"); err != nil {
			t.Fatalf("Failed to restore by tag: %v", err)
		}
		if v, _ := engine.Get("state"); v.(string) != "good" {
			t.Errorf("Tagged restore mismatch: %v", v)
		}
	})

	t.Run("Delta_Snapshot_And_Compare", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		engine.Set("a", 1)
		full, err := engine.CreateSnapshot(snapshot.Options{})
		if err != nil {
			t.Fatalf("Failed to snapshot: %v", err)
		}

		engine.Set("a", 2)
		engine.Set("b", 3)
		deltaVersion, err := engine.CreateDeltaSnapshot("", snapshot.Options{})
		if err != nil {
			t.Fatalf("Failed to create delta snapshot: %v", err)
		}

		diff, err := engine.CompareSnapshots(full, deltaVersion)
		if err != nil {
			t.Fatalf("Failed to compare: %v", err)
		}
		if diff.Changes["a"] != 2 || diff.Changes["b"] != 3 {
			t.Errorf("Unexpected diff: %v", diff.Changes)
		}
	})

	t.Run("Dirty_Flag_Tracks_Changes", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		if engine.HasChangesSinceLastSnapshot() {
			t.Errorf("Fresh engine should not be dirty")
		}
		engine.Set("key", "value")
		if !engine.HasChangesSinceLastSnapshot() {
			t.Errorf("Set should mark the engine dirty")
		}
		if _, err := engine.CreateSnapshot(snapshot.Options{}); err != nil {
			t.Fatalf("Failed to snapshot: %v", err)
		}
		if engine.HasChangesSinceLastSnapshot() {
			t.Errorf("Snapshot should clear the dirty flag")
		}
	})

	t.Run("Concurrent_Write_Keeps_Engine_Dirty", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		// Enough state that the snapshot write takes a little while.
		for i := 0; i < 30000; i++ {
			engine.Set(fmt.Sprintf("bulk-%d", i), i)
		}

		done := make(chan string, 1)
		go func() {
			version, err := engine.CreateSnapshot(snapshot.Options{})
			if err != nil {
				t.Errorf("Failed to snapshot: %v", err)
			}
			done <- version
		}()
		time.Sleep(2 * time.Millisecond)
		engine.Set("late-key", "landed mid-snapshot")
		version := <-done

		// The write either made it into the snapshot or the engine must
		// still report pending changes. Both missing is a lost update.
		data, _, err := engine.Snapshots().GetSnapshot(version)
		if err != nil {
			t.Fatalf("Failed to read snapshot back: %v", err)
		}
		if _, inSnapshot := data["late-key"]; !inSnapshot && !engine.HasChangesSinceLastSnapshot() {
			t.Errorf("Write missing from snapshot yet engine reports clean")
		}
	})

	t.Run("Failed_Snapshot_Keeps_Dirty_Flag", func(t *testing.T) {
		engine := startTestEngine(t, testEngineConfig(t.TempDir()))

		engine.Set("key", "value")
		if _, err := engine.CreateDeltaSnapshot("no-such-base", snapshot.Options{}); err == nil {
			t.Fatalf("Delta snapshot against a missing base should fail")
		}
		if !engine.HasChangesSinceLastSnapshot() {
			t.Errorf("Failed snapshot must not clear the dirty flag")
		}
	})

	t.Run("Auto_Snapshot_Fires_When_Dirty", func(t *testing.T) {
		cfg := testEngineConfig(t.TempDir())
		cfg.AutoSnapshotInterval = 40 * time.Millisecond
		cfg.AutoSnapshotDelta = false
		engine := startTestEngine(t, cfg)

		engine.Set("key", "value")
		time.Sleep(120 * time.Millisecond)

		if len(engine.ListSnapshots()) == 0 {
			t.Errorf("Auto snapshot should have fired")
		}
		if engine.HasChangesSinceLastSnapshot() {
			t.Errorf("Auto snapshot should clear the dirty flag")
		}

		// No further writes, no further snapshots.
		count := len(engine.ListSnapshots())
		time.Sleep(100 * time.Millisecond)
		if len(engine.ListSnapshots()) != count {
			t.Errorf("Idle engine should not keep snapshotting")
		}
	})
}

func TestEngineExportImport(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()

	src := startTestEngine(t, testEngineConfig(srcDir))
	src.Set("carried", "over")
	src.Set("number", 99)

	path := filepath.Join(t.TempDir(), "store.archive")
	if err := src.ExportData(path); err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	dst := startTestEngine(t, testEngineConfig(dstDir))
	if err := dst.ImportData(path); err != nil {
		t.Fatalf("Failed to import: %v", err)
	}

	if v, ok := dst.Get("carried"); !ok || v.(string) != "over" {
		t.Errorf("Imported value mismatch: %v (found=%v)", v, ok)
	}
	if v, ok := dst.Get("number"); !ok || v.(int) != 99 {
		t.Errorf("Imported value mismatch: %v (found=%v)", v, ok)
	}
}

func TestEngineMetrics(t *testing.T) {
	engine := startTestEngine(t, testEngineConfig(t.TempDir()))

	engine.Set("a", 1)
	engine.Get("a")
	engine.Get("missing")
	engine.Delete("a")
	engine.Save(map[string]interface{}{"x": 1})
	engine.Load()

	m := engine.Metrics()
	if m.Sets != 1 {
		t.Errorf("Expected 1 set, got %d", m.Sets)
	}
	if m.Gets != 2 {
		t.Errorf("Expected 2 gets, got %d", m.Gets)
	}
	if m.Deletes != 1 {
		t.Errorf("Expected 1 delete, got %d", m.Deletes)
	}
	if m.Saves != 1 || m.Loads != 1 {
		t.Errorf("Expected 1 save and 1 load, got %d/%d", m.Saves, m.Loads)
	}
	if m.CacheHits != 1 || m.CacheMisses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d/%d", m.CacheHits, m.CacheMisses)
	}
	if m.AvgSaveTime < 0 {
		t.Errorf("Average save time should be non-negative")
	}

	engine.ResetMetrics()
	if engine.Metrics().Operations != 0 {
		t.Errorf("Reset should zero the counters")
	}
}

func TestEngineCacheStrategies(t *testing.T) {
	for _, strategy := range []string{"basic", "tiered", "persistent"} {
		t.Run(strategy, func(t *testing.T) {
			cfg := testEngineConfig(t.TempDir())
			cfg.CacheStrategy = strategy
			if strategy == "tiered" {
				cfg.CacheConfig.MaxEntries = 2
				cfg.OverflowConfig = cache.Config{Name: "overflow", MaxEntries: 100, EvictionPolicy: "lru"}
				cfg.PromoteOnAccess = true
				cfg.EnableFilter = true
			}

			engine := startTestEngine(t, cfg)
			for i, key := range []string{"a", "b", "c", "d"} {
				if err := engine.Set(key, i); err != nil {
					t.Fatalf("Failed to set %s: %v", key, err)
				}
			}
			for i, key := range []string{"a", "b", "c", "d"} {
				if v, ok := engine.Get(key); !ok || v.(int) != i {
					t.Errorf("Strategy %s lost %s: %v (found=%v)", strategy, key, v, ok)
				}
			}
		})
	}

	t.Run("Unknown_Strategy_Rejected", func(t *testing.T) {
		cfg := testEngineConfig(t.TempDir())
		cfg.CacheStrategy = "quantum"
		if _, err := persistence.NewEngine(cfg); err == nil {
			t.Errorf("Unknown strategy should be rejected")
		}
	})
}
