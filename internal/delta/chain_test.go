package delta_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"statevault/internal/delta"
	"statevault/internal/errs"
)

func TestChain(t *testing.T) {
	t.Run("States_Replay_In_Order", func(t *testing.T) {
		engine := delta.NewEngine(false)
		chain := delta.NewChain(engine, map[string]interface{}{"v": 0}, 10, false)

		states := []map[string]interface{}{
			{"v": 1},
			{"v": 2, "extra": "x"},
			{"v": 3},
		}
		for _, state := range states {
			if _, err := chain.AddState(state, time.Time{}); err != nil {
				t.Fatalf("Failed to add state: %v", err)
			}
		}

		if chain.Len() != 3 {
			t.Fatalf("Expected 3 records, got %d", chain.Len())
		}
		for i, want := range states {
			got, err := chain.StateAt(i)
			if err != nil {
				t.Fatalf("Failed to reconstruct state %d: %v", i, err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("State %d mismatch: got %v, want %v", i, got, want)
			}
		}

		if !reflect.DeepEqual(chain.CurrentState(), states[2]) {
			t.Errorf("Current state mismatch: %v", chain.CurrentState())
		}
		if !reflect.DeepEqual(chain.BaseState(), map[string]interface{}{"v": 0}) {
			t.Errorf("Base state mismatch: %v", chain.BaseState())
		}
	})

	t.Run("Index_Out_Of_Range", func(t *testing.T) {
		engine := delta.NewEngine(false)
		chain := delta.NewChain(engine, nil, 10, false)
		chain.AddState(map[string]interface{}{"a": 1}, time.Time{})

		if _, err := chain.StateAt(-1); !errors.Is(err, errs.ErrVersioning) {
			t.Errorf("Expected ErrVersioning for negative index, got %v", err)
		}
		if _, err := chain.StateAt(1); !errors.Is(err, errs.ErrVersioning) {
			t.Errorf("Expected ErrVersioning past the end, got %v", err)
		}
	})

	t.Run("Compaction_Preserves_Current_State", func(t *testing.T) {
		engine := delta.NewEngine(false)
		chain := delta.NewChain(engine, nil, 6, true)

		var last map[string]interface{}
		for i := 0; i < 20; i++ {
			last = map[string]interface{}{
				"counter": i,
				"label":   fmt.Sprintf("iteration-%d", i),
			}
			if _, err := chain.AddState(last, time.Time{}); err != nil {
				t.Fatalf("Failed to add state %d: %v", i, err)
			}
		}

		if chain.Len() > 6 {
			t.Errorf("Auto-optimize should keep the chain within its limit, got %d", chain.Len())
		}

		// The newest retained index still reconstructs the latest state.
		got, err := chain.StateAt(chain.Len() - 1)
		if err != nil {
			t.Fatalf("Failed to reconstruct after compaction: %v", err)
		}
		if !reflect.DeepEqual(got, last) {
			t.Errorf("Compaction lost state: got %v, want %v", got, last)
		}
		if !reflect.DeepEqual(chain.CurrentState(), last) {
			t.Errorf("Cached current state diverged after compaction")
		}

		metrics := chain.Metrics()
		if metrics.Compactions == 0 {
			t.Errorf("Expected compactions to be counted")
		}
	})

	t.Run("Compaction_Handles_Removals", func(t *testing.T) {
		engine := delta.NewEngine(false)
		chain := delta.NewChain(engine, map[string]interface{}{"doomed": true}, 4, true)

		chain.AddState(map[string]interface{}{"doomed": true, "a": 1}, time.Time{})
		chain.AddState(map[string]interface{}{"a": 1}, time.Time{}) // doomed removed
		for i := 0; i < 6; i++ {
			chain.AddState(map[string]interface{}{"a": 1, "i": i}, time.Time{})
		}

		final := chain.CurrentState()
		if _, ok := final["doomed"]; ok {
			t.Errorf("Removed key resurfaced after compaction: %v", final)
		}
		got, err := chain.StateAt(chain.Len() - 1)
		if err != nil {
			t.Fatalf("Failed to reconstruct: %v", err)
		}
		if _, ok := got["doomed"]; ok {
			t.Errorf("Removed key resurfaced in replay: %v", got)
		}
	})

	t.Run("Rebaseline_Resets_Records", func(t *testing.T) {
		engine := delta.NewEngine(false)
		chain := delta.NewChain(engine, nil, 10, false)

		chain.AddState(map[string]interface{}{"a": 1}, time.Time{})
		chain.AddState(map[string]interface{}{"a": 2}, time.Time{})
		chain.Rebaseline()

		if chain.Len() != 0 {
			t.Errorf("Rebaseline should clear records, got %d", chain.Len())
		}
		if !reflect.DeepEqual(chain.BaseState(), map[string]interface{}{"a": 2}) {
			t.Errorf("Base should equal the pre-rebaseline current state: %v", chain.BaseState())
		}
		if !reflect.DeepEqual(chain.CurrentState(), map[string]interface{}{"a": 2}) {
			t.Errorf("Current state should survive rebaseline: %v", chain.CurrentState())
		}
		if chain.Metrics().Rebaselines != 1 {
			t.Errorf("Expected one counted rebaseline")
		}
	})

	t.Run("Metrics_Report_Shape", func(t *testing.T) {
		engine := delta.NewEngine(true)
		chain := delta.NewChain(engine, nil, 10, false)

		chain.AddState(map[string]interface{}{"a": "payload-payload-payload"}, time.Time{})
		chain.AddState(map[string]interface{}{"a": "payload-payload-payload", "b": 2}, time.Time{})

		metrics := chain.Metrics()
		if metrics.Records != 2 {
			t.Errorf("Expected 2 records in metrics, got %d", metrics.Records)
		}
		if metrics.TotalCompressedBytes == 0 {
			t.Errorf("Expected nonzero total bytes")
		}
		if metrics.AvgCompressionRatio <= 0 {
			t.Errorf("Expected positive average compression ratio")
		}
	})
}
