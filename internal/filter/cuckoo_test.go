package filter_test

import (
	"errors"
	"fmt"
	"testing"

	"statevault/internal/filter"
)

func TestCuckooFilterBasics(t *testing.T) {
	cf, err := filter.New(1000, 0.01)
	if err != nil {
		t.Fatalf("Failed to create filter: %v", err)
	}

	t.Run("Add_And_Contains", func(t *testing.T) {
		key := []byte("user:42")

		if cf.Contains(key) {
			t.Errorf("Filter should not contain key before adding")
		}
		if err := cf.Add(key); err != nil {
			t.Fatalf("Failed to add key: %v", err)
		}
		if !cf.Contains(key) {
			t.Errorf("Filter should contain key after adding")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		key := []byte("session:7")

		if err := cf.Add(key); err != nil {
			t.Fatalf("Failed to add key: %v", err)
		}
		if !cf.Delete(key) {
			t.Errorf("Delete should succeed for present key")
		}
		if cf.Contains(key) {
			t.Errorf("Deleted key should no longer be reported")
		}
		if cf.Delete([]byte("never-added-key")) {
			t.Errorf("Delete of absent key should fail")
		}
	})

	t.Run("Empty_Key_Rejected", func(t *testing.T) {
		if err := cf.Add(nil); !errors.Is(err, filter.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey, got %v", err)
		}
		if cf.Contains(nil) {
			t.Errorf("Empty key should never be a member")
		}
	})
}

func TestCuckooFilterNoFalseNegatives(t *testing.T) {
	cf, err := filter.New(5000, 0.01)
	if err != nil {
		t.Fatalf("Failed to create filter: %v", err)
	}

	numKeys := 2000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("entry-%d", i))
		if err := cf.Add(key); err != nil {
			t.Fatalf("Failed to add key %d: %v", i, err)
		}
	}

	// Every inserted key must be reported as present.
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("entry-%d", i))
		if !cf.Contains(key) {
			t.Fatalf("False negative for key %d", i)
		}
	}
}

func TestCuckooFilterFalsePositiveRate(t *testing.T) {
	targetRate := 0.01
	cf, err := filter.New(5000, targetRate)
	if err != nil {
		t.Fatalf("Failed to create filter: %v", err)
	}

	numKeys := 3000
	for i := 0; i < numKeys; i++ {
		if err := cf.Add([]byte(fmt.Sprintf("member-%d", i))); err != nil {
			t.Fatalf("Failed to add key %d: %v", i, err)
		}
	}

	falsePositives := 0
	probes := 10000
	for i := 0; i < probes; i++ {
		if cf.Contains([]byte(fmt.Sprintf("outsider-%d", i))) {
			falsePositives++
		}
	}

	observed := float64(falsePositives) / float64(probes)
	t.Logf("False positive rate: %.4f (target: %.4f)", observed, targetRate)
	if observed > targetRate*10 {
		t.Errorf("False positive rate too high: %.4f", observed)
	}
}

func TestCuckooFilterClearAndStats(t *testing.T) {
	cf, err := filter.New(1000, 0.01)
	if err != nil {
		t.Fatalf("Failed to create filter: %v", err)
	}

	for i := 0; i < 100; i++ {
		cf.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	if cf.Size() != 100 {
		t.Errorf("Expected size 100, got %d", cf.Size())
	}

	stats := cf.GetStats()
	if stats.Adds != 100 {
		t.Errorf("Expected 100 adds, got %d", stats.Adds)
	}
	if stats.Capacity == 0 {
		t.Errorf("Capacity should be non-zero")
	}
	if stats.LoadFactor <= 0 {
		t.Errorf("Load factor should be positive, got %f", stats.LoadFactor)
	}

	cf.Clear()
	if cf.Size() != 0 {
		t.Errorf("Size should be zero after clear, got %d", cf.Size())
	}
	if cf.Contains([]byte("key-1")) {
		t.Errorf("Cleared filter should be empty")
	}
}

func TestCuckooFilterInvalidConstruction(t *testing.T) {
	cases := []struct {
		name  string
		items uint64
		fpr   float64
	}{
		{"Zero_Items", 0, 0.01},
		{"Zero_Rate", 1000, 0},
		{"Rate_Too_High", 1000, 1.0},
		{"Negative_Rate", 1000, -0.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := filter.New(tc.items, tc.fpr); err == nil {
				t.Errorf("Expected construction to fail for items=%d rate=%f", tc.items, tc.fpr)
			}
		})
	}
}
