package repositories

import (
	"errors"
	"testing"
)

func TestCounterRequest(t *testing.T) {
	id, step, err := CounterRequest("  orders-2025 ", 0)
	if err != nil || id != "orders-2025" || step != 1 {
		t.Fatalf("unexpected normalisation %q %d %v", id, step, err)
	}
	if _, step, _ := CounterRequest("orders-2025", 5); step != 5 {
		t.Fatalf("expected explicit step kept, got %d", step)
	}
	for _, tc := range []struct {
		id   string
		step int64
	}{{" ", 1}, {"orders/2025", 1}, {"orders", -1}} {
		if _, _, err := CounterRequest(tc.id, tc.step); !errors.Is(err, ErrInvalidCounter) {
			t.Fatalf("%q/%d: expected ErrInvalidCounter, got %v", tc.id, tc.step, err)
		}
	}
}
