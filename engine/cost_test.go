package engine

import "testing"

func TestExecutionUsageCostIsMonotonic(t *testing.T) {
	meter := NewCostMeter(nil, nil, "")
	prev := int64(-1)
	for _, counter := range []int64{0, 50, 99, 100, 500, 999, 1000, 9999, 10000, 50000} {
		cost, next := meter.ExecutionUsageCost(counter)
		if cost < prev {
			t.Fatalf("tiered cost regressed at counter=%d: %d < %d", counter, cost, prev)
		}
		if next != counter+1 {
			t.Fatalf("expected counter to advance by one, got %d from %d", next, counter)
		}
		prev = cost
	}
}

func TestExecutionUsageCostFreeTier(t *testing.T) {
	meter := NewCostMeter(nil, nil, "")
	if cost, _ := meter.ExecutionUsageCost(0); cost != 0 {
		t.Fatalf("expected the first dispatches to be free, got cost=%d", cost)
	}
}

func TestInsufficientBalanceErrorShortfall(t *testing.T) {
	err := &InsufficientBalanceError{Balance: 10, Amount: 25}
	if got := err.Shortfall(); got != -15 {
		t.Fatalf("expected shortfall -15, got %d", got)
	}
}
