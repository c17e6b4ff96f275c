package engine

import (
	"context"
	"fmt"

	"github.com/flowstack/graphexec/engine/notify"
	"github.com/flowstack/graphexec/engine/store"
)

// CostedBlock is the optional interface a Block may implement to
// declare a non-zero per-invocation usage cost (§4.4 step 1). Blocks
// that don't implement it are free.
type CostedBlock interface {
	// UsageCost returns the credit cost of one invocation given input,
	// and a short label naming which cost rule matched (for audit).
	UsageCost(input Data) (cost int64, matchingFilter string)
}

// CostTier is one step of the monotonic execution-cost curve: once the
// run's node-dispatch counter reaches Above, each further dispatch
// costs Cost credits until the next tier's threshold is reached.
type CostTier struct {
	Above int64
	Cost  int64
}

// defaultTiers gives every run its first 100 node dispatches free,
// then a small per-dispatch charge that increases at volume, a
// deliberately simple monotonic curve (§9 Open Question: the spec
// leaves the exact curve implementer-defined).
var defaultTiers = []CostTier{
	{Above: 0, Cost: 0},
	{Above: 100, Cost: 1},
	{Above: 1000, Cost: 2},
	{Above: 10000, Cost: 5},
}

// CostMeter charges the two credit debits a node dispatch incurs
// before submission, so a failure to pay fails fast (§4.4).
type CostMeter struct {
	store      store.Store
	notifier   notify.Notifier
	tiers      []CostTier
	billingURL string
}

// NewCostMeter builds a CostMeter with the default tiered curve.
func NewCostMeter(st store.Store, notifier notify.Notifier, billingURL string) *CostMeter {
	return &CostMeter{store: st, notifier: notifier, tiers: defaultTiers, billingURL: billingURL}
}

// ExecutionUsageCost returns the cost of the counter'th node dispatch
// under the tiered curve and the counter advanced by one (§4.4 step
// 2). The curve is monotonic: cost never decreases as counter grows.
func (c *CostMeter) ExecutionUsageCost(counter int64) (cost int64, newCounter int64) {
	cost = 0
	for _, t := range c.tiers {
		if counter >= t.Above {
			cost = t.Cost
		}
	}
	return cost, counter + 1
}

// Charge debits both the per-block and per-execution costs for one
// node dispatch and returns the total debited; the scheduler folds it
// into the run's stats.Cost. On
// InsufficientBalanceError it writes the "error" output, marks the
// node FAILED, queues a LOW_BALANCE notification and returns the error
// so the scheduler aborts the graph run (§4.4).
func (c *CostMeter) Charge(ctx context.Context, graph *Graph, node *Node, block Block, ne *NodeExecution, execCounter int64) (charged int64, err error) {
	var blockCost int64
	var filter string
	if cb, ok := block.(CostedBlock); ok {
		blockCost, filter = cb.UsageCost(ne.SnapshotInput())
	}
	execCost, _ := c.ExecutionUsageCost(execCounter)

	total := blockCost + execCost
	if total <= 0 {
		return 0, nil
	}

	meta := store.UsageMetadata{
		GraphExecID: ne.GraphExecID,
		GraphID:     ne.GraphID,
		NodeExecID:  ne.ID,
		NodeID:      ne.NodeID,
		BlockID:     ne.BlockID,
		Block:       block.Name(),
		Input:       map[string]any{"matching_filter": filter},
	}

	if err := c.store.SpendCredits(ctx, ne.UserID, total, meta); err != nil {
		c.onInsufficientBalance(ctx, ne, err)
		return 0, err
	}
	return total, nil
}

func (c *CostMeter) onInsufficientBalance(ctx context.Context, ne *NodeExecution, err error) {
	var shortfall, balance, amount int64
	if ib, ok := err.(*InsufficientBalanceError); ok {
		shortfall = ib.Shortfall()
		balance = ib.Balance
		amount = ib.Amount
	}
	_ = c.store.UpsertExecutionOutput(ctx, ne.ID, "error", err.Error())
	_, _ = c.store.UpdateNodeExecutionStatus(ctx, ne.ID, StatusFailed, nil)

	meta, metaErr := c.store.GetGraphMetadata(ctx, ne.GraphID, 0)
	agentName := ""
	if metaErr == nil {
		agentName = meta.Name
	}
	if c.notifier != nil {
		_ = c.notifier.NotifyLowBalance(ctx, ne.UserID, notify.LowBalanceData{
			GraphID:     ne.GraphID,
			GraphExecID: ne.GraphExecID,
			Balance:     balance,
			Amount:      amount,
			Shortfall:   shortfall,
			BillingURL:  fmt.Sprintf("%s?agent=%s", c.billingURL, agentName),
		})
	}
}
