// Package notify delivers the two user-facing notifications the
// Execution Manager raises outside the normal event stream: an
// unconditional "your agent finished" message, and a low-balance
// warning when a run aborts on InsufficientBalanceError (§4.4, §4.5,
// supplemented from the original's notification payload shapes).
package notify

import (
	"context"
	"time"
)

// AgentRunData is the payload for an AGENT_RUN notification, sent
// unconditionally at the end of every graph execution regardless of
// its terminal status (§9 Open Question: "unconditional, by design of
// the original").
type AgentRunData struct {
	GraphID        string
	GraphExecID    string
	GraphName      string
	NodeCount      int
	NodeErrorCount int
	CreditsUsed    int64
	ExecutionTime  time.Duration
	Outputs        map[string][]any
}

// LowBalanceData is the payload for a LOW_BALANCE notification, sent
// when a graph execution aborts because SpendCredits reported
// insufficient funds.
type LowBalanceData struct {
	GraphID     string
	GraphExecID string
	Balance     int64
	Amount      int64
	Shortfall   int64
	BillingURL  string
}

// Notifier delivers notifications to whatever transport the
// deployment wires in (email, queue, webhook). Calls must not block
// the scheduler indefinitely; implementations should apply their own
// timeout.
type Notifier interface {
	NotifyAgentRun(ctx context.Context, userID string, data AgentRunData) error
	NotifyLowBalance(ctx context.Context, userID string, data LowBalanceData) error
}
