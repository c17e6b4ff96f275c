package notify

import (
	"context"
	"fmt"
	"io"
	"os"
)

// LogNotifier is the default Notifier: it writes both notification
// kinds as single lines to writer, for deployments that haven't wired
// a real email/webhook transport yet.
type LogNotifier struct {
	writer io.Writer
}

// NewLogNotifier builds a LogNotifier writing to writer (os.Stdout if nil).
func NewLogNotifier(writer io.Writer) *LogNotifier {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogNotifier{writer: writer}
}

func (n *LogNotifier) NotifyAgentRun(ctx context.Context, userID string, data AgentRunData) error {
	_, err := fmt.Fprintf(n.writer, "[agent_run] user=%s graph=%s graph_exec=%s nodes=%d errors=%d credits=%d duration=%s\n",
		userID, data.GraphID, data.GraphExecID, data.NodeCount, data.NodeErrorCount, data.CreditsUsed, data.ExecutionTime)
	return err
}

func (n *LogNotifier) NotifyLowBalance(ctx context.Context, userID string, data LowBalanceData) error {
	_, err := fmt.Fprintf(n.writer, "[low_balance] user=%s graph=%s graph_exec=%s balance=%d amount=%d shortfall=%d billing=%s\n",
		userID, data.GraphID, data.GraphExecID, data.Balance, data.Amount, data.Shortfall, data.BillingURL)
	return err
}
