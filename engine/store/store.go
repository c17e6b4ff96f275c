// Package store provides the persistence surface the scheduler consumes
// (the spec's "DatabaseManager"). Implementations own graphs, node
// definitions, executions, outputs and the credit ledger; the engine
// package only depends on the Store interface declared here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/flowstack/graphexec/engine"
)

// ErrNotFound is returned when a requested graph, node or execution
// does not exist.
var ErrNotFound = errors.New("not found")

// GraphMetadata is the subset of graph identity used to build
// notification payloads (agent name) without loading the full graph.
type GraphMetadata struct {
	GraphID string
	Name    string
}

// CreateGraphExecutionParams seeds a new GraphExecution with its
// starting-node inputs (§4.5 step 5).
type CreateGraphExecutionParams struct {
	GraphID      string
	GraphVersion int
	UserID       string
	PresetID     string
	NodesInput   []NodeSeed
}

// NodeSeed pairs a starting node id with its validated seed input.
type NodeSeed struct {
	NodeID string
	Input  engine.Data
}

// NodeExecutionFilter narrows GetNodeExecutionResults queries.
type NodeExecutionFilter struct {
	Statuses []engine.Status
	BlockIDs []string
}

// Store is the persistence surface consumed by the engine package; see
// spec.md §6 for the full named interface this mirrors.
type Store interface {
	GetGraph(ctx context.Context, graphID string, userID string, version int) (*engine.Graph, error)
	GetNode(ctx context.Context, nodeID string) (*engine.Node, error)
	GetGraphMetadata(ctx context.Context, graphID string, version int) (*GraphMetadata, error)

	CreateGraphExecution(ctx context.Context, p CreateGraphExecutionParams) (*engine.GraphExecution, []*engine.NodeExecution, error)
	UpdateGraphExecutionStartTime(ctx context.Context, graphExecID string) (*engine.GraphExecution, error)
	UpdateGraphExecutionStats(ctx context.Context, graphExecID string, status engine.Status, stats engine.GraphExecutionStats) (*engine.GraphExecution, error)

	GetLatestNodeExecution(ctx context.Context, nodeID, graphExecID string) (*engine.NodeExecution, error)
	GetIncompleteNodeExecutions(ctx context.Context, nodeID, graphExecID string) ([]*engine.NodeExecution, error)
	GetNodeExecutionResults(ctx context.Context, graphExecID string, filter NodeExecutionFilter) ([]*engine.NodeExecution, error)

	// UpsertExecutionInput attaches inputData under inputName to the
	// earliest Incomplete execution of nodeID still missing that pin,
	// creating a new Incomplete execution if none exists (§4.1 step 2).
	// Returns the node execution id and its accumulated input snapshot.
	UpsertExecutionInput(ctx context.Context, nodeID, graphExecID, inputName string, inputData any) (string, engine.Data, error)

	UpsertExecutionOutput(ctx context.Context, nodeExecID, outputName string, outputData any) error

	UpdateNodeExecutionStatus(ctx context.Context, nodeExecID string, status engine.Status, data engine.Data) (*engine.NodeExecution, error)
	UpdateNodeExecutionStatusBatch(ctx context.Context, nodeExecIDs []string, status engine.Status) ([]*engine.NodeExecution, error)
	UpdateNodeExecutionStats(ctx context.Context, nodeExecID string, stats engine.NodeExecutionStats) error

	GetNodeExecution(ctx context.Context, nodeExecID string) (*engine.NodeExecution, error)

	// SpendCredits debits cost from userID's balance, recording metadata
	// for audit. It returns *engine.InsufficientBalanceError (unwrapped)
	// when the account cannot cover cost (§4.4).
	SpendCredits(ctx context.Context, userID string, cost int64, metadata UsageMetadata) error
}

// UsageMetadata records why a credit charge happened, attached to the
// ledger entry for audit (§4.4).
type UsageMetadata struct {
	GraphExecID string
	GraphID     string
	NodeExecID  string
	NodeID      string
	BlockID     string
	Block       string
	Input       map[string]any
}

// now is overridable in tests; production code always uses time.Now.
var now = time.Now
