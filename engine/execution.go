package engine

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a GraphExecution or NodeExecution.
// Transitions are monotonic: Queued -> Running -> {Completed, Failed,
// Terminated}, with Incomplete reachable only pre-Queued while a
// NodeExecution is still waiting on inputs.
type Status string

const (
	StatusIncomplete Status = "INCOMPLETE"
	StatusQueued     Status = "QUEUED"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
)

// terminal reports whether status is one from which no further
// transition is allowed.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	default:
		return false
	}
}

// rank orders statuses along the monotonic lifecycle so that
// CanTransition can reject any backward move.
var statusRank = map[Status]int{
	StatusIncomplete: 0,
	StatusQueued:     1,
	StatusRunning:    2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusTerminated: 3,
}

// CanTransition reports whether a status change from -> to is legal
// under the monotonic lifecycle invariant in §3. A terminal status
// never transitions again; any other status may move to any status of
// a higher rank (so Incomplete may go straight to a terminal status).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.terminal() {
		return false
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr > fr
}

// GraphExecutionStats aggregates wall/cpu time, node counts and credit
// spend for one run, folded in by the scheduler's done-callbacks.
type GraphExecutionStats struct {
	WallTime       time.Duration
	CPUTime        time.Duration
	NodesWallTime  time.Duration
	NodesCPUTime   time.Duration
	NodeCount      int
	NodeErrorCount int
	Cost           int64
	Error          string
}

// GraphExecution is one run of a Graph for a user.
type GraphExecution struct {
	ID           string
	GraphID      string
	GraphVersion int
	UserID       string
	PresetID     string
	Status       Status
	Stats        GraphExecutionStats
	StartedAt    time.Time
}

// NodeExecutionStats records per-node timing and IO size, folded into
// GraphExecutionStats when a node execution reaches a terminal state.
type NodeExecutionStats struct {
	WallTime  time.Duration
	CPUTime   time.Duration
	InputSize int
	OutputSize int
	Error      string
}

// NodeExecution is one invocation of one Node within a GraphExecution.
// It is created lazily by the Data-flow Resolver when an input pin
// first receives data, mutated exclusively by the Node Executor that
// holds it, and finalized by the Graph Scheduler's done-callback.
type NodeExecution struct {
	mu sync.Mutex

	ID          string
	GraphExecID string
	NodeID      string
	BlockID     string
	UserID      string
	GraphID     string
	Status      Status
	InputData   Data
	OutputData  map[string][]any // pin -> ordered production history
	Stats       NodeExecutionStats
	CreatedAt   time.Time
}

// SetStatus applies a monotonic status transition, returning false
// (and leaving Status unchanged) if the move would violate §3.
func (n *NodeExecution) SetStatus(to Status) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !CanTransition(n.Status, to) {
		return false
	}
	n.Status = to
	return true
}

// CurrentStatus reads the status under the execution's own lock.
func (n *NodeExecution) CurrentStatus() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Status
}

// HasInput reports whether pin is already present in InputData.
func (n *NodeExecution) HasInput(pin string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.InputData[pin]
	return ok
}

// SetInput attaches a value to pin, overwriting any previous value.
// Used both for dynamic input upserts and static-value back-fills.
func (n *NodeExecution) SetInput(pin string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.InputData == nil {
		n.InputData = Data{}
	}
	n.InputData[pin] = value
}

// SnapshotInput returns a shallow copy of the accumulated input.
func (n *NodeExecution) SnapshotInput() Data {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(Data, len(n.InputData))
	for k, v := range n.InputData {
		out[k] = v
	}
	return out
}

// AppendOutput records a produced value for pin, preserving production
// order as required by §3 ("output values for a pin are append-only").
func (n *NodeExecution) AppendOutput(pin string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.OutputData == nil {
		n.OutputData = make(map[string][]any)
	}
	n.OutputData[pin] = append(n.OutputData[pin], value)
}
