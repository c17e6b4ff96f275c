package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowstack/graphexec/engine"
)

// MemStore is an in-memory Store implementation. It is the reference
// implementation used by unit tests and single-process deployments,
// adapted from the teacher's graph/store.MemStore: one mutex-guarded
// set of maps, no background goroutines, safe for concurrent use.
type MemStore struct {
	mu sync.RWMutex

	graphs map[string]*engine.Graph // graphID -> graph (latest version only)
	names  map[string]string        // graphID -> display name

	graphExecs map[string]*engine.GraphExecution

	// nodeExecs indexes every NodeExecution by id, plus FIFO order per
	// (nodeID, graphExecID) to support the earliest-incomplete tie-break
	// rule in §4.1 and the static cache lookup in §3/§4.1.
	nodeExecs    map[string]*engine.NodeExecution
	execsByNode  map[string][]string // "nodeID|graphExecID" -> ordered node_exec_ids
	balances     map[string]int64
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		graphs:      make(map[string]*engine.Graph),
		names:       make(map[string]string),
		graphExecs:  make(map[string]*engine.GraphExecution),
		nodeExecs:   make(map[string]*engine.NodeExecution),
		execsByNode: make(map[string][]string),
		balances:    make(map[string]int64),
	}
}

// RegisterGraph makes a graph (and its nodes) resolvable by GetGraph
// and GetNode. name is used for notification payloads.
func (m *MemStore) RegisterGraph(g *engine.Graph, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[g.ID] = g
	m.names[g.ID] = name
}

// SetBalance seeds a user's credit balance, primarily for tests.
func (m *MemStore) SetBalance(userID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = amount
}

func nodeKey(nodeID, graphExecID string) string { return nodeID + "|" + graphExecID }

func (m *MemStore) GetGraph(_ context.Context, graphID string, _ string, _ int) (*engine.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[graphID]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (m *MemStore) GetNode(_ context.Context, nodeID string) (*engine.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.graphs {
		if n, ok := g.Node(nodeID); ok {
			return n, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) GetGraphMetadata(_ context.Context, graphID string, _ int) (*GraphMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.names[graphID]
	if !ok {
		return nil, ErrNotFound
	}
	return &GraphMetadata{GraphID: graphID, Name: name}, nil
}

func (m *MemStore) CreateGraphExecution(_ context.Context, p CreateGraphExecutionParams) (*engine.GraphExecution, []*engine.NodeExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ge := &engine.GraphExecution{
		ID:           uuid.NewString(),
		GraphID:      p.GraphID,
		GraphVersion: p.GraphVersion,
		UserID:       p.UserID,
		PresetID:     p.PresetID,
		Status:       engine.StatusQueued,
	}
	m.graphExecs[ge.ID] = ge

	nodeExecs := make([]*engine.NodeExecution, 0, len(p.NodesInput))
	for _, seed := range p.NodesInput {
		node, err := m.getNodeLocked(seed.NodeID)
		if err != nil {
			return nil, nil, err
		}
		ne := &engine.NodeExecution{
			ID:          uuid.NewString(),
			GraphExecID: ge.ID,
			NodeID:      seed.NodeID,
			BlockID:     node.BlockID,
			UserID:      p.UserID,
			GraphID:     p.GraphID,
			Status:      engine.StatusQueued,
			InputData:   seed.Input,
			CreatedAt:   time.Now(),
		}
		m.nodeExecs[ne.ID] = ne
		key := nodeKey(seed.NodeID, ge.ID)
		m.execsByNode[key] = append(m.execsByNode[key], ne.ID)
		nodeExecs = append(nodeExecs, ne)
	}
	return ge, nodeExecs, nil
}

func (m *MemStore) getNodeLocked(nodeID string) (*engine.Node, error) {
	for _, g := range m.graphs {
		if n, ok := g.Node(nodeID); ok {
			return n, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) UpdateGraphExecutionStartTime(_ context.Context, graphExecID string) (*engine.GraphExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ge, ok := m.graphExecs[graphExecID]
	if !ok {
		return nil, ErrNotFound
	}
	ge.StartedAt = time.Now()
	ge.Status = engine.StatusRunning
	return ge, nil
}

func (m *MemStore) UpdateGraphExecutionStats(_ context.Context, graphExecID string, status engine.Status, stats engine.GraphExecutionStats) (*engine.GraphExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ge, ok := m.graphExecs[graphExecID]
	if !ok {
		return nil, ErrNotFound
	}
	if !engine.CanTransition(ge.Status, status) {
		return ge, nil
	}
	ge.Status = status
	ge.Stats = stats
	return ge, nil
}

func (m *MemStore) GetLatestNodeExecution(_ context.Context, nodeID, graphExecID string) (*engine.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.execsByNode[nodeKey(nodeID, graphExecID)]
	var latest *engine.NodeExecution
	for _, id := range ids {
		ne := m.nodeExecs[id]
		if ne.CurrentStatus() == engine.StatusCompleted {
			if latest == nil || ne.CreatedAt.After(latest.CreatedAt) {
				latest = ne
			}
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *MemStore) GetIncompleteNodeExecutions(_ context.Context, nodeID, graphExecID string) ([]*engine.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.execsByNode[nodeKey(nodeID, graphExecID)]
	out := make([]*engine.NodeExecution, 0, len(ids))
	for _, id := range ids {
		ne := m.nodeExecs[id]
		if ne.CurrentStatus() == engine.StatusIncomplete {
			out = append(out, ne)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) GetNodeExecutionResults(_ context.Context, graphExecID string, filter NodeExecutionFilter) ([]*engine.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.NodeExecution
	for _, ne := range m.nodeExecs {
		if ne.GraphExecID != graphExecID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ne.CurrentStatus()) {
			continue
		}
		if len(filter.BlockIDs) > 0 && !containsString(filter.BlockIDs, ne.BlockID) {
			continue
		}
		out = append(out, ne)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func containsStatus(list []engine.Status, s engine.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// UpsertExecutionInput implements the §4.1 step 2 input upsert: attach
// inputData to the earliest Incomplete execution of nodeID still
// missing inputName, or create a new Incomplete execution.
func (m *MemStore) UpsertExecutionInput(_ context.Context, nodeID, graphExecID, inputName string, inputData any) (string, engine.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nodeKey(nodeID, graphExecID)
	ids := m.execsByNode[key]

	var target *engine.NodeExecution
	var earliest time.Time
	for _, id := range ids {
		ne := m.nodeExecs[id]
		if ne.CurrentStatus() != engine.StatusIncomplete {
			continue
		}
		if ne.HasInput(inputName) {
			continue
		}
		if target == nil || ne.CreatedAt.Before(earliest) {
			target = ne
			earliest = ne.CreatedAt
		}
	}

	node, err := m.getNodeLocked(nodeID)
	if err != nil {
		return "", nil, err
	}

	if target == nil {
		ge, ok := m.graphExecs[graphExecID]
		if !ok {
			return "", nil, ErrNotFound
		}
		target = &engine.NodeExecution{
			ID:          uuid.NewString(),
			GraphExecID: graphExecID,
			NodeID:      nodeID,
			BlockID:     node.BlockID,
			UserID:      ge.UserID,
			GraphID:     ge.GraphID,
			Status:      engine.StatusIncomplete,
			InputData:   engine.Data{},
			CreatedAt:   time.Now(),
		}
		m.nodeExecs[target.ID] = target
		m.execsByNode[key] = append(m.execsByNode[key], target.ID)
	}
	target.SetInput(inputName, inputData)
	return target.ID, target.SnapshotInput(), nil
}

func (m *MemStore) UpsertExecutionOutput(_ context.Context, nodeExecID, outputName string, outputData any) error {
	m.mu.RLock()
	ne, ok := m.nodeExecs[nodeExecID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	ne.AppendOutput(outputName, outputData)
	return nil
}

func (m *MemStore) UpdateNodeExecutionStatus(_ context.Context, nodeExecID string, status engine.Status, data engine.Data) (*engine.NodeExecution, error) {
	m.mu.RLock()
	ne, ok := m.nodeExecs[nodeExecID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if data != nil {
		for k, v := range data {
			ne.SetInput(k, v)
		}
	}
	if !ne.SetStatus(status) {
		return nil, fmt.Errorf("illegal status transition %s -> %s for %s", ne.CurrentStatus(), status, nodeExecID)
	}
	return ne, nil
}

func (m *MemStore) UpdateNodeExecutionStatusBatch(_ context.Context, nodeExecIDs []string, status engine.Status) ([]*engine.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.NodeExecution, 0, len(nodeExecIDs))
	for _, id := range nodeExecIDs {
		ne, ok := m.nodeExecs[id]
		if !ok {
			continue
		}
		ne.SetStatus(status)
		out = append(out, ne)
	}
	return out, nil
}

func (m *MemStore) UpdateNodeExecutionStats(_ context.Context, nodeExecID string, stats engine.NodeExecutionStats) error {
	m.mu.RLock()
	ne, ok := m.nodeExecs[nodeExecID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	ne.Stats = stats
	return nil
}

func (m *MemStore) GetNodeExecution(_ context.Context, nodeExecID string) (*engine.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ne, ok := m.nodeExecs[nodeExecID]
	if !ok {
		return nil, ErrNotFound
	}
	return ne, nil
}

func (m *MemStore) SpendCredits(_ context.Context, userID string, cost int64, _ UsageMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balances[userID]
	if balance < cost {
		return &engine.InsufficientBalanceError{Balance: balance, Amount: cost}
	}
	m.balances[userID] = balance - cost
	return nil
}
