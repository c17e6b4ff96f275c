package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/flowstack/graphexec/engine/creds"
	"github.com/flowstack/graphexec/engine/emit"
	"github.com/flowstack/graphexec/engine/notify"
	"github.com/flowstack/graphexec/engine/store"
)

// activeRun tracks one in-flight GraphExecution so CancelExecution can
// signal it and the graph-worker pool can report completion (§4.5).
type activeRun struct {
	cancel chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (a *activeRun) trip() {
	a.once.Do(func() { close(a.cancel) })
}

// Manager is the process-wide Execution Manager (§4.5): it owns the
// graph-worker pool and exposes AddExecution/CancelExecution.
type Manager struct {
	store    store.Store
	creds    creds.Store
	emitter  emit.Emitter
	notifier notify.Notifier
	catalog  BlockCatalog

	scheduler *Scheduler
	sem       *semaphore.Weighted

	mu     sync.Mutex
	active map[string]*activeRun
}

// ManagerConfig bundles the Manager's collaborators and tuning knobs.
type ManagerConfig struct {
	Store           store.Store
	Creds           creds.Store
	Emitter         emit.Emitter
	Notifier        notify.Notifier
	Catalog         BlockCatalog
	Scheduler       *Scheduler
	NumGraphWorkers int
}

// NewManager builds a Manager from cfg. Scheduler must already be
// wired against the same Store/Emitter/Notifier/Catalog.
func NewManager(cfg ManagerConfig) *Manager {
	workers := cfg.NumGraphWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		store:     cfg.Store,
		creds:     cfg.Creds,
		emitter:   cfg.Emitter,
		notifier:  cfg.Notifier,
		catalog:   cfg.Catalog,
		scheduler: cfg.Scheduler,
		sem:       semaphore.NewWeighted(int64(workers)),
		active:    make(map[string]*activeRun),
	}
}

// AddExecution validates and seeds a new GraphExecution, then submits
// it to the graph-worker pool (§4.5 `add_execution`).
func (m *Manager) AddExecution(ctx context.Context, graphID string, data Data, userID string, graphVersion int, presetID string) (*GraphExecution, error) {
	graph, err := m.store.GetGraph(ctx, graphID, userID, graphVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphNotFound, err)
	}

	if err := m.validateCredentials(ctx, graph, userID); err != nil {
		return nil, err
	}

	seeds, err := m.extractStartingInputs(graph, data)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, ErrNoStartingNodes
	}

	ge, nodeExecs, err := m.store.CreateGraphExecution(ctx, store.CreateGraphExecutionParams{
		GraphID:      graphID,
		GraphVersion: graph.Version,
		UserID:       userID,
		PresetID:     presetID,
		NodesInput:   seeds,
	})
	if err != nil {
		return nil, &EngineError{Message: "create graph execution", Code: "STORE_ERROR", Cause: err}
	}
	m.emitter.Emit(emit.Event{GraphExecID: ge.ID, GraphID: graphID, Status: string(ge.Status), Msg: "graph_queued"})

	seedEntries := make([]ReadyEntry, 0, len(nodeExecs))
	for _, ne := range nodeExecs {
		seedEntries = append(seedEntries, ReadyEntry{NodeExecID: ne.ID, NodeID: ne.NodeID})
	}

	run := &activeRun{cancel: make(chan struct{}), done: make(chan struct{})}
	m.mu.Lock()
	m.active[ge.ID] = run
	m.mu.Unlock()

	go m.runGraph(graph, ge, seedEntries, run)

	return ge, nil
}

func (m *Manager) runGraph(graph *Graph, ge *GraphExecution, seed []ReadyEntry, run *activeRun) {
	ctx := context.Background()
	defer close(run.done)
	defer func() {
		m.mu.Lock()
		delete(m.active, ge.ID)
		m.mu.Unlock()
	}()

	_ = m.sem.Acquire(ctx, 1)
	defer m.sem.Release(1)

	started, err := m.store.UpdateGraphExecutionStartTime(ctx, ge.ID)
	if err != nil {
		return
	}
	_ = runProtected(func() error {
		m.scheduler.Run(ctx, graph, started, seed, run.cancel)
		return nil
	})
}

// CancelExecution implements §4.5 `cancel_execution`: idempotently
// trips the run's cancel event, waits for its graph-worker to return,
// persists TERMINATED, and batch-terminates every non-terminal
// NodeExecution.
func (m *Manager) CancelExecution(ctx context.Context, graphExecID string) error {
	m.mu.Lock()
	run, active := m.active[graphExecID]
	m.mu.Unlock()

	if active {
		run.trip()
		select {
		case <-run.done:
		case <-ctx.Done():
		}
	}

	if _, err := m.store.UpdateGraphExecutionStats(ctx, graphExecID, StatusTerminated, GraphExecutionStats{}); err != nil {
		return &EngineError{Message: "persist terminated", Code: "STORE_ERROR", Cause: err}
	}

	results, err := m.store.GetNodeExecutionResults(ctx, graphExecID, store.NodeExecutionFilter{
		Statuses: []Status{StatusQueued, StatusRunning, StatusIncomplete},
	})
	if err != nil {
		return &EngineError{Message: "list non-terminal node execs", Code: "STORE_ERROR", Cause: err}
	}
	ids := make([]string, 0, len(results))
	for _, ne := range results {
		ids = append(ids, ne.ID)
	}
	updated, err := m.store.UpdateNodeExecutionStatusBatch(ctx, ids, StatusTerminated)
	if err != nil {
		return &EngineError{Message: "batch terminate", Code: "STORE_ERROR", Cause: err}
	}
	for _, ne := range updated {
		m.emitter.Emit(emit.Event{GraphExecID: graphExecID, NodeID: ne.NodeID, NodeExecID: ne.ID, Status: string(StatusTerminated), Msg: "node_terminated"})
	}
	return nil
}

// validateCredentials implements §4.5 step 2: every node's declared
// credential fields must resolve to an existing credential of the
// matching provider/type for userID.
func (m *Manager) validateCredentials(ctx context.Context, graph *Graph, userID string) error {
	for _, node := range graph.Nodes {
		block, ok := m.catalog.GetBlock(node.BlockID)
		if !ok {
			continue
		}
		for _, fieldName := range block.Schema().CredentialFields() {
			raw, ok := node.InputDefault[fieldName]
			if !ok {
				continue
			}
			meta, ok := toCredMeta(raw)
			if !ok {
				continue
			}
			if _, found, err := m.creds.GetCredsByID(ctx, userID, meta); err != nil || !found {
				return &ValidationError{Message: fmt.Sprintf("credential %s invalid for node %s", meta.ID, node.ID)}
			}
		}
	}
	return nil
}

// extractStartingInputs implements §4.5 step 3: for each starting
// node, derive its seed input according to block type, then validate
// it against the block's schema.
func (m *Manager) extractStartingInputs(graph *Graph, data Data) ([]store.NodeSeed, error) {
	var seeds []store.NodeSeed
	for _, node := range graph.StartingNodes {
		block, ok := m.catalog.GetBlock(node.BlockID)
		if !ok {
			continue
		}
		if block.Type() == BlockNote {
			continue
		}

		var input Data
		switch block.Type() {
		case BlockInput:
			name, _ := node.InputDefault["name"].(string)
			input = Data{"value": data[name]}
		case BlockWebhook, BlockWebhookManual:
			if node.WebhookID == "" {
				continue
			}
			payloadKey := "webhook_" + node.WebhookID + "_payload"
			payload, ok := data[payloadKey]
			if !ok {
				return nil, &ValidationError{Message: fmt.Sprintf("node %s: webhook payload is missing", node.ID)}
			}
			input = Data{"payload": payload}
		default:
			input = Data{}
		}

		validated, errMsg := ValidateExec(m.catalog, node, input, true)
		if errMsg != "" {
			continue
		}
		seeds = append(seeds, store.NodeSeed{NodeID: node.ID, Input: validated.Data})
	}
	return seeds, nil
}
