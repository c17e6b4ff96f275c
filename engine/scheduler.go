package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flowstack/graphexec/engine/emit"
	"github.com/flowstack/graphexec/engine/notify"
	"github.com/flowstack/graphexec/engine/store"
)

// Frontier is the scheduler's in-memory FIFO ready-queue. A single
// shared queue (rather than one per node) keeps dispatch order simple
// and matches the spec's "queue: in-memory FIFO of ready NodeExecution
// entries" (§4.3; §9 Open Question: shared FIFO chosen over per-node
// queues).
type Frontier struct {
	mu      sync.Mutex
	entries []ReadyEntry
	notify  chan struct{}
}

// NewFrontier builds an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{notify: make(chan struct{}, 1)}
}

// Push appends entries to the tail of the queue and wakes any waiter.
func (f *Frontier) Push(entries ...ReadyEntry) {
	if len(entries) == 0 {
		return
	}
	f.mu.Lock()
	f.entries = append(f.entries, entries...)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head entry, or ok=false if empty.
func (f *Frontier) Pop() (ReadyEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return ReadyEntry{}, false
	}
	e := f.entries[0]
	f.entries = f.entries[1:]
	return e, true
}

// Len reports the current queue depth.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Wait blocks until the queue becomes non-empty or timeout elapses,
// mirroring §4.3's "wait up to 3s on any running task" inner loop.
func (f *Frontier) Wait(timeout time.Duration) {
	if f.Len() > 0 {
		return
	}
	select {
	case <-f.notify:
	case <-time.After(timeout):
	}
}

// Scheduler runs one GraphExecution to completion: a single-threaded
// dispatch loop owning a node-worker pool, a ready-queue, and the
// per-node serialization invariant (§4.3).
type Scheduler struct {
	store      store.Store
	executor   *Executor
	cost       *CostMeter
	emitter    emit.Emitter
	notifier   notify.Notifier
	numWorkers int64
	scratchDir string
	metrics    *PrometheusMetrics
}

// NewScheduler builds a Scheduler against the given collaborators.
func NewScheduler(st store.Store, executor *Executor, cost *CostMeter, emitter emit.Emitter, notifier notify.Notifier, numNodeWorkers int, scratchDir string, metrics *PrometheusMetrics) *Scheduler {
	if numNodeWorkers <= 0 {
		numNodeWorkers = 1
	}
	return &Scheduler{store: st, executor: executor, cost: cost, emitter: emitter, notifier: notifier, numWorkers: int64(numNodeWorkers), scratchDir: scratchDir, metrics: metrics}
}

// nodeHandle tracks one in-flight node dispatch so the scheduler can
// enforce "two NodeExecutions of the same node_id are strictly
// serialized" (§3, §5).
type nodeHandle struct {
	done chan struct{}
}

// Run drives the main scheduling loop in §4.3's pseudocode: seed the
// frontier, pop-dispatch-wait until both the queue is empty and no
// node is in flight, then finalize. cancel is polled cooperatively at
// every queue pop and during idle waits.
func (s *Scheduler) Run(ctx context.Context, graph *Graph, ge *GraphExecution, seed []ReadyEntry, cancel <-chan struct{}) {
	frontier := NewFrontier()
	frontier.Push(seed...)

	// runCtx is cancelled the instant cancel trips, so an in-flight
	// Executor.Run sees it on its ctx.Done() drain case and unwinds
	// without waiting for the block to exhaust its output stream
	// (§4.3/§5: "in-flight node executions are killed ... Redis
	// disconnected" — the cooperative equivalent for a goroutine-based
	// node worker is cancelling its context).
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go func() {
		select {
		case <-cancel:
			stopRun()
		case <-runCtx.Done():
		}
	}()

	var runningMu sync.Mutex
	running := map[string]*nodeHandle{}

	sem := semaphore.NewWeighted(s.numWorkers)
	var wg sync.WaitGroup

	var statsMu sync.Mutex
	stats := GraphExecutionStats{}
	var execCounter int64
	terminated := false

	s.metrics.IncActiveGraphExecs()
	defer s.metrics.DecActiveGraphExecs()

	finish := func(status Status) {
		statsMu.Lock()
		stats.WallTime = time.Since(ge.StartedAt)
		final := stats
		statsMu.Unlock()
		_, _ = s.store.UpdateGraphExecutionStats(ctx, ge.ID, status, final)
		s.emitter.Emit(emit.Event{GraphExecID: ge.ID, GraphID: ge.GraphID, Status: string(status), Msg: "graph_" + string(status)})
		s.cleanupScratch(ge.ID)
		s.notifyAgentRun(ctx, graph, ge, final)
	}

loop:
	for {
		select {
		case <-cancel:
			terminated = true
			break loop
		default:
		}

		entry, ok := frontier.Pop()
		if !ok {
			s.metrics.SetQueueDepth(0)
			if !s.waitForIdleOrWork(frontier, &runningMu, running, cancel) {
				terminated = true
				break loop
			}
			if frontier.Len() == 0 {
				break loop
			}
			continue
		}
		s.metrics.SetQueueDepth(frontier.Len())

		runningMu.Lock()
		if h, exists := running[entry.NodeID]; exists {
			runningMu.Unlock()
			<-h.done // serialize per-node (§3, §5)
			runningMu.Lock()
		}
		handle := &nodeHandle{done: make(chan struct{})}
		running[entry.NodeID] = handle
		runningMu.Unlock()

		ne, err := s.store.GetNodeExecution(ctx, entry.NodeExecID)
		if err != nil {
			close(handle.done)
			runningMu.Lock()
			delete(running, entry.NodeID)
			runningMu.Unlock()
			continue
		}
		node, _ := graph.Node(entry.NodeID)
		block, _ := s.executor.catalog.GetBlock(node.BlockID)

		statsMu.Lock()
		counter := execCounter
		execCounter++
		statsMu.Unlock()

		charged, err := s.cost.Charge(ctx, graph, node, block, ne, counter)
		if err != nil {
			close(handle.done)
			runningMu.Lock()
			delete(running, entry.NodeID)
			runningMu.Unlock()
			wg.Wait()
			finish(StatusFailed)
			return
		}
		s.metrics.AddCreditSpend(node.BlockID, charged)
		statsMu.Lock()
		stats.Cost += charged
		statsMu.Unlock()

		_ = sem.Acquire(ctx, 1)
		s.metrics.IncActiveNodeExecs()
		wg.Add(1)
		go func(entry ReadyEntry, handle *nodeHandle) {
			defer wg.Done()
			defer sem.Release(1)
			defer close(handle.done)
			defer s.metrics.DecActiveNodeExecs()
			defer func() {
				runningMu.Lock()
				if running[entry.NodeID] == handle {
					delete(running, entry.NodeID)
				}
				runningMu.Unlock()
			}()

			dispatched := time.Now()
			ready, nodeStats, runErr := s.executor.Run(runCtx, graph, entry.NodeExecID)
			frontier.Push(ready...)
			s.metrics.SetQueueDepth(frontier.Len())

			status := "completed"
			switch {
			case runErr == ErrCancelled:
				status = "terminated"
			case runErr != nil:
				status = "failed"
				s.metrics.IncNodeError(node.BlockID)
			}
			s.metrics.RecordNodeLatency(node.BlockID, status, time.Since(dispatched))

			statsMu.Lock()
			stats.NodeCount++
			if nodeStats != nil {
				stats.NodesWallTime += nodeStats.WallTime
				stats.NodesCPUTime += nodeStats.CPUTime
			}
			if runErr != nil && runErr != ErrCancelled {
				stats.NodeErrorCount++
			}
			statsMu.Unlock()
		}(entry, handle)
	}

	wg.Wait()
	if terminated {
		finish(StatusTerminated)
		return
	}
	finish(StatusCompleted)
}

// waitForIdleOrWork implements the inner "while queue empty and
// running not empty" loop of §4.3: it returns false if cancellation
// was observed, true otherwise (including the case where the run is
// simply done: queue empty and nothing running).
func (s *Scheduler) waitForIdleOrWork(frontier *Frontier, runningMu *sync.Mutex, running map[string]*nodeHandle, cancel <-chan struct{}) bool {
	for {
		select {
		case <-cancel:
			return false
		default:
		}
		runningMu.Lock()
		anyRunning := len(running) > 0
		runningMu.Unlock()
		if !anyRunning {
			return true
		}
		frontier.Wait(3 * time.Second)
		if frontier.Len() > 0 {
			return true
		}
	}
}

// cleanupScratch removes the per-run scratch directory, mirroring the
// original's `clean_exec_files` sweep on every exit path.
func (s *Scheduler) cleanupScratch(graphExecID string) {
	if s.scratchDir == "" {
		return
	}
	_ = os.RemoveAll(filepath.Join(s.scratchDir, graphExecID))
}

// notifyAgentRun sends the unconditional AGENT_RUN notification at
// the end of every run regardless of its terminal status (§9 Open
// Question). The reported outputs are restricted to the graph's
// OUTPUT-typed nodes, mirroring the original's
// `block_ids=[AgentOutputBlock().id]` filter on the node executions it
// pulls results from.
func (s *Scheduler) notifyAgentRun(ctx context.Context, graph *Graph, ge *GraphExecution, stats GraphExecutionStats) {
	if s.notifier == nil {
		return
	}
	meta, err := s.store.GetGraphMetadata(ctx, ge.GraphID, ge.GraphVersion)
	name := ""
	if err == nil {
		name = meta.Name
	}
	results, _ := s.store.GetNodeExecutionResults(ctx, ge.ID, store.NodeExecutionFilter{BlockIDs: s.outputBlockIDs(graph)})
	outputs := map[string][]any{}
	for _, ne := range results {
		for pin, vals := range ne.OutputData {
			outputs[ne.NodeID+"."+pin] = vals
		}
	}
	_ = s.notifier.NotifyAgentRun(ctx, ge.UserID, notify.AgentRunData{
		GraphID:        ge.GraphID,
		GraphExecID:    ge.ID,
		GraphName:      name,
		NodeCount:      stats.NodeCount,
		NodeErrorCount: stats.NodeErrorCount,
		CreditsUsed:    stats.Cost,
		ExecutionTime:  stats.WallTime,
		Outputs:        outputs,
	})
}

// outputBlockIDs collects the distinct block ids of graph's OUTPUT-typed
// nodes, the scope the AGENT_RUN notification reports results for.
func (s *Scheduler) outputBlockIDs(graph *Graph) []string {
	seen := map[string]bool{}
	var ids []string
	for _, node := range graph.Nodes {
		block, ok := s.executor.catalog.GetBlock(node.BlockID)
		if !ok || block.Type() != BlockOutput {
			continue
		}
		if !seen[node.BlockID] {
			seen[node.BlockID] = true
			ids = append(ids, node.BlockID)
		}
	}
	return ids
}
