package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/flowstack/graphexec/engine/creds"
	"github.com/flowstack/graphexec/engine/emit"
	"github.com/flowstack/graphexec/engine/store"
)

// ExecContext carries the ambient identifiers and injected
// credentials a Block.Execute call receives alongside its validated
// input (§4.2 steps 3-4).
type ExecContext struct {
	Ctx context.Context

	GraphID     string
	GraphExecID string
	NodeID      string
	NodeExecID  string
	UserID      string

	// Credentials is keyed by the schema field name that declared it.
	Credentials map[string]*creds.Credential
}

// Executor runs one NodeExecution to completion (§4.2).
type Executor struct {
	catalog  BlockCatalog
	store    store.Store
	creds    creds.Store
	emitter  emit.Emitter
	resolver *Resolver
	cost     *CostMeter
}

// NewExecutor builds an Executor against the given collaborators.
func NewExecutor(catalog BlockCatalog, st store.Store, credStore creds.Store, emitter emit.Emitter, resolver *Resolver, cost *CostMeter) *Executor {
	return &Executor{catalog: catalog, store: st, creds: credStore, emitter: emitter, resolver: resolver, cost: cost}
}

// Run executes the node behind nodeExecID and returns the downstream
// NodeExecutions its outputs made ready. It never panics: block
// failures are captured as the node's "error" output.
func (x *Executor) Run(ctx context.Context, graph *Graph, nodeExecID string) ([]ReadyEntry, *NodeExecutionStats, error) {
	started := time.Now()

	ne, err := x.store.GetNodeExecution(ctx, nodeExecID)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: load node exec: %w", err)
	}
	node, ok := graph.Node(ne.NodeID)
	if !ok {
		return nil, nil, fmt.Errorf("executor: node %s not found in graph", ne.NodeID)
	}
	block, ok := x.catalog.GetBlock(node.BlockID)
	if !ok {
		return nil, nil, fmt.Errorf("executor: block %s not found", node.BlockID)
	}

	input := ne.SnapshotInput()

	// step 1: pre-validate with resolve_input=false, the resolver
	// already merged composite pins.
	validated, errMsg := ValidateExec(x.catalog, node, input, false)
	if errMsg != "" {
		return x.failFast(ctx, ne, errMsg)
	}
	workingInput := validated.Data

	// step 2: shape AGENT input.
	if block.Type() == BlockAgent {
		shaped := Data{}
		for k, v := range node.InputDefault {
			shaped[k] = v
		}
		shaped["data"] = workingInput
		workingInput = shaped
	}

	// step 3: acquire credential locks, injecting the resolved
	// credential under each declared field.
	injected, release, err := x.acquireCredentials(ctx, block.Schema(), workingInput, ne.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: acquire credentials: %w", err)
	}
	defer release(ctx)

	execCtx := ExecContext{
		Ctx:         ctx,
		GraphID:     ne.GraphID,
		GraphExecID: ne.GraphExecID,
		NodeID:      ne.NodeID,
		NodeExecID:  ne.ID,
		UserID:      ne.UserID,
		Credentials: injected,
	}

	// step 5: transition RUNNING and invoke the block.
	if _, err := x.store.UpdateNodeExecutionStatus(ctx, ne.ID, StatusRunning, nil); err != nil {
		return nil, nil, fmt.Errorf("executor: transition running: %w", err)
	}
	x.emitter.Emit(emit.Event{GraphExecID: ne.GraphExecID, GraphID: ne.GraphID, NodeID: ne.NodeID, NodeExecID: ne.ID, Status: string(StatusRunning), Msg: "node_running"})

	outputs, errs := block.Execute(execCtx, workingInput)

	var ready []ReadyEntry
	outputSize := 0
	var blockErr error

drain:
	for {
		select {
		case out, ok := <-outputs:
			if !ok {
				break drain
			}
			if err := x.store.UpsertExecutionOutput(ctx, ne.ID, out.Name, out.Value); err != nil {
				blockErr = fmt.Errorf("executor: persist output: %w", err)
				break drain
			}
			outputSize++
			entries, err := x.resolver.Resolve(ctx, graph, node, ne.GraphExecID, out.Name, out.Value)
			if err != nil {
				blockErr = err
				break drain
			}
			ready = append(ready, entries...)
		case err, ok := <-errs:
			if ok && err != nil {
				blockErr = err
			}
			break drain
		case <-ctx.Done():
			blockErr = ErrCancelled
			break drain
		}
	}

	stats := &NodeExecutionStats{
		WallTime:   time.Since(started),
		InputSize:  len(workingInput),
		OutputSize: outputSize,
	}

	if blockErr == ErrCancelled {
		return x.terminateNode(ctx, ne, stats, ready)
	}
	if blockErr != nil {
		return x.failBlock(ctx, graph, node, ne, blockErr, stats, ready)
	}

	if _, err := x.store.UpdateNodeExecutionStatus(ctx, ne.ID, StatusCompleted, nil); err != nil {
		return ready, stats, fmt.Errorf("executor: transition completed: %w", err)
	}
	if err := x.store.UpdateNodeExecutionStats(ctx, ne.ID, *stats); err != nil {
		return ready, stats, err
	}
	x.emitter.Emit(emit.Event{GraphExecID: ne.GraphExecID, GraphID: ne.GraphID, NodeID: ne.NodeID, NodeExecID: ne.ID, Status: string(StatusCompleted), Msg: "node_completed"})
	return ready, stats, nil
}

// terminateNode handles cancellation observed mid-block (§7:
// "CancellationSignal: not an error; drives TERMINATED terminal
// state"). Unlike failBlock it writes no "error" output and does not
// fire the resolver against an error pin: a killed node has nothing
// meaningful to hand downstream.
func (x *Executor) terminateNode(ctx context.Context, ne *NodeExecution, stats *NodeExecutionStats, ready []ReadyEntry) ([]ReadyEntry, *NodeExecutionStats, error) {
	_, _ = x.store.UpdateNodeExecutionStatus(ctx, ne.ID, StatusTerminated, nil)
	_ = x.store.UpdateNodeExecutionStats(ctx, ne.ID, *stats)
	x.emitter.Emit(emit.Event{GraphExecID: ne.GraphExecID, GraphID: ne.GraphID, NodeID: ne.NodeID, NodeExecID: ne.ID, Status: string(StatusTerminated), Msg: "node_terminated"})
	return ready, stats, ErrCancelled
}

// failFast implements §4.2 step 1's failure path: push an "error"
// output, mark FAILED, no execution, no successors.
func (x *Executor) failFast(ctx context.Context, ne *NodeExecution, reason string) ([]ReadyEntry, *NodeExecutionStats, error) {
	_ = x.store.UpsertExecutionOutput(ctx, ne.ID, "error", reason)
	if _, err := x.store.UpdateNodeExecutionStatus(ctx, ne.ID, StatusFailed, nil); err != nil {
		return nil, nil, err
	}
	stats := &NodeExecutionStats{Error: reason}
	_ = x.store.UpdateNodeExecutionStats(ctx, ne.ID, *stats)
	x.emitter.Emit(emit.Event{GraphExecID: ne.GraphExecID, NodeID: ne.NodeID, NodeExecID: ne.ID, Status: string(StatusFailed), Msg: "node_validation_failed", Meta: map[string]any{"error": reason}})
	return nil, stats, nil
}

// failBlock implements §4.2 step 7: push the failure as an "error"
// output, mark FAILED, run the resolver against a synthesized
// ("error", message) output, then re-raise to the scheduler.
func (x *Executor) failBlock(ctx context.Context, graph *Graph, node *Node, ne *NodeExecution, cause error, stats *NodeExecutionStats, ready []ReadyEntry) ([]ReadyEntry, *NodeExecutionStats, error) {
	msg := cause.Error()
	stats.Error = msg
	_ = x.store.UpsertExecutionOutput(ctx, ne.ID, "error", msg)
	if _, err := x.store.UpdateNodeExecutionStatus(ctx, ne.ID, StatusFailed, nil); err != nil {
		return ready, stats, err
	}
	_ = x.store.UpdateNodeExecutionStats(ctx, ne.ID, *stats)
	if entries, err := x.resolver.Resolve(ctx, graph, node, ne.GraphExecID, "error", msg); err == nil {
		ready = append(ready, entries...)
	}
	x.emitter.Emit(emit.Event{GraphExecID: ne.GraphExecID, NodeID: ne.NodeID, NodeExecID: ne.ID, Status: string(StatusFailed), Msg: "node_failed", Meta: map[string]any{"error": msg}})
	return ready, stats, &BlockError{NodeID: ne.NodeID, Cause: cause}
}

// acquireCredentials resolves and locks every declared credential
// field, injecting the resolved Credential under its field name. The
// returned release func unlocks everything taken, even on the error
// path that returns it (§4.2 step 3, §5: "released on every exit path,
// including panic").
func (x *Executor) acquireCredentials(ctx context.Context, schema *InputSchema, input Data, userID string) (map[string]*creds.Credential, func(context.Context) error, error) {
	injected := map[string]*creds.Credential{}
	var releases []func(context.Context) error
	releaseAll := func(ctx context.Context) error {
		var firstErr error
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, fieldName := range schema.CredentialFields() {
		raw, ok := input[fieldName]
		if !ok {
			continue
		}
		meta, ok := toCredMeta(raw)
		if !ok {
			continue
		}
		cred, found, err := x.creds.GetCredsByID(ctx, userID, meta)
		if err != nil {
			releaseAll(ctx)
			return nil, func(context.Context) error { return nil }, err
		}
		if !found {
			releaseAll(ctx)
			return nil, func(context.Context) error { return nil }, fmt.Errorf("credential %s not found for user", meta.ID)
		}
		release, err := x.creds.Acquire(ctx, meta)
		if err != nil {
			releaseAll(ctx)
			return nil, func(context.Context) error { return nil }, err
		}
		releases = append(releases, release)
		injected[fieldName] = cred
	}
	return injected, releaseAll, nil
}

func toCredMeta(raw any) (creds.Meta, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return creds.Meta{}, false
	}
	id, _ := obj["id"].(string)
	provider, _ := obj["provider"].(string)
	typ, _ := obj["type"].(string)
	if id == "" {
		return creds.Meta{}, false
	}
	return creds.Meta{ID: id, Provider: provider, Type: typ}, true
}
