package engine

import (
	"context"
	"fmt"

	"github.com/flowstack/graphexec/engine/emit"
	"github.com/flowstack/graphexec/engine/lock"
	"github.com/flowstack/graphexec/engine/store"
)

// ReadyEntry names one NodeExecution that has satisfied its input
// requirements and should be dispatched by the Graph Scheduler.
type ReadyEntry struct {
	NodeExecID string
	NodeID     string
}

// Resolver turns a produced (output name, value) pair into zero or
// more ready-to-run NodeExecution entries on downstream nodes (§4.1).
type Resolver struct {
	catalog BlockCatalog
	store   store.Store
	locker  lock.Locker
	emitter emit.Emitter
}

// NewResolver builds a Resolver against the given collaborators.
func NewResolver(catalog BlockCatalog, st store.Store, locker lock.Locker, emitter emit.Emitter) *Resolver {
	return &Resolver{catalog: catalog, store: st, locker: locker, emitter: emitter}
}

// Resolve projects (sourceName, value) through every outbound link of
// producerNode and returns the NodeExecutions that became ready.
func (r *Resolver) Resolve(ctx context.Context, graph *Graph, producerNode *Node, graphExecID string, sourceName string, value any) ([]ReadyEntry, error) {
	var ready []ReadyEntry
	for _, link := range producerNode.OutputLinks {
		if link.SourceName != sourceName {
			continue
		}
		entries, err := r.resolveLink(ctx, graph, link, graphExecID, value)
		if err != nil {
			return ready, err
		}
		ready = append(ready, entries...)
	}
	return ready, nil
}

func (r *Resolver) resolveLink(ctx context.Context, graph *Graph, link Link, graphExecID string, value any) ([]ReadyEntry, error) {
	sinkNode, ok := graph.Node(link.SinkID)
	if !ok {
		// non-fatal: the edge points at a node that no longer exists.
		return nil, nil
	}

	key := lock.InputUpsertLockKey(link.SinkID, graphExecID)
	held, err := r.locker.Acquire(ctx, key, lock.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("resolver: acquire upsert lock %s: %w", key, err)
	}
	defer held.Release(ctx)

	nodeExecID, accumulated, err := r.store.UpsertExecutionInput(ctx, link.SinkID, graphExecID, link.SinkName, value)
	if err != nil {
		return nil, fmt.Errorf("resolver: upsert input: %w", err)
	}

	entries, validated, err := r.mergeStaticsAndValidate(ctx, sinkNode, graphExecID, nodeExecID, accumulated)
	if err != nil {
		return nil, err
	}
	if !validated {
		return nil, nil
	}
	entries2, err := r.onStaticSatisfied(ctx, sinkNode, graphExecID, link, value)
	if err != nil {
		return nil, err
	}
	return append(entries, entries2...), nil
}

// mergeStaticsAndValidate merges static-cache defaults into accumulated
// and validates the sink's schema; on success it transitions the
// NodeExecution to QUEUED and returns its ready entry (§4.1 steps 3-5).
func (r *Resolver) mergeStaticsAndValidate(ctx context.Context, sinkNode *Node, graphExecID, nodeExecID string, accumulated Data) ([]ReadyEntry, bool, error) {
	merged := r.mergeStaticDefaults(ctx, sinkNode, graphExecID, accumulated)

	validated, errMsg := ValidateExec(r.catalog, sinkNode, merged, true)
	if errMsg != "" {
		// still missing required inputs: leave INCOMPLETE, do not enqueue.
		return nil, false, nil
	}

	ne, err := r.store.UpdateNodeExecutionStatus(ctx, nodeExecID, StatusQueued, validated.Data)
	if err != nil {
		return nil, false, fmt.Errorf("resolver: queue node exec: %w", err)
	}
	r.emitter.Emit(emit.Event{
		GraphExecID: ne.GraphExecID,
		NodeID:      ne.NodeID,
		NodeExecID:  ne.ID,
		Status:      string(StatusQueued),
		Msg:         "node_queued",
	})
	return []ReadyEntry{{NodeExecID: nodeExecID, NodeID: sinkNode.ID}}, true, nil
}

// mergeStaticDefaults pulls in, for every static inbound link of sink
// still absent from accumulated, the value from the most recent
// completed execution of sink (the "static cache", §4.1 step 3).
func (r *Resolver) mergeStaticDefaults(ctx context.Context, sink *Node, graphExecID string, accumulated Data) Data {
	merged := make(Data, len(accumulated))
	for k, v := range accumulated {
		merged[k] = v
	}
	for _, l := range sink.InputLinks {
		if !l.IsStatic {
			continue
		}
		if _, ok := merged[l.SinkName]; ok {
			continue
		}
		latest, err := r.store.GetLatestNodeExecution(ctx, sink.ID, graphExecID)
		if err != nil {
			continue
		}
		if v, ok := latest.SnapshotInput()[l.SinkName]; ok {
			merged[l.SinkName] = v
		}
	}
	return merged
}

// onStaticSatisfied implements §4.1 step 6: when the satisfied link is
// static, every other INCOMPLETE execution of the sink in this run
// also receives the value and is revalidated.
func (r *Resolver) onStaticSatisfied(ctx context.Context, sink *Node, graphExecID string, link Link, value any) ([]ReadyEntry, error) {
	if !link.IsStatic {
		return nil, nil
	}
	incomplete, err := r.store.GetIncompleteNodeExecutions(ctx, sink.ID, graphExecID)
	if err != nil {
		return nil, fmt.Errorf("resolver: list incomplete peers: %w", err)
	}
	var ready []ReadyEntry
	for _, ne := range incomplete {
		if ne.HasInput(link.SinkName) {
			continue
		}
		ne.SetInput(link.SinkName, value)
		entries, ok, err := r.mergeStaticsAndValidate(ctx, sink, graphExecID, ne.ID, ne.SnapshotInput())
		if err != nil {
			return ready, err
		}
		if ok {
			ready = append(ready, entries...)
		}
	}
	return ready, nil
}
