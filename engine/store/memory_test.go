package store

import (
	"context"
	"testing"
	"time"

	"github.com/flowstack/graphexec/engine"
)

func newTestGraph() *engine.Graph {
	nodeA := &engine.Node{ID: "A", BlockID: "blockA"}
	nodeB := &engine.Node{ID: "B", BlockID: "blockB"}
	return &engine.Graph{ID: "g1", Version: 1, Nodes: map[string]*engine.Node{"A": nodeA, "B": nodeB}, StartingNodes: []*engine.Node{nodeA}}
}

func TestMemStoreCreateGraphExecutionSeedsNodeExecs(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")

	ge, seeded, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{
		GraphID: "g1", GraphVersion: 1, UserID: "u1",
		NodesInput: []NodeSeed{{NodeID: "A", Input: engine.Data{"value": "x"}}},
	})
	if err != nil {
		t.Fatalf("CreateGraphExecution: %v", err)
	}
	if ge.Status != engine.StatusQueued {
		t.Fatalf("expected new GraphExecution QUEUED, got %s", ge.Status)
	}
	if len(seeded) != 1 || seeded[0].NodeID != "A" || seeded[0].BlockID != "blockA" {
		t.Fatalf("unexpected seeded node execs: %+v", seeded)
	}
	if seeded[0].UserID != "u1" || seeded[0].GraphID != "g1" {
		t.Fatalf("seeded node exec missing owner fields: %+v", seeded[0])
	}

	fetched, err := m.GetGraph(context.Background(), "g1", "u1", 1)
	if err != nil || fetched.ID != "g1" {
		t.Fatalf("GetGraph: %v, %+v", err, fetched)
	}
}

func TestMemStoreCreateGraphExecutionUnknownNode(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")
	_, _, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{
		GraphID: "g1", UserID: "u1",
		NodesInput: []NodeSeed{{NodeID: "does-not-exist", Input: engine.Data{}}},
	})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStoreUpsertExecutionInputCreatesIncomplete(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")
	ge, _, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{GraphID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateGraphExecution: %v", err)
	}

	id, snapshot, err := m.UpsertExecutionInput(context.Background(), "B", ge.ID, "left", "v1")
	if err != nil {
		t.Fatalf("UpsertExecutionInput: %v", err)
	}
	if snapshot["left"] != "v1" {
		t.Fatalf("expected left=v1 in snapshot, got %v", snapshot)
	}

	ne, err := m.GetNodeExecution(context.Background(), id)
	if err != nil {
		t.Fatalf("GetNodeExecution: %v", err)
	}
	if ne.CurrentStatus() != engine.StatusIncomplete {
		t.Fatalf("expected new node exec INCOMPLETE, got %s", ne.CurrentStatus())
	}
	// Inherits owner fields from the parent GraphExecution (not left blank).
	if ne.UserID != "u1" || ne.GraphID != "g1" {
		t.Fatalf("expected dynamically created node exec to inherit owner fields, got UserID=%q GraphID=%q", ne.UserID, ne.GraphID)
	}
}

func TestMemStoreUpsertExecutionInputTargetsEarliestIncompleteMissingPin(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")
	ge, _, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{GraphID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateGraphExecution: %v", err)
	}

	firstID, _, err := m.UpsertExecutionInput(context.Background(), "B", ge.ID, "left", "row-1")
	if err != nil {
		t.Fatalf("first UpsertExecutionInput: %v", err)
	}
	time.Sleep(time.Millisecond)
	secondID, _, err := m.UpsertExecutionInput(context.Background(), "B", ge.ID, "left", "row-2")
	if err != nil {
		t.Fatalf("second UpsertExecutionInput: %v", err)
	}
	if secondID == firstID {
		t.Fatal("expected a second distinct incomplete execution since the first already has 'left'")
	}

	// A "right" delivery must land on the earliest still-incomplete
	// execution missing that pin, i.e. the first one created.
	thirdID, snapshot, err := m.UpsertExecutionInput(context.Background(), "B", ge.ID, "right", "cfg")
	if err != nil {
		t.Fatalf("third UpsertExecutionInput: %v", err)
	}
	if thirdID != firstID {
		t.Fatalf("expected FIFO tie-break to target the earliest incomplete execution %s, got %s", firstID, thirdID)
	}
	if snapshot["left"] != "row-1" || snapshot["right"] != "cfg" {
		t.Fatalf("unexpected merged snapshot: %v", snapshot)
	}
}

func TestMemStoreGetIncompleteNodeExecutionsOrdering(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")
	ge, _, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{GraphID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateGraphExecution: %v", err)
	}

	_, _, _ = m.UpsertExecutionInput(context.Background(), "B", ge.ID, "left", "row-1")
	time.Sleep(time.Millisecond)
	_, _, _ = m.UpsertExecutionInput(context.Background(), "B", ge.ID, "left", "row-2")

	incomplete, err := m.GetIncompleteNodeExecutions(context.Background(), "B", ge.ID)
	if err != nil {
		t.Fatalf("GetIncompleteNodeExecutions: %v", err)
	}
	if len(incomplete) != 2 {
		t.Fatalf("expected 2 incomplete executions, got %d", len(incomplete))
	}
	if !incomplete[0].CreatedAt.Before(incomplete[1].CreatedAt) {
		t.Fatal("expected incomplete executions returned oldest-first")
	}
}

func TestMemStoreGetLatestNodeExecutionOnlyConsidersCompleted(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")
	ge, _, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{GraphID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateGraphExecution: %v", err)
	}

	if _, err := m.GetLatestNodeExecution(context.Background(), "B", ge.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before any completed execution, got %v", err)
	}

	id, _, err := m.UpsertExecutionInput(context.Background(), "B", ge.ID, "left", "row-1")
	if err != nil {
		t.Fatalf("UpsertExecutionInput: %v", err)
	}
	if _, err := m.UpdateNodeExecutionStatus(context.Background(), id, engine.StatusQueued, nil); err != nil {
		t.Fatalf("-> QUEUED: %v", err)
	}
	if _, err := m.UpdateNodeExecutionStatus(context.Background(), id, engine.StatusRunning, nil); err != nil {
		t.Fatalf("-> RUNNING: %v", err)
	}
	if _, err := m.UpdateNodeExecutionStatus(context.Background(), id, engine.StatusCompleted, nil); err != nil {
		t.Fatalf("-> COMPLETED: %v", err)
	}

	latest, err := m.GetLatestNodeExecution(context.Background(), "B", ge.ID)
	if err != nil {
		t.Fatalf("GetLatestNodeExecution: %v", err)
	}
	if latest.ID != id {
		t.Fatalf("expected latest completed execution %s, got %s", id, latest.ID)
	}
}

func TestMemStoreUpdateNodeExecutionStatusRejectsIllegalTransition(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")
	ge, _, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{GraphID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateGraphExecution: %v", err)
	}
	id, _, err := m.UpsertExecutionInput(context.Background(), "B", ge.ID, "left", "row-1")
	if err != nil {
		t.Fatalf("UpsertExecutionInput: %v", err)
	}
	if _, err := m.UpdateNodeExecutionStatus(context.Background(), id, engine.StatusCompleted, nil); err != nil {
		t.Fatalf("-> COMPLETED: %v", err)
	}
	// Completed is terminal: no further transition, even back to itself
	// with different semantics, should be accepted as a real move.
	if _, err := m.UpdateNodeExecutionStatus(context.Background(), id, engine.StatusFailed, nil); err == nil {
		t.Fatal("expected an error transitioning a terminal COMPLETED execution to FAILED")
	}
}

func TestMemStoreUpdateGraphExecutionStatsIsMonotonic(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")
	ge, _, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{GraphID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateGraphExecution: %v", err)
	}

	if _, err := m.UpdateGraphExecutionStats(context.Background(), ge.ID, engine.StatusCompleted, engine.GraphExecutionStats{NodeCount: 2}); err != nil {
		t.Fatalf("-> COMPLETED: %v", err)
	}
	// A request to move a terminal execution back to INCOMPLETE must be
	// rejected silently, returning the unmodified record - this is the
	// no-op "peek" behavior other code relies on.
	after, err := m.UpdateGraphExecutionStats(context.Background(), ge.ID, engine.StatusIncomplete, engine.GraphExecutionStats{})
	if err != nil {
		t.Fatalf("no-op UpdateGraphExecutionStats: %v", err)
	}
	if after.Status != engine.StatusCompleted {
		t.Fatalf("expected status to remain COMPLETED, got %s", after.Status)
	}
	if after.Stats.NodeCount != 2 {
		t.Fatalf("expected stats to remain from the earlier legal transition, got %+v", after.Stats)
	}
}

func TestMemStoreSpendCreditsInsufficientBalance(t *testing.T) {
	m := NewMemStore()
	m.SetBalance("u1", 10)

	if err := m.SpendCredits(context.Background(), "u1", 5, UsageMetadata{}); err != nil {
		t.Fatalf("expected charge within balance to succeed, got %v", err)
	}
	err := m.SpendCredits(context.Background(), "u1", 100, UsageMetadata{})
	if err == nil {
		t.Fatal("expected InsufficientBalanceError")
	}
	var insufficient *engine.InsufficientBalanceError
	if !errorsAs(err, &insufficient) {
		t.Fatalf("expected *engine.InsufficientBalanceError, got %T: %v", err, err)
	}
}

// errorsAs is a tiny local wrapper so this file doesn't need to import
// "errors" just for one assertion.
func errorsAs(err error, target **engine.InsufficientBalanceError) bool {
	e, ok := err.(*engine.InsufficientBalanceError)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestMemStoreGetNodeExecutionResultsFiltersAndOrders(t *testing.T) {
	m := NewMemStore()
	m.RegisterGraph(newTestGraph(), "test-graph")
	ge, _, err := m.CreateGraphExecution(context.Background(), CreateGraphExecutionParams{GraphID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateGraphExecution: %v", err)
	}

	idA, _, err := m.UpsertExecutionInput(context.Background(), "A", ge.ID, "left", "a")
	if err != nil {
		t.Fatalf("UpsertExecutionInput A: %v", err)
	}
	time.Sleep(time.Millisecond)
	idB, _, err := m.UpsertExecutionInput(context.Background(), "B", ge.ID, "left", "b")
	if err != nil {
		t.Fatalf("UpsertExecutionInput B: %v", err)
	}

	results, err := m.GetNodeExecutionResults(context.Background(), ge.ID, NodeExecutionFilter{})
	if err != nil {
		t.Fatalf("GetNodeExecutionResults: %v", err)
	}
	if len(results) != 2 || results[0].ID != idA || results[1].ID != idB {
		t.Fatalf("expected [A, B] in creation order, got %+v", results)
	}

	filtered, err := m.GetNodeExecutionResults(context.Background(), ge.ID, NodeExecutionFilter{BlockIDs: []string{"blockB"}})
	if err != nil {
		t.Fatalf("GetNodeExecutionResults filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != idB {
		t.Fatalf("expected only B's execution, got %+v", filtered)
	}
}
