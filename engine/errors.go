package engine

import (
	"errors"
	"fmt"
)

// EngineError is the common error shape returned by the execution
// manager, mirroring the teacher's EngineError pattern.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Cause }

// ValidationError is a pre-execution, graph-scope-recoverable error:
// missing/mismatched inputs, unknown credentials, missing webhook
// payload, unknown graph (§7).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// BlockError wraps a failure raised by Block.Execute. It is captured
// as the node's "error" output; the node is marked Failed and the
// graph continues (§7).
type BlockError struct {
	NodeID string
	Cause  error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Cause)
}
func (e *BlockError) Unwrap() error { return e.Cause }

// InsufficientBalanceError aborts the entire graph run with Failed and
// triggers a LOW_BALANCE notification (§4.4, §7).
type InsufficientBalanceError struct {
	Balance int64
	Amount  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d", e.Balance, e.Amount)
}

// Shortfall is balance - amount, the deficit reported in the
// LOW_BALANCE notification payload.
func (e *InsufficientBalanceError) Shortfall() int64 { return e.Balance - e.Amount }

// InfrastructureError wraps a store/lock/pool failure. The graph
// transitions to Failed; cleanup still runs (§7).
type InfrastructureError struct {
	Cause error
}

func (e *InfrastructureError) Error() string { return "infrastructure error: " + e.Cause.Error() }
func (e *InfrastructureError) Unwrap() error  { return e.Cause }

// ErrCancelled signals cooperative cancellation (§7: "not an error; drives
// the Terminated terminal state").
var ErrCancelled = errors.New("graph execution cancelled")

// ErrNoStartingNodes is returned by AddExecution when no starting node
// yields a seed input: each one is a Note block, has no block in the
// catalog, is a webhook node without a webhook id, or fails validation.
// A webhook node whose payload is missing yields a ValidationError
// instead.
var ErrNoStartingNodes = errors.New("no starting nodes found for the graph")

// ErrGraphNotFound is returned by AddExecution when the graph does not
// exist for the given user/version.
var ErrGraphNotFound = errors.New("graph not found")

// runProtected recovers a panic from fn into an InfrastructureError so
// a worker's top-level entry point never crashes the process silently
// (§7 "error_logged" propagation policy).
func runProtected(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InfrastructureError{Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}
