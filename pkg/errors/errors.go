// Package errors defines the error taxonomy shared by the graph store, the
// variable resolution engine and the execution orchestrator.
//
// Every concrete error type matches its sentinel through errors.Is, so callers
// can branch on the kind without a type assertion:
//
//	if errors.Is(err, flowerrors.ErrGraphCycle) {
//	    // nothing was executed
//	}
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/flowgraph/pkg/domain/types"
)

// Kind categorizes errors for reporting.
type Kind string

const (
	// KindValidation marks a problem detected before a node executes (missing param, unknown type).
	KindValidation Kind = "validation"
	// KindGraphCycle marks a graph whose execution order cannot be computed.
	KindGraphCycle Kind = "graph_cycle"
	// KindUnresolvedVariable marks a template reference that could not be resolved. Always soft.
	KindUnresolvedVariable Kind = "unresolved_variable"
	// KindNodeExecution marks a failure raised by a node executor.
	KindNodeExecution Kind = "node_execution"
	// KindPersistence marks a save or load failure.
	KindPersistence Kind = "persistence"
)

// Sentinels for errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrGraphCycle         = errors.New("graph contains a cycle")
	ErrUnresolvedVariable = errors.New("unresolved variable")
	ErrNodeExecution      = errors.New("node execution failed")
	ErrPersistence        = errors.New("persistence failed")
)

// ValidationError reports a problem found before execution.
type ValidationError struct {
	NodeID  types.NodeID
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.NodeID != "" && e.Field != "":
		return fmt.Sprintf("validation: node %s: param %q: %s", e.NodeID, e.Field, e.Message)
	case e.NodeID != "":
		return fmt.Sprintf("validation: node %s: %s", e.NodeID, e.Message)
	default:
		return "validation: " + e.Message
	}
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ValidationErrors aggregates every problem found by a pre-flight check.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is matches ErrValidation.
func (es ValidationErrors) Is(target error) bool { return target == ErrValidation }

// Unwrap exposes the individual problems to errors.As.
func (es ValidationErrors) Unwrap() []error {
	out := make([]error, 0, len(es))
	for _, e := range es {
		out = append(out, e)
	}
	return out
}

// GraphCycleError names the nodes left over after every zero-indegree node was extracted.
type GraphCycleError struct {
	NodeIDs []types.NodeID
}

func (e *GraphCycleError) Error() string {
	ids := make([]string, 0, len(e.NodeIDs))
	for _, id := range e.NodeIDs {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("graph contains a cycle through nodes: %s", strings.Join(ids, ", "))
}

// Is matches ErrGraphCycle.
func (e *GraphCycleError) Is(target error) bool { return target == ErrGraphCycle }

// UnresolvedReason explains why a reference did not resolve.
type UnresolvedReason string

const (
	// ReasonUnknownNode means no node holds the referenced name. The token is left in place.
	ReasonUnknownNode UnresolvedReason = "unknown_node"
	// ReasonMissingOutput means the node exists but has no value for the field. The token becomes "".
	ReasonMissingOutput UnresolvedReason = "missing_output"
)

// UnresolvedVariableError is recorded as a warning, never returned as a failure.
type UnresolvedVariableError struct {
	Token    string
	NodeName string
	Field    string
	Reason   UnresolvedReason
}

func (e *UnresolvedVariableError) Error() string {
	switch e.Reason {
	case ReasonUnknownNode:
		return fmt.Sprintf("unresolved variable %s: no node named %q", e.Token, e.NodeName)
	default:
		return fmt.Sprintf("unresolved variable %s: node %q has no output %q", e.Token, e.NodeName, e.Field)
	}
}

// Is matches ErrUnresolvedVariable.
func (e *UnresolvedVariableError) Is(target error) bool { return target == ErrUnresolvedVariable }

// NodeExecutionError is raised by an executor and isolated to its node.
type NodeExecutionError struct {
	NodeID   types.NodeID
	NodeType string
	Message  string
	Timeout  bool
	Cause    error
}

func (e *NodeExecutionError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.NodeID != "" {
		return fmt.Sprintf("node %s (%s): %s", e.NodeID, e.NodeType, msg)
	}
	return msg
}

// Is matches ErrNodeExecution.
func (e *NodeExecutionError) Is(target error) bool { return target == ErrNodeExecution }

// Unwrap returns the underlying cause.
func (e *NodeExecutionError) Unwrap() error { return e.Cause }

// NewNodeExecutionError wraps cause as a NodeExecutionError. A cause that already
// is one is returned with its node fields filled in.
func NewNodeExecutionError(nodeID types.NodeID, nodeType string, cause error) *NodeExecutionError {
	var existing *NodeExecutionError
	if errors.As(cause, &existing) {
		if existing.NodeID == "" {
			existing.NodeID = nodeID
		}
		if existing.NodeType == "" {
			existing.NodeType = nodeType
		}
		return existing
	}
	return &NodeExecutionError{NodeID: nodeID, NodeType: nodeType, Cause: cause}
}

// PersistenceError wraps a save/load collaborator failure with operational context.
type PersistenceError struct {
	Operation  string
	WorkflowID types.WorkflowID
	Timestamp  time.Time
	Cause      error
}

// NewPersistenceError returns nil when cause is nil.
func NewPersistenceError(operation string, id types.WorkflowID, cause error) *PersistenceError {
	if cause == nil {
		return nil
	}
	return &PersistenceError{
		Operation:  operation,
		WorkflowID: id,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// Error formats as "[timestamp] operation: workflow=id: cause".
func (e *PersistenceError) Error() string {
	if e == nil {
		return "<nil PersistenceError>"
	}
	id := e.WorkflowID.String()
	if id == "" {
		id = "<new>"
	}
	return fmt.Sprintf("[%s] %s: workflow=%s: %v", e.Timestamp.Format(time.RFC3339), e.Operation, id, e.Cause)
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Unwrap returns the underlying cause.
func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf returns the Kind of err, or "" when err is not part of the taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGraphCycle):
		return KindGraphCycle
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNodeExecution):
		return KindNodeExecution
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrUnresolvedVariable):
		return KindUnresolvedVariable
	default:
		return ""
	}
}
