package workflow

import (
	"github.com/dshills/flowgraph/pkg/domain/types"
)

// DefaultEdgeType is the rendering hint given to edges created by a connection gesture.
const DefaultEdgeType = "smoothstep"

// Edge is a directed dependency: Target consumes the output of Source.
type Edge struct {
	ID           types.EdgeID `json:"id" yaml:"id"`
	Source       types.NodeID `json:"source" yaml:"source"`
	Target       types.NodeID `json:"target" yaml:"target"`
	SourceHandle string       `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	Type         string       `json:"type,omitempty" yaml:"type,omitempty"`
	Animated     bool         `json:"animated" yaml:"animated"`
}

// EdgeKey identifies an edge for duplicate detection.
type EdgeKey struct {
	Source       types.NodeID
	Target       types.NodeID
	SourceHandle string
}

// Key returns the duplicate-detection key of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, SourceHandle: e.SourceHandle}
}

// IsSelfLoop reports whether the edge connects a node to itself.
func (e Edge) IsSelfLoop() bool {
	return e.Source == e.Target
}

// Connection is the payload of a user's connect gesture on the canvas.
type Connection struct {
	Source       types.NodeID
	Target       types.NodeID
	SourceHandle string
}
