package workflow

import (
	"github.com/dshills/flowgraph/pkg/domain/types"
)

// Position is a canvas coordinate. The engine never interprets it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NodeData carries the user-visible label, the node type and the free-form params.
type NodeData struct {
	Label  string         `json:"label" yaml:"label"`
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params" yaml:"params"`
}

// Node is a single unit of work on the canvas.
type Node struct {
	ID       types.NodeID `json:"id" yaml:"id"`
	Type     string       `json:"type" yaml:"type"`
	Position Position     `json:"position" yaml:"position"`
	Data     NodeData     `json:"data" yaml:"data"`
}

// NewNode creates a node whose ID and label are both name.
func NewNode(name, nodeType string, pos Position) Node {
	return Node{
		ID:       types.NodeID(name),
		Type:     nodeType,
		Position: pos,
		Data: NodeData{
			Label:  name,
			Type:   nodeType,
			Params: map[string]any{},
		},
	}
}

// Name returns the human-readable name used in {{ name.field }} references.
// Nodes created through the store have a name equal to their ID.
func (n Node) Name() string {
	return string(n.ID)
}

// Clone returns a deep copy of the node, params included.
func (n Node) Clone() Node {
	out := n
	out.Data.Params = CloneParams(n.Data.Params)
	return out
}

// CloneParams deep-copies nested maps and slices so that edits to the copy never
// reach the original.
func CloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneParams(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
