package store

import (
	"fmt"

	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// OutputCatalog reports the output fields a node type declares.
type OutputCatalog interface {
	Outputs(nodeType string) ([]string, bool)
}

// AvailableVariable is a reference a node may use in its params.
type AvailableVariable struct {
	NodeID   types.NodeID
	NodeName string
	NodeType string
	Field    string
	Token    string
}

// AvailableVariables lists {{ name.field }} references offered by every node
// upstream of nodeID, in insertion order. Node types missing from catalog
// contribute nothing.
func (s *Store) AvailableVariables(nodeID types.NodeID, catalog OutputCatalog) []AvailableVariable {
	if !s.wf.HasNode(nodeID) || catalog == nil {
		return nil
	}

	var out []AvailableVariable
	for _, id := range workflow.BuildGraph(s.wf).Ancestors(nodeID) {
		n, _ := s.wf.NodeByID(id)
		fields, ok := catalog.Outputs(n.Type)
		if !ok {
			continue
		}
		for _, f := range fields {
			out = append(out, AvailableVariable{
				NodeID:   n.ID,
				NodeName: n.Name(),
				NodeType: n.Type,
				Field:    f,
				Token:    fmt.Sprintf("{{ %s.%s }}", n.Name(), f),
			})
		}
	}
	return out
}
