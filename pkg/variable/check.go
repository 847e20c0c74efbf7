package variable

import (
	"fmt"
	"sort"

	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// Issue is a reference that will not resolve the way its author expects.
type Issue struct {
	NodeID  types.NodeID
	Param   string
	Ref     Reference
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("node %s param %q: %s: %s", i.NodeID, i.Param, i.Ref.Raw, i.Message)
}

// CheckWorkflow inspects the string params of every node and reports
// references to unknown nodes and to nodes that are not upstream. The latter
// resolve to "" because the referenced node is not guaranteed to have run.
func CheckWorkflow(w *workflow.Workflow) []Issue {
	if w == nil {
		return nil
	}
	g := workflow.BuildGraph(w)
	r := NewResolver(w)

	var issues []Issue
	for _, n := range w.Nodes {
		upstream := make(map[types.NodeID]bool)
		for _, id := range g.Ancestors(n.ID) {
			upstream[id] = true
		}

		keys := make([]string, 0, len(n.Data.Params))
		for k := range n.Data.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			s, ok := n.Data.Params[key].(string)
			if !ok {
				continue
			}
			for _, ref := range ExtractReferences(s) {
				id, known := r.byName[ref.NodeName]
				switch {
				case !known:
					issues = append(issues, Issue{NodeID: n.ID, Param: key, Ref: ref, Message: "no node with this name"})
				case id == n.ID:
					issues = append(issues, Issue{NodeID: n.ID, Param: key, Ref: ref, Message: "node references its own output"})
				case !upstream[id]:
					issues = append(issues, Issue{NodeID: n.ID, Param: key, Ref: ref, Message: "referenced node is not upstream; connect it to guarantee ordering"})
				}
			}
		}
	}
	return issues
}
