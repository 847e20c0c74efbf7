package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
)

func graphOf(ids []string, edges [][2]string) *Workflow {
	w := New()
	for _, id := range ids {
		w.Nodes = append(w.Nodes, NewNode(id, "test", Position{}))
	}
	for _, e := range edges {
		w.Edges = append(w.Edges, Edge{ID: types.EdgeID(e[0] + "-" + e[1]), Source: types.NodeID(e[0]), Target: types.NodeID(e[1])})
	}
	return w
}

func TestTopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		edges [][2]string
		want  []types.NodeID
	}{
		{
			name: "empty",
			want: []types.NodeID{},
		},
		{
			name:  "chain",
			ids:   []string{"c", "b", "a"},
			edges: [][2]string{{"a", "b"}, {"b", "c"}},
			want:  []types.NodeID{"a", "b", "c"},
		},
		{
			name: "independent nodes keep insertion order",
			ids:  []string{"x", "a", "m"},
			want: []types.NodeID{"x", "a", "m"},
		},
		{
			name:  "fan-in",
			ids:   []string{"a", "b", "c"},
			edges: [][2]string{{"a", "c"}, {"b", "c"}},
			want:  []types.NodeID{"a", "b", "c"},
		},
		{
			name:  "dangling edge ignored",
			ids:   []string{"a", "b"},
			edges: [][2]string{{"a", "ghost"}, {"b", "a"}},
			want:  []types.NodeID{"b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TopologicalSort(graphOf(tt.ids, tt.edges))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopologicalSort_Soundness(t *testing.T) {
	w := graphOf(
		[]string{"e", "d", "c", "b", "a"},
		[][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}, {"d", "e"}, {"a", "e"}},
	)
	order, err := TopologicalSort(w)
	require.NoError(t, err)
	require.Len(t, order, 5)

	pos := make(map[types.NodeID]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, e := range w.Edges {
		assert.Less(t, pos[e.Source], pos[e.Target], "edge %s -> %s", e.Source, e.Target)
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	w := graphOf([]string{"start", "a", "b"}, [][2]string{{"start", "a"}, {"a", "b"}, {"b", "a"}})

	_, err := TopologicalSort(w)
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerrors.ErrGraphCycle))

	var cycleErr *flowerrors.GraphCycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []types.NodeID{"a", "b"}, cycleErr.NodeIDs)
}

func TestGraph_Ancestors(t *testing.T) {
	w := graphOf([]string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"b", "c"}})
	g := BuildGraph(w)

	assert.Equal(t, []types.NodeID{"a", "b"}, g.Ancestors("c"))
	assert.Empty(t, g.Ancestors("d"))
	assert.Equal(t, 1, g.InDegree("c"))
}
