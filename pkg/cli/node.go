package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/store"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// editor carries a loaded store through one editing command.
type editor struct {
	app *app
	s   *store.Store
	msg []string
}

func (ed *editor) done(format string, args ...any) {
	ed.msg = append(ed.msg, fmt.Sprintf(format, args...))
}

// node finds a node by name or ID.
func (ed *editor) node(ref string) (workflow.Node, error) {
	if n, ok := ed.s.NodeByName(ref); ok {
		return n, nil
	}
	if n, ok := ed.s.Node(types.NodeID(ref)); ok {
		return n, nil
	}
	return workflow.Node{}, fmt.Errorf("node not found: %s", ref)
}

// editWorkflow loads ref, applies fn and saves if the document changed.
func editWorkflow(cmd *cobra.Command, ref string, fn func(ed *editor) error) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		s, err := a.loadStore(ctx, ref)
		if err != nil {
			return err
		}
		ed := &editor{app: a, s: s}
		if err := fn(ed); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if s.SaveStatus() != workflow.SaveStatusUnsaved {
			_, _ = fmt.Fprintln(out, "No changes.")
			return nil
		}
		if err := s.Save(ctx, a.workflows); err != nil {
			return err
		}
		for _, m := range ed.msg {
			_, _ = fmt.Fprintf(out, "✓ %s\n", m)
		}
		return nil
	})
}

// parseParams turns key=value pairs into params. Values that parse as JSON
// keep their JSON type; anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q (expected key=value)", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

// NewNodeCommand groups the node editing subcommands.
func NewNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Add, remove and edit workflow nodes",
		Long: `Edit the nodes of a stored workflow. Nodes are named <type>_<n> with a
per-type counter, for example input_0 or transform_2. The counter starts past
the highest stored name of each type.

Param values are parsed as JSON when possible, so --param count=3 stores a
number and --param text='Summarize: {{ input_0.text }}' stores a string.`,
	}
	cmd.AddCommand(
		newNodeAddCommand(),
		newNodeRemoveCommand(),
		newNodeSetCommand(),
		newNodeMoveCommand(),
	)
	return cmd
}

func newNodeAddCommand() *cobra.Command {
	var (
		x, y   float64
		params []string
	)

	cmd := &cobra.Command{
		Use:   "add <workflow> <type>",
		Short: "Add a node of the given type",
		Example: `  flowgraph node add demo input --param text="hello"
  flowgraph node add demo transform --param expression='upper(text)' --param text='{{ input_0.text }}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			return editWorkflow(cmd, args[0], func(ed *editor) error {
				nodeType := args[1]
				reg, err := ed.app.registry()
				if err != nil {
					return err
				}
				if _, ok := reg.Lookup(nodeType); !ok {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: no executor is registered for node type %q; the node will fail at run time.\n", nodeType)
				}

				n, err := ed.s.AddNode(nodeType, workflow.Position{X: x, Y: y})
				if err != nil {
					return err
				}
				ed.s.UpdateNodeData(n.ID, p)
				ed.done("Added node %s", n.Name())
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "Canvas X position")
	cmd.Flags().Float64Var(&y, "y", 0, "Canvas Y position")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Node param as key=value (repeatable)")
	return cmd
}

func newNodeRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <workflow> <node>",
		Aliases: []string{"remove"},
		Short:   "Remove a node and every edge touching it",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editWorkflow(cmd, args[0], func(ed *editor) error {
				n, err := ed.node(args[1])
				if err != nil {
					return err
				}
				ed.s.RemoveNode(n.ID)
				ed.done("Removed node %s", n.Name())
				return nil
			})
		},
	}
}

func newNodeSetCommand() *cobra.Command {
	var (
		params []string
		unset  []string
	)

	cmd := &cobra.Command{
		Use:   "set <workflow> <node>",
		Short: "Set or remove node params",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(params) == 0 && len(unset) == 0 {
				return fmt.Errorf("nothing to do (use --param or --unset)")
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			return editWorkflow(cmd, args[0], func(ed *editor) error {
				n, err := ed.node(args[1])
				if err != nil {
					return err
				}
				ed.s.UpdateNodeData(n.ID, p)
				for _, key := range unset {
					ed.s.DeleteNodeParam(n.ID, key)
				}
				updated, _ := ed.s.Node(n.ID)
				ed.done("Updated %s: %s", n.Name(), formatParams(updated.Data.Params))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Node param as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "Param key to remove (repeatable)")
	return cmd
}

func newNodeMoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "move <workflow> <node> <x> <y>",
		Short: "Move a node on the canvas",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pos workflow.Position
			if _, err := fmt.Sscanf(args[2]+" "+args[3], "%g %g", &pos.X, &pos.Y); err != nil {
				return fmt.Errorf("invalid position %s %s: %w", args[2], args[3], err)
			}
			return editWorkflow(cmd, args[0], func(ed *editor) error {
				n, err := ed.node(args[1])
				if err != nil {
					return err
				}
				ed.s.MoveNode(n.ID, pos)
				ed.done("Moved %s to (%g, %g)", n.Name(), pos.X, pos.Y)
				return nil
			})
		},
	}
}

// NewConnectCommand adds an edge.
func NewConnectCommand() *cobra.Command {
	var handle string

	cmd := &cobra.Command{
		Use:   "connect <workflow> <source> <target>",
		Short: "Connect two nodes so target runs after source",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editWorkflow(cmd, args[0], func(ed *editor) error {
				src, err := ed.node(args[1])
				if err != nil {
					return err
				}
				dst, err := ed.node(args[2])
				if err != nil {
					return err
				}
				edge, ok := ed.s.OnConnect(workflow.Connection{Source: src.ID, Target: dst.ID, SourceHandle: handle})
				if !ok {
					return fmt.Errorf("cannot connect %s to %s: self-loops and duplicate edges are not allowed", src.Name(), dst.Name())
				}
				ed.done("Connected %s -> %s (%s)", src.Name(), dst.Name(), edge.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "Source handle, for nodes with more than one output port")
	return cmd
}

// NewDisconnectCommand removes edges between two nodes, or one edge by ID.
func NewDisconnectCommand() *cobra.Command {
	var handle string

	cmd := &cobra.Command{
		Use:   "disconnect <workflow> (<edge-id> | <source> <target>)",
		Short: "Remove an edge",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editWorkflow(cmd, args[0], func(ed *editor) error {
				if len(args) == 2 {
					id := types.EdgeID(args[1])
					for _, e := range ed.s.Edges() {
						if e.ID == id {
							ed.s.RemoveEdge(id)
							ed.done("Removed edge %s", id)
							return nil
						}
					}
					return fmt.Errorf("edge not found: %s", id)
				}

				src, err := ed.node(args[1])
				if err != nil {
					return err
				}
				dst, err := ed.node(args[2])
				if err != nil {
					return err
				}
				removed := 0
				for _, e := range ed.s.Edges() {
					if e.Source != src.ID || e.Target != dst.ID {
						continue
					}
					if cmd.Flags().Changed("handle") && e.SourceHandle != handle {
						continue
					}
					ed.s.RemoveEdge(e.ID)
					removed++
				}
				if removed == 0 {
					return fmt.Errorf("no edge from %s to %s", src.Name(), dst.Name())
				}
				ed.done("Disconnected %s -> %s", src.Name(), dst.Name())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "Only remove the edge with this source handle")
	return cmd
}
