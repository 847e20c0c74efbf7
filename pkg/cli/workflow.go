package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/flowgraph/pkg/workflow"
)

// NewCreateCommand creates an empty workflow.
func NewCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				s := a.newStore()
				s.SetName(args[0])
				if err := s.Save(ctx, a.workflows); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Created workflow '%s' (%s)\n", s.Name(), s.ID())
				return nil
			})
		},
	}
}

// NewListCommand lists stored workflows.
func NewListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				summaries, err := a.workflows.List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, summaries)
				}
				if len(summaries) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No workflows found. Create one with: flowgraph create <name>")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tNODES\tUPDATED")
				for _, s := range summaries {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						s.ID, s.Name, s.Status, s.NodeCount, s.UpdatedAt.Local().Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// NewShowCommand prints one workflow.
func NewShowCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <workflow>",
		Short: "Show a workflow's nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.loadStore(ctx, args[0])
				if err != nil {
					return err
				}
				wf := s.Snapshot()
				if asJSON {
					return writeJSON(cmd, wf)
				}
				printWorkflow(cmd, wf)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the stored document as JSON")
	return cmd
}

func printWorkflow(cmd *cobra.Command, wf *workflow.Workflow) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Workflow: %s\n", wf.Name)
	_, _ = fmt.Fprintf(out, "ID:       %s\n", wf.ID)
	_, _ = fmt.Fprintf(out, "Status:   %s\n", wf.Status)

	_, _ = fmt.Fprintf(out, "\nNodes (%d):\n", len(wf.Nodes))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "  NAME\tTYPE\tPOSITION\tPARAMS")
	for _, n := range wf.Nodes {
		_, _ = fmt.Fprintf(w, "  %s\t%s\t(%g, %g)\t%s\n",
			n.Name(), n.Type, n.Position.X, n.Position.Y, formatParams(n.Data.Params))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nEdges (%d):\n", len(wf.Edges))
	for _, e := range wf.Edges {
		handle := ""
		if e.SourceHandle != "" {
			handle = fmt.Sprintf(" [%s]", e.SourceHandle)
		}
		_, _ = fmt.Fprintf(out, "  %s -> %s%s  (%s)\n", e.Source, e.Target, handle, e.ID)
	}
}

// formatParams renders params as sorted key=value pairs.
func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(params[k]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// NewDeleteCommand deletes a stored workflow. Its run history is kept.
func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workflow>",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				id, err := a.resolveID(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.workflows.Delete(ctx, id); err != nil {
					return fmt.Errorf("failed to delete workflow: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted workflow %s\n", id)
				return nil
			})
		},
	}
}

// NewRenameCommand renames a workflow.
func NewRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <workflow> <new-name>",
		Short: "Rename a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			newName := strings.TrimSpace(args[1])
			if newName == "" {
				return fmt.Errorf("workflow name cannot be empty")
			}
			return editWorkflow(cmd, args[0], func(ed *editor) error {
				ed.s.SetName(newName)
				ed.done("Renamed workflow to '%s'", newName)
				return nil
			})
		},
	}
}

// NewStatusCommand switches a workflow between draft and published.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <workflow> <draft|published>",
		Short: "Set a workflow's publication status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editWorkflow(cmd, args[0], func(ed *editor) error {
				status := workflow.PublicationStatus(args[1])
				if err := ed.s.SetPublicationStatus(status); err != nil {
					return err
				}
				ed.done("Workflow '%s' is now %s", ed.s.Name(), status)
				return nil
			})
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
