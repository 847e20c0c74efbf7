package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	domain "github.com/dshills/flowgraph/pkg/domain/execution"
	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/store"
	"github.com/dshills/flowgraph/pkg/variable"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// NewValidateCommand checks a stored workflow without running it.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Check a workflow for problems before running it",
		Long: `Validate reports, without running anything:
  - structural problems in the stored document (these are repaired on load)
  - dependency cycles
  - node types with no executor and required params that are missing
  - {{ name.field }} references to unknown or non-upstream nodes (warnings)
  - params that look like credentials (warnings)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				id, err := a.resolveID(ctx, args[0])
				if err != nil {
					return err
				}
				raw, err := a.workflows.Load(ctx, id)
				if err != nil {
					return err
				}
				eng, err := a.engine()
				if err != nil {
					return err
				}

				var problems []error
				problems = append(problems, flatten(raw.Validate())...)
				wf := raw.Clone()
				wf.Sanitize()
				problems = append(problems, flatten(eng.Validate(wf))...)

				var warnings []string
				for _, issue := range variable.CheckWorkflow(wf) {
					warnings = append(warnings, issue.String())
				}
				for _, w := range workflow.ScanForCredentials(wf) {
					warnings = append(warnings, w.String())
				}

				out := cmd.OutOrStdout()
				for _, w := range warnings {
					_, _ = fmt.Fprintf(out, "⚠ %s\n", w)
				}
				for _, p := range problems {
					_, _ = fmt.Fprintf(out, "✗ %s\n", p)
				}
				if len(problems) > 0 {
					return fmt.Errorf("workflow '%s' has %d problem(s)", wf.Name, len(problems))
				}
				_, _ = fmt.Fprintf(out, "✓ Workflow '%s' is valid (%d nodes, %d edges, %d warnings)\n",
					wf.Name, len(wf.Nodes), len(wf.Edges), len(warnings))
				return nil
			})
		},
	}
}

// flatten expands joined errors and ValidationErrors into their members.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range multi.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

// NewPreviewCommand shows what a node can reference and how its params would
// resolve.
func NewPreviewCommand() *cobra.Command {
	var (
		outputsFile string
		runID       string
	)

	cmd := &cobra.Command{
		Use:   "preview <workflow> <node>",
		Short: "Preview a node's available variables and resolved params",
		Long: `Preview lists the {{ name.field }} references a node may use and renders
its params against sample upstream outputs.

Outputs come from --outputs (a JSON object keyed by node name), from --run, or
by default from the workflow's most recent run. Without any outputs every
reference renders as an empty string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.loadStore(ctx, args[0])
				if err != nil {
					return err
				}
				node, ok := s.NodeByName(args[1])
				if !ok {
					return fmt.Errorf("node not found: %s", args[1])
				}
				reg, err := a.registry()
				if err != nil {
					return err
				}

				outputs, source, err := previewOutputs(ctx, a, s, outputsFile, runID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Node: %s (%s)\n", node.Name(), node.Type)

				vars := s.AvailableVariables(node.ID, reg)
				_, _ = fmt.Fprintf(out, "\nAvailable variables (%d):\n", len(vars))
				for _, v := range vars {
					_, _ = fmt.Fprintf(out, "  %s\n", v.Token)
				}

				resolved, warnings := variable.ResolveParams(node.Data.Params, s.Snapshot(), outputs)
				_, _ = fmt.Fprintf(out, "\nResolved params (outputs from %s):\n", source)
				keys := make([]string, 0, len(resolved))
				for k := range resolved {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					_, _ = fmt.Fprintf(out, "  %s = %s\n", k, formatValue(resolved[k]))
				}
				for _, w := range warnings {
					_, _ = fmt.Fprintf(out, "⚠ %s\n", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outputsFile, "outputs", "", "JSON file of sample outputs keyed by node name")
	cmd.Flags().StringVar(&runID, "run", "", "Use the outputs of this run")
	cmd.MarkFlagsMutuallyExclusive("outputs", "run")
	return cmd
}

func previewOutputs(ctx context.Context, a *app, s *store.Store, file, runID string) (variable.Outputs, string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read outputs: %w", err)
		}
		var byName map[string]map[string]any
		if err := json.Unmarshal(data, &byName); err != nil {
			return nil, "", fmt.Errorf("failed to parse outputs: %w", err)
		}
		outputs := make(variable.Outputs, len(byName))
		for name, fields := range byName {
			n, ok := s.NodeByName(name)
			if !ok {
				return nil, "", fmt.Errorf("outputs reference unknown node %s", name)
			}
			outputs[n.ID] = fields
		}
		return outputs, file, nil
	}

	if runID == "" {
		recent, err := a.runs.ListRuns(ctx, s.ID(), 1)
		if err != nil {
			return nil, "", err
		}
		if len(recent) == 0 {
			return variable.Outputs{}, "nothing (no runs yet)", nil
		}
		runID = string(recent[0].RunID)
	}

	report, err := a.runs.LoadRun(ctx, types.RunID(runID))
	if err != nil {
		return nil, "", err
	}
	outputs := make(variable.Outputs)
	for id, res := range report.PerNode {
		if res.Status == domain.NodeStatusCompleted {
			outputs[id] = res.Output
		}
	}
	return outputs, "run " + runID, nil
}

// NewNodeTypesCommand lists the registered executors.
func NewNodeTypesCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "node-types",
		Short: "List node types with their required params and outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				reg, err := a.registry()
				if err != nil {
					return err
				}
				specs := reg.Specs()
				if asJSON {
					return writeJSON(cmd, specs)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "TYPE\tREQUIRED\tOUTPUTS\tDESCRIPTION")
				for _, spec := range specs {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						spec.Type, joinOrDash(spec.RequiredParams), joinOrDash(spec.Outputs), spec.Description)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
