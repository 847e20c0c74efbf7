package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	domain "github.com/dshills/flowgraph/pkg/domain/execution"
	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/execution"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// ErrRunNotCompleted is returned by the run command when any node did not
// complete. The report has already been printed and recorded.
var ErrRunNotCompleted = errors.New("run did not complete")

// RunFlags holds the flags for the run command.
type RunFlags struct {
	Watch       bool
	OutputJSON  bool
	Concurrency int
	Params      []string
}

// NewRunCommand runs a stored workflow.
func NewRunCommand() *cobra.Command {
	flags := &RunFlags{}

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow",
		Long: `Run a stored workflow. Nodes execute in dependency order; a failed node
only affects the nodes downstream of it. Every run is recorded and can be
inspected later with 'flowgraph runs'.

Press Ctrl-C to cancel: nodes that have not finished are reported as cancelled.`,
		Example: `  flowgraph run demo
  flowgraph run demo --watch
  flowgraph run demo --param input_0.text="hello world" --output-json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.Watch, "watch", "w", false, "Print node events as they happen")
	cmd.Flags().BoolVar(&flags.OutputJSON, "output-json", false, "Print the run report as JSON")
	cmd.Flags().IntVarP(&flags.Concurrency, "concurrency", "c", 0, "Maximum nodes running at once (default from config)")
	cmd.Flags().StringArrayVarP(&flags.Params, "param", "p", nil, "Override a param for this run as node.key=value (repeatable)")
	return cmd
}

func runWorkflow(cmd *cobra.Command, ref string, flags *RunFlags) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		s, err := a.loadStore(ctx, ref)
		if err != nil {
			return err
		}
		wf := s.Snapshot()
		if err := overrideParams(wf, flags.Params); err != nil {
			return err
		}

		var opts []execution.Option
		if flags.Concurrency > 0 {
			opts = append(opts, execution.WithMaxConcurrency(flags.Concurrency))
		}
		if flags.Watch {
			monitor := execution.NewMonitor()
			defer monitor.Close()
			opts = append(opts, execution.WithObserver(watchEvents(cmd.ErrOrStderr(), monitor)))
		}
		eng, err := a.engine(opts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := eng.Run(ctx, wf)
		if err != nil {
			return err
		}

		if flags.OutputJSON {
			if err := writeJSON(cmd, report); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), report)
		}

		if report.OverallStatus != domain.RunStatusCompleted {
			return fmt.Errorf("%w: %s (run %s)", ErrRunNotCompleted, report.OverallStatus, report.RunID)
		}
		return nil
	})
}

// overrideParams applies node.key=value overrides to wf.
func overrideParams(wf *workflow.Workflow, pairs []string) error {
	for _, pair := range pairs {
		target, _, _ := strings.Cut(pair, "=")
		nodeName, key, ok := strings.Cut(target, ".")
		if !ok || nodeName == "" || key == "" {
			return fmt.Errorf("invalid param override %q (expected node.key=value)", pair)
		}
		parsed, err := parseParams([]string{strings.TrimPrefix(pair, nodeName+".")})
		if err != nil {
			return err
		}

		found := false
		for i := range wf.Nodes {
			if wf.Nodes[i].Name() != nodeName {
				continue
			}
			if wf.Nodes[i].Data.Params == nil {
				wf.Nodes[i].Data.Params = map[string]any{}
			}
			for k, v := range parsed {
				wf.Nodes[i].Data.Params[k] = v
			}
			found = true
		}
		if !found {
			return fmt.Errorf("param override references unknown node %s", nodeName)
		}
	}
	return nil
}

// watchEvents prints one line per node event with the run's progress.
func watchEvents(w io.Writer, monitor *execution.Monitor) execution.Observer {
	return func(ev execution.Event) {
		monitor.Observe(ev)
		p := monitor.Progress()

		switch ev.Type {
		case execution.EventRunStarted:
			_, _ = fmt.Fprintf(w, "▶ Run %s started (%d nodes)\n", ev.RunID, ev.TotalNodes)
		case execution.EventNodeStarted:
			_, _ = fmt.Fprintf(w, "  … %s started\n", ev.NodeID)
		case execution.EventNodeCompleted:
			_, _ = fmt.Fprintf(w, "  ✓ %s completed in %dms [%.0f%%]\n", ev.NodeID, ev.DurationMs, p.PercentComplete)
		case execution.EventNodeFailed:
			_, _ = fmt.Fprintf(w, "  ✗ %s failed: %v [%.0f%%]\n", ev.NodeID, ev.Error, p.PercentComplete)
		case execution.EventNodeSkipped:
			_, _ = fmt.Fprintf(w, "  - %s skipped [%.0f%%]\n", ev.NodeID, p.PercentComplete)
		case execution.EventNodeCancelled:
			_, _ = fmt.Fprintf(w, "  ○ %s cancelled [%.0f%%]\n", ev.NodeID, p.PercentComplete)
		case execution.EventRunCompleted:
			_, _ = fmt.Fprintf(w, "■ Run %s %s\n", ev.RunID, ev.RunStatus)
		}
	}
}

func printReport(w io.Writer, report *domain.RunReport) {
	order := report.Order
	if len(order) < len(report.PerNode) {
		order = sortedNodeIDs(report.PerNode)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NODE\tTYPE\tSTATUS\tDURATION\tDETAIL")
	for _, id := range order {
		res, ok := report.PerNode[id]
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n", id, res.NodeType, res.Status, res.DurationMs, resultDetail(res))
	}
	_ = tw.Flush()

	counts := report.Counts()
	symbol := "✓"
	if report.OverallStatus != domain.RunStatusCompleted {
		symbol = "✗"
	}
	_, _ = fmt.Fprintf(w, "\n%s Run %s %s in %s (%d completed, %d failed, %d skipped, %d cancelled)\n",
		symbol, report.RunID, report.OverallStatus, report.Duration().Round(time.Millisecond),
		counts[domain.NodeStatusCompleted], counts[domain.NodeStatusFailed],
		counts[domain.NodeStatusSkipped], counts[domain.NodeStatusCancelled])
}

func resultDetail(res *domain.NodeResult) string {
	switch {
	case res.Error != nil:
		return res.Error.Error()
	case len(res.Output) > 0:
		return formatParams(res.Output)
	case len(res.Warnings) > 0:
		return strings.Join(res.Warnings, "; ")
	default:
		return ""
	}
}

func sortedNodeIDs(m map[types.NodeID]*domain.NodeResult) []types.NodeID {
	ids := make([]types.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NewRunsCommand groups the run history subcommands.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history",
	}
	cmd.AddCommand(newRunsListCommand(), newRunsShowCommand(), newRunsFailuresCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		workflowRef string
		limit       int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var id types.WorkflowID
				if workflowRef != "" {
					resolved, err := a.resolveID(ctx, workflowRef)
					switch {
					case isNotFound(err):
						// History outlives deleted workflows.
						id = types.WorkflowID(workflowRef)
					case err != nil:
						return err
					default:
						id = resolved
					}
				}
				runs, err := a.runs.ListRuns(ctx, id, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, runs)
				}
				if len(runs) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "RUN ID\tWORKFLOW\tSTATUS\tNODES\tSTARTED\tDURATION")
				for _, r := range runs {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%dms\n",
						r.RunID, r.WorkflowName, r.OverallStatus, r.NodeCount,
						r.StartedAt.Local().Format(time.DateTime), r.DurationMs)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&workflowRef, "workflow", "", "Only list runs of this workflow")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to display (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the report of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.runs.LoadRun(ctx, types.RunID(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Workflow: %s (%s)\n", report.WorkflowName, report.WorkflowID)
				_, _ = fmt.Fprintf(out, "Started:  %s\n\n", report.StartedAt.Local().Format(time.DateTime))
				printReport(out, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the report as JSON")
	return cmd
}

func newRunsFailuresCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "failures",
		Short: "Count failed nodes per node type across all runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				counts, err := a.runs.NodeFailures(ctx)
				if err != nil {
					return err
				}
				if len(counts) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No failed nodes recorded.")
					return nil
				}
				nodeTypes := make([]string, 0, len(counts))
				for t := range counts {
					nodeTypes = append(nodeTypes, t)
				}
				sort.Strings(nodeTypes)

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "TYPE\tFAILURES")
				for _, t := range nodeTypes {
					_, _ = fmt.Fprintf(w, "%s\t%d\n", t, counts[t])
				}
				return w.Flush()
			})
		},
	}
}
