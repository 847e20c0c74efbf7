package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/flowgraph/internal/ctxlog"
	domain "github.com/dshills/flowgraph/pkg/domain/execution"
	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
	"github.com/dshills/flowgraph/pkg/variable"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConcurrency sets how many independent nodes may run at once. Values
// below 1 mean 1, which runs nodes strictly in topological order.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.maxConcurrency = n
	}
}

// WithLogger sets the engine logger. Without it the logger comes from the
// run's context.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithObserver adds an event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithMiddleware wraps every executor call. The first middleware is outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(e *Engine) { e.middleware = append(e.middleware, mws...) }
}

// WithRunRecorder stores every finished report. A recording failure is logged
// and does not change the run's outcome.
func WithRunRecorder(repo domain.RunRepository) Option {
	return func(e *Engine) { e.recorder = repo }
}

// Engine runs workflows against a registry of executors.
type Engine struct {
	registry       *Registry
	maxConcurrency int
	logger         *slog.Logger
	observers      []Observer
	middleware     []Middleware
	recorder       domain.RunRepository
}

// NewEngine returns an engine that dispatches to registry.
func NewEngine(registry *Registry, opts ...Option) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Engine{registry: registry, maxConcurrency: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's executor registry.
func (e *Engine) Registry() *Registry { return e.registry }

// outcome is what a dispatched executor sends back to the coordinator.
type outcome struct {
	id       types.NodeID
	output   map[string]any
	err      error
	attempts int
}

// run holds the coordinator's state for one Run call. Only the coordinating
// goroutine touches it.
type run struct {
	e        *Engine
	ctx      context.Context
	logger   *slog.Logger
	wf       *workflow.Workflow
	graph    *workflow.Graph
	report   *domain.RunReport
	resolver *variable.Resolver
	outputs  variable.Outputs
	nodes    map[types.NodeID]workflow.Node
	position map[types.NodeID]int
	indeg    map[types.NodeID]int
	ready    []types.NodeID
	inFlight int
	results  chan outcome
	group    errgroup.Group
}

// Run executes wf and returns its report. Only a dependency cycle is returned
// as an error, before any executor is invoked; every other problem is
// recorded on the node it concerns.
//
// When ctx is cancelled no further node is dispatched. Nodes already running
// finish under a context detached from ctx, their results are discarded and
// every unfinished node is reported as cancelled.
func (e *Engine) Run(ctx context.Context, wf *workflow.Workflow) (*domain.RunReport, error) {
	if wf == nil {
		return nil, &flowerrors.ValidationError{Message: "workflow cannot be nil"}
	}
	wf = wf.Clone()
	graph := workflow.BuildGraph(wf)
	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	logger := e.logger
	if logger == nil {
		logger = ctxlog.FromContext(ctx)
	}

	r := &run{
		e:        e,
		ctx:      ctx,
		wf:       wf,
		graph:    graph,
		report:   domain.NewRunReport(wf.ID, wf.Name),
		resolver: variable.NewResolver(wf),
		outputs:  make(variable.Outputs, len(order)),
		nodes:    make(map[types.NodeID]workflow.Node, len(order)),
		position: make(map[types.NodeID]int, len(order)),
		indeg:    make(map[types.NodeID]int, len(order)),
		results:  make(chan outcome, len(order)),
	}
	r.logger = logger.With("run_id", r.report.RunID, "workflow_id", wf.ID)
	r.report.Order = order

	for i, id := range order {
		n, _ := wf.NodeByID(id)
		r.nodes[id] = n
		r.position[id] = i
		r.indeg[id] = graph.InDegree(id)
		r.report.PerNode[id] = domain.NewNodeResult(id, n.Type)
		if r.indeg[id] == 0 {
			r.ready = append(r.ready, id)
		}
	}

	r.logger.Info("run started", "nodes", len(order), "max_concurrency", e.maxConcurrency)
	e.emit(Event{Type: EventRunStarted, RunID: r.report.RunID, WorkflowID: wf.ID, TotalNodes: len(order)})

	cancelled := r.loop()

	if cancelled {
		// Drain in-flight executors; their results are discarded.
		_ = r.group.Wait()
		r.cancelRemaining()
	} else {
		_ = r.group.Wait()
	}
	close(r.results)

	r.report.Finish(cancelled)
	counts := r.report.Counts()
	r.logger.Info("run finished",
		"status", r.report.OverallStatus,
		"completed", counts[domain.NodeStatusCompleted],
		"failed", counts[domain.NodeStatusFailed],
		"skipped", counts[domain.NodeStatusSkipped],
		"cancelled", counts[domain.NodeStatusCancelled],
		"duration", r.report.Duration())
	e.emit(Event{
		Type:       EventRunCompleted,
		RunID:      r.report.RunID,
		WorkflowID: wf.ID,
		RunStatus:  r.report.OverallStatus,
		DurationMs: r.report.Duration().Milliseconds(),
	})

	if e.recorder != nil {
		// The run's own context may be cancelled; history is still written.
		if err := e.recorder.SaveRun(context.WithoutCancel(ctx), r.report); err != nil {
			r.logger.Warn("failed to record run", "error", err)
		}
	}
	return r.report, nil
}

// loop dispatches ready nodes until every node is terminal or ctx is done. It
// reports whether the run was cancelled.
func (r *run) loop() bool {
	for {
		for len(r.ready) > 0 && r.inFlight < r.e.maxConcurrency {
			if r.ctx.Err() != nil {
				return true
			}
			id := r.popReady()
			r.start(id)
		}

		if r.inFlight == 0 {
			if len(r.ready) == 0 {
				return false
			}
			continue
		}

		select {
		case out := <-r.results:
			r.inFlight--
			r.apply(out)
		case <-r.ctx.Done():
			return true
		}
	}
}

// popReady removes the ready node that comes first in topological order.
func (r *run) popReady() types.NodeID {
	best := 0
	for i := 1; i < len(r.ready); i++ {
		if r.position[r.ready[i]] < r.position[r.ready[best]] {
			best = i
		}
	}
	id := r.ready[best]
	r.ready = append(r.ready[:best], r.ready[best+1:]...)
	return id
}

// start settles id immediately when it cannot run, or hands it to an executor.
func (r *run) start(id types.NodeID) {
	node := r.nodes[id]
	res := r.report.PerNode[id]

	for _, pred := range r.graph.Predecessors(id) {
		if r.report.PerNode[pred].Status != domain.NodeStatusCompleted {
			res.Skip()
			r.logger.Debug("node skipped", "node_id", id, "upstream", pred)
			r.e.emit(r.nodeEvent(EventNodeSkipped, res))
			r.settle(id)
			return
		}
	}

	params, warnings := r.resolver.ResolveParams(node.Data.Params, r.outputs)
	for _, w := range warnings {
		res.Warnings = append(res.Warnings, w.Error())
		r.logger.Warn("unresolved variable", "node_id", id, "token", w.Token, "reason", w.Reason)
	}
	res.Start(params)

	ex, err := r.e.lookup(node)
	if err == nil {
		err = checkRequired(node, ex.Spec(), params)
	}
	if err != nil {
		r.e.emit(r.nodeEvent(EventNodeStarted, res))
		r.fail(id, err)
		return
	}

	r.e.emit(r.nodeEvent(EventNodeStarted, res))
	r.inFlight++

	execCtx := context.WithoutCancel(r.ctx)
	execCtx = ctxlog.WithLogger(execCtx, r.logger.With("node_id", id, "node_type", node.Type))
	results := r.results
	r.group.Go(func() error {
		var extra atomic.Int32
		out, err := invoke(withAttemptCounter(execCtx, &extra), ex, params)
		results <- outcome{id: id, output: out, err: err, attempts: 1 + int(extra.Load())}
		return nil
	})
}

// invoke calls the executor, turning a panic into an error.
func invoke(ctx context.Context, ex Executor, params map[string]any) (out map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return ex.Execute(ctx, params)
}

// apply records a finished executor call. After cancellation nothing reads
// the results channel, so late results are dropped.
func (r *run) apply(out outcome) {
	res := r.report.PerNode[out.id]
	res.Attempts = out.attempts
	if out.err != nil {
		r.fail(out.id, out.err)
		return
	}

	if out.output == nil {
		out.output = map[string]any{}
	}
	r.outputs[out.id] = out.output
	res.Complete(out.output)
	r.logger.Debug("node completed", "node_id", out.id, "duration_ms", res.DurationMs)
	r.e.emit(r.nodeEvent(EventNodeCompleted, res))
	r.settle(out.id)
}

func (r *run) fail(id types.NodeID, err error) {
	node := r.nodes[id]
	if !errors.Is(err, flowerrors.ErrValidation) {
		err = flowerrors.NewNodeExecutionError(id, node.Type, err)
	}
	res := r.report.PerNode[id]
	res.Fail(err)
	r.logger.Warn("node failed", "node_id", id, "node_type", node.Type, "error", err)
	r.e.emit(r.nodeEvent(EventNodeFailed, res))
	r.settle(id)
}

// settle releases the successors of a terminal node.
func (r *run) settle(id types.NodeID) {
	for _, next := range r.graph.Successors(id) {
		r.indeg[next]--
		if r.indeg[next] == 0 {
			r.ready = append(r.ready, next)
		}
	}
}

func (r *run) cancelRemaining() {
	for _, id := range r.report.Order {
		res := r.report.PerNode[id]
		if res.Status.IsTerminal() {
			continue
		}
		res.Cancel()
		r.e.emit(r.nodeEvent(EventNodeCancelled, res))
	}
	r.logger.Info("run cancelled", "error", r.ctx.Err())
}

func (r *run) nodeEvent(t EventType, res *domain.NodeResult) Event {
	return Event{
		Type:       t,
		RunID:      r.report.RunID,
		WorkflowID: r.wf.ID,
		NodeID:     res.NodeID,
		NodeType:   res.NodeType,
		NodeStatus: res.Status,
		Output:     res.Output,
		Error:      res.Err,
		DurationMs: res.DurationMs,
	}
}

func (e *Engine) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, o := range e.observers {
		o(ev)
	}
}

func (e *Engine) lookup(node workflow.Node) (Executor, error) {
	ex, ok := e.registry.Lookup(node.Type)
	if !ok {
		return nil, &flowerrors.ValidationError{
			NodeID:  node.ID,
			Field:   "type",
			Message: fmt.Sprintf("no executor registered for node type %q", node.Type),
		}
	}
	return Chain(ex, e.middleware...), nil
}

// checkRequired reports the first required param that is absent, nil or blank.
func checkRequired(node workflow.Node, spec NodeSpec, params map[string]any) error {
	for _, name := range spec.RequiredParams {
		if isBlank(params[name]) {
			return &flowerrors.ValidationError{NodeID: node.ID, Field: name, Message: "required param is missing"}
		}
	}
	return nil
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

// Validate checks wf without running it: dependency cycles, node types without
// an executor, and required params that are absent. Params holding a
// {{ reference }} count as present. Every problem found is returned.
func (e *Engine) Validate(wf *workflow.Workflow) error {
	if wf == nil {
		return &flowerrors.ValidationError{Message: "workflow cannot be nil"}
	}

	var errs flowerrors.ValidationErrors
	for _, n := range wf.Nodes {
		ex, ok := e.registry.Lookup(n.Type)
		if !ok {
			errs = append(errs, &flowerrors.ValidationError{
				NodeID:  n.ID,
				Field:   "type",
				Message: fmt.Sprintf("no executor registered for node type %q", n.Type),
			})
			continue
		}
		required := append([]string(nil), ex.Spec().RequiredParams...)
		sort.Strings(required)
		for _, name := range required {
			if isBlank(n.Data.Params[name]) {
				errs = append(errs, &flowerrors.ValidationError{NodeID: n.ID, Field: name, Message: "required param is missing"})
			}
		}
	}

	_, cycleErr := workflow.TopologicalSort(wf)
	switch {
	case cycleErr != nil && len(errs) > 0:
		return errors.Join(cycleErr, errs)
	case cycleErr != nil:
		return cycleErr
	case len(errs) > 0:
		return errs
	default:
		return nil
	}
}
