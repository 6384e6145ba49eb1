//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/event"
	"trpc.group/trpc-go/trpc-graph-go/execution"
	"trpc.group/trpc-go/trpc-graph-go/graph"
	itelemetry "trpc.group/trpc-go/trpc-graph-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-graph-go/log"
	"trpc.group/trpc-go/trpc-graph-go/resolver"
	"trpc.group/trpc-go/trpc-graph-go/scheduler"
	"trpc.group/trpc-go/trpc-graph-go/state"
	"trpc.group/trpc-go/trpc-graph-go/telemetry/trace"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeInterrupt
	outcomeCancelled
)

// completion is what a worker reports back for one node execution.
type completion struct {
	id       string
	kind     outcome
	out      graph.Output
	err      error
	live     []string
	loop     string
	duration time.Duration
}

// task is one node dispatch.
type task[S any] struct {
	node      *graph.Node[S]
	timeout   time.Duration
	resume    any
	hasResume bool
	rejected  bool
	reason    string
}

// run is the coordinator of a single execution. Everything but the
// worker side of executeNode runs on the goroutine that called execute.
type run[S any] struct {
	e       *Engine[S]
	g       *graph.Graph[S]
	cfg     Config
	st      *state.Manager[S]
	execCtx *execution.Context
	res     *resolver.Resolver
	queue   *scheduler.Queue[string]
	queued  map[string]bool

	sem  *semaphore.Weighted
	pool *ants.Pool
	done chan completion

	// pubCtx is the caller's context, used for events and storage.
	pubCtx    context.Context
	runCtx    context.Context
	cancelRun context.CancelCauseFunc

	status    Status
	inFlight  int
	exclusive bool

	errs     map[string]error
	firstErr error
	fatal    error
	parked   []checkpoint.Parked

	resumeValues map[string]any
	rejections   map[string]string
	resumedFrom  string

	sinceCheckpoint int
	failurePending  bool
	checkpointIDs   []string
	tokens          []*checkpoint.ResumeToken
	finishReached   bool
}

func (e *Engine[S]) newRun(st *state.Manager[S], execCtx *execution.Context, res *resolver.Resolver) *run[S] {
	return &run[S]{
		e:            e,
		g:            e.g,
		cfg:          e.cfg,
		st:           st,
		execCtx:      execCtx,
		res:          res,
		queue:        scheduler.New[string](),
		queued:       make(map[string]bool),
		sem:          semaphore.NewWeighted(int64(e.cfg.MaxConcurrency)),
		done:         make(chan completion, e.cfg.MaxConcurrency),
		status:       StatusStarting,
		errs:         make(map[string]error),
		resumeValues: make(map[string]any),
		rejections:   make(map[string]string),
	}
}

func (r *run[S]) execute(ctx context.Context) (*Result[S], error) {
	start := time.Now()
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameExecuteGraph)
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyExecutionID, r.execCtx.ExecutionID()),
		attribute.String(itelemetry.KeyGraphID, r.g.ID()),
		attribute.Int(itelemetry.KeyDepth, r.execCtx.Depth()),
	)
	r.pubCtx = ctx

	runCtx := ctx
	var runTimeout *TimeoutError
	if r.cfg.RunTimeout > 0 {
		runTimeout = &TimeoutError{Timeout: r.cfg.RunTimeout}
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, r.cfg.RunTimeout, runTimeout)
		defer cancel()
	}
	runCtx, cancelRun := context.WithCancelCause(runCtx)
	defer cancelRun(nil)
	r.runCtx, r.cancelRun = runCtx, cancelRun

	pool, err := ants.NewPool(r.cfg.MaxConcurrency)
	if err != nil {
		r.fatal = &ConcurrencyError{Op: "create worker pool", Err: err}
	} else {
		r.pool = pool
		defer pool.Release()
	}

	r.setStatus(StatusRunning)
	if r.resumedFrom != "" {
		log.Infof("graph %s execution %s resumed from checkpoint %s",
			r.g.ID(), r.execCtx.ExecutionID(), r.resumedFrom)
	} else {
		log.Infof("graph %s execution %s started", r.g.ID(), r.execCtx.ExecutionID())
	}
	started := []event.Option{event.WithProgress(r.progress())}
	if r.resumedFrom != "" {
		started = append(started, event.WithMetadata("resumed_from", r.resumedFrom))
	}
	r.emit(event.TypeExecutionStarted, started...)

	if r.fatal == nil {
		r.loop()
	}
	result, err := r.finish(ctx, runTimeout)

	span.SetAttributes(attribute.String(itelemetry.KeyStatus, string(result.Status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.e.inst.runDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String(itelemetry.KeyGraphID, r.g.ID()),
		attribute.String(itelemetry.KeyStatus, string(result.Status)),
	))
	return result, err
}

func (r *run[S]) setStatus(s Status) {
	log.Debugf("execution %s: %s -> %s", r.execCtx.ExecutionID(), r.status, s)
	r.status = s
}

func (r *run[S]) halted() bool {
	return r.runCtx.Err() != nil
}

// loop dispatches ready nodes and applies completions until nothing is
// running and either nothing is ready or the run was halted.
func (r *run[S]) loop() {
	for {
		r.enqueueReady()
		if !r.halted() {
			if err := r.dispatch(); err != nil {
				r.fatal = err
				r.cancelRun(err)
			}
		}
		if r.inFlight == 0 {
			return
		}
		r.handle(<-r.done)
	}
}

func (r *run[S]) enqueueReady() {
	for _, id := range r.res.Ready() {
		if r.queued[id] {
			continue
		}
		node, _ := r.g.Node(id)
		r.queued[id] = true
		r.queue.Schedule(id, node.Metadata.Priority)
	}
	r.e.inst.queueDepth.Record(r.pubCtx, int64(r.queue.Len()),
		metric.WithAttributes(attribute.String(itelemetry.KeyGraphID, r.g.ID())))
}

func (r *run[S]) checkpointDue() bool {
	if r.failurePending {
		return true
	}
	every := r.cfg.AutoCheckpoint.EveryNodes
	return every > 0 && r.sinceCheckpoint >= every
}

// dispatch launches queued nodes while the semaphore hands out permits. A
// node that may not run alongside others waits for the pool to empty and
// then runs alone. Automatic checkpoints wait for the same quiescent point.
func (r *run[S]) dispatch() error {
	for {
		if r.checkpointDue() {
			if r.inFlight > 0 {
				return nil
			}
			r.autoCheckpoint("periodic")
		}
		id, _, ok := r.queue.Peek()
		if !ok {
			return nil
		}
		if r.res.Status(id) != resolver.Ready {
			r.queue.Next()
			delete(r.queued, id)
			continue
		}
		if r.exclusive {
			return nil
		}
		node, _ := r.g.Node(id)
		if !node.Metadata.ParallelSafe() && r.inFlight > 0 {
			return nil
		}
		if node.Metadata.Risky && r.cfg.AutoCheckpoint.BeforeRisky {
			if r.inFlight > 0 {
				return nil
			}
			r.autoCheckpoint("before risky node " + id)
		}
		if !r.sem.TryAcquire(1) {
			return nil
		}
		r.queue.Next()
		delete(r.queued, id)
		if err := r.launch(node); err != nil {
			return err
		}
		if !node.Metadata.ParallelSafe() {
			r.exclusive = true
			return nil
		}
	}
}

// launch starts node on the pool. The caller holds one permit for it.
func (r *run[S]) launch(node *graph.Node[S]) error {
	if err := r.res.Start(node.ID); err != nil {
		r.sem.Release(1)
		return fmt.Errorf("engine: start node %s: %w", node.ID, err)
	}
	t := task[S]{node: node, timeout: node.Metadata.Timeout}
	if t.timeout <= 0 {
		t.timeout = r.cfg.NodeTimeout
	}
	if v, ok := r.resumeValues[node.ID]; ok {
		t.resume, t.hasResume = v, true
		delete(r.resumeValues, node.ID)
	}
	if reason, ok := r.rejections[node.ID]; ok {
		t.rejected, t.reason = true, reason
		delete(r.rejections, node.ID)
	}

	r.inFlight++
	r.e.inst.activeNodes.Add(r.pubCtx, 1)
	log.Debugf("execution %s: dispatch node %s (priority %s)",
		r.execCtx.ExecutionID(), node.ID, node.Metadata.Priority)
	r.emit(event.TypeNodeStarted, event.WithNodeID(node.ID))
	if err := r.pool.Submit(func() {
		r.done <- r.executeNode(t)
	}); err != nil {
		r.inFlight--
		r.sem.Release(1)
		r.e.inst.activeNodes.Add(r.pubCtx, -1)
		_ = r.res.Cancel(node.ID)
		return &ConcurrencyError{Op: "submit node " + node.ID, Err: err}
	}
	return nil
}

// executeNode runs on a pool worker.
func (r *run[S]) executeNode(t task[S]) completion {
	id := t.node.ID
	start := time.Now()
	ctx, span := trace.Tracer.Start(r.runCtx, fmt.Sprintf("%s %s", itelemetry.SpanNamePrefixExecuteNode, id))
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyExecutionID, r.execCtx.ExecutionID()),
		attribute.String(itelemetry.KeyNodeID, id),
		attribute.String(itelemetry.KeyNodeName, t.node.Metadata.Name),
		attribute.String(itelemetry.KeyPriority, t.node.Metadata.Priority.String()),
	)

	ctx = graph.WithNodeID(ctx, id)
	ctx = withExecution(ctx, r.execCtx)
	if t.hasResume {
		ctx = graph.WithResumeValue(ctx, t.resume)
	}
	var cancel context.CancelFunc
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeoutCause(ctx, t.timeout, &TimeoutError{NodeID: id, Timeout: t.timeout})
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	acc := r.st.Scoped()
	defer acc.Close()
	cbCtx := &NodeCallbackContext{
		NodeID:             id,
		NodeName:           t.node.Metadata.Name,
		Priority:           t.node.Metadata.Priority,
		ExecutionID:        r.execCtx.ExecutionID(),
		GraphID:            r.g.ID(),
		Depth:              r.execCtx.Depth(),
		ExecutionStartTime: start,
	}

	out, err := r.invoke(ctx, t, acc, cbCtx)
	if err != nil && ctx.Err() != nil && !graph.IsInterrupt(err) {
		if te := nodeTimeout(context.Cause(ctx), id); te != nil {
			err = te
		}
	}
	if err == nil && !out.Success {
		err = ErrUnsuccessfulOutput
	}
	c := completion{id: id, out: out}
	if err == nil {
		c.live, c.loop, err = r.route(ctx, t.node, out)
	}
	c.err = err
	c.duration = time.Since(start)

	switch {
	case err == nil:
		c.kind = outcomeSuccess
	case graph.IsInterrupt(err):
		c.kind = outcomeInterrupt
	case nodeTimeout(err, id) != nil:
		c.kind = outcomeFailure
	case r.runCtx.Err() != nil:
		c.kind = outcomeCancelled
	default:
		c.kind = outcomeFailure
	}
	if c.kind == outcomeFailure {
		r.e.callbacks.RunOnNodeError(ctx, cbCtx, acc, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return c
}

func nodeTimeout(err error, id string) *TimeoutError {
	var te *TimeoutError
	if errors.As(err, &te) && te.NodeID == id {
		return te
	}
	return nil
}

// invoke runs the callbacks around the node body.
func (r *run[S]) invoke(ctx context.Context, t task[S], acc state.Accessor[S],
	cbCtx *NodeCallbackContext) (graph.Output, error) {
	if t.rejected {
		return graph.Output{}, &RejectedError{NodeID: t.node.ID, Reason: t.reason}
	}
	custom, err := r.e.callbacks.RunBeforeNode(ctx, cbCtx, acc)
	if err != nil {
		return graph.Output{}, err
	}
	var out graph.Output
	if custom != nil {
		out = *custom
	} else {
		out, err = race(ctx, t.node.Executable, acc)
	}
	if graph.IsInterrupt(err) {
		return out, err
	}
	out, cbErr := r.e.callbacks.RunAfterNode(ctx, cbCtx, acc, out, err)
	if cbErr != nil {
		return graph.Output{}, cbErr
	}
	return out, err
}

// race runs the body and returns early when ctx ends first. A body that
// keeps running after that can no longer write state: its accessor is
// closed when the node finishes.
func race[S any](ctx context.Context, exec graph.Executable[S], acc state.Accessor[S]) (graph.Output, error) {
	type result struct {
		out graph.Output
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("node panicked: %v", rec)}
			}
		}()
		out, err := exec.Execute(ctx, acc)
		ch <- result{out: out, err: err}
	}()
	select {
	case res := <-ch:
		return res.out, res.err
	case <-ctx.Done():
		select {
		case res := <-ch:
			return res.out, res.err
		default:
		}
		return graph.Output{}, context.Cause(ctx)
	}
}

// route decides which successors a completed node enables. A nil live
// list enables every successor; loop names a followed loop edge.
func (r *run[S]) route(ctx context.Context, node *graph.Node[S], out graph.Output) (live []string, loop string, err error) {
	id := node.ID
	cond, hasCond := r.g.ConditionalEdge(id)
	if len(out.Next) > 0 {
		live = []string{}
		succ := r.g.Successors(id)
		for _, next := range out.Next {
			if next == graph.End {
				continue
			}
			if r.g.IsLoopEdge(id, next) {
				if loop != "" && loop != next {
					return nil, "", fmt.Errorf("%w: node %s names loop targets %s and %s", graph.ErrRouting, id, loop, next)
				}
				loop = next
				continue
			}
			if hasCond {
				if target, ok := cond.Resolve(next); ok {
					if target != graph.End && !contains(live, target) {
						live = append(live, target)
					}
					continue
				}
			}
			if !contains(succ, next) {
				return nil, "", fmt.Errorf("%w: node %s routed to %s, which is not a successor", graph.ErrRouting, id, next)
			}
			if !contains(live, next) {
				live = append(live, next)
			}
		}
		if loop != "" && len(live) > 0 {
			return nil, "", fmt.Errorf("%w: node %s combines loop target %s with forward targets %v",
				graph.ErrRouting, id, loop, live)
		}
		return live, loop, nil
	}
	if !hasCond {
		return nil, "", nil
	}
	if cond.Route == nil {
		return nil, "", fmt.Errorf("%w: node %s must name a branch label in Next", graph.ErrRouting, id)
	}
	label, err := cond.Route(ctx, out, r.st.Read())
	if err != nil {
		return nil, "", fmt.Errorf("%w: route from %s: %w", graph.ErrRouting, id, err)
	}
	target, ok := cond.Resolve(label)
	if !ok {
		return nil, "", fmt.Errorf("%w: node %s produced unknown branch label %q", graph.ErrRouting, id, label)
	}
	live = r.g.StaticSuccessors(id)
	if live == nil {
		live = []string{}
	}
	if target != graph.End && !contains(live, target) {
		live = append(live, target)
	}
	return live, "", nil
}

// handle applies one completion on the coordinator.
func (r *run[S]) handle(c completion) {
	r.inFlight--
	r.sem.Release(1)
	r.e.inst.activeNodes.Add(r.pubCtx, -1)
	node, _ := r.g.Node(c.id)
	if !node.Metadata.ParallelSafe() {
		r.exclusive = false
	}
	switch c.kind {
	case outcomeSuccess:
		r.complete(c)
	case outcomeInterrupt:
		r.interrupt(c)
	case outcomeCancelled:
		r.cancelNode(c)
	default:
		r.fail(c.id, c.err, c.duration)
	}
	r.emit(event.TypeProgressUpdate, event.WithProgress(r.progress()))
}

func (r *run[S]) complete(c completion) {
	if c.loop != "" {
		if n := r.res.LoopCount(c.id, c.loop); n >= r.cfg.MaxLoopIterations {
			r.fail(c.id, fmt.Errorf("%w: %s -> %s followed %d times", ErrMaxLoopIterations, c.id, c.loop, n), c.duration)
			return
		}
		if err := r.res.Loop(c.id, c.loop); err != nil {
			r.fail(c.id, err, c.duration)
			return
		}
	} else if err := r.res.Complete(c.id, c.live); err != nil {
		r.fail(c.id, err, c.duration)
		return
	}
	r.execCtx.RecordSuccess(c.id, c.duration)
	r.e.inst.nodeDone(r.pubCtx, r.g.ID(), c.id, c.duration, true)
	r.sinceCheckpoint++
	if r.g.IsFinishPoint(c.id) {
		r.finishReached = true
	}
	log.Debugf("execution %s: node %s completed in %s", r.execCtx.ExecutionID(), c.id, c.duration)
	opts := []event.Option{event.WithNodeID(c.id), event.WithDuration(c.duration)}
	if c.loop != "" {
		opts = append(opts, event.WithMetadata("loop_target", c.loop))
	}
	r.emit(event.TypeNodeCompleted, opts...)
}

func (r *run[S]) fail(id string, err error, d time.Duration) {
	nerr := asNodeError(id, err, d)
	r.errs[id] = nerr
	r.execCtx.RecordFailure(id, d)
	r.e.inst.nodeDone(r.pubCtx, r.g.ID(), id, d, false)
	skipped, ferr := r.res.Fail(id)
	if ferr != nil {
		log.Errorf("execution %s: mark node %s failed: %v", r.execCtx.ExecutionID(), id, ferr)
	}
	r.execCtx.RecordSkipped(len(skipped))
	log.Warnf("execution %s: %v", r.execCtx.ExecutionID(), nerr)
	r.emit(event.TypeNodeFailed, event.WithNodeID(id), event.WithError(nerr), event.WithDuration(d))
	for _, s := range skipped {
		r.emit(event.TypeNodeSkipped, event.WithNodeID(s), event.WithMetadata("failed_node", id))
	}
	if r.cfg.AutoCheckpoint.OnFailure {
		r.failurePending = true
	}
	if r.cfg.FailFast && r.firstErr == nil {
		r.firstErr = nerr
		r.cancelRun(nerr)
	}
}

func asNodeError(id string, err error, d time.Duration) *NodeExecutionError {
	var ne *NodeExecutionError
	if errors.As(err, &ne) && ne.NodeID == id {
		return ne
	}
	return &NodeExecutionError{NodeID: id, Duration: d, Cause: err}
}

func (r *run[S]) interrupt(c completion) {
	ie, _ := graph.AsInterrupt(c.err)
	if ie.NodeID == "" {
		ie.NodeID = c.id
	}
	if r.e.checkpoints == nil {
		r.fail(c.id, fmt.Errorf("%w: node %s interrupted: %w", ErrNoCheckpointManager, c.id, ie), c.duration)
		return
	}
	if err := r.res.Interrupt(c.id); err != nil {
		r.fail(c.id, err, c.duration)
		return
	}
	r.parked = append(r.parked, checkpoint.Parked{NodeID: c.id, Prompt: ie.Prompt})
	log.Infof("execution %s: node %s interrupted", r.execCtx.ExecutionID(), c.id)
}

func (r *run[S]) cancelNode(c completion) {
	if err := r.res.Cancel(c.id); err != nil {
		log.Errorf("execution %s: mark node %s cancelled: %v", r.execCtx.ExecutionID(), c.id, err)
	}
	log.Debugf("execution %s: node %s cancelled: %v", r.execCtx.ExecutionID(), c.id, c.err)
	r.emit(event.TypeNodeFailed, event.WithNodeID(c.id), event.WithError(c.err),
		event.WithDuration(c.duration), event.WithMetadata("status", string(resolver.Cancelled)))
}

// autoCheckpoint must only be called while no node is running.
func (r *run[S]) autoCheckpoint(reason string) {
	r.sinceCheckpoint = 0
	r.failurePending = false
	r.execCtx.SetProgress(r.res.Progress())
	id, err := r.e.checkpoints.Create(r.pubCtx, r.st, r.execCtx, checkpoint.TypeAutomatic)
	if err != nil {
		log.Warnf("execution %s: automatic checkpoint (%s) failed: %v", r.execCtx.ExecutionID(), reason, err)
		return
	}
	r.recordCheckpoint(id, reason)
	if r.cfg.AutoCheckpoint.Cleanup {
		if _, err := r.e.checkpoints.Cleanup(r.pubCtx); err != nil {
			log.Warnf("execution %s: checkpoint cleanup failed: %v", r.execCtx.ExecutionID(), err)
		}
	}
}

func (r *run[S]) recordCheckpoint(id, reason string) {
	r.checkpointIDs = append(r.checkpointIDs, id)
	oteltrace.SpanFromContext(r.pubCtx).AddEvent("checkpoint", oteltrace.WithAttributes(
		attribute.String(itelemetry.KeyCheckpoint, id),
		attribute.String("reason", reason),
	))
	r.e.inst.checkpoints.Add(r.pubCtx, 1, metric.WithAttributes(attribute.String(itelemetry.KeyGraphID, r.g.ID())))
	log.Debugf("execution %s: checkpoint %s (%s)", r.execCtx.ExecutionID(), id, reason)
	r.emit(event.TypeCheckpointCreated,
		event.WithMetadata("checkpoint_id", id), event.WithMetadata("reason", reason))
}

// finish decides the run status once nothing is running.
func (r *run[S]) finish(ctx context.Context, runTimeout *TimeoutError) (*Result[S], error) {
	if r.failurePending && r.fatal == nil {
		r.autoCheckpoint("after failure")
	}
	var err error
	status := StatusCompleted
	switch {
	case r.fatal != nil:
		status, err = StatusFailed, r.fatal
	case r.firstErr != nil:
		status, err = StatusFailed, r.firstErr
	case runTimeout != nil && errors.Is(context.Cause(r.runCtx), runTimeout):
		status, err = StatusTimedOut, runTimeout
	case ctx.Err() != nil:
		status, err = StatusCancelled, context.Cause(ctx)
	case len(r.parked) > 0:
		status, err = r.suspend(ctx)
	case len(r.errs) > 0:
		status = StatusFailed
	}
	r.execCtx.SetProgress(r.res.Progress())
	r.execCtx.Finish()
	r.setStatus(status)
	result := r.result(status)

	switch status {
	case StatusCompleted:
		log.Infof("graph %s execution %s completed", r.g.ID(), r.execCtx.ExecutionID())
		r.emit(event.TypeExecutionCompleted, event.WithProgress(r.progress()))
	case StatusInterrupted:
		log.Infof("graph %s execution %s interrupted at %v", r.g.ID(), r.execCtx.ExecutionID(), result.Interrupted)
		r.emit(event.TypeExecutionInterrupted, event.WithProgress(r.progress()),
			event.WithMetadata("checkpoint_id", r.tokens[0].CheckpointID))
	default:
		cause := err
		if cause == nil {
			cause = result.Err
		}
		log.Warnf("graph %s execution %s ended %s: %v", r.g.ID(), r.execCtx.ExecutionID(), status, cause)
		r.emit(event.TypeExecutionFailed, event.WithError(cause), event.WithProgress(r.progress()),
			event.WithMetadata("status", string(status)))
	}
	return result, err
}

// suspend parks every interrupted node behind one interrupt checkpoint.
func (r *run[S]) suspend(ctx context.Context) (Status, error) {
	r.execCtx.SetProgress(r.res.Progress())
	tokens, err := r.e.checkpoints.Suspend(ctx, r.st, r.execCtx, r.parked)
	if err != nil {
		return StatusFailed, fmt.Errorf("engine: suspend interrupted nodes: %w", err)
	}
	r.tokens = tokens
	r.recordCheckpoint(tokens[0].CheckpointID, "interrupt")
	return StatusInterrupted, nil
}

func (r *run[S]) result(status Status) *Result[S] {
	res := &Result[S]{
		ExecutionID: r.execCtx.ExecutionID(),
		Status:      status,
		Completed:   r.res.InStatus(resolver.Completed),
		Failed:      r.res.InStatus(resolver.Failed),
		Skipped:     r.res.InStatus(resolver.Skipped),
		Cancelled:   r.res.InStatus(resolver.Cancelled),
		Pruned:      r.res.InStatus(resolver.Pruned),
		Interrupted: r.res.InStatus(resolver.Interrupted),
		Errors:      r.errs,
		State:       r.st.Read(),
		Context:     r.execCtx,
		Tokens:      r.tokens,
		Checkpoints: r.checkpointIDs,
	}
	res.NotReached = append(r.res.InStatus(resolver.Pending), r.res.InStatus(resolver.Ready)...)
	sort.Strings(res.NotReached)
	res.FinishReached = r.finishReached
	for _, id := range r.g.FinishPoints() {
		if r.res.Status(id) == resolver.Completed {
			res.FinishReached = true
		}
	}
	var errs []error
	for _, id := range res.FailedNodes() {
		errs = append(errs, r.errs[id])
	}
	res.Err = multierr.Combine(errs...)
	return res
}

func (r *run[S]) progress() event.Progress {
	return event.Progress{
		Total:     r.g.Len(),
		Completed: len(r.res.InStatus(resolver.Completed)),
		Failed:    len(r.res.InStatus(resolver.Failed)),
		Skipped:   len(r.res.InStatus(resolver.Skipped)),
		Running:   r.inFlight,
	}
}

func (r *run[S]) emit(typ event.Type, opts ...event.Option) {
	if r.e.bus == nil {
		return
	}
	if err := r.e.bus.Publish(r.pubCtx, event.New(typ, r.execCtx.ExecutionID(), opts...)); err != nil {
		log.Debugf("execution %s: publish %s: %v", r.execCtx.ExecutionID(), typ, err)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
