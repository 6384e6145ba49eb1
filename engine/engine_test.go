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
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-graph-go/event"
	"trpc.group/trpc-go/trpc-graph-go/graph"
	"trpc.group/trpc-go/trpc-graph-go/scheduler"
	"trpc.group/trpc-go/trpc-graph-go/state"
)

type runState struct {
	Order  []string
	Count  int
	Values map[string]string
}

var errBoom = errors.New("boom")

// visit appends the node ID to Order.
func visit(id string) graph.NodeFunc[runState] {
	return func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
		err := st.Write(ctx, func(s *runState) error {
			s.Order = append(s.Order, id)
			return nil
		})
		return graph.Done(nil), err
	}
}

func failing(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
	return graph.Output{}, errBoom
}

func blocking(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
	<-ctx.Done()
	return graph.Output{}, ctx.Err()
}

func newEngine(t *testing.T, g *graph.Graph[runState], opts ...Option) *Engine[runState] {
	t.Helper()
	e, err := New(g, opts...)
	require.NoError(t, err)
	return e
}

func newManager() *checkpoint.Manager[runState] {
	return checkpoint.NewManager[runState](inmemory.NewSaver())
}

func diamondGraph() *graph.Graph[runState] {
	return graph.NewBuilder[runState]().
		AddFunc("A", visit("A")).
		AddFunc("B", visit("B")).
		AddFunc("C", visit("C")).
		AddFunc("D", visit("D")).
		AddFanOut("A", "B", "D").
		AddEdge("B", "C").
		AddEdge("D", "C").
		SetEntryPoint("A").
		AddFinishPoint("C").
		MustBuild()
}

func TestNew_Errors(t *testing.T) {
	_, err := New[runState](nil)
	assert.ErrorIs(t, err, ErrNilGraph)

	g := diamondGraph()
	_, err = New(g, WithMaxConcurrency(0))
	assert.Error(t, err)

	_, err = New(g, WithAutoCheckpoint(AutoCheckpointPolicy{EveryNodes: 1}))
	assert.ErrorIs(t, err, ErrNoCheckpointManager)

	_, err = New(g, WithCheckpointManager(checkpoint.NewManager[int](inmemory.NewSaver())))
	assert.ErrorContains(t, err, "does not match the graph state type")

	_, err = New(g, WithCallbacks(NewNodeCallbacks[string]()))
	assert.Error(t, err)
}

func TestRun_Diamond(t *testing.T) {
	e := newEngine(t, diamondGraph())
	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.Succeeded())
	assert.True(t, res.FinishReached)
	assert.Equal(t, []string{"A", "B", "C", "D"}, res.Completed)
	assert.Empty(t, res.NotReached)
	assert.Nil(t, res.Err)
	require.Len(t, res.State.Order, 4)
	assert.Equal(t, "A", res.State.Order[0])
	assert.Equal(t, "C", res.State.Order[3])
	assert.ElementsMatch(t, []string{"B", "D"}, res.State.Order[1:3])

	m := res.Context.Metrics()
	assert.Equal(t, 4, m.Successes)
	assert.Equal(t, 0, m.Failures)
	assert.False(t, res.Context.EndTime().IsZero())
	assert.Equal(t, e.Graph().ID(), res.Context.GraphID())
}

func TestRun_PriorityOrderAtConcurrencyOne(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("start", visit("start")).
		AddFunc("low", visit("low"), graph.WithPriority(scheduler.Low)).
		AddFunc("normal", visit("normal")).
		AddFunc("high", visit("high"), graph.WithPriority(scheduler.High)).
		AddFunc("critical", visit("critical"), graph.WithPriority(scheduler.Critical)).
		AddFanOut("start", "low", "normal", "high", "critical").
		SetEntryPoint("start").
		AddFinishPoint("low").AddFinishPoint("normal").AddFinishPoint("high").AddFinishPoint("critical").
		MustBuild()
	e := newEngine(t, g, WithMaxConcurrency(1))

	want := []string{"start", "critical", "high", "normal", "low"}
	for i := 0; i < 5; i++ {
		res, err := e.Run(context.Background(), runState{})
		require.NoError(t, err)
		assert.Equal(t, want, res.State.Order, "run %d", i)
	}
}

func TestRun_FailFast(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("A", visit("A")).
		AddFunc("B", failing).
		AddFunc("C", blocking).
		AddFunc("D", visit("D")).
		AddFanOut("A", "B", "C").
		AddEdge("B", "D").
		AddEdge("C", "D").
		SetEntryPoint("A").
		AddFinishPoint("D").
		MustBuild()
	e := newEngine(t, g)

	res, err := e.Run(context.Background(), runState{})
	require.Error(t, err)
	var nerr *NodeExecutionError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "B", nerr.NodeID)
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"A"}, res.Completed)
	assert.Equal(t, []string{"B"}, res.Failed)
	assert.Equal(t, []string{"C"}, res.Cancelled)
	assert.Equal(t, []string{"D"}, res.Skipped)
	assert.Equal(t, []string{"B"}, res.FailedNodes())
	assert.False(t, res.FinishReached)
}

func TestRun_ContinueOnFailure(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("A", visit("A")).
		AddFunc("B", failing).
		AddFunc("C", visit("C")).
		AddFunc("D", visit("D")).
		AddFunc("E", visit("E")).
		AddFanOut("A", "B", "C").
		AddEdge("B", "D").
		AddEdge("C", "E").
		SetEntryPoint("A").
		AddFinishPoint("D").AddFinishPoint("E").
		MustBuild()
	e := newEngine(t, g, WithFailFast(false))

	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.False(t, res.Succeeded())
	assert.Equal(t, []string{"A", "C", "E"}, res.Completed)
	assert.Equal(t, []string{"B"}, res.Failed)
	assert.Equal(t, []string{"D"}, res.Skipped)
	assert.ErrorIs(t, res.Err, errBoom)
	assert.Equal(t, 1, res.Context.Metrics().Skipped)
}

func TestRun_UnsuccessfulOutputAndPanic(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("A", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			return graph.Output{Success: false}, nil
		}).
		AddFunc("B", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			panic("kaput")
		}).
		AddFunc("start", visit("start")).
		AddFanOut("start", "A", "B").
		SetEntryPoint("start").
		AddFinishPoint("A").AddFinishPoint("B").
		MustBuild()
	e := newEngine(t, g, WithFailFast(false))

	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.Failed)
	assert.ErrorIs(t, res.Errors["A"], ErrUnsuccessfulOutput)
	assert.ErrorContains(t, res.Errors["B"], "node panicked: kaput")
}

func TestRun_NodeTimeout(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("slow", blocking, graph.WithTimeout(20*time.Millisecond)).
		SetEntryPoint("slow").
		AddFinishPoint("slow").
		MustBuild()
	e := newEngine(t, g)

	res, err := e.Run(context.Background(), runState{})
	require.Error(t, err)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "slow", te.NodeID)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"slow"}, res.Failed)
}

func TestRun_DefaultNodeTimeout(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("slow", blocking).
		SetEntryPoint("slow").
		AddFinishPoint("slow").
		MustBuild()
	e := newEngine(t, g, WithNodeTimeout(10*time.Millisecond))

	_, err := e.Run(context.Background(), runState{})
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "slow", te.NodeID)
}

func TestRun_RunTimeout(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("slow", blocking).
		SetEntryPoint("slow").
		AddFinishPoint("slow").
		MustBuild()
	e := newEngine(t, g, WithRunTimeout(30*time.Millisecond))

	res, err := e.Run(context.Background(), runState{})
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Empty(t, te.NodeID)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Equal(t, []string{"slow"}, res.Cancelled)
}

func TestRun_CallerCancel(t *testing.T) {
	started := make(chan struct{})
	g := graph.NewBuilder[runState]().
		AddFunc("wait", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			close(started)
			<-ctx.Done()
			return graph.Output{}, ctx.Err()
		}).
		AddFunc("after", visit("after")).
		AddEdge("wait", "after").
		SetEntryPoint("wait").
		AddFinishPoint("after").
		MustBuild()
	e := newEngine(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	res, err := e.Run(ctx, runState{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, []string{"wait"}, res.Cancelled)
	assert.Equal(t, []string{"after"}, res.NotReached)
}

func TestRun_ConditionalRouting(t *testing.T) {
	route := func(ctx context.Context, out graph.Output, s runState) (string, error) {
		if s.Count > 0 {
			return "left", nil
		}
		return "right", nil
	}
	build := func() *graph.Graph[runState] {
		return graph.NewBuilder[runState]().
			AddFunc("A", visit("A")).
			AddFunc("B", visit("B")).
			AddFunc("C", visit("C")).
			AddFunc("D", visit("D")).
			AddConditionalEdges("A", route, map[string]string{"left": "B", "right": "C"}).
			AddEdge("B", "D").
			AddEdge("C", "D").
			SetEntryPoint("A").
			AddFinishPoint("D").
			MustBuild()
	}
	e := newEngine(t, build())

	res, err := e.Run(context.Background(), runState{Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "D"}, res.State.Order)
	assert.Equal(t, []string{"C"}, res.Pruned)
	assert.True(t, res.FinishReached)

	res, err = e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "D"}, res.State.Order)
	assert.Equal(t, []string{"B"}, res.Pruned)
}

func TestRun_LabelRoutingAndEnd(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("A", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			return graph.GoTo("stop"), nil
		}).
		AddFunc("B", visit("B")).
		AddConditionalEdges("A", nil, map[string]string{"go": "B", "stop": graph.End}).
		SetEntryPoint("A").
		AddFinishPoint("B").
		MustBuild()
	e := newEngine(t, g)

	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"B"}, res.Pruned)
}

func TestRun_OutputNextSelectsFanOutBranch(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("A", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			return graph.GoTo("B"), nil
		}).
		AddFunc("B", visit("B")).
		AddFunc("C", visit("C")).
		AddFanOut("A", "B", "C").
		SetEntryPoint("A").
		AddFinishPoint("B").AddFinishPoint("C").
		MustBuild()
	e := newEngine(t, g)

	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.State.Order)
	assert.Equal(t, []string{"C"}, res.Pruned)
}

func TestRun_RoutingError(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("A", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			return graph.GoTo("nowhere"), nil
		}).
		AddFunc("B", visit("B")).
		AddEdge("A", "B").
		SetEntryPoint("A").
		AddFinishPoint("B").
		MustBuild()
	e := newEngine(t, g)

	res, err := e.Run(context.Background(), runState{})
	assert.ErrorIs(t, err, graph.ErrRouting)
	assert.Equal(t, []string{"A"}, res.Failed)
	assert.Equal(t, []string{"B"}, res.Skipped)
}

func loopGraph(always bool) *graph.Graph[runState] {
	return graph.NewBuilder[runState]().
		AddFunc("inc", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			err := st.Write(ctx, func(s *runState) error {
				s.Count++
				return nil
			})
			return graph.Done(nil), err
		}).
		AddFunc("check", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			var n int
			st.View(func(s runState) { n = s.Count })
			if always || n < 3 {
				return graph.GoTo("inc"), nil
			}
			return graph.Done(nil), nil
		}).
		AddFunc("done", visit("done")).
		AddEdge("inc", "check").
		AddEdge("check", "done").
		AddLoopEdge("check", "inc").
		SetEntryPoint("inc").
		AddFinishPoint("done").
		MustBuild()
}

func TestRun_Loop(t *testing.T) {
	e := newEngine(t, loopGraph(false))

	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.State.Count)
	assert.Equal(t, []string{"done"}, res.State.Order)
	assert.True(t, res.FinishReached)
}

func TestRun_LoopLimit(t *testing.T) {
	e := newEngine(t, loopGraph(true), WithMaxLoopIterations(2))

	res, err := e.Run(context.Background(), runState{})
	assert.ErrorIs(t, err, ErrMaxLoopIterations)
	assert.Equal(t, 3, res.State.Count)
	assert.Equal(t, []string{"check"}, res.Failed)
	assert.Equal(t, []string{"done"}, res.Skipped)
}

// tracker counts concurrently running nodes.
type tracker struct {
	active    atomic.Int32
	peak      atomic.Int32
	violation atomic.Bool
}

func (tr *tracker) node(alone bool) graph.NodeFunc[runState] {
	return func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
		n := tr.active.Add(1)
		defer tr.active.Add(-1)
		for {
			p := tr.peak.Load()
			if n <= p || tr.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		if alone && tr.active.Load() != 1 {
			tr.violation.Store(true)
		}
		return graph.Done(nil), nil
	}
}

func TestRun_MaxConcurrency(t *testing.T) {
	tr := &tracker{}
	b := graph.NewBuilder[runState]().AddFunc("start", visit("start"))
	ids := []string{"n1", "n2", "n3", "n4", "n5", "n6"}
	for _, id := range ids {
		b.AddFunc(id, tr.node(false))
	}
	b.AddFanOut("start", ids...).SetEntryPoint("start")
	for _, id := range ids {
		b.AddFinishPoint(id)
	}
	g := b.MustBuild()
	e := newEngine(t, g, WithMaxConcurrency(2))

	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Len(t, res.Completed, 7)
	assert.LessOrEqual(t, tr.peak.Load(), int32(2))
}

func TestRun_ExclusiveNodeRunsAlone(t *testing.T) {
	tr := &tracker{}
	g := graph.NewBuilder[runState]().
		AddFunc("start", visit("start")).
		AddFunc("a", tr.node(false)).
		AddFunc("b", tr.node(true), graph.WithParallelSafe(false)).
		AddFunc("c", tr.node(false)).
		AddFunc("d", tr.node(false)).
		AddFanOut("start", "a", "b", "c", "d").
		SetEntryPoint("start").
		AddFinishPoint("a").AddFinishPoint("b").AddFinishPoint("c").AddFinishPoint("d").
		MustBuild()
	e := newEngine(t, g, WithMaxConcurrency(4))

	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Len(t, res.Completed, 5)
	assert.False(t, tr.violation.Load())
}

func interruptNode(id string) graph.NodeFunc[runState] {
	return func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
		v, err := graph.Interrupt(ctx, "approve "+id+"?")
		if err != nil {
			return graph.Output{}, err
		}
		err = st.Write(ctx, func(s *runState) error {
			if s.Values == nil {
				s.Values = map[string]string{}
			}
			s.Values[id] = v.(string)
			s.Order = append(s.Order, id)
			return nil
		})
		return graph.Done(nil), err
	}
}

func TestRun_InterruptAndResume(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("A", visit("A")).
		AddFunc("B", interruptNode("B")).
		AddFunc("C", visit("C")).
		AddEdge("A", "B").
		AddEdge("B", "C").
		SetEntryPoint("A").
		AddFinishPoint("C").
		MustBuild()
	mgr := newManager()
	e := newEngine(t, g, WithCheckpointManager(mgr))
	ctx := context.Background()

	res, err := e.Run(ctx, runState{})
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, []string{"A"}, res.Completed)
	assert.Equal(t, []string{"B"}, res.Interrupted)
	assert.Equal(t, []string{"C"}, res.NotReached)
	require.Len(t, res.Tokens, 1)
	tok := res.Tokens[0]
	assert.Equal(t, "B", tok.NodeID)
	assert.Equal(t, "approve B?", tok.Prompt)
	assert.Equal(t, checkpoint.TokenPending, tok.Status)
	assert.Equal(t, []string{tok.CheckpointID}, res.Checkpoints)

	_, err = e.Resume(ctx, tok.ID)
	assert.ErrorIs(t, err, checkpoint.ErrTokenNotApproved)

	_, err = mgr.Approve(ctx, tok.ID, "yes")
	require.NoError(t, err)
	resumed, err := e.Resume(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, res.ExecutionID, resumed.ExecutionID)
	assert.Equal(t, []string{"A", "B", "C"}, resumed.State.Order)
	assert.Equal(t, "yes", resumed.State.Values["B"])
	assert.True(t, resumed.FinishReached)

	_, err = e.Resume(ctx, tok.ID)
	assert.ErrorIs(t, err, checkpoint.ErrTokenConsumed)
}

func TestRun_ParallelInterruptsWithRejection(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("A", visit("A")).
		AddFunc("B", interruptNode("B")).
		AddFunc("C", interruptNode("C")).
		AddFunc("D", visit("D")).
		AddFanOut("A", "B", "C").
		AddEdge("B", "D").
		AddEdge("C", "D").
		SetEntryPoint("A").
		AddFinishPoint("D").
		MustBuild()
	mgr := newManager()
	e := newEngine(t, g, WithCheckpointManager(mgr), WithFailFast(false))
	ctx := context.Background()

	res, err := e.Run(ctx, runState{})
	require.NoError(t, err)
	require.Len(t, res.Tokens, 2)
	assert.Equal(t, res.Tokens[0].CheckpointID, res.Tokens[1].CheckpointID)
	byNode := map[string]*checkpoint.ResumeToken{}
	for _, tok := range res.Tokens {
		byNode[tok.NodeID] = tok
	}
	_, err = mgr.Approve(ctx, byNode["B"].ID, "ok")
	require.NoError(t, err)
	_, err = mgr.Reject(ctx, byNode["C"].ID, "not allowed")
	require.NoError(t, err)

	resumed, err := e.Resume(ctx, byNode["B"].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resumed.Status)
	assert.ErrorIs(t, resumed.Err, ErrResumeRejected)
	var rej *RejectedError
	require.ErrorAs(t, resumed.Errors["C"], &rej)
	assert.Equal(t, "C", rej.NodeID)
	assert.Equal(t, "not allowed", rej.Reason)
	assert.Equal(t, "ok", resumed.State.Values["B"])
	assert.Contains(t, resumed.Completed, "B")
	assert.Equal(t, []string{"C"}, resumed.Failed)
	assert.Equal(t, []string{"D"}, resumed.Skipped)
}

func TestRun_InterruptWithoutManagerFails(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("B", interruptNode("B")).
		SetEntryPoint("B").
		AddFinishPoint("B").
		MustBuild()
	e := newEngine(t, g)

	res, err := e.Run(context.Background(), runState{})
	assert.ErrorIs(t, err, ErrNoCheckpointManager)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Tokens)
}

func TestResumeFromCheckpoint_AfterFailure(t *testing.T) {
	var attempts atomic.Int32
	flaky := func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
		if attempts.Add(1) == 1 {
			return graph.Output{}, errBoom
		}
		return visit("B")(ctx, st)
	}
	g := graph.NewBuilder[runState]().
		AddFunc("A", visit("A")).
		AddFunc("B", flaky).
		AddFunc("C", visit("C")).
		AddEdge("A", "B").
		AddEdge("B", "C").
		SetEntryPoint("A").
		AddFinishPoint("C").
		MustBuild()
	mgr := newManager()
	e := newEngine(t, g, WithCheckpointManager(mgr),
		WithAutoCheckpoint(AutoCheckpointPolicy{OnFailure: true}))
	ctx := context.Background()

	res, err := e.Run(ctx, runState{})
	require.ErrorIs(t, err, errBoom)
	require.Len(t, res.Checkpoints, 1)

	cp, err := mgr.Get(ctx, res.Checkpoints[0])
	require.NoError(t, err)
	assert.Equal(t, checkpoint.TypeAutomatic, cp.Type)
	assert.Equal(t, []string{"A"}, cp.Snapshot.State.Order)

	resumed, err := e.ResumeFromCheckpoint(ctx, res.Checkpoints[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, []string{"A", "B", "C"}, resumed.State.Order)
	assert.Equal(t, res.ExecutionID, resumed.ExecutionID)
}

func TestResumeFromCheckpoint_Errors(t *testing.T) {
	e := newEngine(t, diamondGraph())
	_, err := e.ResumeFromCheckpoint(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoCheckpointManager)
	_, err = e.Resume(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoCheckpointManager)

	mgr := newManager()
	e = newEngine(t, diamondGraph(), WithCheckpointManager(mgr))
	_, err = e.ResumeFromCheckpoint(context.Background(), "missing")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
}

func TestResumeFromCheckpoint_GraphMismatch(t *testing.T) {
	mgr := newManager()
	ctx := context.Background()
	e := newEngine(t, diamondGraph(), WithCheckpointManager(mgr),
		WithAutoCheckpoint(AutoCheckpointPolicy{EveryNodes: 4}))
	res, err := e.Run(ctx, runState{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Checkpoints)

	other := graph.NewBuilder[runState]().AddFunc("X", visit("X")).SetEntryPoint("X").AddFinishPoint("X").MustBuild()
	e2 := newEngine(t, other, WithCheckpointManager(mgr))
	_, err = e2.ResumeFromCheckpoint(ctx, res.Checkpoints[0])
	assert.ErrorIs(t, err, ErrGraphMismatch)
}

func TestRun_PeriodicCheckpoints(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("n1", visit("n1")).
		AddFunc("n2", visit("n2")).
		AddFunc("n3", visit("n3")).
		AddFunc("n4", visit("n4")).
		AddEdge("n1", "n2").
		AddEdge("n2", "n3").
		AddEdge("n3", "n4").
		SetEntryPoint("n1").
		AddFinishPoint("n4").
		MustBuild()
	mgr := newManager()
	e := newEngine(t, g, WithCheckpointManager(mgr),
		WithAutoCheckpoint(AutoCheckpointPolicy{EveryNodes: 2}))
	ctx := context.Background()

	res, err := e.Run(ctx, runState{})
	require.NoError(t, err)
	require.Len(t, res.Checkpoints, 2)
	infos, err := mgr.List(ctx, checkpoint.NewFilter().WithExecutionID(res.ExecutionID))
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	first, err := mgr.Get(ctx, res.Checkpoints[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, first.Snapshot.State.Order)
}

func TestRun_CheckpointBeforeRiskyNode(t *testing.T) {
	g := graph.NewBuilder[runState]().
		AddFunc("prepare", visit("prepare")).
		AddFunc("deploy", visit("deploy"), graph.WithRisky()).
		AddEdge("prepare", "deploy").
		SetEntryPoint("prepare").
		AddFinishPoint("deploy").
		MustBuild()
	mgr := newManager()
	e := newEngine(t, g, WithCheckpointManager(mgr),
		WithAutoCheckpoint(AutoCheckpointPolicy{BeforeRisky: true}))
	ctx := context.Background()

	res, err := e.Run(ctx, runState{})
	require.NoError(t, err)
	require.Len(t, res.Checkpoints, 1)
	cp, err := mgr.Get(ctx, res.Checkpoints[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"prepare"}, cp.Snapshot.State.Order)
}

func TestRun_Events(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(event.NewFilter("exec-events"))

	var (
		mu    sync.Mutex
		types []event.Type
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events() {
			mu.Lock()
			types = append(types, ev.Type)
			mu.Unlock()
			if ev.Type == event.TypeExecutionCompleted {
				return
			}
		}
	}()

	e := newEngine(t, diamondGraph(), WithEventBus(bus), WithExecutionID("exec-events"))
	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Equal(t, "exec-events", res.ExecutionID)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no completion event")
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, types)
	assert.Equal(t, event.TypeExecutionStarted, types[0])
	assert.Equal(t, event.TypeExecutionCompleted, types[len(types)-1])
	count := map[event.Type]int{}
	for _, typ := range types {
		count[typ]++
	}
	assert.Equal(t, 4, count[event.TypeNodeStarted])
	assert.Equal(t, 4, count[event.TypeNodeCompleted])
	assert.Equal(t, 4, count[event.TypeProgressUpdate])
}

func TestExecute_UsesGivenManager(t *testing.T) {
	e := newEngine(t, diamondGraph())
	st := state.NewManager(runState{Count: 7})
	res, err := e.Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 7, st.Read().Count)
	assert.Len(t, st.Read().Order, 4)
	assert.Equal(t, res.State.Order, st.Read().Order)

	_, err = e.Execute(context.Background(), nil)
	assert.Error(t, err)
}

func TestRun_DiamondFailure(t *testing.T) {
	var cRuns atomic.Int32
	build := func() *graph.Graph[runState] {
		return graph.NewBuilder[runState]().
			AddFunc("A", visit("A")).
			AddFunc("B", visit("B")).
			AddFunc("C", func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
				cRuns.Add(1)
				return visit("C")(ctx, st)
			}).
			AddFunc("D", failing).
			AddFanOut("A", "B", "D").
			AddEdge("B", "C").
			AddEdge("D", "C").
			SetEntryPoint("A").
			AddFinishPoint("C").
			MustBuild()
	}

	t.Run("continue", func(t *testing.T) {
		e := newEngine(t, build(), WithFailFast(false))
		res, err := e.Run(context.Background(), runState{})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, []string{"A", "B"}, res.Completed)
		assert.Equal(t, []string{"D"}, res.Failed)
		assert.Equal(t, []string{"C"}, res.Skipped)
		assert.False(t, res.FinishReached)
	})

	t.Run("fail fast", func(t *testing.T) {
		e := newEngine(t, build())
		res, err := e.Run(context.Background(), runState{})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, []string{"D"}, res.Failed)
		assert.Equal(t, []string{"C"}, res.Skipped)
		assert.NotContains(t, res.State.Order, "C")
	})

	assert.Zero(t, cRuns.Load())
}

func TestRun_PermitsBoundParallelism(t *testing.T) {
	tr := &tracker{}
	b := graph.NewBuilder[runState]().AddFunc("start", visit("start"))
	ids := []string{"p1", "p2", "p3"}
	for _, id := range ids {
		b.AddFunc(id, tr.node(true)).AddEdge("start", id).AddFinishPoint(id)
	}
	e := newEngine(t, b.SetEntryPoint("start").MustBuild(), WithMaxConcurrency(1))

	res, err := e.Run(context.Background(), runState{})
	require.NoError(t, err)
	assert.Len(t, res.Completed, 4)
	assert.Equal(t, int32(1), tr.peak.Load())
	assert.False(t, tr.violation.Load())
}

// randomDAG builds a graph over n nodes whose edges all point from a lower
// to a higher index. Each body fails the check when it starts before one of
// its predecessors completed.
func randomDAG(rng *rand.Rand, n int, completed *sync.Map, violations *atomic.Int32) *graph.Graph[runState] {
	b := graph.NewBuilder[runState]()
	preds := make([][]string, n)
	succs := make([]int, n)
	id := func(i int) string { return fmt.Sprintf("n%02d", i) }
	for j := 1; j < n; j++ {
		for i := 0; i < j; i++ {
			if rng.Intn(4) == 0 {
				preds[j] = append(preds[j], id(i))
				succs[i]++
			}
		}
		if len(preds[j]) == 0 {
			preds[j] = []string{id(0)}
			succs[0]++
		}
	}
	for j := 0; j < n; j++ {
		self, need := id(j), preds[j]
		b.AddFunc(self, func(ctx context.Context, st state.Accessor[runState]) (graph.Output, error) {
			for _, p := range need {
				if _, ok := completed.Load(p); !ok {
					violations.Add(1)
				}
			}
			out, err := visit(self)(ctx, st)
			completed.Store(self, true)
			return out, err
		}, graph.WithPriority(scheduler.Priority(rng.Intn(4))))
	}
	for j := 1; j < n; j++ {
		for _, p := range preds[j] {
			b.AddEdge(p, id(j))
		}
	}
	b.SetEntryPoint(id(0))
	for i := 0; i < n; i++ {
		if succs[i] == 0 {
			b.AddFinishPoint(id(i))
		}
	}
	return b.MustBuild()
}

func TestRun_RandomDAGsRespectDependencies(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		n := 5 + rng.Intn(16)
		for _, workers := range []int{1, 4, 16} {
			var (
				completed  sync.Map
				violations atomic.Int32
			)
			g := randomDAG(rand.New(rand.NewSource(seed)), n, &completed, &violations)
			e := newEngine(t, g, WithMaxConcurrency(workers))
			res, err := e.Run(context.Background(), runState{})
			require.NoError(t, err, "seed %d workers %d", seed, workers)
			assert.Equal(t, StatusCompleted, res.Status)
			assert.Len(t, res.Completed, n)
			assert.Zero(t, violations.Load(), "seed %d workers %d", seed, workers)
			assert.ElementsMatch(t, g.TopologicalOrder(), res.State.Order)
		}
	}
}

func TestRun_ConcurrencyOneIsDeterministic(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		var orders [][]string
		var g *graph.Graph[runState]
		for i := 0; i < 3; i++ {
			var (
				completed  sync.Map
				violations atomic.Int32
			)
			g = randomDAG(rand.New(rand.NewSource(seed)), 12, &completed, &violations)
			e := newEngine(t, g, WithMaxConcurrency(1))
			res, err := e.Run(context.Background(), runState{})
			require.NoError(t, err)
			orders = append(orders, res.State.Order)
		}
		assert.Equal(t, orders[0], orders[1], "seed %d", seed)
		assert.Equal(t, orders[0], orders[2], "seed %d", seed)

		pos := make(map[string]int, len(orders[0]))
		for i, id := range orders[0] {
			pos[id] = i
		}
		require.Len(t, pos, g.Len())
		for _, id := range g.NodeIDs() {
			for _, p := range g.Predecessors(id) {
				assert.Less(t, pos[p], pos[id], "seed %d: %s ran before its predecessor %s", seed, id, p)
			}
		}
	}
}
