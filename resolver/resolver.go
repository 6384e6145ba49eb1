//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package resolver tracks which nodes of a run may execute next.
//
// It is a generalized Kahn traversal: every node waits for one signal per
// distinct predecessor. A signal is live when the predecessor completed and
// routed to the node, dead when the predecessor routed elsewhere or was
// itself pruned. A node whose signals are all in becomes ready if at least
// one is live and is pruned otherwise. Pruned nodes forward dead signals,
// so exclusive branches of a conditional edge never block a join.
//
// A Resolver is owned by a single goroutine and is not safe for concurrent use.
package resolver

import (
	"errors"
	"fmt"
	"sort"
)

// Status is the per-run state of a node.
type Status string

// Node statuses.
const (
	Pending     Status = "pending"
	Ready       Status = "ready"
	Running     Status = "running"
	Completed   Status = "completed"
	Failed      Status = "failed"
	Skipped     Status = "skipped"
	Pruned      Status = "pruned"
	Cancelled   Status = "cancelled"
	Interrupted Status = "interrupted"
)

// Terminal reports whether a node in status s will not run again without Rearm.
func (s Status) Terminal() bool {
	switch s {
	case Completed, Failed, Skipped, Pruned, Cancelled, Interrupted:
		return true
	}
	return false
}

// Errors returned for calls that do not match a node's status.
var (
	ErrUnknownNode       = errors.New("resolver: unknown node")
	ErrInvalidTransition = errors.New("resolver: invalid status transition")
	ErrNotSuccessor      = errors.New("resolver: routed to a node that is not a successor")
	ErrProgressMismatch  = errors.New("resolver: progress does not match graph")
)

// Topology is the read-only graph view the resolver needs.
type Topology interface {
	NodeIDs() []string
	EntryPoint() string
	Successors(id string) []string
	Predecessors(id string) []string
}

// Resolver is the frontier of a single run.
type Resolver struct {
	entry    string
	ids      []string
	preds    map[string][]string
	succs    map[string][]string
	status   map[string]Status
	signals  map[string]map[string]bool
	readySeq map[string]uint64
	seq      uint64
	ready    []string
	loops    map[string]int
}

// New creates a resolver with the entry point ready.
func New(t Topology) *Resolver {
	r := newEmpty(t)
	r.markReady(r.entry)
	return r
}

func newEmpty(t Topology) *Resolver {
	ids := t.NodeIDs()
	r := &Resolver{
		entry:    t.EntryPoint(),
		ids:      ids,
		preds:    make(map[string][]string, len(ids)),
		succs:    make(map[string][]string, len(ids)),
		status:   make(map[string]Status, len(ids)),
		signals:  make(map[string]map[string]bool, len(ids)),
		readySeq: make(map[string]uint64, len(ids)),
		loops:    make(map[string]int),
	}
	for _, id := range ids {
		r.preds[id] = t.Predecessors(id)
		r.succs[id] = t.Successors(id)
		r.status[id] = Pending
		r.signals[id] = make(map[string]bool)
	}
	return r
}

func (r *Resolver) markReady(id string) {
	r.status[id] = Ready
	r.seq++
	r.readySeq[id] = r.seq
	r.ready = append(r.ready, id)
}

func (r *Resolver) transition(id string, to Status, from ...Status) error {
	cur, ok := r.status[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	for _, f := range from {
		if cur == f {
			r.status[id] = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, id, cur, to)
}

// Ready drains the nodes that became ready since the last call, in the
// order they became ready. Nodes skipped in the meantime are left out.
func (r *Resolver) Ready() []string {
	out := make([]string, 0, len(r.ready))
	for _, id := range r.ready {
		if r.status[id] == Ready {
			out = append(out, id)
		}
	}
	r.ready = r.ready[:0]
	return out
}

// Start marks a ready node as running.
func (r *Resolver) Start(id string) error {
	return r.transition(id, Running, Ready)
}

// Complete marks a running node completed and signals its successors.
// live lists the successors the node routed to; nil means all of them.
func (r *Resolver) Complete(id string, live []string) error {
	if err := r.checkLive(id, live); err != nil {
		return err
	}
	if err := r.transition(id, Completed, Running); err != nil {
		return err
	}
	r.signalSuccessors(id, live)
	return nil
}

func (r *Resolver) checkLive(id string, live []string) error {
	if _, ok := r.status[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	for _, to := range live {
		if !contains(r.succs[id], to) {
			return fmt.Errorf("%w: %s -> %s", ErrNotSuccessor, id, to)
		}
	}
	return nil
}

func (r *Resolver) signalSuccessors(id string, live []string) {
	for _, s := range r.succs[id] {
		r.signal(s, id, live == nil || contains(live, s))
	}
}

func (r *Resolver) signal(id, from string, live bool) {
	if r.status[id] != Pending {
		return
	}
	r.signals[id][from] = live
	r.evaluate(id)
}

// evaluate readies or prunes a pending node whose signals are all in.
func (r *Resolver) evaluate(id string) {
	if r.status[id] != Pending {
		return
	}
	preds := r.preds[id]
	if len(preds) == 0 {
		if id == r.entry {
			r.markReady(id)
		}
		return
	}
	anyLive := false
	for _, p := range preds {
		v, ok := r.signals[id][p]
		if !ok {
			return
		}
		anyLive = anyLive || v
	}
	if anyLive {
		r.markReady(id)
		return
	}
	r.status[id] = Pruned
	for _, s := range r.succs[id] {
		r.signal(s, id, false)
	}
}

// Fail marks a ready or running node failed and skips every pending
// descendant. The skipped IDs are returned in discovery order.
func (r *Resolver) Fail(id string) ([]string, error) {
	if err := r.transition(id, Failed, Ready, Running); err != nil {
		return nil, err
	}
	return r.skipDescendants(id), nil
}

func (r *Resolver) skipDescendants(id string) []string {
	var skipped []string
	seen := map[string]bool{id: true}
	queue := append([]string(nil), r.succs[id]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		if st := r.status[n]; st == Pending || st == Ready {
			r.status[n] = Skipped
			skipped = append(skipped, n)
		}
		queue = append(queue, r.succs[n]...)
	}
	return skipped
}

// Cancel marks a ready or running node cancelled. Its descendants stay pending.
func (r *Resolver) Cancel(id string) error {
	return r.transition(id, Cancelled, Ready, Running)
}

// Interrupt parks a running node until it is rearmed.
func (r *Resolver) Interrupt(id string) error {
	return r.transition(id, Interrupted, Running)
}

// Rearm returns failed, cancelled or interrupted nodes to pending, lifts
// skips that no remaining failure justifies, and re-evaluates readiness.
func (r *Resolver) Rearm(ids ...string) error {
	for _, id := range ids {
		st, ok := r.status[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, id)
		}
		switch st {
		case Failed, Cancelled, Interrupted:
			r.status[id] = Pending
		case Pending, Ready:
		default:
			return fmt.Errorf("%w: cannot rearm %s node %s", ErrInvalidTransition, st, id)
		}
	}
	for _, id := range r.ids {
		if r.status[id] == Skipped {
			r.status[id] = Pending
		}
	}
	for _, id := range r.ids {
		if r.status[id] == Failed {
			r.skipDescendants(id)
		}
	}
	for _, id := range r.ids {
		r.evaluate(id)
	}
	return nil
}

// Loop completes a running node by following its loop edge to target.
// The nodes on every path from target to from are reset to pending and
// target becomes ready again. Successors of from are not signalled.
func (r *Resolver) Loop(from, target string) error {
	if _, ok := r.status[target]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, target)
	}
	if err := r.transition(from, Completed, Running); err != nil {
		return err
	}
	body := r.loopBody(from, target)
	for id := range body {
		r.status[id] = Pending
		for p := range r.signals[id] {
			if body[p] {
				delete(r.signals[id], p)
			}
		}
	}
	r.loops[loopKey(from, target)]++
	r.evaluate(target)
	return nil
}

// loopBody returns the descendants of target that are also ancestors of
// from, both included.
func (r *Resolver) loopBody(from, target string) map[string]bool {
	down := walk(target, r.succs)
	up := walk(from, r.preds)
	body := make(map[string]bool)
	for id := range down {
		if up[id] {
			body[id] = true
		}
	}
	body[target] = true
	body[from] = true
	return body
}

// LoopCount returns how often the loop edge from -> target has been followed.
func (r *Resolver) LoopCount(from, target string) int {
	return r.loops[loopKey(from, target)]
}

// Status returns the status of id.
func (r *Resolver) Status(id string) Status {
	return r.status[id]
}

// InStatus returns the IDs in status st, sorted.
func (r *Resolver) InStatus(st Status) []string {
	var out []string
	for _, id := range r.ids {
		if r.status[id] == st {
			out = append(out, id)
		}
	}
	return out
}

// Active reports how many nodes are ready or running.
func (r *Resolver) Active() int {
	n := 0
	for _, id := range r.ids {
		if st := r.status[id]; st == Ready || st == Running {
			n++
		}
	}
	return n
}

// Done reports whether no node is ready or running.
func (r *Resolver) Done() bool {
	return r.Active() == 0
}

func loopKey(from, target string) string {
	return from + "->" + target
}

func walk(start string, next map[string][]string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next[id] {
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return seen
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortBySeq(ids []string, seq map[string]uint64) {
	sort.SliceStable(ids, func(i, j int) bool { return seq[ids[i]] < seq[ids[j]] })
}
