//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package resolver

import "fmt"

// Progress is the serializable form of a resolver.
type Progress struct {
	Status     map[string]Status          `json:"status"`
	Signals    map[string]map[string]bool `json:"signals,omitempty"`
	ReadyOrder []string                   `json:"ready_order,omitempty"`
	Loops      map[string]int             `json:"loops,omitempty"`
}

// Empty reports whether p carries no node state.
func (p Progress) Empty() bool {
	return len(p.Status) == 0
}

// Progress exports the current frontier. Running nodes are exported as
// ready so that a restored run executes them again.
func (r *Resolver) Progress() Progress {
	p := Progress{
		Status:  make(map[string]Status, len(r.ids)),
		Signals: make(map[string]map[string]bool),
		Loops:   make(map[string]int, len(r.loops)),
	}
	var ready []string
	for _, id := range r.ids {
		st := r.status[id]
		if st == Running {
			st = Ready
		}
		p.Status[id] = st
		if st == Ready {
			ready = append(ready, id)
		}
		if len(r.signals[id]) > 0 {
			sig := make(map[string]bool, len(r.signals[id]))
			for k, v := range r.signals[id] {
				sig[k] = v
			}
			p.Signals[id] = sig
		}
	}
	sortBySeq(ready, r.readySeq)
	p.ReadyOrder = ready
	for k, v := range r.loops {
		p.Loops[k] = v
	}
	return p
}

// Restore rebuilds a resolver for t from exported progress. An empty
// progress yields a fresh resolver.
func Restore(t Topology, p Progress) (*Resolver, error) {
	if p.Empty() {
		return New(t), nil
	}
	r := newEmpty(t)
	for id, st := range p.Status {
		if _, ok := r.status[id]; !ok {
			return nil, fmt.Errorf("%w: unknown node %s", ErrProgressMismatch, id)
		}
		if st == Running {
			st = Ready
		}
		r.status[id] = st
	}
	for id := range r.status {
		if _, ok := p.Status[id]; !ok {
			return nil, fmt.Errorf("%w: node %s missing from progress", ErrProgressMismatch, id)
		}
	}
	for id, sig := range p.Signals {
		if _, ok := r.signals[id]; !ok {
			return nil, fmt.Errorf("%w: unknown node %s", ErrProgressMismatch, id)
		}
		for from, live := range sig {
			r.signals[id][from] = live
		}
	}
	for k, v := range p.Loops {
		r.loops[k] = v
	}
	queued := make(map[string]bool, len(p.ReadyOrder))
	for _, id := range p.ReadyOrder {
		if r.status[id] == Ready && !queued[id] {
			queued[id] = true
			r.markReady(id)
		}
	}
	for _, id := range r.ids {
		if r.status[id] == Ready && !queued[id] {
			r.markReady(id)
		}
	}
	return r, nil
}
