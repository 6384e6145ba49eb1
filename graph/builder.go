//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package graph

// Builder assembles a graph. Methods chain; the first error is kept and
// every later call is ignored until Build reports it.
//
//	g, err := graph.NewBuilder[State]().
//		AddFunc("fetch", fetch).
//		AddFunc("parse", parse).
//		AddEdge("fetch", "parse").
//		SetEntryPoint("fetch").
//		AddFinishPoint("parse").
//		Build()
type Builder[S any] struct {
	err    error
	nodes  map[string]*Node[S]
	order  []string
	edges  []Edge
	cond   map[string]*ConditionalEdge[S]
	entry  string
	finish []string
}

// NewBuilder creates an empty builder.
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{
		nodes: make(map[string]*Node[S]),
		cond:  make(map[string]*ConditionalEdge[S]),
	}
}

// Err returns the first error recorded so far.
func (b *Builder[S]) Err() error {
	return b.err
}

func (b *Builder[S]) fail(err *StructureError) *Builder[S] {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder[S]) exists(ids ...string) *StructureError {
	for _, id := range ids {
		if _, ok := b.nodes[id]; !ok {
			return structErr(KindUnknownNode, id, "node does not exist")
		}
	}
	return nil
}

// AddNode registers exec under id. Metadata comes from exec and is then
// adjusted by opts.
func (b *Builder[S]) AddNode(id string, exec Executable[S], opts ...Option) *Builder[S] {
	if b.err != nil {
		return b
	}
	if id == "" {
		return b.fail(structErr(KindEmptyNodeID, "", "node ID cannot be empty"))
	}
	if id == End {
		return b.fail(structErr(KindInvalidEdge, id, "%s is reserved", End))
	}
	if _, ok := b.nodes[id]; ok {
		return b.fail(structErr(KindDuplicateNodeID, id, "node already exists"))
	}
	if exec == nil {
		return b.fail(structErr(KindNilExecutable, id, "executable is nil"))
	}
	md := exec.Metadata()
	if md.Name == "" {
		md.Name = id
	}
	md.Tags = append([]string(nil), md.Tags...)
	for _, opt := range opts {
		opt(&md)
	}
	b.nodes[id] = &Node[S]{ID: id, Executable: exec, Metadata: md}
	b.order = append(b.order, id)
	return b
}

// AddFunc registers a function node.
func (b *Builder[S]) AddFunc(id string, fn NodeFunc[S], opts ...Option) *Builder[S] {
	if fn == nil {
		return b.AddNode(id, nil, opts...)
	}
	return b.AddNode(id, fn, opts...)
}

// AddEdge adds a simple edge.
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	return b.addStatic(EdgeSimple, from, []string{to})
}

// AddFanOut adds one edge enabling every target once from completes.
func (b *Builder[S]) AddFanOut(from string, to ...string) *Builder[S] {
	if len(to) == 0 && b.err == nil {
		return b.fail(structErr(KindInvalidEdge, from, "fan-out edge needs at least one target"))
	}
	return b.addStatic(EdgeFanOut, from, to)
}

func (b *Builder[S]) addStatic(kind EdgeKind, from string, to []string) *Builder[S] {
	if b.err != nil {
		return b
	}
	if err := b.exists(append([]string{from}, to...)...); err != nil {
		return b.fail(err)
	}
	for _, t := range to {
		if t == from {
			return b.fail(structErr(KindIllegalCycle, from, "self edge must be declared with AddLoopEdge"))
		}
	}
	b.edges = append(b.edges, Edge{From: from, To: append([]string(nil), to...), Kind: kind})
	return b
}

// AddConditionalEdges routes from to exactly one target of pathMap, chosen
// after from completes. A nil route means the node's Output.Next picks
// the label. pathMap values may be End.
func (b *Builder[S]) AddConditionalEdges(from string, route RouteFunc[S], pathMap map[string]string) *Builder[S] {
	if b.err != nil {
		return b
	}
	if err := b.exists(from); err != nil {
		return b.fail(err)
	}
	if _, ok := b.cond[from]; ok {
		return b.fail(structErr(KindInvalidEdge, from, "node already has a conditional edge"))
	}
	if len(pathMap) == 0 {
		return b.fail(structErr(KindInvalidEdge, from, "conditional edge needs a non-empty path map"))
	}
	pm := make(map[string]string, len(pathMap))
	for label, to := range pathMap {
		if to != End {
			if err := b.exists(to); err != nil {
				return b.fail(err)
			}
			if to == from {
				return b.fail(structErr(KindIllegalCycle, from, "self edge must be declared with AddLoopEdge"))
			}
		}
		pm[label] = to
	}
	c := &ConditionalEdge[S]{From: from, Route: route, PathMap: pm}
	b.cond[from] = c
	b.edges = append(b.edges, Edge{From: from, To: c.Targets(), Kind: EdgeConditional})
	return b
}

// AddLoopEdge declares a back edge followed only when from names to in
// Output.Next. to must be from itself or one of its ancestors.
func (b *Builder[S]) AddLoopEdge(from, to string) *Builder[S] {
	if b.err != nil {
		return b
	}
	if err := b.exists(from, to); err != nil {
		return b.fail(err)
	}
	b.edges = append(b.edges, Edge{From: from, To: []string{to}, Kind: EdgeLoop})
	return b
}

// SetEntryPoint sets the node execution starts from.
func (b *Builder[S]) SetEntryPoint(id string) *Builder[S] {
	if b.err != nil {
		return b
	}
	if err := b.exists(id); err != nil {
		return b.fail(err)
	}
	b.entry = id
	return b
}

// AddFinishPoint marks id as a node whose completion finishes a branch.
func (b *Builder[S]) AddFinishPoint(id string) *Builder[S] {
	if b.err != nil {
		return b
	}
	if err := b.exists(id); err != nil {
		return b.fail(err)
	}
	if !contains(b.finish, id) {
		b.finish = append(b.finish, id)
	}
	return b
}

// Build validates the accumulated declarations and freezes them.
func (b *Builder[S]) Build() (*Graph[S], error) {
	if b.err != nil {
		return nil, b.err
	}
	g := b.assemble()
	if err := validate(g); err != nil {
		return nil, err
	}
	g.id = computeID(g)
	return g, nil
}

// MustBuild is Build that panics on error.
func (b *Builder[S]) MustBuild() *Graph[S] {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

func (b *Builder[S]) assemble() *Graph[S] {
	g := &Graph[S]{
		nodes:  make(map[string]*Node[S], len(b.nodes)),
		static: make(map[string][]string),
		cond:   make(map[string]*ConditionalEdge[S], len(b.cond)),
		succ:   make(map[string][]string),
		pred:   make(map[string][]string),
		loops:  make(map[string][]string),
		entry:  b.entry,
		finish: sortedUnique(b.finish),
		isEnd:  make(map[string]bool, len(b.finish)),
	}
	for _, id := range b.order {
		n := *b.nodes[id]
		n.Metadata.Tags = append([]string(nil), n.Metadata.Tags...)
		g.nodes[id] = &n
	}
	g.ids = sortedUnique(b.order)
	for _, f := range g.finish {
		g.isEnd[f] = true
	}
	predSet := make(map[string]map[string]bool)
	addPred := func(from, to string) {
		if predSet[to] == nil {
			predSet[to] = make(map[string]bool)
		}
		predSet[to][from] = true
		if !contains(g.succ[from], to) {
			g.succ[from] = append(g.succ[from], to)
		}
	}
	for _, e := range b.edges {
		g.edges = append(g.edges, Edge{From: e.From, To: append([]string(nil), e.To...), Kind: e.Kind})
		switch e.Kind {
		case EdgeSimple, EdgeFanOut:
			for _, to := range e.To {
				if !contains(g.static[e.From], to) {
					g.static[e.From] = append(g.static[e.From], to)
				}
				addPred(e.From, to)
			}
		case EdgeLoop:
			if !contains(g.loops[e.From], e.To[0]) {
				g.loops[e.From] = append(g.loops[e.From], e.To[0])
			}
		}
	}
	for from, c := range b.cond {
		pm := make(map[string]string, len(c.PathMap))
		for k, v := range c.PathMap {
			pm[k] = v
		}
		g.cond[from] = &ConditionalEdge[S]{From: from, Route: c.Route, PathMap: pm}
	}
	// Conditional candidates follow static targets so static order wins ties.
	for _, from := range sortedUnique(keysOf(b.cond)) {
		for _, to := range g.cond[from].Targets() {
			addPred(from, to)
		}
	}
	for to, set := range predSet {
		g.pred[to] = sortedUnique(keysOfBool(set))
	}
	return g
}

func keysOf[S any](m map[string]*ConditionalEdge[S]) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func keysOfBool(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
