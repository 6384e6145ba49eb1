//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// defaultBufferSize is the per-subscriber channel capacity.
const defaultBufferSize = 256

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event: bus is closed")

// Filter selects the events a subscriber receives. Empty fields match
// everything. The category toggles drop their category when false; events
// outside the three categories are never dropped by them.
type Filter struct {
	ExecutionID        string   `json:"executionId,omitempty"`
	Types              []Type   `json:"types,omitempty"`
	NodeIDs            []string `json:"nodeIds,omitempty"`
	IncludeErrors      bool     `json:"includeErrors"`
	IncludeCompletions bool     `json:"includeCompletions"`
	IncludeProgress    bool     `json:"includeProgress"`
}

// NewFilter returns a filter for executionID with every category enabled.
// An empty executionID matches every run.
func NewFilter(executionID string) Filter {
	return Filter{
		ExecutionID:        executionID,
		IncludeErrors:      true,
		IncludeCompletions: true,
		IncludeProgress:    true,
	}
}

// Match reports whether e passes the filter.
func (f Filter) Match(e *Event) bool {
	if e == nil {
		return false
	}
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.NodeIDs) > 0 && !containsString(f.NodeIDs, e.NodeID) {
		return false
	}
	switch {
	case e.IsError():
		return f.IncludeErrors
	case e.IsCompletion():
		return f.IncludeCompletions
	case e.IsProgress():
		return f.IncludeProgress
	}
	return true
}

// BusOption configures a Bus.
type BusOption func(*busOptions)

type busOptions struct {
	bufferSize int
}

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) BusOption {
	return func(o *busOptions) {
		if n >= 0 {
			o.bufferSize = n
		}
	}
}

// Bus fans published events out to filtered subscribers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	closed     bool
	bufferSize int
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	o := busOptions{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus{
		subs:       make(map[string]*Subscription),
		bufferSize: o.bufferSize,
	}
}

// Subscribe registers a subscriber. Subscribing to a closed bus returns a
// subscription that is already closed.
func (b *Bus) Subscribe(f Filter) *Subscription {
	s := &Subscription{
		id:     uuid.NewString(),
		filter: f,
		ch:     make(chan *Event, b.bufferSize),
		done:   make(chan struct{}),
		bus:    b,
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.shutdown()
		return s
	}
	b.subs[s.id] = s
	b.mu.Unlock()
	return s
}

// Publish delivers e to every matching subscriber in subscription ID
// order. Delivery to each subscriber blocks until it is received, the
// subscription closes, or ctx ends.
func (b *Bus) Publish(ctx context.Context, e *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Match(e) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, s := range subs {
		if err := s.deliver(ctx, e.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes fail with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()
	for _, s := range subs {
		s.shutdown()
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one subscriber's view of the stream.
type Subscription struct {
	id     string
	filter Filter
	// mu is held shared by senders so the channel is only closed once no
	// send is in progress.
	mu   sync.RWMutex
	ch   chan *Event
	done chan struct{}
	once sync.Once
	bus  *Bus
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan *Event {
	return s.ch
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes and closes the event channel.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *Subscription) deliver(ctx context.Context, e *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- e:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func containsType(list []Type, v Type) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
