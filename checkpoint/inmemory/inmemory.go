//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory checkpoint storage implementation
// for graph execution state persistence and recovery.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
)

var errNilRecord = errors.New("inmemory: record is nil")

// Saver provides an in-memory implementation of checkpoint.Saver.
// This is suitable for testing and debugging but not for production use.
type Saver struct {
	mu      sync.RWMutex
	records map[string]*checkpoint.Record
}

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{records: make(map[string]*checkpoint.Record)}
}

// Put stores a copy of rec.
func (s *Saver) Put(ctx context.Context, rec *checkpoint.Record) error {
	if rec == nil {
		return errNilRecord
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = clone(rec)
	return nil
}

// Get returns a copy of the record for id.
func (s *Saver) Get(ctx context.Context, id string) (*checkpoint.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return clone(rec), nil
}

// Delete removes id.
func (s *Saver) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	return ok, nil
}

// ListIDs returns the IDs of kind ordered by creation time.
func (s *Saver) ListIDs(ctx context.Context, kind checkpoint.Kind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*checkpoint.Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Kind == kind {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

// Len returns the number of stored records.
func (s *Saver) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements checkpoint.Saver.
func (s *Saver) Close() error {
	return nil
}

func clone(r *checkpoint.Record) *checkpoint.Record {
	c := *r
	c.Data = append([]byte(nil), r.Data...)
	return &c
}
