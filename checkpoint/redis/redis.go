//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides Redis-based checkpoint storage.
//
// Each record is a hash under <prefix>:rec:<id>; a sorted set per kind,
// scored by creation time, indexes the IDs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
)

const defaultPrefix = "graph:ckpt"

// Option configures a Saver.
type Option func(*Saver)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Saver) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires records that are not rewritten within ttl.
func WithTTL(ttl time.Duration) Option {
	return func(s *Saver) {
		s.ttl = ttl
	}
}

// Saver stores checkpoint records in Redis.
type Saver struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSaver returns a saver on client.
func NewSaver(client redis.UniversalClient, opts ...Option) (*Saver, error) {
	if client == nil {
		return nil, errors.New("redis: client is nil")
	}
	s := &Saver{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Saver) recordKey(id string) string {
	return s.prefix + ":rec:" + id
}

func (s *Saver) indexKey(kind checkpoint.Kind) string {
	return s.prefix + ":idx:" + string(kind)
}

// Put writes the record hash and its index entry in one transaction.
func (s *Saver) Put(ctx context.Context, rec *checkpoint.Record) error {
	if rec == nil {
		return errors.New("redis: record is nil")
	}
	key := s.recordKey(rec.ID)
	old, err := s.client.HGet(ctx, key, "kind").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: put %s: %w", rec.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if old != "" && old != string(rec.Kind) {
			pipe.ZRem(ctx, s.indexKey(checkpoint.Kind(old)), rec.ID)
		}
		pipe.HSet(ctx, key,
			"kind", string(rec.Kind),
			"execution_id", rec.ExecutionID,
			"created_at", strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
			"data", rec.Data,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.ZAdd(ctx, s.indexKey(rec.Kind), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements checkpoint.Saver.
func (s *Saver) Get(ctx context.Context, id string) (*checkpoint.Record, error) {
	vals, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	ts, err := strconv.ParseInt(vals["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: bad created_at: %w", id, err)
	}
	return &checkpoint.Record{
		ID:          id,
		Kind:        checkpoint.Kind(vals["kind"]),
		ExecutionID: vals["execution_id"],
		CreatedAt:   time.Unix(0, ts).UTC(),
		Data:        []byte(vals["data"]),
	}, nil
}

// Delete implements checkpoint.Saver.
func (s *Saver) Delete(ctx context.Context, id string) (bool, error) {
	key := s.recordKey(id)
	kind, err := s.client.HGet(ctx, key, "kind").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis: delete %s: %w", id, err)
	}
	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, key)
		pipe.ZRem(ctx, s.indexKey(checkpoint.Kind(kind)), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis: delete %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

// ListIDs returns the indexed IDs of kind, dropping index entries whose
// record expired.
func (s *Saver) ListIDs(ctx context.Context, kind checkpoint.Kind) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(kind), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list %s: %w", kind, err)
	}
	if s.ttl <= 0 || len(ids) == 0 {
		return ids, nil
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.recordKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list %s: %w", kind, err)
		}
		if n == 0 {
			s.client.ZRem(ctx, s.indexKey(kind), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// Close closes the client.
func (s *Saver) Close() error {
	return s.client.Close()
}
