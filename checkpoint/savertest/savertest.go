//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package savertest is a conformance suite for checkpoint.Saver implementations.
package savertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
)

// Run exercises a fresh saver from newSaver against the Saver contract.
func Run(t *testing.T, newSaver func(t *testing.T) checkpoint.Saver) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newSaver(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, newSaver(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newSaver(t)) })
	t.Run("ListIDsByKind", func(t *testing.T) { testListIDs(t, newSaver(t)) })
	t.Run("ConcurrentPuts", func(t *testing.T) { testConcurrent(t, newSaver(t)) })
}

func record(id string, kind checkpoint.Kind, at time.Time, data string) *checkpoint.Record {
	return &checkpoint.Record{
		ID:          id,
		Kind:        kind,
		ExecutionID: "exec-" + id,
		CreatedAt:   at,
		Data:        []byte(data),
	}
}

var base = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func testPutGet(t *testing.T, s checkpoint.Saver) {
	ctx := context.Background()
	got, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Put(ctx, record("a", checkpoint.KindCheckpoint, base, `{"v":1}`)))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, checkpoint.KindCheckpoint, got.Kind)
	assert.Equal(t, "exec-a", got.ExecutionID)
	assert.True(t, base.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)
	assert.JSONEq(t, `{"v":1}`, string(got.Data))
}

func testReplace(t *testing.T, s checkpoint.Saver) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, record("a", checkpoint.KindToken, base, `{"status":"pending"}`)))
	require.NoError(t, s.Put(ctx, record("a", checkpoint.KindToken, base, `{"status":"approved"}`)))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"approved"}`, string(got.Data))
	ids, err := s.ListIDs(ctx, checkpoint.KindToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func testDelete(t *testing.T, s checkpoint.Saver) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, record("a", checkpoint.KindCheckpoint, base, `{}`)))
	ok, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
	ids, err := s.ListIDs(ctx, checkpoint.KindCheckpoint)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testListIDs(t *testing.T, s checkpoint.Saver) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, record("c2", checkpoint.KindCheckpoint, base.Add(2*time.Second), `{}`)))
	require.NoError(t, s.Put(ctx, record("c1", checkpoint.KindCheckpoint, base.Add(time.Second), `{}`)))
	require.NoError(t, s.Put(ctx, record("t1", checkpoint.KindToken, base, `{}`)))

	ids, err := s.ListIDs(ctx, checkpoint.KindCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)
	ids, err = s.ListIDs(ctx, checkpoint.KindToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)
}

func testConcurrent(t *testing.T, s checkpoint.Saver) {
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("r%02d", i)
			assert.NoError(t, s.Put(ctx, record(id, checkpoint.KindCheckpoint, base.Add(time.Duration(i)*time.Millisecond), `{}`)))
		}(i)
	}
	wg.Wait()
	ids, err := s.ListIDs(ctx, checkpoint.KindCheckpoint)
	require.NoError(t, err)
	assert.Len(t, ids, n)
	assert.Equal(t, "r00", ids[0])
	assert.Equal(t, fmt.Sprintf("r%02d", n-1), ids[n-1])
}
