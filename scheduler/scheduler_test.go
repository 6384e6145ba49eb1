//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package scheduler

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PriorityThenFIFO(t *testing.T) {
	q := New[string]()
	q.Schedule("n1", Normal)
	q.Schedule("l1", Low)
	q.Schedule("c1", Critical)
	q.Schedule("n2", Normal)
	q.Schedule("h1", High)
	q.Schedule("c2", Critical)

	require.Equal(t, 6, q.Len())
	var got []string
	for {
		item, ok := q.Next()
		if !ok {
			break
		}
		got = append(got, item)
	}
	assert.Equal(t, []string{"c1", "c2", "h1", "n1", "n2", "l1"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EmptyNext(t *testing.T) {
	q := New[int]()
	v, ok := q.Next()
	assert.False(t, ok)
	assert.Zero(t, v)

	_, _, ok = q.Peek()
	assert.False(t, ok)
}

func TestQueue_InvalidPriorityIsNormal(t *testing.T) {
	q := New[string]()
	q.Schedule("weird", Priority(42))
	q.Schedule("high", High)
	_, p, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, High, p)

	assert.Equal(t, []string{"high", "weird"}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_CriticalBeforeEarlierNormal(t *testing.T) {
	q := New[string]()
	for _, id := range []string{"a", "b", "c"} {
		q.Schedule(id, Normal)
	}
	q.Schedule("urgent", Critical)
	first, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "urgent", first)
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Schedule(i, Priority(i%4))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
	assert.Len(t, q.Drain(), 50)
}

func TestPriority_TextRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		err  bool
	}{
		{"critical", Critical, false},
		{"HIGH", High, false},
		{" normal ", Normal, false},
		{"", Normal, false},
		{"low", Low, false},
		{"urgent", Normal, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePriority(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}

	b, err := json.Marshal(struct{ P Priority }{High})
	require.NoError(t, err)
	assert.JSONEq(t, `{"P":"high"}`, string(b))

	var out struct{ P Priority }
	require.NoError(t, json.Unmarshal([]byte(`{"P":"critical"}`), &out))
	assert.Equal(t, Critical, out.P)

	_, err = Priority(9).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "priority(9)", Priority(9).String())
}
