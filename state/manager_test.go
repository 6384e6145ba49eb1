//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package state

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Count  int
	Log    []string
	Labels map[string]string
	Inner  *inner
}

type inner struct {
	Values []int
}

func TestManager_NoLostUpdates(t *testing.T) {
	for _, k := range []int{1, 7, 100, 500} {
		m := NewManager(counterState{})
		var wg sync.WaitGroup
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, m.Write(context.Background(), func(s *counterState) error {
					s.Count++
					return nil
				}))
			}()
		}
		wg.Wait()
		assert.Equal(t, k, m.Read().Count)
		assert.Equal(t, uint64(k), m.Version())
	}
}

func TestManager_FailedMutatorLeavesNothing(t *testing.T) {
	m := NewManager(counterState{Labels: map[string]string{"a": "1"}, Inner: &inner{Values: []int{1}}})
	boom := errors.New("boom")

	err := m.Write(context.Background(), func(s *counterState) error {
		s.Count = 99
		s.Labels["a"] = "mutated"
		s.Inner.Values[0] = 42
		s.Log = append(s.Log, "half")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got := m.Read()
	assert.Equal(t, 0, got.Count)
	assert.Equal(t, "1", got.Labels["a"])
	assert.Equal(t, []int{1}, got.Inner.Values)
	assert.Empty(t, got.Log)
	assert.Equal(t, uint64(0), m.Version())
}

func TestManager_CancelledContext(t *testing.T) {
	m := NewManager(counterState{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := m.Write(ctx, func(*counterState) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestManager_SnapshotIsIndependent(t *testing.T) {
	m := NewManager(counterState{Labels: map[string]string{}, Inner: &inner{}})
	require.NoError(t, m.Write(context.Background(), func(s *counterState) error {
		s.Count = 1
		s.Labels["k"] = "v"
		s.Inner.Values = []int{1, 2}
		return nil
	}))
	snap := m.Snapshot()
	require.NotEmpty(t, snap.ID)
	assert.False(t, snap.Timestamp.IsZero())

	require.NoError(t, m.Write(context.Background(), func(s *counterState) error {
		s.Count = 2
		s.Labels["k"] = "changed"
		s.Inner.Values[0] = 100
		return nil
	}))
	assert.Equal(t, 1, snap.State.Count)
	assert.Equal(t, "v", snap.State.Labels["k"])
	assert.Equal(t, []int{1, 2}, snap.State.Inner.Values)

	snap.State.Labels["k"] = "from-snapshot"
	assert.Equal(t, "changed", m.Read().Labels["k"])
}

func TestManager_Restore(t *testing.T) {
	m := NewManager(counterState{Count: 5})
	snap := m.Snapshot()
	require.NoError(t, m.Write(context.Background(), func(s *counterState) error {
		s.Count = 50
		return nil
	}))

	fresh := NewManager(counterState{})
	fresh.Restore(snap)
	assert.Equal(t, 5, fresh.Read().Count)

	m.Restore(snap)
	assert.Equal(t, 5, m.Read().Count)
}

func TestManager_ReadersNeverSeeTornState(t *testing.T) {
	type pair struct{ A, B int }
	m := NewManager(pair{})
	ctx := context.Background()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			m.View(func(p pair) {
				assert.Equal(t, p.A, p.B)
			})
			s := m.Snapshot()
			assert.Equal(t, s.State.A, s.State.B)
		}
	}()
	for i := 0; i < 200; i++ {
		require.NoError(t, m.Write(ctx, func(p *pair) error {
			p.A++
			p.B++
			return nil
		}))
	}
	close(stop)
	wg.Wait()
}

func TestUpdate_ReturnsResult(t *testing.T) {
	m := NewManager(counterState{})
	n, err := Update(context.Background(), m, func(s *counterState) (int, error) {
		s.Count += 3
		return s.Count, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = Update(context.Background(), m, func(s *counterState) (int, error) {
		s.Count = 0
		return 0, errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, m.Read().Count)
}

func TestScopedAccessor_Close(t *testing.T) {
	m := NewManager(counterState{})
	a := m.Scoped()
	require.NoError(t, a.Write(context.Background(), func(s *counterState) error {
		s.Count = 1
		return nil
	}))
	a.Close()
	err := a.Write(context.Background(), func(s *counterState) error {
		s.Count = 2
		return nil
	})
	assert.ErrorIs(t, err, ErrAccessorClosed)
	a.View(func(s counterState) { assert.Equal(t, 1, s.Count) })
	assert.Equal(t, 1, a.Snapshot().State.Count)
}

func TestWithCloner(t *testing.T) {
	calls := 0
	m := NewManager(counterState{}, WithCloner(func(s counterState) counterState {
		calls++
		return s
	}))
	_ = m.Snapshot()
	assert.GreaterOrEqual(t, calls, 2)
}
