//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestDefaultBuilder_EmptyURL(t *testing.T) {
	_, err := DefaultBuilder()
	require.EqualError(t, err, "redis: url is empty")
}

func TestDefaultBuilder_InvalidURL(t *testing.T) {
	_, err := DefaultBuilder(WithURL("127.0.0.1:6379"))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "redis: parse url 127.0.0.1:6379:"))
}

func TestDefaultBuilder_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := DefaultBuilder(WithURL("redis://"+mr.Addr()+"/0"), WithPoolSize(2))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Set(t.Context(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestRegisterAndNewInstanceClient(t *testing.T) {
	registryMu.Lock()
	old := registry
	registry = make(map[string][]Option)
	registryMu.Unlock()
	defer func() {
		registryMu.Lock()
		registry = old
		registryMu.Unlock()
	}()
	oldBuilder := builder
	defer SetBuilder(oldBuilder)

	Register("ckpt", WithURL("redis://localhost:6379/1"))
	Register("ckpt", WithPoolSize(8))
	var got Options
	SetBuilder(func(opts ...Option) (redis.UniversalClient, error) {
		for _, opt := range opts {
			opt(&got)
		}
		return nil, nil
	})
	_, err := NewInstanceClient("ckpt")
	require.NoError(t, err)
	require.Equal(t, Options{URL: "redis://localhost:6379/1", PoolSize: 8}, got)

	_, err = NewInstanceClient("missing")
	require.Error(t, err)
}
