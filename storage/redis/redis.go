//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides named redis clients for checkpoint storage.
package redis

import (
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string][]Option)
)

// Builder creates a client from options.
type Builder func(opts ...Option) (redis.UniversalClient, error)

var builder Builder = DefaultBuilder

// SetBuilder replaces how NewClient builds clients.
func SetBuilder(b Builder) {
	builder = b
}

// NewClient builds a client using the installed builder.
func NewClient(opts ...Option) (redis.UniversalClient, error) {
	return builder(opts...)
}

// NewInstanceClient builds a client for a registered instance.
func NewInstanceClient(name string) (redis.UniversalClient, error) {
	opts, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("redis: instance %q is not registered", name)
	}
	return NewClient(opts...)
}

// DefaultBuilder parses the URL into a universal client. It does not connect.
func DefaultBuilder(opts ...Option) (redis.UniversalClient, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.URL == "" {
		return nil, fmt.Errorf("redis: url is empty")
	}
	parsed, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url %s: %w", o.URL, err)
	}
	poolSize := parsed.PoolSize
	if o.PoolSize > 0 {
		poolSize = o.PoolSize
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           []string{parsed.Addr},
		DB:              parsed.DB,
		Username:        parsed.Username,
		Password:        parsed.Password,
		Protocol:        parsed.Protocol,
		ClientName:      parsed.ClientName,
		TLSConfig:       parsed.TLSConfig,
		MaxRetries:      parsed.MaxRetries,
		MinRetryBackoff: parsed.MinRetryBackoff,
		MaxRetryBackoff: parsed.MaxRetryBackoff,
		DialTimeout:     parsed.DialTimeout,
		ReadTimeout:     parsed.ReadTimeout,
		WriteTimeout:    parsed.WriteTimeout,
		PoolSize:        poolSize,
		PoolTimeout:     parsed.PoolTimeout,
		MinIdleConns:    parsed.MinIdleConns,
		MaxIdleConns:    parsed.MaxIdleConns,
		ConnMaxIdleTime: parsed.ConnMaxIdleTime,
		ConnMaxLifetime: parsed.ConnMaxLifetime,
	}), nil
}

// Option configures a client.
type Option func(*Options)

// Options are the client settings.
type Options struct {
	// URL is redis://<username>:<password>@<host>:<port>/<db>?<options>,
	// see redis.ParseURL for the options.
	URL      string
	PoolSize int
}

// WithURL sets the redis URL.
func WithURL(url string) Option {
	return func(o *Options) {
		o.URL = url
	}
}

// WithPoolSize overrides the pool size from the URL.
func WithPoolSize(n int) Option {
	return func(o *Options) {
		o.PoolSize = n
	}
}

// Register stores options under name. Repeated calls append.
func Register(name string, opts ...Option) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = append(registry[name], opts...)
}

// Lookup returns the options registered under name.
func Lookup(name string) ([]Option, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	opts, ok := registry[name]
	return opts, ok
}
