//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/checkpoint/savertest"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	// A single connection keeps concurrent writers from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db
}

func newSaver(t *testing.T) checkpoint.Saver {
	s, err := NewSaver(openDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaver_Conformance(t *testing.T) {
	savertest.Run(t, newSaver)
}

func TestNewSaver_NilDB(t *testing.T) {
	_, err := NewSaver(nil)
	assert.Error(t, err)
}

func TestSaver_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	s, err := NewSaver(db)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &checkpoint.Record{ID: "a", Kind: checkpoint.KindCheckpoint, Data: []byte("{}")}))
	require.NoError(t, s.Close())

	db, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	s, err = NewSaver(db)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "{}", string(got.Data))
}
