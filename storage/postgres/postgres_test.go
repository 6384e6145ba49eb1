//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func isolateRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	old := registry
	registry = make(map[string][]Option)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		registry = old
		registryMu.Unlock()
	})
}

func TestDefaultOpener_EmptyDSN(t *testing.T) {
	_, err := defaultOpener(context.Background())
	require.EqualError(t, err, "postgres: connection string is empty")
}

func TestDefaultOpener_InvalidDSN(t *testing.T) {
	_, err := defaultOpener(context.Background(), WithDSN("invalid connection string"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "postgres")
}

func TestSetOpener(t *testing.T) {
	old := opener
	defer SetOpener(old)

	var got Options
	SetOpener(func(ctx context.Context, opts ...Option) (Client, error) {
		for _, opt := range opts {
			opt(&got)
		}
		return nil, nil
	})
	_, err := Open(context.Background(),
		WithDSN("postgres://localhost:5432/test"),
		WithMaxOpenConns(4),
		WithConnMaxLifetime(time.Minute),
	)
	require.NoError(t, err)
	require.Equal(t, Options{DSN: "postgres://localhost:5432/test", MaxOpenConns: 4, ConnMaxLifetime: time.Minute}, got)
}

func TestRegisterAndOpenInstance(t *testing.T) {
	isolateRegistry(t)
	old := opener
	defer SetOpener(old)

	Register("ckpt", WithDSN("postgres://a"))
	Register("ckpt", WithMaxOpenConns(2))
	opts, ok := Lookup("ckpt")
	require.True(t, ok)
	require.Len(t, opts, 2)

	var got Options
	SetOpener(func(ctx context.Context, opts ...Option) (Client, error) {
		for _, opt := range opts {
			opt(&got)
		}
		return nil, nil
	})
	_, err := OpenInstance(context.Background(), "ckpt")
	require.NoError(t, err)
	require.Equal(t, "postgres://a", got.DSN)
	require.Equal(t, 2, got.MaxOpenConns)

	_, err = OpenInstance(context.Background(), "missing")
	require.Error(t, err)
	_, ok = Lookup("missing")
	require.False(t, ok)
}

func TestSQLClient_ExecAndQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	client := NewClient(db)
	defer client.Close()

	mock.ExpectExec("INSERT INTO test").
		WithArgs("value").
		WillReturnResult(sqlmock.NewResult(1, 1))
	result, err := client.ExecContext(context.Background(), "INSERT INTO test VALUES ($1)", "value")
	require.NoError(t, err)
	n, err := result.RowsAffected()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	mock.ExpectQuery("SELECT .* FROM test").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))
	var ids []string
	err = client.Query(context.Background(), func(rows *sql.Rows) error {
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}, "SELECT id FROM test WHERE x = $1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLClient_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	client := NewClient(db)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("boom"))
	err = client.Query(context.Background(), func(*sql.Rows) error { return nil }, "SELECT 1")
	require.ErrorContains(t, err, "query: boom")
}

func TestSQLClient_Transaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	client := NewClient(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE t").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err = client.Transaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE t SET x = 1")
		return err
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = client.Transaction(context.Background(), func(tx *sql.Tx) error {
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")
	require.NoError(t, mock.ExpectationsWereMet())
}
