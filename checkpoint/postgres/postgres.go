//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package postgres provides PostgreSQL-based checkpoint storage.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	storage "trpc.group/trpc-go/trpc-graph-go/storage/postgres"
)

const defaultTable = "graph_checkpoints"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Option configures a Saver.
type Option func(*Saver)

// WithTable sets the table the records live in.
func WithTable(name string) Option {
	return func(s *Saver) {
		s.table = name
	}
}

// Saver stores checkpoint records in one PostgreSQL table.
type Saver struct {
	client storage.Client
	table  string

	upsert   string
	selectID string
	deleteID string
	listIDs  string
}

// NewSaver creates the table if needed and returns a saver on client.
func NewSaver(ctx context.Context, client storage.Client, opts ...Option) (*Saver, error) {
	if client == nil {
		return nil, errors.New("postgres: client is nil")
	}
	s := &Saver{client: client, table: defaultTable}
	for _, opt := range opts {
		opt(s)
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", s.table)
	}
	s.upsert = fmt.Sprintf("INSERT INTO %s (id, kind, execution_id, created_at, data) VALUES ($1, $2, $3, $4, $5) "+
		"ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, execution_id = EXCLUDED.execution_id, "+
		"created_at = EXCLUDED.created_at, data = EXCLUDED.data", s.table)
	s.selectID = fmt.Sprintf("SELECT kind, execution_id, created_at, data FROM %s WHERE id = $1", s.table)
	s.deleteID = fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table)
	s.listIDs = fmt.Sprintf("SELECT id FROM %s WHERE kind = $1 ORDER BY created_at ASC, id ASC", s.table)

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
		"id TEXT PRIMARY KEY, "+
		"kind TEXT NOT NULL, "+
		"execution_id TEXT NOT NULL, "+
		"created_at TIMESTAMPTZ NOT NULL, "+
		"data BYTEA NOT NULL)", s.table)
	if _, err := client.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("postgres: create table %s: %w", s.table, err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_kind_idx ON %s (kind, created_at)", s.table, s.table)
	if _, err := client.ExecContext(ctx, index); err != nil {
		return nil, fmt.Errorf("postgres: create index on %s: %w", s.table, err)
	}
	return s, nil
}

// Put implements checkpoint.Saver.
func (s *Saver) Put(ctx context.Context, rec *checkpoint.Record) error {
	if rec == nil {
		return errors.New("postgres: record is nil")
	}
	if _, err := s.client.ExecContext(ctx, s.upsert,
		rec.ID, string(rec.Kind), rec.ExecutionID, rec.CreatedAt.UTC(), rec.Data); err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements checkpoint.Saver.
func (s *Saver) Get(ctx context.Context, id string) (*checkpoint.Record, error) {
	var rec *checkpoint.Record
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		r := &checkpoint.Record{ID: id}
		var kind string
		if err := rows.Scan(&kind, &r.ExecutionID, &r.CreatedAt, &r.Data); err != nil {
			return err
		}
		r.Kind = checkpoint.Kind(kind)
		r.CreatedAt = r.CreatedAt.UTC()
		rec = r
		return nil
	}, s.selectID, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	return rec, nil
}

// Delete implements checkpoint.Saver.
func (s *Saver) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.client.ExecContext(ctx, s.deleteID, id)
	if err != nil {
		return false, fmt.Errorf("postgres: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: delete %s: %w", id, err)
	}
	return n > 0, nil
}

// ListIDs implements checkpoint.Saver.
func (s *Saver) ListIDs(ctx context.Context, kind checkpoint.Kind) ([]string, error) {
	var ids []string
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}, s.listIDs, string(kind))
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", kind, err)
	}
	return ids, nil
}

// Close closes the client.
func (s *Saver) Close() error {
	return s.client.Close()
}
