//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-based checkpoint storage implementation
// for graph execution state persistence and recovery.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
)

const (
	sqliteCreateRecords = "CREATE TABLE IF NOT EXISTS checkpoint_records (" +
		"id TEXT PRIMARY KEY, " +
		"kind TEXT NOT NULL, " +
		"execution_id TEXT NOT NULL, " +
		"created_at INTEGER NOT NULL, " +
		"data BLOB NOT NULL" +
		")"

	sqliteCreateKindIndex = "CREATE INDEX IF NOT EXISTS idx_checkpoint_records_kind " +
		"ON checkpoint_records (kind, created_at)"

	sqliteUpsert = "INSERT OR REPLACE INTO checkpoint_records " +
		"(id, kind, execution_id, created_at, data) VALUES (?, ?, ?, ?, ?)"

	sqliteSelectByID = "SELECT kind, execution_id, created_at, data FROM checkpoint_records WHERE id = ?"

	sqliteDeleteByID = "DELETE FROM checkpoint_records WHERE id = ?"

	sqliteSelectIDs = "SELECT id FROM checkpoint_records WHERE kind = ? ORDER BY created_at ASC, id ASC"
)

// Saver is a SQLite-backed implementation of checkpoint.Saver.
// It expects an initialized *sql.DB and will create the required schema.
// Records are stored as JSON blobs next to their index columns.
type Saver struct {
	db *sql.DB
}

// NewSaver creates a new saver using the provided DB.
// The DB must use a SQLite driver. The constructor creates tables if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateRecords); err != nil {
		return nil, fmt.Errorf("create checkpoint_records table: %w", err)
	}
	if _, err := db.Exec(sqliteCreateKindIndex); err != nil {
		return nil, fmt.Errorf("create checkpoint_records index: %w", err)
	}
	return &Saver{db: db}, nil
}

// Put stores rec, replacing any record with the same ID.
func (s *Saver) Put(ctx context.Context, rec *checkpoint.Record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsert,
		rec.ID, string(rec.Kind), rec.ExecutionID, rec.CreatedAt.UnixNano(), rec.Data)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for id.
func (s *Saver) Get(ctx context.Context, id string) (*checkpoint.Record, error) {
	var (
		kind, execID string
		ts           int64
		data         []byte
	)
	err := s.db.QueryRowContext(ctx, sqliteSelectByID, id).Scan(&kind, &execID, &ts, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select record %s: %w", id, err)
	}
	return &checkpoint.Record{
		ID:          id,
		Kind:        checkpoint.Kind(kind),
		ExecutionID: execID,
		CreatedAt:   time.Unix(0, ts).UTC(),
		Data:        data,
	}, nil
}

// Delete removes id.
func (s *Saver) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqliteDeleteByID, id)
	if err != nil {
		return false, fmt.Errorf("delete record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record %s: %w", id, err)
	}
	return n > 0, nil
}

// ListIDs returns the IDs of kind ordered by creation time.
func (s *Saver) ListIDs(ctx context.Context, kind checkpoint.Kind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectIDs, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s record id: %w", kind, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}
	return ids, nil
}

// Close closes the underlying DB.
func (s *Saver) Close() error {
	return s.db.Close()
}
