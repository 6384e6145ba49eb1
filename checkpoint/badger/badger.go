//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package badger provides embedded BadgerDB checkpoint storage.
//
// Records live under rec/<id> as JSON; idx/<kind>/<created_at>/<id> keys
// keep them ordered per kind.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/log"
)

// Config configures the database.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string `yaml:"path" json:"path"`
	// InMemory keeps everything in memory.
	InMemory bool `yaml:"in_memory" json:"in_memory"`
	// SyncWrites fsyncs every write.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`
	// GCInterval runs value log GC periodically when positive.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval"`
	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
}

// DefaultConfig returns a persistent configuration without a path.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger routes badger's logs to the package logger at debug level
// for info and debug lines.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any)   { log.Errorf("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...any) { log.Warnf("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...any)    { log.Debugf("badger: "+format, args...) }
func (badgerLogger) Debugf(format string, args ...any)   { log.Debugf("badger: "+format, args...) }

// Saver stores checkpoint records in BadgerDB.
type Saver struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Saver, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	s := &Saver{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Saver) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				log.Warnf("badger value log GC: %v", err)
			}
		}
	}
}

type stored struct {
	Kind        checkpoint.Kind `json:"kind"`
	ExecutionID string          `json:"execution_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Data        []byte          `json:"data"`
}

func recordKey(id string) []byte {
	return []byte("rec/" + id)
}

func indexPrefix(kind checkpoint.Kind) []byte {
	return []byte("idx/" + string(kind) + "/")
}

// indexKey sorts by creation time: the timestamp is big endian so that
// byte order matches time order.
func indexKey(kind checkpoint.Kind, created time.Time, id string) []byte {
	k := indexPrefix(kind)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(created.UnixNano()))
	k = append(k, ts[:]...)
	k = append(k, '/')
	return append(k, id...)
}

func load(txn *badger.Txn, id string) (*stored, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st stored
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &st)
	}); err != nil {
		return nil, err
	}
	return &st, nil
}

// Put implements checkpoint.Saver.
func (s *Saver) Put(ctx context.Context, rec *checkpoint.Record) error {
	if rec == nil {
		return errors.New("badger: record is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(stored{
		Kind:        rec.Kind,
		ExecutionID: rec.ExecutionID,
		CreatedAt:   rec.CreatedAt.UTC(),
		Data:        rec.Data,
	})
	if err != nil {
		return fmt.Errorf("badger: encode %s: %w", rec.ID, errors.Join(checkpoint.ErrPermanent, err))
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		old, err := load(txn, rec.ID)
		if err != nil {
			return err
		}
		if old != nil {
			if err := txn.Delete(indexKey(old.Kind, old.CreatedAt, rec.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(recordKey(rec.ID), raw); err != nil {
			return err
		}
		return txn.Set(indexKey(rec.Kind, rec.CreatedAt, rec.ID), nil)
	})
	if err != nil {
		return fmt.Errorf("badger: put %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements checkpoint.Saver.
func (s *Saver) Get(ctx context.Context, id string) (*checkpoint.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *checkpoint.Record
	err := s.db.View(func(txn *badger.Txn) error {
		st, err := load(txn, id)
		if err != nil || st == nil {
			return err
		}
		rec = &checkpoint.Record{
			ID:          id,
			Kind:        st.Kind,
			ExecutionID: st.ExecutionID,
			CreatedAt:   st.CreatedAt,
			Data:        st.Data,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: get %s: %w", id, err)
	}
	return rec, nil
}

// Delete implements checkpoint.Saver.
func (s *Saver) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := s.db.Update(func(txn *badger.Txn) error {
		st, err := load(txn, id)
		if err != nil || st == nil {
			return err
		}
		found = true
		if err := txn.Delete(indexKey(st.Kind, st.CreatedAt, id)); err != nil {
			return err
		}
		return txn.Delete(recordKey(id))
	})
	if err != nil {
		return false, fmt.Errorf("badger: delete %s: %w", id, err)
	}
	return found, nil
}

// ListIDs implements checkpoint.Saver.
func (s *Saver) ListIDs(ctx context.Context, kind checkpoint.Kind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := indexPrefix(kind)
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			// prefix + 8 byte timestamp + '/' + id
			ids = append(ids, string(key[len(prefix)+9:]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list %s: %w", kind, err)
	}
	return ids, nil
}

// Close stops GC and closes the database.
func (s *Saver) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}
