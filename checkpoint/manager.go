//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-graph-go/execution"
	"trpc.group/trpc-go/trpc-graph-go/log"
)

// Retention bounds what Cleanup keeps.
type Retention struct {
	// MaxPerExecution keeps the newest N automatic checkpoints of each run.
	// Zero keeps all of them.
	MaxPerExecution int `yaml:"max_per_execution" json:"max_per_execution" validate:"gte=0"`
	// MaxAge drops automatic checkpoints older than this. Zero disables it.
	MaxAge time.Duration `yaml:"max_age" json:"max_age" validate:"gte=0"`
	// FinishedTokenAge drops tokens that settled longer ago than this.
	FinishedTokenAge time.Duration `yaml:"finished_token_age" json:"finished_token_age" validate:"gte=0"`
}

// DefaultRetention returns the retention used when none is configured.
func DefaultRetention() Retention {
	return Retention{
		MaxPerExecution:  10,
		FinishedTokenAge: 24 * time.Hour,
	}
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	retention Retention
	retry     *RetryPolicy
	tokenTTL  time.Duration
	now       func() time.Time
}

// WithRetention sets the cleanup retention.
func WithRetention(r Retention) Option {
	return func(o *options) {
		o.retention = r
	}
}

// WithRetryPolicy sets how storage failures are retried. A policy with
// MaxAttempts 1 disables retries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry = &p
	}
}

// WithTokenTTL sets how long resume tokens stay valid. Zero never expires.
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.tokenTTL = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Manager creates, restores and prunes checkpoints of state type S, and
// manages the resume tokens that park interrupted nodes.
type Manager[S any] struct {
	saver     Saver
	retention Retention
	tokenTTL  time.Duration
	now       func() time.Time

	refMu sync.Mutex
	inUse map[string]int
	// deleting holds one channel per checkpoint whose removal is under way.
	// It is closed once the saver returns.
	deleting map[string]chan struct{}

	// tokenMu serializes token transitions so a token is consumed once.
	tokenMu sync.Mutex
}

// NewManager creates a Manager persisting through saver.
func NewManager[S any](saver Saver, opts ...Option) *Manager[S] {
	o := options{
		retention: DefaultRetention(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	policy := DefaultRetryPolicy()
	if o.retry != nil {
		policy = *o.retry
	}
	return &Manager[S]{
		saver:     NewRetryingSaver(saver, policy),
		retention: o.retention,
		tokenTTL:  o.tokenTTL,
		now:       o.now,
		inUse:     make(map[string]int),
		deleting:  make(map[string]chan struct{}),
	}
}

// Saver returns the retrying saver in front of the backend.
func (m *Manager[S]) Saver() Saver {
	return m.saver
}

// Create snapshots st and stores it together with a copy of execCtx.
func (m *Manager[S]) Create(ctx context.Context, st Store[S], execCtx *execution.Context, typ Type) (string, error) {
	if st == nil || execCtx == nil {
		return "", fmt.Errorf("%w: create needs a state store and an execution context", ErrInvalidArgument)
	}
	switch typ {
	case TypeManual, TypeAutomatic, TypeInterrupt:
	default:
		return "", fmt.Errorf("%w: unknown checkpoint type %q", ErrInvalidArgument, typ)
	}
	cp := &Checkpoint[S]{
		ID:          uuid.NewString(),
		Type:        typ,
		ExecutionID: execCtx.ExecutionID(),
		GraphID:     execCtx.GraphID(),
		CreatedAt:   m.now().UTC(),
		Snapshot:    st.Snapshot(),
		Context:     execCtx,
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal %s: %w", cp.ID, err)
	}
	rec := &Record{
		ID:          cp.ID,
		Kind:        KindCheckpoint,
		ExecutionID: cp.ExecutionID,
		CreatedAt:   cp.CreatedAt,
		Data:        data,
	}
	if err := m.saver.Put(ctx, rec); err != nil {
		return "", storageErr("put", cp.ID, err)
	}
	log.Debugf("checkpoint %s created (type=%s, execution=%s, version=%d)",
		cp.ID, typ, cp.ExecutionID, cp.Snapshot.Version)
	return cp.ID, nil
}

// Get loads a checkpoint.
func (m *Manager[S]) Get(ctx context.Context, id string) (*Checkpoint[S], error) {
	rec, err := m.saver.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get", id, err)
	}
	if rec == nil || rec.Kind != KindCheckpoint {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	var cp Checkpoint[S]
	if err := json.Unmarshal(rec.Data, &cp); err != nil {
		return nil, invalid(id, nil, "decode: %v", err)
	}
	if cp.Context == nil {
		return nil, invalid(id, nil, "missing execution context")
	}
	return &cp, nil
}

// Restore loads checkpoint id into st and returns its execution context.
// The checkpoint cannot be removed by Cleanup or Delete while Restore runs.
func (m *Manager[S]) Restore(ctx context.Context, id string, st Store[S]) (*execution.Context, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: restore needs a state store", ErrInvalidArgument)
	}
	if err := m.acquire(ctx, id); err != nil {
		return nil, err
	}
	defer m.release(id)
	cp, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st.Restore(cp.Snapshot)
	cp.Context.Reopen()
	log.Debugf("checkpoint %s restored into execution %s", id, cp.ExecutionID)
	return cp.Context, nil
}

// acquire pins id against deletion. A removal that started first is waited
// out, after which the restore sees the checkpoint as gone.
func (m *Manager[S]) acquire(ctx context.Context, id string) error {
	for {
		m.refMu.Lock()
		wait, ok := m.deleting[id]
		if !ok {
			m.inUse[id]++
			m.refMu.Unlock()
			return nil
		}
		m.refMu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager[S]) release(id string) {
	m.refMu.Lock()
	if m.inUse[id]--; m.inUse[id] <= 0 {
		delete(m.inUse, id)
	}
	m.refMu.Unlock()
}

// claim marks id as being deleted unless it is pinned or already claimed.
// The returned func clears the mark.
func (m *Manager[S]) claim(id string) (func(), bool) {
	m.refMu.Lock()
	defer m.refMu.Unlock()
	if m.inUse[id] > 0 {
		return nil, false
	}
	if _, ok := m.deleting[id]; ok {
		return nil, false
	}
	ch := make(chan struct{})
	m.deleting[id] = ch
	return func() {
		m.refMu.Lock()
		delete(m.deleting, id)
		m.refMu.Unlock()
		close(ch)
	}, true
}

// Delete removes checkpoint id.
func (m *Manager[S]) Delete(ctx context.Context, id string) error {
	done, ok := m.claim(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCheckpointInUse, id)
	}
	defer done()
	rec, err := m.saver.Get(ctx, id)
	if err != nil {
		return storageErr("get", id, err)
	}
	if rec == nil || rec.Kind != KindCheckpoint {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	if _, err := m.saver.Delete(ctx, id); err != nil {
		return storageErr("delete", id, err)
	}
	return nil
}

// List returns the checkpoints matching f, newest first.
func (m *Manager[S]) List(ctx context.Context, f *Filter) ([]Info, error) {
	ids, err := m.saver.ListIDs(ctx, KindCheckpoint)
	if err != nil {
		return nil, storageErr("list", string(KindCheckpoint), err)
	}
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		rec, err := m.saver.Get(ctx, id)
		if err != nil {
			return nil, storageErr("get", id, err)
		}
		if rec == nil {
			// Removed between ListIDs and Get.
			continue
		}
		var doc infoDoc
		if err := json.Unmarshal(rec.Data, &doc); err != nil {
			log.Warnf("checkpoint %s skipped in list: %v", id, err)
			continue
		}
		info := doc.info()
		if f.match(info) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f != nil && f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Latest returns the newest checkpoint of an execution.
func (m *Manager[S]) Latest(ctx context.Context, executionID string) (*Checkpoint[S], error) {
	infos, err := m.List(ctx, NewFilter().WithExecutionID(executionID).WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no checkpoint for execution %s", ErrCheckpointNotFound, executionID)
	}
	return m.Get(ctx, infos[0].ID)
}

// Cleanup enforces the retention over automatic checkpoints and settled
// tokens, and drops interrupt checkpoints no token refers to anymore.
// Checkpoints being restored are never removed. It returns the number of
// records deleted.
func (m *Manager[S]) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	tokens, err := m.listTokens(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	referenced := make(map[string]bool)
	for _, t := range tokens {
		if m.reapable(t, now) {
			if _, err := m.saver.Delete(ctx, t.ID); err != nil {
				return removed, storageErr("delete", t.ID, err)
			}
			removed++
			continue
		}
		referenced[t.CheckpointID] = true
	}

	infos, err := m.List(ctx, nil)
	if err != nil {
		return removed, err
	}
	perExec := make(map[string]int)
	for _, info := range infos {
		drop := false
		switch info.Type {
		case TypeAutomatic:
			perExec[info.ExecutionID]++
			if m.retention.MaxPerExecution > 0 && perExec[info.ExecutionID] > m.retention.MaxPerExecution {
				drop = true
			}
			if m.retention.MaxAge > 0 && now.Sub(info.CreatedAt) > m.retention.MaxAge {
				drop = true
			}
		case TypeInterrupt:
			drop = !referenced[info.ID]
		}
		if !drop {
			continue
		}
		done, ok := m.claim(info.ID)
		if !ok {
			continue
		}
		_, err := m.saver.Delete(ctx, info.ID)
		done()
		if err != nil {
			return removed, storageErr("delete", info.ID, err)
		}
		removed++
	}
	if removed > 0 {
		log.Debugf("checkpoint cleanup removed %d record(s)", removed)
	}
	return removed, nil
}

func (m *Manager[S]) reapable(t *ResumeToken, now time.Time) bool {
	settled := t.Status.Finished() || t.Expired(now)
	if !settled {
		return false
	}
	return now.Sub(t.settledAt()) >= m.retention.FinishedTokenAge
}

// Suspend stores one interrupt checkpoint for the current state and one
// pending token per parked node.
func (m *Manager[S]) Suspend(ctx context.Context, st Store[S], execCtx *execution.Context,
	parked []Parked) ([]*ResumeToken, error) {
	if len(parked) == 0 {
		return nil, fmt.Errorf("%w: nothing to suspend", ErrInvalidArgument)
	}
	cpID, err := m.Create(ctx, st, execCtx, TypeInterrupt)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	suspension := uuid.NewString()
	tokens := make([]*ResumeToken, len(parked))
	ids := make([]string, len(parked))
	for i, p := range parked {
		tokens[i] = &ResumeToken{
			ID:           uuid.NewString(),
			SuspensionID: suspension,
			CheckpointID: cpID,
			ExecutionID:  execCtx.ExecutionID(),
			GraphID:      execCtx.GraphID(),
			NodeID:       p.NodeID,
			Prompt:       p.Prompt,
			Status:       TokenPending,
			CreatedAt:    now,
		}
		if m.tokenTTL > 0 {
			tokens[i].ExpiresAt = now.Add(m.tokenTTL)
		}
		ids[i] = tokens[i].ID
	}
	for _, t := range tokens {
		for _, id := range ids {
			if id != t.ID {
				t.Siblings = append(t.Siblings, id)
			}
		}
		if err := m.putToken(ctx, t); err != nil {
			return nil, err
		}
	}
	log.Infof("execution %s suspended with %d token(s) on checkpoint %s", execCtx.ExecutionID(), len(tokens), cpID)
	return tokens, nil
}

// Token loads a token. A token whose TTL passed is reported as expired.
func (m *Manager[S]) Token(ctx context.Context, id string) (*ResumeToken, error) {
	t, err := m.getToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.Finished() && t.Expired(m.now()) {
		t.Status = TokenExpired
	}
	return t, nil
}

// Tokens lists the tokens of an execution, oldest first. An empty
// executionID lists every token.
func (m *Manager[S]) Tokens(ctx context.Context, executionID string) ([]*ResumeToken, error) {
	all, err := m.listTokens(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]*ResumeToken, 0, len(all))
	for _, t := range all {
		if executionID != "" && t.ExecutionID != executionID {
			continue
		}
		if !t.Status.Finished() && t.Expired(now) {
			t.Status = TokenExpired
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Approve records value as the resume value of a pending token.
func (m *Manager[S]) Approve(ctx context.Context, id string, value any) (*ResumeToken, error) {
	return m.decide(ctx, id, func(t *ResumeToken) {
		t.Status = TokenApproved
		t.Value = value
	})
}

// Reject settles a pending token without a resume value.
func (m *Manager[S]) Reject(ctx context.Context, id, reason string) (*ResumeToken, error) {
	return m.decide(ctx, id, func(t *ResumeToken) {
		t.Status = TokenRejected
		t.Reason = reason
	})
}

func (m *Manager[S]) decide(ctx context.Context, id string, apply func(*ResumeToken)) (*ResumeToken, error) {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	t, err := m.getToken(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if err := m.checkUsable(ctx, t, now); err != nil {
		return nil, err
	}
	if t.Status != TokenPending {
		return nil, invalid(id, nil, "token already %s", t.Status)
	}
	apply(t)
	t.DecidedAt = now
	if err := m.putToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// checkUsable fails for finished or expired tokens, persisting expiry.
func (m *Manager[S]) checkUsable(ctx context.Context, t *ResumeToken, now time.Time) error {
	switch t.Status {
	case TokenRejected:
		return invalid(t.ID, ErrTokenRejected, "token was rejected: %s", t.Reason)
	case TokenConsumed:
		return invalid(t.ID, ErrTokenConsumed, "token was already consumed")
	case TokenExpired:
		return invalid(t.ID, ErrTokenExpired, "token expired at %s", t.ExpiresAt.Format(time.RFC3339))
	}
	if t.Expired(now) {
		t.Status = TokenExpired
		if err := m.putToken(ctx, t); err != nil {
			return err
		}
		return invalid(t.ID, ErrTokenExpired, "token expired at %s", t.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Consume validates an approved token, restores its checkpoint into st and
// settles every token of the suspension. A pending token fails with
// ErrTokenNotApproved; a rejected, consumed or expired one fails with a
// *ValidationError.
func (m *Manager[S]) Consume(ctx context.Context, id string, st Store[S]) (*Resumption, error) {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	t, err := m.getToken(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if err := m.checkUsable(ctx, t, now); err != nil {
		return nil, err
	}
	if t.Status == TokenPending {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotApproved, id)
	}

	res := &Resumption{
		Token:      t,
		Values:     map[string]any{t.NodeID: t.Value},
		Rejections: make(map[string]string),
	}
	siblings := make([]*ResumeToken, 0, len(t.Siblings))
	for _, sid := range t.Siblings {
		s, err := m.getToken(ctx, sid)
		if err != nil {
			// A sibling removed by cleanup leaves its node to interrupt again.
			log.Warnf("resume token %s: sibling %s unavailable: %v", id, sid, err)
			continue
		}
		switch {
		case s.Status == TokenApproved && !s.Expired(now):
			res.Values[s.NodeID] = s.Value
		case s.Status == TokenRejected:
			res.Rejections[s.NodeID] = s.Reason
		}
		siblings = append(siblings, s)
	}

	execCtx, err := m.Restore(ctx, t.CheckpointID, st)
	if err != nil {
		return nil, err
	}
	res.Context = execCtx

	t.Status = TokenConsumed
	t.DecidedAt = now
	if err := m.putToken(ctx, t); err != nil {
		return nil, err
	}
	for _, s := range siblings {
		if s.Status.Finished() {
			continue
		}
		s.Status = TokenConsumed
		s.DecidedAt = now
		if err := m.putToken(ctx, s); err != nil {
			return nil, err
		}
	}
	log.Infof("resume token %s consumed for execution %s", id, t.ExecutionID)
	return res, nil
}

func (m *Manager[S]) putToken(ctx context.Context, t *ResumeToken) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal token %s: %w", t.ID, err)
	}
	rec := &Record{
		ID:          t.ID,
		Kind:        KindToken,
		ExecutionID: t.ExecutionID,
		CreatedAt:   t.CreatedAt,
		Data:        data,
	}
	if err := m.saver.Put(ctx, rec); err != nil {
		return storageErr("put", t.ID, err)
	}
	return nil
}

func (m *Manager[S]) getToken(ctx context.Context, id string) (*ResumeToken, error) {
	rec, err := m.saver.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get", id, err)
	}
	if rec == nil || rec.Kind != KindToken {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, id)
	}
	var t ResumeToken
	if err := json.Unmarshal(rec.Data, &t); err != nil {
		return nil, invalid(id, nil, "decode token: %v", err)
	}
	return &t, nil
}

func (m *Manager[S]) listTokens(ctx context.Context) ([]*ResumeToken, error) {
	ids, err := m.saver.ListIDs(ctx, KindToken)
	if err != nil {
		return nil, storageErr("list", string(KindToken), err)
	}
	out := make([]*ResumeToken, 0, len(ids))
	for _, id := range ids {
		t, err := m.getToken(ctx, id)
		if err != nil {
			log.Warnf("resume token %s skipped: %v", id, err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
