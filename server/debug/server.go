//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

// Package debug provides a HTTP server for inspecting and steering graph runs.
//
// It streams engine events as server-sent events, lists and deletes
// checkpoints, and lets an operator approve, reject and resume
// interrupted nodes.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-graph-go/checkpoint"
	"trpc.group/trpc-go/trpc-graph-go/engine"
	"trpc.group/trpc-go/trpc-graph-go/event"
	"trpc.group/trpc-go/trpc-graph-go/log"
	"trpc.group/trpc-go/trpc-graph-go/server/debug/internal/schema"
)

// Checkpoints is the part of a checkpoint manager the server needs.
// *checkpoint.Manager satisfies it for any state type.
type Checkpoints interface {
	List(ctx context.Context, f *checkpoint.Filter) ([]checkpoint.Info, error)
	Delete(ctx context.Context, id string) error
	Token(ctx context.Context, id string) (*checkpoint.ResumeToken, error)
	Tokens(ctx context.Context, executionID string) ([]*checkpoint.ResumeToken, error)
	Approve(ctx context.Context, id string, value any) (*checkpoint.ResumeToken, error)
	Reject(ctx context.Context, id, reason string) (*checkpoint.ResumeToken, error)
}

// RunSummary describes the outcome of a resumed run.
type RunSummary struct {
	ExecutionID   string            `json:"executionId"`
	Status        string            `json:"status"`
	Completed     []string          `json:"completed,omitempty"`
	Failed        []string          `json:"failed,omitempty"`
	Skipped       []string          `json:"skipped,omitempty"`
	Cancelled     []string          `json:"cancelled,omitempty"`
	Pruned        []string          `json:"pruned,omitempty"`
	Interrupted   []string          `json:"interrupted,omitempty"`
	FinishReached bool              `json:"finishReached"`
	Errors        map[string]string `json:"errors,omitempty"`
	Tokens        []string          `json:"tokens,omitempty"`
	Checkpoints   []string          `json:"checkpoints,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// ResumeFunc resumes the run parked behind an approved token.
type ResumeFunc func(ctx context.Context, tokenID string) (*RunSummary, error)

// Server exposes the debug endpoints.
type Server struct {
	router      *mux.Router
	checkpoints Checkpoints
	bus         *event.Bus
	resume      ResumeFunc
}

// Option configures the Server instance.
type Option func(*Server)

// WithCheckpoints serves checkpoint and token endpoints from c.
func WithCheckpoints(c Checkpoints) Option {
	return func(s *Server) { s.checkpoints = c }
}

// WithEventBus streams events published on bus.
func WithEventBus(bus *event.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithResumer enables POST /tokens/{id}/resume.
func WithResumer(fn ResumeFunc) Option {
	return func(s *Server) { s.resume = fn }
}

// EngineResumer adapts e.Resume to a ResumeFunc.
func EngineResumer[S any](e *engine.Engine[S]) ResumeFunc {
	return func(ctx context.Context, tokenID string) (*RunSummary, error) {
		res, err := e.Resume(ctx, tokenID)
		if res == nil {
			return nil, err
		}
		summary := summarize(res)
		if err != nil {
			summary.Error = err.Error()
		}
		return summary, nil
	}
}

func summarize[S any](res *engine.Result[S]) *RunSummary {
	out := &RunSummary{
		ExecutionID:   res.ExecutionID,
		Status:        string(res.Status),
		Completed:     res.Completed,
		Failed:        res.Failed,
		Skipped:       res.Skipped,
		Cancelled:     res.Cancelled,
		Pruned:        res.Pruned,
		Interrupted:   res.Interrupted,
		FinishReached: res.FinishReached,
		Checkpoints:   res.Checkpoints,
	}
	if len(res.Errors) > 0 {
		out.Errors = make(map[string]string, len(res.Errors))
		for id, err := range res.Errors {
			out.Errors[id] = err.Error()
		}
	}
	for _, t := range res.Tokens {
		out.Tokens = append(out.Tokens, t.ID)
	}
	return out
}

// New creates a new debug server.
func New(opts ...Option) *Server {
	s := &Server{router: mux.NewRouter()}
	for _, opt := range opts {
		opt(s)
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	s.router.HandleFunc("/checkpoints", s.handleListCheckpoints).Methods(http.MethodGet)
	s.router.HandleFunc("/checkpoints/{id}", s.handleDeleteCheckpoint).Methods(http.MethodDelete)

	s.router.HandleFunc("/executions/{executionId}/tokens", s.handleListTokens).Methods(http.MethodGet)
	s.router.HandleFunc("/tokens", s.handleListTokens).Methods(http.MethodGet)
	s.router.HandleFunc("/tokens/{id}", s.handleGetToken).Methods(http.MethodGet)
	s.router.HandleFunc("/tokens/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	s.router.HandleFunc("/tokens/{id}/reject", s.handleReject).Methods(http.MethodPost)
	s.router.HandleFunc("/tokens/{id}/resume", s.handleResume).Methods(http.MethodPost)

	preflight := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	s.router.PathPrefix("/").HandlerFunc(preflight).Methods(http.MethodOptions)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("no event bus configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	q := r.URL.Query()
	filter := event.NewFilter(q.Get("execution_id"))
	if types := q.Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.Types = append(filter.Types, event.Type(strings.TrimSpace(t)))
		}
	}
	if nodes := q.Get("nodes"); nodes != "" {
		filter.NodeIDs = strings.Split(nodes, ",")
	}
	sub := s.bus.Subscribe(filter)
	defer sub.Close()
	log.Infof("debug: event stream %s opened for execution %q", sub.ID(), filter.ExecutionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			log.Debugf("debug: event stream %s closed by client", sub.ID())
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Errorf("debug: marshal event %s: %v", ev.ID, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if !s.requireCheckpoints(w) {
		return
	}
	q := r.URL.Query()
	f := checkpoint.NewFilter()
	if id := q.Get("execution_id"); id != "" {
		f.WithExecutionID(id)
	}
	if id := q.Get("graph_id"); id != "" {
		f.WithGraphID(id)
	}
	if typ := q.Get("type"); typ != "" {
		f.WithType(checkpoint.Type(typ))
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", limit))
			return
		}
		f.WithLimit(n)
	}
	infos, err := s.checkpoints.List(r.Context(), f)
	if err != nil {
		s.writeError(w, statusOf(err), err)
		return
	}
	if infos == nil {
		infos = []checkpoint.Info{}
	}
	s.writeJSON(w, infos)
}

func (s *Server) handleDeleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.requireCheckpoints(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.checkpoints.Delete(r.Context(), id); err != nil {
		s.writeError(w, statusOf(err), err)
		return
	}
	log.Infof("debug: checkpoint %s deleted", id)
	s.writeJSON(w, schema.DeleteResponse{ID: id, Deleted: true})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	if !s.requireCheckpoints(w) {
		return
	}
	execID := mux.Vars(r)["executionId"]
	if execID == "" {
		execID = r.URL.Query().Get("execution_id")
	}
	tokens, err := s.checkpoints.Tokens(r.Context(), execID)
	if err != nil {
		s.writeError(w, statusOf(err), err)
		return
	}
	s.writeJSON(w, tokens)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	if !s.requireCheckpoints(w) {
		return
	}
	t, err := s.checkpoints.Token(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, statusOf(err), err)
		return
	}
	s.writeJSON(w, t)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !s.requireCheckpoints(w) {
		return
	}
	var req schema.ApproveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	defer r.Body.Close()
	id := mux.Vars(r)["id"]
	t, err := s.checkpoints.Approve(r.Context(), id, req.Value)
	if err != nil {
		s.writeError(w, statusOf(err), err)
		return
	}
	log.Infof("debug: token %s approved for node %s", id, t.NodeID)
	s.writeJSON(w, t)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if !s.requireCheckpoints(w) {
		return
	}
	var req schema.RejectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	defer r.Body.Close()
	id := mux.Vars(r)["id"]
	t, err := s.checkpoints.Reject(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, statusOf(err), err)
		return
	}
	log.Infof("debug: token %s rejected for node %s", id, t.NodeID)
	s.writeJSON(w, t)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.resume == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("no resumer configured"))
		return
	}
	id := mux.Vars(r)["id"]
	summary, err := s.resume(r.Context(), id)
	if err != nil {
		s.writeError(w, statusOf(err), err)
		return
	}
	log.Infof("debug: token %s resumed, execution %s ended %s", id, summary.ExecutionID, summary.Status)
	s.writeJSON(w, summary)
}

func (s *Server) requireCheckpoints(w http.ResponseWriter) bool {
	if s.checkpoints == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("no checkpoint manager configured"))
		return false
	}
	return true
}

// statusOf maps checkpoint and engine errors to HTTP status codes.
func statusOf(err error) int {
	var ve *checkpoint.ValidationError
	switch {
	case errors.Is(err, checkpoint.ErrCheckpointNotFound), errors.Is(err, checkpoint.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkpoint.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, checkpoint.ErrCheckpointInUse), errors.Is(err, checkpoint.ErrTokenNotApproved),
		errors.Is(err, engine.ErrGraphMismatch), errors.As(err, &ve):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("debug: write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(schema.ErrorResponse{Error: err.Error()}); err != nil {
		log.Errorf("debug: write error response: %v", err)
	}
}
