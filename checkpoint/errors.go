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
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrCheckpointNotFound = errors.New("checkpoint: not found")
	ErrCheckpointInUse    = errors.New("checkpoint: in use by a restore")
	ErrTokenNotFound      = errors.New("checkpoint: resume token not found")
	ErrTokenNotApproved   = errors.New("checkpoint: resume token not approved")
	ErrTokenRejected      = errors.New("checkpoint: resume token rejected")
	ErrTokenConsumed      = errors.New("checkpoint: resume token already consumed")
	ErrTokenExpired       = errors.New("checkpoint: resume token expired")
	ErrInvalidArgument    = errors.New("checkpoint: invalid argument")
)

// StorageError reports a failure of the storage boundary after retries.
type StorageError struct {
	Op       string
	ID       string
	Attempts int
	Err      error
}

// Error implements error.
func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("checkpoint storage %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("checkpoint storage %s %s failed after %d attempt(s): %v", e.Op, e.ID, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError reports a checkpoint or token that cannot be used.
type ValidationError struct {
	ID     string
	Reason string
	Err    error
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkpoint %s invalid: %s", e.ID, e.Reason)
}

// Unwrap returns the sentinel the failure matches, if any.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(id string, sentinel error, format string, args ...any) *ValidationError {
	return &ValidationError{ID: id, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

// storageErr wraps err unless it already is a *StorageError.
func storageErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, ID: id, Attempts: 1, Err: err}
}
