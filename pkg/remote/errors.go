package remote

import (
	"errors"
	"fmt"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
)

// RPC error codes a wire backend reports.
const (
	CodeParse           = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternal        = -32603
	CodeNoRows          = -32004
	CodeMultipleRows    = -32005
	CodeUnknownProc     = -32006
	CodeBackendRejected = -32000
)

// RPCError represents an error reported by a remote backend.
type RPCError struct {
	Code        int    `json:"code"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
}

func (r RPCError) Error() string {
	if r.Description != "" {
		return r.Description
	}
	return r.Message
}

func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}
	switch r.Code {
	case CodeNoRows:
		return target == constants.ErrNoRows
	case CodeMultipleRows:
		return target == constants.ErrMultipleRows
	case CodeUnknownProc:
		return target == constants.ErrUnknownProcedure
	case CodeInvalidParams:
		if target == constants.ErrInvalidQuery {
			return true
		}
	}
	_, ok := target.(*RPCError)
	return ok
}

// ToRPCError maps a backend error onto its wire representation.
func ToRPCError(err error) *RPCError {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, constants.ErrNoRows):
		return &RPCError{Code: CodeNoRows, Message: err.Error()}
	case errors.Is(err, constants.ErrMultipleRows):
		return &RPCError{Code: CodeMultipleRows, Message: err.Error()}
	case errors.Is(err, constants.ErrUnknownProcedure):
		return &RPCError{Code: CodeUnknownProc, Message: err.Error()}
	case errors.Is(err, constants.ErrInvalidQuery):
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return &RPCError{Code: CodeBackendRejected, Message: err.Error()}
}

// IsNoRows reports the expected-absence outcome of a single-row read.
func IsNoRows(err error) bool {
	return errors.Is(err, constants.ErrNoRows)
}

// ReadError is a failed read (RemoteReadFailure).
type ReadError struct {
	Table string
	Err   error
}

func (e *ReadError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("remote read failed: %v", e.Err)
	}
	return fmt.Sprintf("remote read of %s failed: %v", e.Table, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError is a write rejected by the backend (RemoteWriteFailure):
// constraint violation, permission denial or transport failure.
type WriteError struct {
	Op    string
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("remote %s on %s failed: %v", e.Op, e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
