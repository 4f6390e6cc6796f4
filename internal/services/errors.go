package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/huangang/reviewiq/internal/store"
	"github.com/huangang/reviewiq/pkg/response"
)

// FieldError is one failed input constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failed constraint of a rejected input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StoreError wraps a persistence failure that must surface as a server error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

type FailureReason string

const (
	FailureMissingCredentials FailureReason = "missing_credentials"
	FailureTimeout            FailureReason = "timeout"
	FailureMalformed          FailureReason = "malformed_response"
	FailureTransport          FailureReason = "transport"
)

// ClassifierFailure is the only error a Classifier returns. It is never fatal.
type ClassifierFailure struct {
	Reason FailureReason
	Err    error
}

func (e *ClassifierFailure) Error() string {
	if e.Err == nil {
		return "classifier " + string(e.Reason)
	}
	return fmt.Sprintf("classifier %s: %v", e.Reason, e.Err)
}

func (e *ClassifierFailure) Unwrap() error { return e.Err }

var (
	ErrReviewNotFound   = errors.New("review not found")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrAlreadyResponded = errors.New("review already responded")
	ErrSyncUnavailable  = errors.New("external review source not configured")
)

// ToAppError maps service errors onto HTTP-facing errors.
func ToAppError(err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		details := make([]string, 0, len(vErr.Fields))
		for _, f := range vErr.Fields {
			details = append(details, f.Field+": "+f.Message)
		}
		return response.NewValidation("validation failed", details)
	}

	switch {
	case errors.Is(err, ErrReviewNotFound), errors.Is(err, ErrBranchNotFound), errors.Is(err, store.ErrNotFound):
		return response.NewNotFound(err.Error())
	case errors.Is(err, ErrAlreadyResponded):
		return response.NewConflict(err.Error())
	case errors.Is(err, ErrSyncUnavailable):
		return &response.AppError{HTTPStatus: http.StatusServiceUnavailable, Code: 503, Message: err.Error()}
	}

	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return response.NewServerError("internal server error")
}
