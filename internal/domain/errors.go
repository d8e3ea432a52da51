package domain

import (
	"fmt"
	"strings"
)

// Violation is one input problem on a form field.
type Violation struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Violations collects every input problem found so all of them can be shown at once.
type Violations []Violation

func (v Violations) Error() string {
	msgs := make([]string, 0, len(v))
	for _, item := range v {
		msgs = append(msgs, item.Message)
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether a violation with the given code is present.
func (v Violations) Has(code string) bool {
	for _, item := range v {
		if item.Code == code {
			return true
		}
	}
	return false
}

// ExecutionErrorKind classifies why the payments backend did not settle a movement.
type ExecutionErrorKind string

const (
	ExecRejected      ExecutionErrorKind = "rejected"
	ExecStaleSnapshot ExecutionErrorKind = "stale_snapshot"
	ExecTimeout       ExecutionErrorKind = "timeout"
	ExecNetwork       ExecutionErrorKind = "network"
	ExecUnavailable   ExecutionErrorKind = "unavailable"
	ExecUnexpected    ExecutionErrorKind = "unexpected"
)

// ExecutionError is the failure of one execution attempt.
// Reason holds the backend's message verbatim.
type ExecutionError struct {
	Kind   ExecutionErrorKind `json:"kind"`
	Code   string             `json:"code,omitempty"`
	Reason string             `json:"reason"`
	Status int                `json:"status,omitempty"`
	// OutcomeUnknown is set when the request may have reached the backend,
	// so the movement may or may not have happened.
	OutcomeUnknown bool `json:"outcome_unknown"`
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("execution %s (%s): %s", e.Kind, e.Code, e.Reason)
	}
	return fmt.Sprintf("execution %s: %s", e.Kind, e.Reason)
}

// Stale reports whether the backend rejected a movement the local snapshot allowed.
func (e *ExecutionError) Stale() bool {
	return e != nil && e.Kind == ExecStaleSnapshot
}
