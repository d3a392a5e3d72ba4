package engine

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError reports a malformed rule definition: bad condition or
// action shape, unknown operator/function, wrong operand arity, or a
// capacity limit being exceeded. Raised at create/update time where the
// problem is statically visible, otherwise at evaluation time for the
// offending rule only.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown rule or group id.
type NotFoundError struct {
	Kind string // "rule" or "group"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// DepthExceededError reports a condition tree deeper than the configured
// maximum. It aborts that rule's evaluation only, never the batch.
type DepthExceededError struct {
	RuleID string
	Depth  int
	Max    int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("condition depth %d exceeds maximum %d", e.Depth, e.Max)
}

// TimeoutError reports a function, custom operator or action call that
// exceeded its bound. Recorded per call site; never escalated to abort
// sibling actions or other rules.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
