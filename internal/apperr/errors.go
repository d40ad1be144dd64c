// Package apperr holds the error kinds shared by the payment, enrollment and
// invoice packages. Each kind carries the identifiers needed to reconcile the
// failure against the store or the gateway.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError rejects a malformed request before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validation wraps a sentinel into a ValidationError for field.
func Validation(field string, err error) error {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

func NotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

type InvalidTransitionError struct {
	PaymentID string
	IntentID  string
	From      string
	To        string
}

func (e *InvalidTransitionError) Error() string {
	var ref []string
	if e.PaymentID != "" {
		ref = append(ref, "payment="+e.PaymentID)
	}
	if e.IntentID != "" {
		ref = append(ref, "intent="+e.IntentID)
	}
	msg := fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	if len(ref) > 0 {
		msg += " (" + strings.Join(ref, ", ") + ")"
	}
	return msg
}

// ConflictError means a concurrent writer won; the caller may retry.
type ConflictError struct {
	Resource string
	Key      string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Key)
}

func (e *ConflictError) Unwrap() error { return e.Err }

type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s failed", e.Op)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

type NotEligibleError struct {
	PaymentID string
	Reason    string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("payment %s not eligible for invoicing: %s", e.PaymentID, e.Reason)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsGateway(err error) bool {
	var target *GatewayError
	return errors.As(err, &target)
}

func IsNotEligible(err error) bool {
	var target *NotEligibleError
	return errors.As(err, &target)
}
