package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below matches exactly one of these with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not authorized")
	ErrRuleConfig   = errors.New("rule configuration error")
	ErrStorage      = errors.New("storage error")
)

// ValidationError is returned for malformed payloads. Nothing is written when it occurs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when a referenced agent, action, incident, alert or indicator does not exist.
type NotFoundError struct {
	// Resource is the kind of entity, e.g. "agent"
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Is matches ErrNotFound, or another NotFoundError for the same resource.
// An empty Resource on the target matches any resource.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// AuthorizationError is returned when a requester may not issue an action.
type AuthorizationError struct {
	Requester string
	Action    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("requester %q is not allowed to issue %s", e.Requester, e.Action)
}

// Is reports whether target is ErrUnauthorized.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// RuleConfigError is a fatal problem in the declarative rule set.
type RuleConfigError struct {
	RuleID string
	Err    error
}

func (e *RuleConfigError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid rule configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid rule %q: %v", e.RuleID, e.Err)
}

func (e *RuleConfigError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRuleConfig.
func (e *RuleConfigError) Is(target error) bool {
	return target == ErrRuleConfig
}

// StorageError wraps a failure of the durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
