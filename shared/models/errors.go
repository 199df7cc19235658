package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a tenant or account does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateCode is returned when a tenant code is already taken
	ErrDuplicateCode = errors.New("tenant code already in use")
	// ErrDuplicateContactEmail is returned when another tenant uses the contact email
	ErrDuplicateContactEmail = errors.New("contact email already registered")
	// ErrDuplicateEmail is returned when an account with the email already exists
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrCodeCollisionExhausted is returned when no free tenant code was found
	ErrCodeCollisionExhausted = errors.New("could not allocate a unique tenant code")

	// ErrInvalidCredentials covers both unknown emails and wrong passwords
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidTenantCode is returned when the tenant code does not match the account
	ErrInvalidTenantCode = errors.New("invalid school code")
	// ErrInvalidSession is returned for missing, tampered or expired tokens
	ErrInvalidSession = errors.New("session is invalid or expired, please sign in again")
	// ErrTenantSuspended is returned when the school has been suspended
	ErrTenantSuspended = errors.New("school account is suspended")

	// ErrForbidden is returned when the actor may not perform the operation
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned for a disallowed tenant status change
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnavailable marks failures of a backing dependency; callers may retry
	ErrUnavailable = errors.New("service unavailable, please try again")
)

// ValidationError lists every field that failed validation
type ValidationError struct {
	Fields map[string][]string `json:"fields"`
}

// NewValidationError returns an empty validation error
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add records a message against field
func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = append(e.Fields[field], message)
}

// Empty reports whether no field failed
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// OrNil returns e when it holds failures, nil otherwise
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// ConflictError reports a uniqueness violation on a single field
type ConflictError struct {
	Field string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Conflict wraps err as a conflict on field
func Conflict(field string, err error) error {
	return &ConflictError{Field: field, Err: err}
}

// DependencyError wraps a failure of the store or another backing service
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Dependency wraps err as a dependency failure unless it is already a known
// domain error, which is returned unchanged.
func Dependency(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

var domainErrors = []error{
	ErrNotFound,
	ErrDuplicateCode,
	ErrDuplicateContactEmail,
	ErrDuplicateEmail,
	ErrCodeCollisionExhausted,
	ErrInvalidCredentials,
	ErrInvalidTenantCode,
	ErrInvalidSession,
	ErrTenantSuspended,
	ErrForbidden,
	ErrInvalidTransition,
	ErrUnavailable,
}

// IsDomainError reports whether err is one of the structured errors above
func IsDomainError(err error) bool {
	var (
		validation *ValidationError
		conflict   *ConflictError
	)
	if errors.As(err, &validation) || errors.As(err, &conflict) {
		return true
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
