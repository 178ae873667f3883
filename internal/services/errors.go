package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound                = errors.New("link not found")
	ErrGone                    = errors.New("link is no longer available")
	ErrSlugTaken               = errors.New("slug is already taken")
	ErrSlugGenerationExhausted = errors.New("could not generate a unique slug, please try again")
	ErrPremiumRequired         = errors.New("this feature requires a premium account. Please upgrade to access password protection")
	ErrValidationUnavailable   = errors.New("url validation service is unavailable")
	ErrInvalidPassword         = errors.New("invalid password")
	ErrForbidden               = errors.New("you do not own this link")
	ErrCorruptDestination      = errors.New("stored destination url is malformed")
	ErrWeakPepper              = errors.New("APP_PEPPER must be set to a non-default secret")
)

// ValidationError carries per-field messages for malformed input.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {msg}}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msgs := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// UnsafeURLError is returned when the safety pipeline rejects a destination.
type UnsafeURLError struct {
	Errors   []string
	Warnings []string
}

func (e *UnsafeURLError) Error() string {
	return "url failed safety checks: " + strings.Join(e.Errors, "; ")
}

// RateLimitError describes the window that rejected a request.
type RateLimitError struct {
	Decision Decision
}

func (e *RateLimitError) Error() string {
	return e.Decision.Message
}

// RetryAfter is the time until the rejecting window resets.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.Decision.RetryAfter
}
