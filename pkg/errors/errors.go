package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies pipeline failures and drives retry decisions
type ErrorType string

const (
	// ErrorTypeNetwork represents transient network failures (retryable)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTerminal represents non-retryable HTTP failures such as 404
	ErrorTypeTerminal ErrorType = "terminal"
	// ErrorTypeParsing represents HTML or artifact parsing failures
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeRateLimit represents site-side throttling (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeSchema represents warehouse schema failures (fatal for load)
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeConnection represents lost warehouse connectivity (fatal for load)
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeValidation represents record-level validation failures
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// PipelineError is the error carried between pipeline stages
type PipelineError struct {
	Type    ErrorType
	Site    string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Site, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Site, e.Message)
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if a retry with backoff may succeed
func (e *PipelineError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// New creates a new PipelineError
func New(errType ErrorType, site, message string, err error) *PipelineError {
	return &PipelineError{
		Type:    errType,
		Site:    site,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewNetwork creates a transient network error
func NewNetwork(site, message string, err error) *PipelineError {
	return New(ErrorTypeNetwork, site, message, err)
}

// NewTerminal creates a non-retryable fetch error
func NewTerminal(site, message string, err error) *PipelineError {
	return New(ErrorTypeTerminal, site, message, err)
}

// NewParsing creates a parsing error
func NewParsing(site, message string, err error) *PipelineError {
	return New(ErrorTypeParsing, site, message, err)
}

// NewRateLimit creates a rate limit error for a site blocked for duration
func NewRateLimit(site string, duration time.Duration) *PipelineError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, site, message, nil)
}

// NewSchema creates a warehouse schema error
func NewSchema(message string, err error) *PipelineError {
	return New(ErrorTypeSchema, "warehouse", message, err)
}

// NewConnection creates a warehouse connection error
func NewConnection(message string, err error) *PipelineError {
	return New(ErrorTypeConnection, "warehouse", message, err)
}

// NewValidation creates a record validation error
func NewValidation(site, message string) *PipelineError {
	return New(ErrorTypeValidation, site, message, nil)
}

// NewConfiguration creates a configuration error
func NewConfiguration(message string, err error) *PipelineError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// Retryable reports whether err is a retryable PipelineError
func Retryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return false
}

// TypeOf returns the ErrorType of err, or "" when err is not a PipelineError
func TypeOf(err error) ErrorType {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ""
}
