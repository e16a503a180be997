package ojs

import (
	"errors"
	"strings"
)

// ErrorType groups errors by the layer that produced them.
type ErrorType string

const (
	ConfigurationError ErrorType = "configuration_error" // Invalid Config or programmer error.
	ProtocolError      ErrorType = "protocol_error"      // Malformed or unexpected cross-frame message.
	CheckoutError      ErrorType = "checkout_error"      // A payment attempt failed.
	ValidationError    ErrorType = "validation_error"    // Form fields failed validation.
)

// ErrorCode is a machine-readable identifier for the specific failure.
type ErrorCode string

const (
	InvalidConfig          ErrorCode = "invalid_config"
	FormDestroyed          ErrorCode = "form_destroyed"
	FormNotLoaded          ErrorCode = "form_not_loaded"
	SubmitInProgress       ErrorCode = "submit_in_progress"
	UnknownFlow            ErrorCode = "unknown_flow"
	FlowUnavailable        ErrorCode = "flow_unavailable"
	FlowNotReady           ErrorCode = "flow_not_ready"
	MissingPaymentMethod   ErrorCode = "missing_payment_method"
	AmbiguousPaymentMethod ErrorCode = "ambiguous_payment_method"
	MissingElement         ErrorCode = "missing_element"
	InvalidFields          ErrorCode = "invalid_fields"
	UserCancelled          ErrorCode = "user_cancelled"
	PaymentDeclined        ErrorCode = "payment_declined"
	UnexpectedResult       ErrorCode = "unexpected_result"
	Unexpected             ErrorCode = "unexpected"
	WalletUnavailable      ErrorCode = "wallet_unavailable"
	RedirectMissing        ErrorCode = "redirect_missing"
)

// ErrSingletonAlreadySet is returned when a per-form singleton is assigned twice.
var ErrSingletonAlreadySet = errors.New("ojs: singleton already set")

// FieldError lists the issues found on one form field.
type FieldError struct {
	Field     string
	Errors    []string
	ElementID string
}

// Error is the structured error returned by forms and flows.
type Error struct {
	Type    ErrorType
	Code    ErrorCode
	Message string
	Fields  []FieldError

	cause error
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if e == nil || !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code == e.Code
}

type errorOption func(*Error)

// WithCause records the underlying error.
func WithCause(err error) errorOption {
	return func(e *Error) {
		e.cause = err
	}
}

// WithFields attaches field-level issues.
func WithFields(fields ...FieldError) errorOption {
	return func(e *Error) {
		e.Fields = append(e.Fields, fields...)
	}
}

// NewConfigurationError builds an error for invalid configuration.
func NewConfigurationError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(ConfigurationError, code, message, opts...)
}

// NewCheckoutError builds an error describing a failed payment attempt.
func NewCheckoutError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(CheckoutError, code, message, opts...)
}

// NewValidationError builds an error for invalid form fields.
func NewValidationError(fields []FieldError, opts ...errorOption) *Error {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	message := "Please check the following fields: " + strings.Join(names, ", ")
	return newError(ValidationError, InvalidFields, message, append([]errorOption{WithFields(fields...)}, opts...)...)
}

// ParseError reports an envelope that could not be decoded or failed its schema.
type ParseError struct {
	Err error
}

// Error implements error.
func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return "ojs: parse envelope: " + e.Err.Error()
}

// Unwrap exposes the underlying cause.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// newError builds a typed error.
func newError(typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	err := &Error{
		Type:    typ,
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(err)
	}
	return err
}
