package cde

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransportClosed is returned for calls pending on a closed transport.
	ErrTransportClosed = errors.New("cde: transport closed")
	// ErrPingFailed is wrapped by a [ConnectionError] when the liveness check
	// does not return a literal true.
	ErrPingFailed = errors.New("cde: ping did not return true")
)

// ConnectionError reports a failed handshake or liveness check.
type ConnectionError struct {
	Stage string
	Err   error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("cde: connection failed during %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CdeError is an explicit application-level failure returned by the CDE.
// Headers carry provider-specific hints such as step-up redirect URLs.
type CdeError struct {
	Operation Operation
	Message   string
	Headers   map[string]string
}

// Error implements error.
func (e *CdeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Header returns the value stored under key, matched case-insensitively.
func (e *CdeError) Header(key string) string {
	if e == nil {
		return ""
	}
	if v, ok := e.Headers[key]; ok {
		return v
	}
	for k, v := range e.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// SchemaValidationError reports a CDE response that did not match the schema
// expected at the call site.
type SchemaValidationError struct {
	Operation Operation
	Err       error
}

// Error implements error.
func (e *SchemaValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("cde: %s response: %v", e.Operation, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *SchemaValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// errorEnvelope is the shape of an error reply body.
type errorEnvelope struct {
	ResponseType string            `json:"cde_response_type"`
	Message      string            `json:"message"`
	Headers      map[string]string `json:"headers,omitempty"`
}

const responseTypeError = "error"

// NewErrorBody renders a CDE error reply body. It is the counterpart of the
// detection performed by [Connection.Send].
func NewErrorBody(message string, headers map[string]string) ([]byte, error) {
	return json.Marshal(errorEnvelope{
		ResponseType: responseTypeError,
		Message:      message,
		Headers:      headers,
	})
}
