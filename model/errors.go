package model

import "fmt"

// Standard error codes. Everything in this taxonomy is recovered at the
// dispatch coordinator boundary and turned into a user-visible notification;
// none of these terminate the process.
const (
	// ErrConnectivity: remote API unreachable or responded non-2xx.
	ErrConnectivity = "CONNECTIVITY_ERROR"
	// ErrTemplate: a path placeholder has no bound value. Surfaced before
	// any network call is attempted.
	ErrTemplate = "TEMPLATE_ERROR"
	// ErrDevice: MIDI port failed to open or faulted mid-stream.
	ErrDevice = "DEVICE_ERROR"
	// ErrParse: malformed array or JSON text in a parameter value.
	ErrParse = "PARSE_ERROR"
)

// ErrorEnvelope is the standard error shape carried through notifications.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Status carries the HTTP status code for connectivity errors, 0 otherwise.
	Status int `json:"status,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewConnectivityError returns a CONNECTIVITY_ERROR. status may be 0 when
// the failure happened before a response was received.
func NewConnectivityError(status int, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConnectivity, Message: msg, Status: status}
}

// NewTemplateError returns a TEMPLATE_ERROR for the named placeholder.
func NewTemplateError(placeholder string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTemplate,
		Message: fmt.Sprintf("path placeholder %q has no bound value", placeholder),
	}
}

// NewDeviceError returns a DEVICE_ERROR.
func NewDeviceError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDevice, Message: msg}
}

// NewParseError returns a PARSE_ERROR.
func NewParseError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrParse, Message: msg}
}
