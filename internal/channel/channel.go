// Package channel defines the names and value types shared between the bridge
// and a host application shell: the command channel, its method names, the
// request/response shapes and the error values a command can produce.
package channel

import (
	"errors"
	"fmt"
)

// Command channel name. Must match the host shell exactly.
const MethodChannel = "com.muselog.muse/methods"

// Method names accepted on the command channel.
const (
	MethodRequestPermissions = "requestBluetoothPermissions"
	MethodStartScan          = "startDeviceScan"
	MethodStopScan           = "stopDeviceScan"
	MethodConnect            = "connectToDevice"
	MethodDisconnect         = "disconnectFromDevice"
	MethodStartStream        = "startDataStream"
	MethodStopStream         = "stopDataStream"
)

// ArgDeviceID is the argument key carrying the device identifier.
const ArgDeviceID = "deviceId"

// Error codes
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeScanError       = "SCAN_ERROR"
	CodeConnectionError = "CONNECTION_ERROR"
	CodeStreamError     = "STREAM_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// ErrNotImplemented is returned for method names the bridge does not know.
// It is a distinct signal, not a command failure.
var ErrNotImplemented = errors.New("method not implemented")

// Methods returns all method names in a stable order.
func Methods() []string {
	return []string{
		MethodRequestPermissions,
		MethodStartScan,
		MethodStopScan,
		MethodConnect,
		MethodDisconnect,
		MethodStartStream,
		MethodStopStream,
	}
}

// Call is a single request on the command channel.
type Call struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"args,omitempty"`
}

// NewCall builds a Call from alternating key/value pairs.
func NewCall(method string, kv ...any) *Call {
	c := &Call{Method: method}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if c.Arguments == nil {
			c.Arguments = make(map[string]any)
		}
		c.Arguments[key] = kv[i+1]
	}
	return c
}

// StringArgument returns the named argument if it is present and a string.
func (c *Call) StringArgument(key string) (string, bool) {
	if c == nil || c.Arguments == nil {
		return "", false
	}
	v, ok := c.Arguments[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Error is a command failure with a machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewError creates a command error
func NewError(code, message string, details any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is allows errors.Is to compare Error values by Code
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ErrInvalidArgument matches any INVALID_ARGUMENT error via errors.Is.
var ErrInvalidArgument = &Error{Code: CodeInvalidArgument}

// ErrDeviceIDRequired is returned when a device-scoped command lacks a deviceId.
func ErrDeviceIDRequired() *Error {
	return NewError(CodeInvalidArgument, "Device ID is required", nil)
}

// AsError extracts a *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}
