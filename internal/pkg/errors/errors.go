// Package errors provides coded errors for the render job service.
// Codes map to HTTP statuses; wrapping keeps the operation, fields and a short stack.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code is the machine-readable error code sent in the response envelope.
type Code string

const (
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeTimeout       Code = "TIMEOUT"
	CodeUnavailable   Code = "UNAVAILABLE"
	CodeUpstream      Code = "UPSTREAM_ERROR"
	CodeNotConfigured Code = "NOT_CONFIGURED"
	CodeRenderBlocked Code = "RENDER_BLOCKED"
)

var codeStatus = map[Code]int{
	CodeValidation:    http.StatusBadRequest,
	CodeUnauthorized:  http.StatusUnauthorized,
	CodeRenderBlocked: http.StatusConflict,
	CodeUpstream:      http.StatusBadGateway,
	CodeUnavailable:   http.StatusServiceUnavailable,
	CodeTimeout:       http.StatusGatewayTimeout,
}

type Error struct {
	Code    Code
	Message string
	// Op names the failing operation, e.g. "renderjobs.register".
	Op string
	// Status overrides the status derived from Code when non-zero.
	// Used to relay the render worker's status verbatim.
	Status int
	Err    error
	Fields map[string]any
	Stack  []Frame
}

type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error renders "op: [CODE] message: cause", omitting empty parts.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so sentinel values like
// renderworker.ErrNotConfigured compare equal to fresh copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack(2)}
}

// Wrap adds op and message to err. A coded cause keeps its code, status and fields;
// anything else becomes CodeInternal.
func Wrap(err error, op, message string) *Error {
	if err == nil {
		return nil
	}
	out := &Error{Code: CodeInternal, Message: message, Op: op, Err: err, Stack: captureStack(2)}
	var e *Error
	if errors.As(err, &e) {
		out.Code, out.Status, out.Fields = e.Code, e.Status, e.Fields
	}
	return out
}

func WrapWithCode(err error, code Code, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Op: op, Err: err, Stack: captureStack(2)}
}

func ValidationField(field, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

// Timeout reports that operation ran out of its request deadline.
func Timeout(operation string) *Error {
	return New(CodeTimeout, "request timed out").WithField("operation", operation)
}

// Unavailable wraps a backend failure, such as Redis being unreachable.
func Unavailable(err error, op, backend string) *Error {
	return WrapWithCode(err, CodeUnavailable, op, backend+" unavailable").WithField("backend", backend)
}

// Upstream reports a failed render worker call. A non-zero status is relayed
// as the HTTP status; zero means 502.
func Upstream(service string, status int, message string) *Error {
	return New(CodeUpstream, message).WithField("service", service).WithStatus(status)
}

func NotConfigured(message string) *Error {
	return New(CodeNotConfigured, message)
}

// RenderBlocked names the job holding the model/variant slot.
func RenderBlocked(blockingJobID string) *Error {
	return New(CodeRenderBlocked, "another render for this model variant is still active").
		WithField("blockingJobId", blockingJobID)
}

// GetCode returns err's code, CodeInternal for uncoded errors.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// captureStack keeps up to ten non-runtime frames above the caller.
func captureStack(skip int) []Frame {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]Frame, 0, 10)
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more || len(out) >= 10 {
			break
		}
	}
	return out
}

// As and Is let callers import only this package.
func As(err error, target any) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }
