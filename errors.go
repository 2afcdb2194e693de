package chunkdataplane

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Code represents a high-level error category.
type Code string

const (
	CodeProtocolViolation Code = "protocol violation"
	CodeResourceExhausted Code = "resource exhausted"
	CodeTransientIO       Code = "transient i/o"
	CodeDNSFailure        Code = "dns failure"
	CodeStaleInode        Code = "stale inode"
	CodeNoValidCopies     Code = "no valid copies"
	CodeOutOfMemory       Code = "out of memory"
	CodeInvalidParameters Code = "invalid parameters"
)

// Error is the module's structured error type: an operation, its error
// category, an optional kernel errno, a human message, and an optional
// wrapped cause.
type Error struct {
	Op    string
	Code  Code
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("chunkdataplane: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("chunkdataplane: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison by Code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with no wrapped cause.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a structured error carrying a kernel errno.
func NewErrorWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// WrapError wraps an arbitrary error with operation context, mapping
// syscall.Errno values to a Code the way mapErrnoToCode does and DNS
// resolution failures to CodeDNSFailure.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ue.Code, Errno: ue.Errno, Msg: ue.Msg, Inner: ue.Inner}
	}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: inner.Error(), Inner: inner}
	}
	var dnsErr *net.DNSError
	if errors.As(inner, &dnsErr) {
		return &Error{Op: op, Code: CodeDNSFailure, Msg: inner.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: CodeTransientIO, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return CodeStaleInode
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidParameters
	case syscall.ENOMEM, syscall.ENOSPC:
		return CodeOutOfMemory
	case syscall.EAGAIN, syscall.EINTR:
		return CodeTransientIO
	default:
		return CodeTransientIO
	}
}

// IsCode reports whether err (or any error it wraps) carries the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Read-path sentinel status codes, kept as literal return values because
// the mount layer maps these to
// POSIX errnos directly, so they stay bare ints rather than becoming
// *Error values at the rpsm.Read/RefreshConnection boundary. Callers that
// want errors.Is-style handling get a *Error with a matching Code from
// AsError below.
const (
	StatusOK            = 0
	StatusGeneric       = -1
	StatusStaleInode    = -2
	StatusNoValidCopies = -3
	StatusOutOfMemory   = -4
)

// AsError converts an RPSM sentinel status into a *Error for callers that
// prefer errors.Is handling over a bare integer comparison.
func AsError(op string, status int) error {
	switch status {
	case StatusOK:
		return nil
	case StatusStaleInode:
		return NewError(op, CodeStaleInode, "inode no longer valid")
	case StatusNoValidCopies:
		return NewError(op, CodeNoValidCopies, "no valid chunk-server copies")
	case StatusOutOfMemory:
		return NewError(op, CodeOutOfMemory, "allocation failed")
	default:
		return NewError(op, CodeTransientIO, fmt.Sprintf("read failed with status %d", status))
	}
}
