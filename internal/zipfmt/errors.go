package zipfmt

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure the way the engine's callers need to map it
// onto a process exit code. The zero value is OK: a nil *Error always means
// success, never an error with an unset kind.
type ErrorKind int

const (
	KindOK ErrorKind = iota
	KindUsage
	KindIO
	KindOOM
	KindNoFiles
	KindNotImplemented
	KindPasswordRequired
	KindBadPassword
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindUsage:
		return "USAGE"
	case KindIO:
		return "IO"
	case KindOOM:
		return "OOM"
	case KindNoFiles:
		return "NO_FILES"
	case KindNotImplemented:
		return "NOT_IMPLEMENTED"
	case KindPasswordRequired:
		return "PASSWORD_REQUIRED"
	case KindBadPassword:
		return "BAD_PASSWORD"
	default:
		return "UNKNOWN"
	}
}

// maxMessageLen bounds the human-readable message carried by an Error, per
// the context/status model's fixed-capacity message buffer (spec §4.10).
const maxMessageLen = 255

// Error is the engine's single error type. Kind drives exit-code mapping at
// the CLI boundary; Message is truncated to maxMessageLen bytes so it can
// live in a fixed-capacity buffer the way the source context does.
type Error struct {
	Kind    ErrorKind
	Message string
	Path    string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// newError builds an *Error, truncating Message to the fixed capacity.
func newError(kind ErrorKind, path string, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return &Error{Kind: kind, Message: msg, Path: path, Cause: cause}
}

func usageErrorf(path string, format string, args ...any) *Error {
	return newError(KindUsage, path, nil, format, args...)
}

func ioErrorf(path string, cause error, format string, args ...any) *Error {
	return newError(KindIO, path, cause, format, args...)
}

func noFilesErrorf(format string, args ...any) *Error {
	return newError(KindNoFiles, "", nil, format, args...)
}

func notImplementedErrorf(path string, format string, args ...any) *Error {
	return newError(KindNotImplemented, path, nil, format, args...)
}

func passwordRequiredErrorf(path string) *Error {
	return newError(KindPasswordRequired, path, nil, "password required")
}

func badPasswordErrorf(path string) *Error {
	return newError(KindBadPassword, path, nil, "bad password")
}

// KindOf unwraps err looking for a *zipfmt.Error and returns its Kind. A nil
// error reports KindOK; a foreign error reports KindIO, since most callers
// reach this path only after something has already gone wrong at the I/O
// boundary.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindOK
	}
	var zerr *Error
	if errors.As(err, &zerr) {
		return zerr.Kind
	}
	return KindIO
}
