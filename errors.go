package pdf

import (
	"fmt"

	"github.com/juju/errgo"
)

// Kind classifies the outcome of a top-level parse entry point, per
// the four-kind result taxonomy: Success is never carried by an error
// value (a nil error means success), so only the remaining three
// appear here.
type Kind int

const (
	// FormatError means the byte stream violates PDF syntax or
	// structure in a way rebuild-scan could not recover from.
	FormatError Kind = iota + 1
	// HandlerError means an internal invariant was violated: a byte
	// source failed, a limit was exceeded, or an object graph
	// invariant (e.g. missing security handler) was not met.
	HandlerError
	// PasswordError means the document is encrypted and the supplied
	// credentials (or lack of any) did not authenticate against the
	// security handler.
	PasswordError
)

func (k Kind) String() string {
	switch k {
	case FormatError:
		return "FormatError"
	case HandlerError:
		return "HandlerError"
	case PasswordError:
		return "PasswordError"
	default:
		return "UnknownError"
	}
}

// ParseError is the error type returned by every exported entry point
// (StartParse, OpenLinearized, LoadLinearizedMainXRefTable, ...).
// Internal helpers never construct one directly; they return plain
// errors wrapped with errgo, and a ParseError is assembled once, at
// the boundary, by classify.
type ParseError struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "readXrefTable"
	err  error  // underlying cause, already errgo-wrapped
}

func (e *ParseError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.err)
}

func (e *ParseError) Unwrap() error { return e.err }

func (e *ParseError) Cause() error { return errgo.Cause(e.err) }

// formatErrorf builds a plain, errgo-annotated error for a syntax or
// structural violation. Internal helpers call this; only the
// top-level entry points turn it into a *ParseError.
func formatErrorf(format string, args ...interface{}) error {
	return errgo.WithCausef(nil, errFormat, format, args...)
}

func handlerErrorf(format string, args ...interface{}) error {
	return errgo.WithCausef(nil, errHandler, format, args...)
}

func passwordErrorf(format string, args ...interface{}) error {
	return errgo.WithCausef(nil, errPassword, format, args...)
}

// wrapFormat gives err a FormatError cause via errgo.WithCausef,
// keeping err as the underlying error so errgo.Details still walks the
// full chain.
func wrapFormat(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errgo.WithCausef(err, errFormat, format, args...)
}

func wrapHandler(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errgo.WithCausef(err, errHandler, format, args...)
}

// Sentinel causes used only as errgo.Cause() targets; never compared
// with == outside this file.
var (
	errFormat   = errgo.New("format error")
	errHandler  = errgo.New("handler error")
	errPassword = errgo.New("password error")
)

// classify turns an internal, errgo-wrapped error into the *ParseError
// a top-level entry point returns. It is the only place plain errors
// cross into the 4-kind result type, matching the propagation policy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*ParseError); ok {
		return pe
	}
	kind := FormatError
	switch errgo.Cause(err) {
	case errHandler:
		kind = HandlerError
	case errPassword:
		kind = PasswordError
	case errFormat:
		kind = FormatError
	}
	return &ParseError{Kind: kind, Op: op, err: err}
}

// Details renders the full errgo cause chain, useful for diagnostics
// tooling such as cmd/pdfinspect.
func Details(err error) string {
	return errgo.Details(err)
}
