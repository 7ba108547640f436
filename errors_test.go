package pdf

import (
	"errors"
	"testing"
)

func TestClassifyMapsSentinelCauses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"format", formatErrorf("bad token"), FormatError},
		{"handler", handlerErrorf("byte source failed"), HandlerError},
		{"password", passwordErrorf("no password authenticated"), PasswordError},
		{"plain error defaults to format", errors.New("unclassified"), FormatError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			pe, ok := got.(*ParseError)
			if !ok {
				t.Fatalf("classify returned %T, want *ParseError", got)
			}
			if pe.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", pe.Kind, tt.want)
			}
		})
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if got := classify("op", nil); got != nil {
		t.Errorf("classify(op, nil) = %v, want nil", got)
	}
}

func TestClassifyPassesThroughExistingParseError(t *testing.T) {
	inner := &ParseError{Kind: PasswordError, Op: "inner", err: errPassword}
	got := classify("outer", inner)
	if got != inner {
		t.Errorf("classify must not re-wrap an existing *ParseError")
	}
}

func TestParseErrorErrorAndUnwrap(t *testing.T) {
	pe := &ParseError{Kind: FormatError, Op: "readXrefTable", err: formatErrorf("truncated table")}
	if got := pe.Error(); got == "" {
		t.Fatal("Error() returned empty string")
	}
	if pe.Unwrap() == nil {
		t.Error("Unwrap() returned nil, want the wrapped cause")
	}
}

func TestParseErrorCauseIsSentinel(t *testing.T) {
	pe := classify("op", wrapHandler(errors.New("mmap failed"), "opening source")).(*ParseError)
	if pe.Cause() != errHandler {
		t.Errorf("Cause() = %v, want errHandler", pe.Cause())
	}
}

func TestWrapFormatNilIsNil(t *testing.T) {
	if wrapFormat(nil, "whatever") != nil {
		t.Error("wrapFormat(nil, ...) must return nil")
	}
	if wrapHandler(nil, "whatever") != nil {
		t.Error("wrapHandler(nil, ...) must return nil")
	}
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		FormatError:   "FormatError",
		HandlerError:  "HandlerError",
		PasswordError: "PasswordError",
		Kind(99):      "UnknownError",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestDetailsIncludesMessage(t *testing.T) {
	err := wrapFormat(errors.New("root cause"), "context")
	if got := Details(err); got == "" {
		t.Error("Details() returned empty string")
	}
}
