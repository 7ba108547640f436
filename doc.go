// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pdf parses the structural layer of a PDF document: its
// header, cross-reference data, trailer, and the graph of indirect
// objects they describe.
//
// A parsed document is a graph of Values, each of which has one of
// the following Kinds:
//
//	Null, for the null object.
//	Bool, for a boolean.
//	Integer, for an integer.
//	Real, for a floating-point number.
//	String, for a string.
//	Name, for a name constant (as in /Type).
//	Dict, for a dictionary of name-value pairs.
//	Array, for an array of values.
//	Stream, for an opaque byte stream and its header dictionary.
//
// Objects are materialized lazily: StartParse loads only the
// cross-reference data and trailer, and Value.Key/Index resolve
// indirect references on demand as a caller walks the graph. This
// package does not interpret what any dictionary or stream means —
// pages, fonts, content streams, and every other semantic structure
// built on top of the object graph are a different package's problem.
//
// Malformed or adversarial input is expected, not exceptional: when
// the cross-reference data cannot be trusted, StartParse falls back
// to a linear scan of the byte stream for object definitions (see
// rebuild.go) rather than failing outright.
package pdf
