package pdf

import (
	"bytes"
)

// fileVersion is the "%PDF-M.N" declared in the document header
// (spec §3.4). It has no bearing on parsing decisions in this module
// beyond header detection; consumers may use it for their own
// compatibility policy.
type fileVersion struct {
	Major int
	Minor int
}

func (v fileVersion) String() string {
	return string(rune('0'+v.Major)) + "." + string(rune('0'+v.Minor))
}

var pdfSignature = []byte("%PDF-")

// pdfHeaderSize is the byte length of the shortest possible header
// ("%PDF-M.N" plus its line terminator). No object, and no xref
// section, can start below this offset.
const pdfHeaderSize = 9

// findHeader searches the first window bytes of data for the "%PDF-"
// signature and returns its offset and declared version. Per spec
// §4.1.1, the header need not be at offset 0 (some producers prepend
// bytes) but a search that never terminates is not acceptable, hence
// the bounded window.
func findHeader(data []byte, window int64) (offset int64, ver fileVersion, ok bool) {
	limit := int64(len(data))
	if window > 0 && window < limit {
		limit = window
	}
	idx := bytes.Index(data[:limit], pdfSignature)
	if idx < 0 {
		return 0, fileVersion{}, false
	}
	verStart := idx + len(pdfSignature)
	if verStart+3 > len(data) {
		return int64(idx), fileVersion{}, false
	}
	major := data[verStart]
	dot := data[verStart+1]
	minor := data[verStart+2]
	if major < '0' || major > '9' || dot != '.' || minor < '0' || minor > '9' {
		return int64(idx), fileVersion{}, false
	}
	return int64(idx), fileVersion{Major: int(major - '0'), Minor: int(minor - '0')}, true
}

// isLinearizedHint reports whether the "/Linearized" key appears
// within the first window bytes of data. StartParse records the result
// as Document.IsLinearizedHint; OpenLinearized does not use it and
// parses the linearization dictionary itself. It is a substring probe,
// not a full parse, so a "/Linearized" anywhere in the window counts.
func isLinearizedHint(data []byte, window int64) bool {
	limit := int64(len(data))
	if window > 0 && window < limit {
		limit = window
	}
	return bytes.Contains(data[:limit], []byte("/Linearized"))
}
