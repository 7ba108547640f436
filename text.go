package pdf

import (
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// noRune marks a PDFDocEncoding code point with no Unicode mapping
// (0x9F, which ISO 32000-1 Annex D leaves undefined).
const noRune = rune(0xFFFD)

// pdfDocEncoding maps each byte 0x00-0xFF of PDFDocEncoding to its
// Unicode code point. It is identical to ISO Latin-1 (and so to
// plain ASCII) for 0x20-0x7E; the 0x18-0x1F band and 0x80-0xA0
// differ, matching ISO 32000-1 Annex D.
var pdfDocEncoding = buildPDFDocEncoding()

func buildPDFDocEncoding() [256]rune {
	var t [256]rune
	for i := range t {
		t[i] = rune(i)
	}
	for i := 0x18; i <= 0x1F; i++ {
		t[i] = noRune
	}
	// Annex D's deviations from Latin-1, low band and high range.
	overrides := map[byte]rune{
		0x18: 0x02D8, 0x19: 0x02C7, 0x1A: 0x02C6, 0x1B: 0x02D9,
		0x1C: 0x02DD, 0x1D: 0x02DB, 0x1E: 0x02DA, 0x1F: 0x02DC,
		0x80: 0x2022, 0x81: 0x2020, 0x82: 0x2021, 0x83: 0x2026,
		0x84: 0x2014, 0x85: 0x2013, 0x86: 0x0192, 0x87: 0x2044,
		0x88: 0x2039, 0x89: 0x203A, 0x8A: 0x2212, 0x8B: 0x2030,
		0x8C: 0x201E, 0x8D: 0x201C, 0x8E: 0x201D, 0x8F: 0x2018,
		0x90: 0x2019, 0x91: 0x201A, 0x92: 0x2122, 0x93: 0xFB01,
		0x94: 0xFB02, 0x95: 0x0141, 0x96: 0x0152, 0x97: 0x0160,
		0x98: 0x0178, 0x99: 0x017D, 0x9A: 0x0131, 0x9B: 0x0142,
		0x9C: 0x0153, 0x9D: 0x0161, 0x9E: 0x017E, 0x9F: noRune,
		0xA0: 0x20AC,
	}
	for b, r := range overrides {
		t[b] = r
	}
	return t
}

// isPDFDocEncoded reports whether s decodes cleanly as PDFDocEncoding
// (as opposed to a UTF-16BE string carrying the 0xFEFF BOM).
func isPDFDocEncoded(s string) bool {
	if isUTF16BOM(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if pdfDocEncoding[s[i]] == noRune {
			return false
		}
	}
	return true
}

// decodePDFDocEncoding converts a PDFDocEncoding-encoded byte string
// into a Go string, passing ASCII through untouched.
func decodePDFDocEncoding(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 || pdfDocEncoding[s[i]] != rune(s[i]) {
			goto decode
		}
	}
	return s

decode:
	r := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		c := pdfDocEncoding[s[i]]
		if c == noRune {
			c = 0xFFFD
		}
		r[i] = c
	}
	return string(r)
}

// isUTF16BOM reports whether s begins with the big-endian UTF-16 byte
// order mark PDF text strings use to signal a wide encoding (ISO
// 32000-1 §7.9.2.2).
func isUTF16BOM(s string) bool {
	return len(s) >= 2 && s[0] == 0xFE && s[1] == 0xFF && len(s)%2 == 0
}

// decodeUTF16BE decodes a UTF-16BE string (including its leading BOM)
// to a normalized Go string. Normalization runs through golang.org/x/
// text/unicode/norm's NFKC form, since PDF producers are inconsistent
// about precomposed vs. decomposed forms for accented Latin text and
// downstream consumers expect a canonical shape.
func decodeUTF16BE(s string) string {
	if len(s) >= 2 && s[0] == 0xFE && s[1] == 0xFF {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		s = s[:len(s)-1]
	}
	u := make([]uint16, len(s)/2)
	for i := range u {
		u[i] = uint16(s[2*i])<<8 | uint16(s[2*i+1])
	}
	return norm.NFKC.String(string(utf16.Decode(u)))
}

// decodeTextString applies the ISO 32000-1 §7.9.2.2 text-string
// decode rule: a leading UTF-16BE BOM selects wide decoding, anything
// else is PDFDocEncoding. This is what Value.Text uses for string
// leaves under keys the format designates as text strings (not
// arbitrary byte strings, which RawString returns untouched).
func decodeTextString(s string) string {
	if isUTF16BOM(s) {
		return decodeUTF16BE(s)
	}
	return decodePDFDocEncoding(s)
}
