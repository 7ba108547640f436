package pdf

import (
	"fmt"
	"testing"
)

func TestRebuildSkipsObjLikeTextInsideLiteralString(t *testing.T) {
	header := "%PDF-1.7\n"
	// A content stream string literal containing "3 0 obj"-shaped text;
	// the byte scan must not mistake it for a real indirect object.
	obj1 := "1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n"
	obj2 := "2 0 obj\n<< /Type /Pages /Kids [] /Count 0 /Junk (3 0 obj) >>\nendobj\n"
	trailer := "trailer\n<< /Root 1 0 R >>\n"
	data := header + obj1 + obj2 + trailer
	// No startxref/xref at all: forces rebuild-scan unconditionally.

	d := openTestPDF(t, data, DefaultOptions())
	if !d.WasRebuilt() {
		t.Fatal("a file with no xref/trailer at all must trigger rebuild-scan")
	}
	if _, ok := d.xref.GetObjectInfo(3); ok {
		t.Error("object 3 must not be recorded: it only ever appears inside a literal string, never as a real \"3 0 obj\"")
	}
	if got := d.RootObjnum(); got != 1 {
		t.Errorf("RootObjnum() after rebuild = %d, want 1", got)
	}
}

func TestRebuildSkipsObjLikeTextInsideHexString(t *testing.T) {
	header := "%PDF-1.7\n"
	obj1 := "1 0 obj\n<< /Type /Catalog /Marker <332030206f626a> >>\nendobj\n"
	trailer := "trailer\n<< /Root 1 0 R >>\n"
	data := header + obj1 + trailer

	d := openTestPDF(t, data, DefaultOptions())
	if !d.WasRebuilt() {
		t.Fatal("a file with no xref/trailer at all must trigger rebuild-scan")
	}
	if _, ok := d.xref.GetObjectInfo(3); ok {
		t.Error("object 3 must not be recorded: \"3 0 obj\" only appears hex-encoded inside a string")
	}
}

func TestRebuildRecoversObjectInsideObjectStream(t *testing.T) {
	header := "%PDF-1.7\n"
	// Object 1 is the catalog; object 9 is an object stream containing
	// object 10 (a Font dict) as its sole compressed member. No xref
	// or trailer at all, so rebuild-scan is the only path to either.
	obj1 := "1 0 obj\n<< /Type /Catalog >>\nendobj\n"
	objStmBody := "10 0\n<< /Type /Font /Subtype /Type1 >>"
	obj9 := fmt.Sprintf(
		"9 0 obj\n<< /Type /ObjStm /N 1 /First 5 /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		len(objStmBody), objStmBody,
	)
	trailer := "trailer\n<< /Root 1 0 R >>\n"
	data := header + obj1 + obj9 + trailer

	d := openTestPDF(t, data, DefaultOptions())
	if !d.WasRebuilt() {
		t.Fatal("a file with no xref/trailer at all must trigger rebuild-scan")
	}

	entry, ok := d.xref.GetObjectInfo(10)
	if !ok {
		t.Fatal("rebuild-scan must recover object 10 from inside the object stream's compressed-object table")
	}
	if entry.Kind != xrefCompressed || entry.Stream != 9 {
		t.Fatalf("object 10's entry = %+v, want Kind=Compressed Stream=9", entry)
	}

	v := d.resolve(objptr{}, objptr{id: 10})
	if got := v.Key("Subtype").Name(); got != "Type1" {
		t.Errorf("recovered object 10 Subtype = %q, want %q", got, "Type1")
	}
}

func TestRebuildRecognizesXRefStreamContainerWithoutOverridingScannedEntries(t *testing.T) {
	header := "%PDF-1.7\n"
	obj1 := "1 0 obj\n<< /Type /Catalog >>\nendobj\n"
	obj2 := "2 0 obj\n<< /Marker (present) >>\nendobj\n"
	off2 := int64(len(header + obj1))

	var body []byte
	body = append(body, beBytes(1, 1)...) // claims object 2: normal at off2
	body = append(body, beBytes(off2, 2)...)
	body = append(body, beBytes(0, 1)...)
	xrefObj := fmt.Sprintf(
		"3 0 obj\n<< /Type /XRef /W [1 2 1] /Index [2 1] /Size 4 /Length %d >>\nstream\n",
		len(body),
	) + string(body) + "\nendstream\nendobj\n"

	trailer := "trailer\n<< /Root 1 0 R >>\n"
	// No startxref: the primary xref stream is unreachable except via
	// rebuild-scan finding object 3 as a plain "N G obj" and then
	// recognizing its /Type /XRef and decoding the table it declares.
	// Object 2 was already recorded directly by the byte scan, so the
	// container's claim about it (spec §4.1.5, "first-found wins")
	// must not disturb the existing entry.
	data := header + obj1 + obj2 + xrefObj + trailer

	d := openTestPDF(t, data, DefaultOptions())
	if !d.WasRebuilt() {
		t.Fatal("a file with no startxref must trigger rebuild-scan")
	}
	entry, ok := d.xref.GetObjectInfo(2)
	if !ok || entry.Kind != xrefNormal || entry.Offset != off2 {
		t.Fatalf("object 2 entry = %+v (ok=%v), want Kind=Normal Offset=%d from the direct byte scan", entry, ok, off2)
	}
	if marker := d.resolve(objptr{}, objptr{id: 2}).Key("Marker").Text(); marker != "present" {
		t.Errorf("object 2 Marker = %q, want %q", marker, "present")
	}
}

// TestRebuildRecoversTrailerFromXRefStreamDict covers a file whose
// every revision uses cross-reference streams: there is no "trailer"
// keyword anywhere, so /Root can only come from a /Type /XRef
// stream's header dictionary, which the rebuild enrollment pass must
// surface as a discovered trailer.
func TestRebuildRecoversTrailerFromXRefStreamDict(t *testing.T) {
	header := "%PDF-1.5\n"
	obj1 := "1 0 obj\n<< /Type /Catalog >>\nendobj\n"
	off1 := int64(len(header))

	body := string(beBytes(1, 1)) + string(beBytes(off1, 2)) + string(beBytes(0, 1))
	xrefObj := fmt.Sprintf(
		"3 0 obj\n<< /Type /XRef /W [1 2 1] /Index [1 1] /Size 4 /Root 1 0 R /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		len(body), body,
	)

	// startxref names an offset past end of file, so the declared
	// cross-reference stream is unreachable except through rebuild.
	data := header + obj1 + xrefObj + "startxref\n99999999\n%%EOF\n"

	d := openTestPDF(t, data, DefaultOptions())
	if !d.WasRebuilt() {
		t.Fatal("an unusable startxref must trigger rebuild-scan")
	}
	if got := d.RootObjnum(); got != 1 {
		t.Errorf("RootObjnum() = %d, want 1 (recovered from the /Type /XRef stream's dictionary)", got)
	}
	if typ := d.Trailer().Key("Root").Key("Type").Name(); typ != "Catalog" {
		t.Errorf("Root/Type = %q, want %q", typ, "Catalog")
	}
}

// TestScanChunkClearsNumbersOnInterveningWords pins the two-number
// window's clearing rule: integers separated from "obj" by any other
// word, name, or delimiter must never pair up with it.
func TestScanChunkClearsNumbersOnInterveningWords(t *testing.T) {
	xr := NewXRefTable(0, 0)
	var nums numberWindow
	window := []byte("[7 8] obj 9 0 R obj 3 0 obj")
	scanChunk(window, 0, xr, &nums, true)

	if _, ok := xr.GetObjectInfo(7); ok {
		t.Error("object 7 must not be recorded: \"7 8\" is separated from \"obj\" by a closing bracket")
	}
	if _, ok := xr.GetObjectInfo(9); ok {
		t.Error("object 9 must not be recorded: \"9 0\" is consumed by the \"R\" keyword before \"obj\" appears")
	}
	e, ok := xr.GetObjectInfo(3)
	if !ok || e.Kind != xrefNormal {
		t.Fatalf("object 3 entry = %+v (ok=%v), want a Normal entry", e, ok)
	}
	if want := int64(len("[7 8] obj 9 0 R obj ")); e.Offset != want {
		t.Errorf("object 3 offset = %d, want %d (the position of its own object-number token)", e.Offset, want)
	}
}

// TestScanChunkCarriesPartialTokensAcrossChunks simulates a token
// split at a chunk boundary: the scan must leave it unconsumed so the
// caller re-presents it whole with the next chunk.
func TestScanChunkCarriesPartialTokensAcrossChunks(t *testing.T) {
	xr := NewXRefTable(0, 0)
	var nums numberWindow

	full := []byte("12 0 obj")
	cut := 6 // "12 0 o" / "bj"
	consumed := scanChunk(full[:cut], 0, xr, &nums, false)
	if consumed != 5 {
		t.Fatalf("consumed = %d, want 5 (the split keyword \"o\" must be left for the next chunk)", consumed)
	}
	scanChunk(full[consumed:], int64(consumed), xr, &nums, true)

	e, ok := xr.GetObjectInfo(12)
	if !ok || e.Offset != 0 {
		t.Fatalf("object 12 entry = %+v (ok=%v), want a Normal entry at offset 0", e, ok)
	}
}

func TestSkipParenStringBalancesNestedParens(t *testing.T) {
	window := []byte(`(outer (inner) close) REST`)
	end, ok := skipParenString(window, 0)
	if !ok {
		t.Fatal("skipParenString must close on a balanced literal string")
	}
	if got, want := string(window[end:]), " REST"; got != want {
		t.Errorf("remainder after skip = %q, want %q", got, want)
	}
}

func TestSkipParenStringHonorsBackslashEscape(t *testing.T) {
	window := []byte(`(escaped \) paren) REST`)
	end, ok := skipParenString(window, 0)
	if !ok {
		t.Fatal("skipParenString must not treat an escaped \\) as the closing paren")
	}
	if got, want := string(window[end:]), " REST"; got != want {
		t.Errorf("remainder after skip = %q, want %q", got, want)
	}
}

func TestSkipParenStringIncompleteCarriesForward(t *testing.T) {
	window := []byte(`(never closed`)
	_, ok := skipParenString(window, 0)
	if ok {
		t.Fatal("an unterminated literal string within the window must report ok=false")
	}
}

func TestSkipHexStringCarriesIncompleteForward(t *testing.T) {
	window := []byte(`<332030`)
	_, ok := skipHexString(window, 0)
	if ok {
		t.Fatal("an unterminated hex string within the window must report ok=false")
	}
}
