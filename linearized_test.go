package pdf

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestOpenLinearizedOnNonLinearizedFileLoadsMainTableImmediately(t *testing.T) {
	data := classicCatalogPDF()
	src := NewReaderAtByteSource(strings.NewReader(data), int64(len(data)))

	ld, err := OpenLinearized(context.Background(), src, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenLinearized: %v", err)
	}
	if ld.IsLinearized() {
		t.Error("a document with no /Linearized dictionary must report IsLinearized() == false")
	}
	if err := ld.LoadLinearizedMainXRefTable(context.Background()); err != nil {
		t.Fatalf("LoadLinearizedMainXRefTable on an already-complete table: %v", err)
	}
	if got := ld.RootObjnum(); got != 1 {
		t.Errorf("RootObjnum() = %d, want 1", got)
	}
}

func TestOpenLinearizedFirstPageSectionThenMainTable(t *testing.T) {
	header := "%PDF-1.6\n"
	linObj := "1 0 obj\n<< /Linearized 1 /L 9999 /H [0 0] /O 5 /E 0 /N 1 /T 0 >>\nendobj\n"
	catalog := "5 0 obj\n<< /Type /Catalog /Pages 6 0 R >>\nendobj\n"
	pages := "6 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n"
	info := "2 0 obj\n<< /Title (doc) >>\nendobj\n"

	off1 := int64(len(header))
	off5 := off1 + int64(len(linObj))
	off6 := off5 + int64(len(catalog))
	off2 := off6 + int64(len(pages))

	mainXrefOffset := off2 + int64(len(info))
	mainXref := fmt.Sprintf(
		"xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \ntrailer\n<< /Size 3 /Root 1 0 R /Info 2 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		off1, off2, mainXrefOffset,
	)

	firstPageXrefOffset := mainXrefOffset + int64(len(mainXref))
	firstPageXref := fmt.Sprintf(
		"xref\n5 2\n%010d 00000 n \n%010d 00000 n \ntrailer\n<< /Size 7 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		off5, off6, mainXrefOffset, firstPageXrefOffset,
	)

	data := header + linObj + catalog + pages + info + mainXref + firstPageXref

	src := NewReaderAtByteSource(strings.NewReader(data), int64(len(data)))
	ld, err := OpenLinearized(context.Background(), src, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenLinearized: %v", err)
	}
	if !ld.IsLinearized() {
		t.Fatal("expected the leading /Linearized dictionary to be detected")
	}
	if got := ld.Params.Get("O"); got != int64(5) {
		t.Errorf("Params.Get(\"O\") = %v, want int64(5)", got)
	}

	// Before the main table loads, /Info (object 2) belongs to the
	// /Prev section and is not yet reachable.
	if !ld.Trailer().Key("Info").IsNull() {
		t.Error("Info must not resolve before LoadLinearizedMainXRefTable completes the /Prev chain")
	}

	if err := ld.LoadLinearizedMainXRefTable(context.Background()); err != nil {
		t.Fatalf("LoadLinearizedMainXRefTable: %v", err)
	}
	if title := ld.Trailer().Key("Info").Key("Title").Text(); title != "doc" {
		t.Errorf("Info/Title after completing the main table = %q, want %q", title, "doc")
	}
	if got := ld.RootObjnum(); got != 1 {
		t.Errorf("RootObjnum() = %d, want 1", got)
	}
}

// TestLoadLinearizedMainXRefTableSizeMismatchTriggersRebuild declares
// a /Size larger than the highest object number the merged chain
// actually contains (spec §4.1.5's fourth rebuild trigger, in the
// over-declared direction: /Size 100 against a highest object number
// of 6). Before LastObjNum stopped folding the declared
// /Size into its own return value, this comparison could never fire:
// LastObjNum was always >= the very /Size it was being compared
// against.
func TestLoadLinearizedMainXRefTableSizeMismatchTriggersRebuild(t *testing.T) {
	header := "%PDF-1.6\n"
	linObj := "1 0 obj\n<< /Linearized 1 /L 9999 /H [0 0] /O 5 /E 0 /N 1 /T 0 >>\nendobj\n"
	catalog := "5 0 obj\n<< /Type /Catalog /Pages 6 0 R >>\nendobj\n"
	pages := "6 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n"

	off1 := int64(len(header))
	off5 := off1 + int64(len(linObj))
	off6 := off5 + int64(len(catalog))

	mainXrefOffset := off6 + int64(len(pages))
	// /Size 100 claims object numbers up to 99, but only 0, 1, 5, and 6
	// are ever recorded across the whole chain.
	mainXref := fmt.Sprintf(
		"xref\n0 2\n0000000000 65535 f \n%010d 00000 n \ntrailer\n<< /Size 100 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		off1, mainXrefOffset,
	)

	firstPageXrefOffset := mainXrefOffset + int64(len(mainXref))
	firstPageXref := fmt.Sprintf(
		"xref\n5 2\n%010d 00000 n \n%010d 00000 n \ntrailer\n<< /Size 100 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		off5, off6, mainXrefOffset, firstPageXrefOffset,
	)

	data := header + linObj + catalog + pages + mainXref + firstPageXref
	src := NewReaderAtByteSource(strings.NewReader(data), int64(len(data)))

	ld, err := OpenLinearized(context.Background(), src, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenLinearized: %v", err)
	}
	if err := ld.LoadLinearizedMainXRefTable(context.Background()); err != nil {
		t.Fatalf("LoadLinearizedMainXRefTable: %v", err)
	}
	if !ld.WasRebuilt() {
		t.Error("a /Size far larger than any recorded object number must trigger rebuild-scan")
	}
	if got := ld.RootObjnum(); got != 1 {
		t.Errorf("RootObjnum() after rebuild = %d, want 1", got)
	}
}

func TestOpenLinearizedLoadMainIsIdempotent(t *testing.T) {
	data := classicCatalogPDF()
	src := NewReaderAtByteSource(strings.NewReader(data), int64(len(data)))

	ld, err := OpenLinearized(context.Background(), src, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenLinearized: %v", err)
	}
	if err := ld.LoadLinearizedMainXRefTable(context.Background()); err != nil {
		t.Fatalf("first LoadLinearizedMainXRefTable: %v", err)
	}
	if err := ld.LoadLinearizedMainXRefTable(context.Background()); err != nil {
		t.Fatalf("second LoadLinearizedMainXRefTable (should be a no-op): %v", err)
	}
}
