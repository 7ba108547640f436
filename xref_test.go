package pdf

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestXRefTableAddNormalFirstWins(t *testing.T) {
	xr := NewXRefTable(0, 0)
	if err := xr.AddNormal(1, 0, false, 100); err != nil {
		t.Fatalf("AddNormal: %v", err)
	}
	if err := xr.AddNormal(1, 0, false, 999); err != nil {
		t.Fatalf("AddNormal (second): %v", err)
	}
	e, ok := xr.GetObjectInfo(1)
	if !ok {
		t.Fatal("expected entry for object 1")
	}
	if e.Offset != 100 {
		t.Errorf("Offset = %d, want 100 (first-wins within a single xref load)", e.Offset)
	}
}

func TestXRefTableAddNormalRejectsOutOfRange(t *testing.T) {
	xr := NewXRefTable(10, 100)
	if err := xr.AddNormal(11, 0, false, 100); err == nil {
		t.Fatal("expected an error for an object number beyond maxObjectNumber")
	}
	if err := xr.AddNormal(0, 0, false, 100); err == nil {
		t.Fatal("expected an error for object number 0 (reserved for the free-list head)")
	}
}

func TestXRefTableCompressedEntryFields(t *testing.T) {
	xr := NewXRefTable(0, 0)
	if err := xr.AddCompressed(5, 2, 3); err != nil {
		t.Fatalf("AddCompressed: %v", err)
	}
	e, ok := xr.GetObjectInfo(5)
	if !ok || e.Kind != xrefCompressed {
		t.Fatalf("expected a compressed entry for object 5, got %+v (ok=%v)", e, ok)
	}
	if e.Stream != 2 || e.Index != 3 {
		t.Errorf("Stream/Index = %d/%d, want 2/3", e.Stream, e.Index)
	}
}

func TestXRefTableLastObjNum(t *testing.T) {
	xr := NewXRefTable(0, 0)
	if got := xr.LastObjNum(); got != 0 {
		t.Errorf("LastObjNum on an empty table = %d, want 0", got)
	}
	xr.AddNormal(7, 0, false, 10)
	if got := xr.LastObjNum(); got != 7 {
		t.Errorf("LastObjNum = %d, want 7 (the highest recorded object number)", got)
	}
	// A declared /Size larger than any entry actually present does not
	// move LastObjNum: that is ObjectMapSize's job.
	xr.SetObjectMapSize(20)
	if got := xr.LastObjNum(); got != 7 {
		t.Errorf("LastObjNum after SetObjectMapSize(20) = %d, want 7 (unaffected)", got)
	}
	if got := xr.ObjectMapSize(); got != 20 {
		t.Errorf("ObjectMapSize = %d, want 20", got)
	}
}

func TestXRefTableSetObjectMapSizeClampsToMaxXRefSize(t *testing.T) {
	xr := NewXRefTable(0, 50)
	xr.SetObjectMapSize(1000)
	if got := xr.ObjectMapSize(); got != 50 {
		t.Errorf("ObjectMapSize = %d, want clamped to 50", got)
	}
}

// MergeUp onto an empty table, either direction, is idempotent (spec §8
// round-trip property: "merging an empty xref table onto T yields T").
func TestXRefTableMergeUpWithEmptyIsIdentity(t *testing.T) {
	newer := NewXRefTable(0, 0)
	newer.AddNormal(1, 0, false, 10)
	newer.SetTrailer(dict{name("Root"): objptr{1, 0}}, objptr{})

	empty := NewXRefTable(0, 0)
	newer.MergeUp(empty)

	want := map[uint32]XRefEntry{1: {Kind: xrefNormal, Ptr: objptr{1, 0}, Offset: 10}}
	if diff := cmp.Diff(newer.entries, want, cmp.AllowUnexported(objptr{})); diff != "" {
		t.Errorf("merging an empty table onto newer changed its entries:\n%s", diff)
	}

	older := NewXRefTable(0, 0)
	older.AddNormal(1, 0, false, 10)
	older.SetTrailer(dict{name("Root"): objptr{1, 0}}, objptr{})
	emptyTop := NewXRefTable(0, 0)
	emptyTop.MergeUp(older)
	if diff := cmp.Diff(emptyTop.entries, older.entries, cmp.AllowUnexported(objptr{})); diff != "" {
		t.Errorf("merging T onto an empty table should yield T's entries:\n%s", diff)
	}
}

// Merging T onto itself yields T (spec §8).
func TestXRefTableMergeUpSelfIsIdempotent(t *testing.T) {
	xr := NewXRefTable(0, 0)
	xr.AddNormal(1, 0, false, 10)
	xr.AddCompressed(2, 3, 0)
	xr.SetTrailer(dict{name("Size"): int64(3)}, objptr{})

	before := map[uint32]XRefEntry{}
	for k, v := range xr.entries {
		before[k] = v
	}
	xr.MergeUp(xr)

	if diff := cmp.Diff(xr.entries, before, cmp.AllowUnexported(objptr{})); diff != "" {
		t.Errorf("MergeUp(t, t) changed entries:\n%s", diff)
	}
}

// Newer wins per-entry; older fills gaps (spec §3.3's merge semantics).
func TestXRefTableMergeUpNewerWinsOlderFillsGaps(t *testing.T) {
	newer := NewXRefTable(0, 0)
	newer.AddNormal(1, 0, false, 500) // object 1 updated in the newer revision
	newer.SetTrailer(dict{name("Root"): objptr{1, 0}, name("Size"): int64(3)}, objptr{})

	older := NewXRefTable(0, 0)
	older.AddNormal(1, 0, false, 100) // stale location for object 1
	older.AddNormal(2, 0, false, 200) // object 2 only exists in the older revision
	older.SetTrailer(dict{name("Root"): objptr{99, 0}, name("Info"): objptr{5, 0}}, objptr{})

	newer.MergeUp(older)

	e1, _ := newer.GetObjectInfo(1)
	if e1.Offset != 500 {
		t.Errorf("object 1 offset = %d, want 500 (newer wins)", e1.Offset)
	}
	e2, ok := newer.GetObjectInfo(2)
	if !ok || e2.Offset != 200 {
		t.Errorf("object 2 = %+v (ok=%v), want offset 200 (older fills gaps)", e2, ok)
	}
	tr := newer.Trailer()
	if got := tr[name("Root")].(objptr); got != (objptr{1, 0}) {
		t.Errorf("trailer /Root = %v, want the newer revision's value", got)
	}
	if got := tr[name("Info")].(objptr); got != (objptr{5, 0}) {
		t.Errorf("trailer /Info = %v, want the older revision's value to fill the gap", got)
	}
}

func TestXRefTableMergeUpNilIsNoOp(t *testing.T) {
	xr := NewXRefTable(0, 0)
	xr.AddNormal(1, 0, false, 10)
	xr.MergeUp(nil)
	if _, ok := xr.GetObjectInfo(1); !ok {
		t.Fatal("MergeUp(nil) must not disturb the table")
	}
}

// AddCompressed marks its container as an object stream, whichever
// order the container's own Normal entry arrives in.
func TestXRefTableObjectStreamFlagFromCompressedEntries(t *testing.T) {
	xr := NewXRefTable(0, 0)
	xr.AddCompressed(5, 2, 0)
	if !xr.IsObjectStream(2) {
		t.Fatal("a Compressed entry naming container 2 must mark object 2 as an object stream")
	}
	xr.AddNormal(2, 0, false, 100)
	e, _ := xr.GetObjectInfo(2)
	if !e.IsObjStm {
		t.Error("container 2's Normal entry must carry IsObjStm even though it was added after the Compressed entry")
	}
	if xr.IsObjectStream(3) {
		t.Error("object 3 was never named as a container")
	}

	// The flag survives a merge.
	newer := NewXRefTable(0, 0)
	newer.MergeUp(xr)
	if !newer.IsObjectStream(2) {
		t.Error("MergeUp must carry container flags from the older table")
	}
}

func TestXRefTableSetFreeNextPointer(t *testing.T) {
	xr := NewXRefTable(0, 0)
	xr.SetFree(3, 0, 7)
	e, ok := xr.GetObjectInfo(3)
	if !ok || e.Kind != xrefFree || e.NextFree != 7 {
		t.Errorf("free entry = %+v (ok=%v), want NextFree=7", e, ok)
	}
}
