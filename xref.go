package pdf

import "sync"

// xrefKind distinguishes the three shapes a cross-reference entry can
// take: free (on the linked free list), normal (a direct byte offset
// into the file), and compressed (living inside an object stream).
type xrefKind int

const (
	xrefFree xrefKind = iota
	xrefNormal
	xrefCompressed
)

// XRefEntry is one row of an XRefTable: which object it identifies
// and where to find it. Only the fields relevant to Kind are
// meaningful; readers must switch on Kind before touching Offset,
// Stream, Index, or NextFree.
type XRefEntry struct {
	Kind xrefKind
	Ptr  objptr // object number + generation this entry identifies

	Offset   int64 // Kind == xrefNormal: byte offset of the "N G obj" header
	IsObjStm bool  // Kind == xrefNormal: the object is an object-stream container

	Stream uint32 // Kind == xrefCompressed: container object number
	Index  int64  // Kind == xrefCompressed: index within the container's object list

	NextFree uint32 // Kind == xrefFree: next object number on the free list
}

// MaxObjectNumber is the 23-bit ceiling classic xref subsections
// encode (spec §3.2); XRefTable rejects entries beyond whatever limit
// its Options configured, defaulting to this value.
const MaxObjectNumber = 8_388_607

// MaxXRefSize bounds the number of entries a single subsection or
// stream segment may declare, guarding against a corrupted /Size or
// /Index claiming an implausible count.
const MaxXRefSize = 1_000_000

// XRefTable is the parsed, merged view of a document's cross-reference
// data: the union of every classic subsection and xref-stream segment
// reachable by following /Prev, plus the trailer produced by
// overlaying each generation's trailer dictionary onto the next
// (spec §3.3, §4.2).
type XRefTable struct {
	mu sync.RWMutex

	entries map[uint32]XRefEntry
	size    uint32 // one past the highest object number the trailer claims to hold

	// objStmContainers records every object number some Compressed
	// entry names as its container, plus any entry AddNormal marked
	// explicitly. GetObjectInfo folds it into the entry's IsObjStm
	// field on read, so the flag survives whichever order a section
	// declares a container and its members in.
	objStmContainers map[uint32]bool

	trailer    dict
	trailerPtr objptr

	maxObjectNumber uint32
	maxXRefSize     uint32
}

// NewXRefTable returns an empty table honoring the given limits. A
// zero maxObjectNumber or maxXRefSize falls back to the package
// defaults.
func NewXRefTable(maxObjectNumber, maxXRefSize uint32) *XRefTable {
	if maxObjectNumber == 0 {
		maxObjectNumber = MaxObjectNumber
	}
	if maxXRefSize == 0 {
		maxXRefSize = MaxXRefSize
	}
	return &XRefTable{
		entries:          make(map[uint32]XRefEntry),
		objStmContainers: make(map[uint32]bool),
		maxObjectNumber:  maxObjectNumber,
		maxXRefSize:      maxXRefSize,
	}
}

// AddNormal records id as living at offset in the file, unless an
// entry for id already exists (the first-encountered subsection wins
// within a single xref, matching classic xref precedence rules: later
// subsections in file order for the SAME generation never override an
// already-seen entry during a single readClassicXRefTable/readXRefStream
// pass — cross-generation precedence is MergeUp's job).
func (t *XRefTable) AddNormal(id uint32, gen uint16, isObjStm bool, offset int64) error {
	if id == 0 || id > t.maxObjectNumber {
		return formatErrorf("xref entry for object %d exceeds object number limit", id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if isObjStm {
		t.objStmContainers[id] = true
	}
	if _, exists := t.entries[id]; exists {
		return nil
	}
	t.entries[id] = XRefEntry{Kind: xrefNormal, Ptr: objptr{id, gen}, Offset: offset}
	return nil
}

// AddCompressed records id as living inside the object stream
// container (container, generation 0 always) at the given index.
func (t *XRefTable) AddCompressed(id uint32, container uint32, index int64) error {
	if id == 0 || id > t.maxObjectNumber {
		return formatErrorf("xref entry for object %d exceeds object number limit", id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objStmContainers[container] = true
	if _, exists := t.entries[id]; exists {
		return nil
	}
	t.entries[id] = XRefEntry{Kind: xrefCompressed, Ptr: objptr{id, 0}, Stream: container, Index: index}
	return nil
}

// IsObjectStream reports whether id is known to be an object-stream
// container: either a Compressed entry named it, or AddNormal marked
// it explicitly.
func (t *XRefTable) IsObjectStream(id uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.objStmContainers[id]
}

// SetFree records id as free, next pointing to the next object number
// on the free list (0 terminates it).
func (t *XRefTable) SetFree(id uint32, gen uint16, next uint32) error {
	if id > t.maxObjectNumber {
		return formatErrorf("xref entry for object %d exceeds object number limit", id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		return nil
	}
	t.entries[id] = XRefEntry{Kind: xrefFree, Ptr: objptr{id, gen}, NextFree: next}
	return nil
}

// GetObjectInfo returns the entry for id, if any is known.
func (t *XRefTable) GetObjectInfo(id uint32) (XRefEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if ok && e.Kind == xrefNormal && t.objStmContainers[id] {
		e.IsObjStm = true
	}
	return e, ok
}

// SetObjectMapSize records the trailer's declared /Size, bounding it
// to maxXRefSize rather than rejecting the document outright: a
// wildly wrong /Size in an otherwise usable file is exactly the kind
// of cosmetic damage rebuild-scan is meant to route around only when
// entries themselves are unreachable, not when the size hint alone is
// off.
func (t *XRefTable) SetObjectMapSize(size uint32) error {
	if size > t.maxXRefSize {
		size = t.maxXRefSize
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if size > t.size {
		t.size = size
	}
	return nil
}

// LastObjNum returns the largest object number actually recorded in
// this table, or 0 if it is empty (spec §4.2). Unlike
// ObjectMapSize, it reflects only entries AddNormal/AddCompressed/
// SetFree have observed, never the trailer's declared /Size, so it
// stays ≤ MaxObjectNumber for any table built from valid entries
// (spec §8's quantified invariant) and can be compared against the
// declared /Size to detect a document that under-declares its own
// object count (spec §4.1.5's fourth rebuild trigger).
func (t *XRefTable) LastObjNum() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var max uint32
	for id := range t.entries {
		if id > max {
			max = id
		}
	}
	return max
}

// ObjectMapSize returns the trailer's declared /Size, clamped to
// maxXRefSize, as recorded via SetObjectMapSize. This is the advisory
// upper bound spec §4.2 describes, distinct from LastObjNum's count
// of entries actually present.
func (t *XRefTable) ObjectMapSize() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// SetTrailer installs d as this table's trailer, recording ptr as the
// object pointer of the trailer dictionary itself when it came from a
// cross-reference stream (ptr is the zero objptr for a classic
// trailer keyword, which has no object identity of its own).
func (t *XRefTable) SetTrailer(d dict, ptr objptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trailer = d
	t.trailerPtr = ptr
}

// Trailer returns the merged trailer dictionary.
func (t *XRefTable) Trailer() dict {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.trailer
}

// TrailerObjnum returns the object number of the trailer dictionary
// itself: nonzero only when the trailer came from a cross-reference
// stream, since a classic inline trailer is not an object.
func (t *XRefTable) TrailerObjnum() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.trailerPtr.id
}

// MergeUp folds older into t, treating t as the newer generation:
// per spec §9's dictionary-overlay design note, an object number
// already present in t is left alone (newer wins), and any object
// number present only in older is copied across (older fills gaps).
// The trailer is merged the same way, key by key.
func (t *XRefTable) MergeUp(older *XRefTable) {
	if older == nil || older == t {
		// Merging a table into itself is a no-op by definition, and
		// taking both locks on the same mutex would deadlock.
		return
	}
	older.mu.RLock()
	defer older.mu.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range older.entries {
		if _, exists := t.entries[id]; !exists {
			t.entries[id] = e
		}
	}
	for id := range older.objStmContainers {
		t.objStmContainers[id] = true
	}
	if older.size > t.size {
		t.size = older.size
	}

	if t.trailer == nil {
		t.trailer = make(dict)
	}
	for k, v := range older.trailer {
		if _, exists := t.trailer[k]; !exists {
			t.trailer[k] = v
		}
	}
}

// entryCount reports how many entries have been recorded; rebuild-scan
// uses it to detect a scan that found no objects.
func (t *XRefTable) entryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
