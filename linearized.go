package pdf

import "context"

// LinearizationParams is the linearization dictionary that must be the
// very first indirect object in a fast-web-view PDF (ISO 32000-1
// Annex F). Its /L, /H, /O, /E, /T, /P fields describe hint-stream and
// first-page-object locations that a real "first page in one round
// trip" reader would follow; this parser exposes it as a plain Value
// for a caller to interpret and does not itself walk the hint stream.
type LinearizationParams struct {
	dict dict
}

// Get returns the raw value stored under key in the linearization
// dictionary, or nil if it has no such key.
func (p LinearizationParams) Get(key string) interface{} {
	if p.dict == nil {
		return nil
	}
	return p.dict[name(key)]
}

// LinearizedDocument is a Document opened via OpenLinearized: its
// XRefTable initially covers only the first-page section described by
// the file's leading linearization dictionary, and the rest of the
// document's cross-reference chain is loaded on demand via
// LoadLinearizedMainXRefTable.
type LinearizedDocument struct {
	*Document
	Params LinearizationParams

	tzr           *Tokenizer
	mainStartxref int64
	mainLoaded    bool
}

// OpenLinearized implements spec §4.5's fast-open path: when the file
// begins with a linearization dictionary, only the xref section
// reachable from the file's own leading offset is loaded so a caller
// can start reading the first page's objects before the rest of the
// cross-reference chain (spec §4.1's full /Prev walk) has been paid
// for. A non-linearized file still opens successfully and IsLinearized
// reports false; the main table counts as loaded only when the section
// at startxref has no /Prev, and otherwise LoadLinearizedMainXRefTable
// loads the rest of the chain.
func OpenLinearized(ctx context.Context, src ByteSource, opts Options) (*LinearizedDocument, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, classify("start_linearized_parse", wrapHandler(err, "invalid options"))
	}

	d := newDocument(src, opts)
	ld := &LinearizedDocument{Document: d}

	header, herr := readAllAt(src, 0, minInt64(opts.HeaderSearchWindow+16, src.Size()))
	if herr != nil && len(header) == 0 {
		return nil, classify("start_linearized_parse", wrapHandler(herr, "reading document header"))
	}
	_, ver, ok := findHeader(header, opts.HeaderSearchWindow)
	if !ok {
		if err := d.fallbackToRebuild(ctx, "missing %PDF- header"); err != nil {
			return nil, classify("start_linearized_parse", err)
		}
		if err := d.initSecurity(); err != nil {
			return nil, classify("start_linearized_parse", err)
		}
		ld.mainLoaded = true
		return ld, nil
	}
	d.version = ver

	tzr := NewTokenizer(src, opts.ReadBufferSize)
	ld.tzr = tzr

	if params, ok := readLinearizationDict(tzr); ok {
		d.linearized = true
		ld.Params = LinearizationParams{dict: params}
	}

	startxref, ok := d.findStartxref(tzr)
	if !ok {
		if err := d.fallbackToRebuild(ctx, "startxref not found"); err != nil {
			return nil, classify("start_linearized_parse", err)
		}
		ld.mainLoaded = true
		if err := d.initSecurity(); err != nil {
			return nil, classify("start_linearized_parse", err)
		}
		return ld, nil
	}

	// The first xref section reachable from startxref, in a properly
	// linearized file, describes exactly the first-page object range
	// (ISO 32000-1 Annex F.2). It is loaded now without following
	// /Prev; LoadLinearizedMainXRefTable does that later.
	firstXr, trailer, trailerPtr, _, err := d.readOneXRefSection(tzr, startxref)
	if err != nil {
		if err := d.fallbackToRebuild(ctx, "first-page xref section unreadable"); err != nil {
			return nil, classify("start_linearized_parse", err)
		}
		ld.mainLoaded = true
		if err := d.initSecurity(); err != nil {
			return nil, classify("start_linearized_parse", err)
		}
		return ld, nil
	}
	firstXr.SetTrailer(trailer, trailerPtr)
	if size, ok := trailer[name("Size")].(int64); ok && size > 0 {
		firstXr.SetObjectMapSize(uint32(size))
	}

	// Unlike the general open path, a linearized first-page trailer's
	// /XRefStm is processed even though this is not an update section:
	// hybrid linearized files describe their first-page compressed
	// objects this way.
	if off, ok := trailer[name("XRefStm")].(int64); ok {
		hybrid, _, _, hybridIsStream, herr := d.readOneXRefSection(tzr, off)
		if herr == nil && hybridIsStream {
			firstXr.MergeUp(hybrid)
		}
	}
	d.xref = firstXr
	d.lastXRefOffset = startxref
	d.xrefStream = firstXr.TrailerObjnum() != 0

	if prev, ok := trailer[name("Prev")].(int64); ok {
		ld.mainStartxref = prev
	} else {
		// No /Prev at all: this section already is the whole document.
		ld.mainStartxref = 0
		ld.mainLoaded = true
	}

	if !d.verifyFirstEntry(d.xref) {
		if err := d.fallbackToRebuild(ctx, "first xref entry failed verification"); err != nil {
			return nil, classify("start_linearized_parse", err)
		}
		ld.mainLoaded = true
	}

	if err := d.initSecurity(); err != nil {
		return nil, classify("start_linearized_parse", err)
	}
	return ld, nil
}

// IsLinearized reports whether the file's leading object was a
// linearization dictionary.
func (ld *LinearizedDocument) IsLinearized() bool { return ld.Document.linearized }

// LoadLinearizedMainXRefTable completes a document opened with
// OpenLinearized by following the remaining /Prev chain from the
// first-page section down to the file's original xref table, merging
// each generation the way a normal StartParse chain does, and
// discarding any object-stream index built against the partial table
// so later resolves rebuild it against the complete one (spec §4.5).
// It is a no-op if the main table is already loaded, so callers can
// call it unconditionally before requesting an object outside the
// first-page range.
func (ld *LinearizedDocument) LoadLinearizedMainXRefTable(ctx context.Context) error {
	if ld.mainLoaded {
		return nil
	}
	d := ld.Document

	visited := map[int64]bool{}
	rest, err := d.loadXRefSection(ld.tzr, ld.mainStartxref, visited, true)
	if err != nil {
		if rerr := d.fallbackToRebuild(ctx, "linearized main xref chain unreadable"); rerr != nil {
			return classify("load_linearized_main_xref_table", rerr)
		}
		ld.mainLoaded = true
		d.objStreams = NewObjectStreamCache()
		return nil
	}
	d.xref.MergeUp(rest)

	if size, ok := d.xref.Trailer()[name("Size")].(int64); ok && size > 0 {
		// /Size counts object 0 (always free) through the highest
		// object number, so the expected last object number is
		// size-1; LastObjNum now reports only entries actually
		// present, never the declared /Size itself, so this
		// comparison can actually fire (spec §4.1.5's fourth rebuild
		// trigger, mirroring the original's
		// GetLastObjNum() != expected_last_obj_num).
		if expected := uint32(size) - 1; d.xref.LastObjNum() != expected {
			if rerr := d.fallbackToRebuild(ctx, "trailer /Size disagrees with highest loaded object number"); rerr != nil {
				return classify("load_linearized_main_xref_table", rerr)
			}
			ld.mainLoaded = true
			d.objStreams = NewObjectStreamCache()
			return nil
		}
	}

	// The object-stream cache was built, if at all, against a table
	// that only knew about first-page containers; a container object
	// number can now resolve to a different stream than before, so the
	// cache must not carry stale offsets forward.
	d.objStreams = NewObjectStreamCache()
	ld.mainLoaded = true

	if !d.rootResolvable() {
		if rerr := d.fallbackToRebuild(ctx, "document root unresolvable after completing the main xref table"); rerr != nil {
			return classify("load_linearized_main_xref_table", rerr)
		}
	}
	return nil
}

// readLinearizationDict inspects the very first indirect object in
// the file (tzr must be positioned at offset 0) and returns its
// dictionary if it carries a /Linearized key, without disturbing
// tzr's position for the caller's subsequent startxref search.
func readLinearizationDict(tzr *Tokenizer) (dict, bool) {
	pos := tzr.GetPos()
	tzr.SetPos(0)
	def, err := tzr.GetIndirectObject(0, objptr{}, Loose)
	tzr.SetPos(pos)
	if err != nil {
		return nil, false
	}
	d, ok := def.obj.(dict)
	if !ok {
		return nil, false
	}
	if _, isLin := d[name("Linearized")]; !isLin {
		return nil, false
	}
	return d, true
}
