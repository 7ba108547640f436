package pdf

import (
	"container/list"
	"context"
	"io"
	"sync"

	"github.com/juju/errgo"

	"github.com/pdftools/pdfcore/internal/logging"
)

// Document is a parsed PDF: the cross-reference table, trailer, and
// whatever security handler its /Encrypt dictionary requires, plus
// enough state to materialize indirect objects lazily as callers walk
// the graph (spec §4.1).
type Document struct {
	src  ByteSource
	opts Options

	version    fileVersion
	linearized bool

	xref       *XRefTable
	objStreams *ObjectStreamCache

	security  *SecurityHandler
	encryptor *Encryptor

	cacheMu   sync.RWMutex
	cache     map[objptr]*list.Element
	cacheList *list.List
	cacheCap  int

	parsingMu      sync.Mutex
	parsingObjNums map[uint32]bool

	lastXRefOffset int64 // where the primary xref was found; 0 after rebuild
	xrefStream     bool  // primary xref was a cross-reference stream
	rebuilt        bool  // set once rebuild-scan has replaced the loaded xref
}

type cacheEntry struct {
	key   objptr
	value object
}

// defaultCacheCapacity bounds the resolved-object LRU so a pathological
// document that touches millions of distinct objects doesn't grow the
// cache without limit; 0 disables the cache entirely (only used by
// tests exercising materialization directly).
const defaultCacheCapacity = 4096

// StartParse is the top-level entry point (spec §4.1): it locates the
// header, loads and chains the cross-reference data reachable from
// startxref, falls back to rebuild-scan if that fails, and returns a
// Document ready for lazy traversal via Trailer/Root.
//
// If the document is encrypted, StartParse calls OnInit with
// opts.Password once; for a revision 5 or 6 handler a wrong or missing
// password is reported as a PasswordError. Revision 2-4 handlers do
// not check the password (see SecurityHandler.OnInit).
func StartParse(ctx context.Context, src ByteSource, opts Options) (*Document, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, classify("StartParse", wrapHandler(err, "invalid options"))
	}

	d := newDocument(src, opts)

	if err := d.load(ctx); err != nil {
		return nil, classify("StartParse", err)
	}
	if err := d.initSecurity(); err != nil {
		return nil, classify("StartParse", err)
	}

	// Root resolution is the last gate: a chain that loaded cleanly but
	// cannot produce a catalog gets exactly one rebuild attempt, with a
	// fresh security handler, before the document is declared unusable.
	if !d.rootResolvable() {
		if d.rebuilt {
			return nil, classify("StartParse", formatErrorf("document root cannot be resolved"))
		}
		d.security = nil
		d.encryptor = nil
		if err := d.fallbackToRebuild(ctx, "document root cannot be resolved"); err != nil {
			return nil, classify("StartParse", err)
		}
		if err := d.initSecurity(); err != nil {
			return nil, classify("StartParse", err)
		}
		if !d.rootResolvable() {
			return nil, classify("StartParse", formatErrorf("document root cannot be resolved after rebuild"))
		}
	}
	return d, nil
}

// rootResolvable reports whether the trailer's /Root resolves to a
// dictionary through the current xref table.
func (d *Document) rootResolvable() bool {
	return d.Trailer().Key("Root").Kind() == Dict
}

// newDocument builds an empty Document ready for load/OpenLinearized
// to populate; shared so both entry points construct identical cache
// and cycle-guard state.
func newDocument(src ByteSource, opts Options) *Document {
	return &Document{
		src:            src,
		opts:           opts,
		objStreams:     NewObjectStreamCache(),
		cache:          make(map[objptr]*list.Element),
		cacheList:      list.New(),
		cacheCap:       defaultCacheCapacity,
		parsingObjNums: make(map[uint32]bool),
	}
}

func (d *Document) load(ctx context.Context) error {
	header, err := readAllAt(d.src, 0, minInt64(d.opts.HeaderSearchWindow+16, d.src.Size()))
	if err != nil && len(header) == 0 {
		return wrapHandler(err, "reading document header")
	}
	_, ver, ok := findHeader(header, d.opts.HeaderSearchWindow)
	if !ok {
		return d.fallbackToRebuild(ctx, "missing %PDF- header")
	}
	d.version = ver
	d.linearized = isLinearizedHint(header, d.opts.HeaderSearchWindow)

	tzr := NewTokenizer(d.src, d.opts.ReadBufferSize)
	startxref, ok := d.findStartxref(tzr)
	if !ok {
		return d.fallbackToRebuild(ctx, "startxref not found")
	}

	xr, err := d.loadXRefChain(tzr, startxref)
	if err != nil {
		return d.fallbackToRebuild(ctx, errgo.Notef(err, "loading xref chain").Error())
	}
	if !d.verifyFirstEntry(xr) {
		return d.fallbackToRebuild(ctx, "first xref entry failed verification")
	}
	d.xref = xr
	d.lastXRefOffset = startxref
	d.xrefStream = xr.TrailerObjnum() != 0
	return nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// findStartxref locates the last "startxref" keyword within
// StartxrefSearchWindow bytes of the end of the file and returns the
// offset it names (spec §4.1.2).
func (d *Document) findStartxref(tzr *Tokenizer) (int64, bool) {
	end := d.src.Size()
	pos, ok := tzr.BackwardsSearchToWord("startxref", end, d.opts.StartxrefSearchWindow)
	if !ok {
		return 0, false
	}
	tzr.SetPos(pos + int64(len("startxref")))
	n, ok := tzr.GetDirectNum()
	if !ok || n < pdfHeaderSize || n >= end {
		// An xref section cannot start inside the header, and an offset
		// at or past end of file names nothing; either way the declared
		// startxref is unusable.
		return 0, false
	}
	return n, true
}

// verifyFirstEntry seeks to the lowest-numbered Normal entry in xr and
// confirms the number token at that offset matches the object number
// the table claims lives there: a single sanity check cheap enough to
// run unconditionally, that catches a startxref (or a subsection)
// pointing at the wrong offset before any caller ever asks for an
// object. Only one entry is probed, and only its leading number token
// is read. Full verification would be slow, and real-world xref
// tables are routinely wrong in ways that don't matter.
func (d *Document) verifyFirstEntry(xr *XRefTable) bool {
	xr.mu.RLock()
	var probe *XRefEntry
	var lowest uint32
	for id, e := range xr.entries {
		if e.Kind != xrefNormal {
			continue
		}
		if probe == nil || id < lowest {
			e := e
			probe = &e
			lowest = id
		}
	}
	xr.mu.RUnlock()
	if probe == nil {
		return true // an xref with only compressed/free entries is unusual but not proof of corruption
	}
	tzr := NewTokenizer(d.src, d.opts.ReadBufferSize)
	tzr.SetPos(probe.Offset)
	n, ok := tzr.GetDirectNum()
	return ok && n == int64(probe.Ptr.id)
}

func (d *Document) fallbackToRebuild(ctx context.Context, reason string) error {
	logging.Debug("falling back to rebuild scan", "reason", reason)
	xr, streamTrailers, err := rebuildXRef(ctx, d.src, d.opts)
	if err != nil {
		// Keep the scan's own cause: a cancelled or timed-out scan is a
		// HandlerError, a scan that found nothing usable a FormatError.
		return errgo.WithCausef(err, errgo.Cause(err), "rebuild scan failed after: %s", reason)
	}
	classicTrailers, err := collectTrailerDicts(d.src)
	if err != nil {
		return wrapFormat(err, "rebuild scan could not recover a trailer after: %s", reason)
	}
	trailer := mergeFoundTrailers(append(streamTrailers, classicTrailers...))
	if trailer == nil {
		return formatErrorf("rebuild scan found no trailer after: %s", reason)
	}
	xr.SetTrailer(trailer, objptr{})
	d.xref = xr
	d.purgeCaches()
	d.lastXRefOffset = 0
	d.xrefStream = false
	d.rebuilt = true
	return nil
}

// purgeCaches discards every object and object-stream index resolved
// so far. Called when the xref table is replaced wholesale: a cached
// object keyed by (id, gen) may have been read from an offset the new
// table no longer agrees with.
func (d *Document) purgeCaches() {
	d.cacheMu.Lock()
	d.cache = make(map[objptr]*list.Element)
	d.cacheList = list.New()
	d.cacheMu.Unlock()
	d.objStreams = NewObjectStreamCache()
}

// loadXRefChain reads the xref section at startxref and every
// section reachable by following /Prev (and, for update sections,
// /XRefStm) per spec §4.1.4, merging each generation onto the ones
// after it via MergeUp.
func (d *Document) loadXRefChain(tzr *Tokenizer, startxref int64) (*XRefTable, error) {
	visited := make(map[int64]bool)
	return d.loadXRefSection(tzr, startxref, visited, false)
}

// loadXRefSection reads the section at offset and recurses into its
// /Prev chain, merging each older generation underneath the newer one.
//
// A classic trailer's /XRefStm names the auxiliary cross-reference
// stream of a hybrid-reference file. Per ISO 32000-1 §7.5.8.4 it is
// only meaningful in an update section, so it is honored exactly when
// the same trailer also carries /Prev; the original revision's
// /XRefStm, if a producer wrote one anyway, is ignored. Within a
// revision the stream's entries are merged underneath the classic
// table's, so table entries override stream entries for the same
// object number. alwaysHonorXRefStm lifts the update-section
// restriction for the linearized open path (spec §4.5), where the
// main revision's /XRefStm is processed too.
func (d *Document) loadXRefSection(tzr *Tokenizer, offset int64, visited map[int64]bool, alwaysHonorXRefStm bool) (*XRefTable, error) {
	if visited[offset] {
		return nil, formatErrorf("cyclic /Prev chain at offset %d", offset)
	}
	visited[offset] = true

	xr, trailer, trailerPtr, isStream, err := d.readOneXRefSection(tzr, offset)
	if err != nil {
		return nil, err
	}
	xr.SetTrailer(trailer, trailerPtr)

	if size, ok := trailer[name("Size")].(int64); ok && size > 0 {
		xr.SetObjectMapSize(uint32(size))
	}

	if !isStream {
		_, hasPrev := trailer[name("Prev")].(int64)
		if off, ok := trailer[name("XRefStm")].(int64); ok && (hasPrev || alwaysHonorXRefStm) {
			hybrid, _, _, hybridIsStream, herr := d.readOneXRefSection(tzr, off)
			if herr == nil && hybridIsStream {
				xr.MergeUp(hybrid)
			} else {
				logging.Debug("ignoring /XRefStm that does not name a cross-reference stream", "offset", off)
			}
		}
	}

	if prev, ok := trailer[name("Prev")].(int64); ok {
		older, perr := d.loadXRefSection(tzr, prev, visited, alwaysHonorXRefStm)
		if perr != nil {
			// Any unreadable hop poisons the whole chain: a partial
			// merge would silently present stale offsets as current.
			return nil, perr
		}
		xr.MergeUp(older)
	}

	return xr, nil
}

// readOneXRefSection reads exactly one classic table or one
// cross-reference stream at offset, without following /Prev. The
// returned trailerPtr is the zero objptr for a classic table (an
// inline trailer has no object identity of its own) and the stream
// object's pointer for a cross-reference stream.
func (d *Document) readOneXRefSection(tzr *Tokenizer, offset int64) (xr *XRefTable, trailer dict, trailerPtr objptr, isStream bool, err error) {
	tzr.SetPos(offset)
	kw, ok := tzr.GetKeyword()
	if ok && kw == "xref" {
		xr, trailer, err = readClassicXRefTable(tzr, d.opts)
		return xr, trailer, objptr{}, false, err
	}
	// Not "xref": must be an "N G obj" cross-reference stream.
	def, err := tzr.GetIndirectObject(offset, objptr{}, Loose)
	if err != nil {
		return nil, nil, objptr{}, false, err
	}
	strm, ok := def.obj.(stream)
	if !ok {
		return nil, nil, objptr{}, false, formatErrorf("xref offset %d is neither 'xref' nor a stream object", offset)
	}
	strm.ptr = def.ptr
	xr, err = readXRefStream(d, strm, d.opts)
	if err != nil {
		return nil, nil, objptr{}, false, err
	}
	return xr, strm.hdr, def.ptr, true, nil
}

func (d *Document) initSecurity() error {
	trailer := d.xref.Trailer()
	encRef, hasEnc := trailer[name("Encrypt")]
	if !hasEnc || encRef == nil {
		return nil
	}
	encVal := d.resolve(objptr{}, encRef)
	sh, err := newSecurityHandler(encVal, documentID(trailer))
	if err != nil {
		return err
	}
	if err := sh.OnInit(d.opts.Password); err != nil {
		return err
	}
	d.security = sh
	d.encryptor = NewEncryptor(sh.CryptoHandler())

	if !sh.info.EncryptMD {
		// /EncryptMetadata false exempts exactly the document's
		// /Metadata stream (spec §3.4's metadata_objnum) from
		// decryption; find its object number now, while resolving it
		// still uses the "decrypt everything" path, since no exclusion
		// is recorded yet.
		if meta := d.Trailer().Key("Root").Key("Metadata"); meta.Kind() == Stream {
			sh.excludeMetadata = meta.ObjNum()
		}
	}
	return nil
}

func documentID(trailer dict) []byte {
	idArr, ok := trailer[name("ID")].(array)
	if !ok || len(idArr) == 0 {
		return nil
	}
	s, _ := idArr[0].(string)
	return []byte(s)
}

// Version returns the document's declared %PDF-M.N version string.
func (d *Document) Version() string { return d.version.String() }

// IsLinearizedHint reports whether the file's header region carried a
// /Linearized hint (spec §3.4). It does not imply the file was opened
// via OpenLinearized.
func (d *Document) IsLinearizedHint() bool { return d.linearized }

// WasRebuilt reports whether the document's cross-reference data came
// from the rebuild-scan fallback (spec §4.1.5) rather than a trusted
// xref table or stream chain.
func (d *Document) WasRebuilt() bool { return d.rebuilt }

// LastXRefOffset returns the byte offset the primary cross-reference
// section was loaded from, or 0 when the table came from rebuild-scan.
func (d *Document) LastXRefOffset() int64 { return d.lastXRefOffset }

// UsesXRefStream reports whether the primary cross-reference section
// was a cross-reference stream rather than a classic table.
func (d *Document) UsesXRefStream() bool { return d.xrefStream }

// IsEncrypted reports whether the trailer named an /Encrypt
// dictionary, regardless of whether OnInit succeeded.
func (d *Document) IsEncrypted() bool { return d.security != nil }

// XRefSummary counts the entries in the document's merged
// cross-reference table by kind, for diagnostic reporting.
type XRefSummary struct {
	Normal, Compressed, Free int
}

// XRefSummary reports how many of each XRefEntry kind the document's
// cross-reference table holds.
func (d *Document) XRefSummary() XRefSummary {
	var s XRefSummary
	d.xref.mu.RLock()
	defer d.xref.mu.RUnlock()
	for _, e := range d.xref.entries {
		switch e.Kind {
		case xrefNormal:
			s.Normal++
		case xrefCompressed:
			s.Compressed++
		case xrefFree:
			s.Free++
		}
	}
	return s
}

// Trailer returns the document's merged trailer dictionary as a
// Value, so callers can navigate /Root, /Info, /ID, and so on through
// the ordinary Key API.
func (d *Document) Trailer() Value {
	return d.resolve(objptr{}, d.xref.Trailer())
}

// RootObjnum returns the object number the trailer's /Root entry
// names, or 0 if /Root is absent or not an indirect reference.
func (d *Document) RootObjnum() uint32 {
	ref, _ := d.xref.Trailer()[name("Root")].(objptr)
	return ref.id
}

// TrailerObjnum returns the object number of the trailer dictionary
// itself, or 0 when the effective trailer came from a classic inline
// "trailer" keyword rather than a cross-reference stream.
func (d *Document) TrailerObjnum() uint32 { return d.xref.TrailerObjnum() }

// GetObjectPositionOrZero returns the byte offset recorded for
// objnum's Normal entry, or 0 when the entry is free, compressed, or
// unknown.
func (d *Document) GetObjectPositionOrZero(objnum uint32) int64 {
	e, ok := d.xref.GetObjectInfo(objnum)
	if !ok || e.Kind != xrefNormal {
		return 0
	}
	return e.Offset
}

// Permissions returns the document's /P permission bits: the
// unmodified, unencrypted value when the document carries no
// /Encrypt dictionary (every bit set, matching what a PDF consumer
// with no restrictions applied would see), or the value the security
// handler parsed from /Encrypt otherwise. metadataOnly is accepted for
// API symmetry with handlers that distinguish metadata-only access
// but is not otherwise interpreted, since spec §4.3 does not define a
// finer-grained permission split.
func (d *Document) Permissions(metadataOnly bool) uint32 {
	if d.security == nil {
		return 0xFFFFFFFF
	}
	return d.security.info.P
}

// resolve is the lazy-materialization core (spec §4.1.6/§4.1.7): it
// turns a raw object (possibly an objptr) into a Value, consulting
// the object cache, the object-stream cache, and the crypto handler
// as needed, and guarding against reference cycles via
// parsingObjNums.
func (d *Document) resolve(parent objptr, x object) Value {
	ptr, isRef := x.(objptr)
	if !isRef {
		return Value{doc: d, ptr: parent, data: x}
	}

	if cached, ok := d.getCached(ptr); ok {
		return Value{doc: d, ptr: ptr, data: cached}
	}

	if d.xref == nil {
		// Mid-load: an xref stream's own header can hold indirect
		// references before any table is installed. They resolve to
		// null rather than dereferencing a table that isn't there yet.
		return Value{}
	}
	entry, ok := d.xref.GetObjectInfo(ptr.id)
	if !ok || entry.Kind == xrefFree {
		return Value{}
	}

	if !d.enterParsing(ptr.id) {
		// Already materializing this object further up the call
		// stack: a self-referential object graph. Treat as null
		// rather than recursing forever.
		return Value{}
	}
	defer d.exitParsing(ptr.id)

	var obj object
	var err error
	switch entry.Kind {
	case xrefNormal:
		obj, err = d.materializeDirect(ptr, entry)
	case xrefCompressed:
		obj, err = d.materializeCompressed(ptr, entry)
	}
	if err != nil {
		logging.Debug("failed to resolve indirect object", "id", ptr.id, "gen", ptr.gen, "err", err)
		return Value{}
	}

	if d.encryptor != nil && entry.Kind != xrefCompressed && ptr.id != d.security.metadataObjnum() {
		// Objects inside an object stream are never individually
		// encrypted (ISO 32000-1 §7.5.7): the container stream itself
		// was already decrypted when its bytes were read. The
		// /Metadata stream is exempted the same way value.go's
		// Reader() exempts it (spec §4.1.7 item 3).
		obj = d.encryptor.Decrypt(ptr, obj)
	}

	d.storeCached(ptr, obj)
	return Value{doc: d, ptr: ptr, data: obj}
}

func (d *Document) materializeDirect(ptr objptr, entry XRefEntry) (object, error) {
	tzr := NewTokenizer(d.src, d.opts.ReadBufferSize)
	def, err := tzr.GetIndirectObject(entry.Offset, entry.Ptr, d.opts.ParseMode)
	if err != nil {
		return nil, err
	}
	if def.ptr != entry.Ptr {
		// Loose mode tolerates a mismatched "N G obj" header at the
		// tokenizer layer (tokenizer.go's GetIndirectObject), but the
		// Parser Engine still owns spec §4.1.7 item 3: an xref entry
		// whose offset doesn't actually land on the object it claims
		// to resolves to null, not to whatever unrelated object is
		// sitting there.
		return nil, nil
	}
	if strm, ok := def.obj.(stream); ok {
		strm.ptr = def.ptr
		strm.offset = tzr.GetPos()
		return strm, nil
	}
	return def.obj, nil
}

func (d *Document) materializeCompressed(ptr objptr, entry XRefEntry) (object, error) {
	if !d.xref.IsObjectStream(entry.Stream) {
		return nil, formatErrorf("object %d names container %d, which no xref entry marks as an object stream", ptr.id, entry.Stream)
	}
	container := d.resolve(objptr{}, objptr{id: entry.Stream, gen: 0})
	visited := map[uint32]bool{}
	for {
		if container.Kind() != Stream {
			return nil, formatErrorf("object stream container %d is not a stream", entry.Stream)
		}
		if container.Key("Type").Name() != "ObjStm" {
			return nil, formatErrorf("object %d claims container %d, which is not an ObjStm", ptr.id, entry.Stream)
		}
		containerID := containerObjnum(container)
		if visited[containerID] {
			return nil, formatErrorf("object stream %d has a cyclic /Extends chain", entry.Stream)
		}
		visited[containerID] = true

		n := int(container.Key("N").Int64())
		first := container.Key("First").Int64()

		rc := container.Reader()
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, wrapFormat(err, "reading object stream %d", entry.Stream)
		}

		off, found, err := d.objStreams.Lookup(containerID, ptr.id, func() (objStreamIndex, error) {
			return buildObjStreamIndex(body, n, first)
		})
		if err != nil {
			return nil, err
		}
		if found {
			tzr := newTokenizerOverBytes(body)
			tzr.SetPos(off)
			return tzr.GetObjectBody(), nil
		}

		ext := container.Key("Extends")
		if ext.Kind() != Stream {
			return nil, formatErrorf("object %d not found in object stream %d or its /Extends chain", ptr.id, entry.Stream)
		}
		container = ext
	}
}

func containerObjnum(v Value) uint32 { return v.ptr.id }

func (d *Document) enterParsing(id uint32) bool {
	d.parsingMu.Lock()
	defer d.parsingMu.Unlock()
	if d.parsingObjNums[id] {
		return false
	}
	d.parsingObjNums[id] = true
	return true
}

func (d *Document) exitParsing(id uint32) {
	d.parsingMu.Lock()
	defer d.parsingMu.Unlock()
	delete(d.parsingObjNums, id)
}

func (d *Document) getCached(ptr objptr) (object, bool) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	elem, ok := d.cache[ptr]
	if !ok {
		return nil, false
	}
	d.cacheList.MoveToFront(elem)
	return elem.Value.(cacheEntry).value, true
}

func (d *Document) storeCached(ptr objptr, obj object) {
	if ptr.id == 0 {
		return
	}
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if elem, ok := d.cache[ptr]; ok {
		elem.Value = cacheEntry{ptr, obj}
		d.cacheList.MoveToFront(elem)
		return
	}
	elem := d.cacheList.PushFront(cacheEntry{ptr, obj})
	d.cache[ptr] = elem
	if d.cacheCap > 0 && d.cacheList.Len() > d.cacheCap {
		back := d.cacheList.Back()
		if back != nil {
			d.cacheList.Remove(back)
			delete(d.cache, back.Value.(cacheEntry).key)
		}
	}
}
