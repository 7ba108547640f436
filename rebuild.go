package pdf

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
)

// rebuildScanChunk is the window size the forward scan reads at a
// time; large enough to keep syscall/ReadAt overhead low, small
// enough that a corrupted multi-gigabyte file doesn't force a single
// giant allocation.
const rebuildScanChunk = 1 << 20

// maxRebuildCarry bounds how many unconsumed tail bytes one chunk may
// hand to the next. The carry normally holds at most a partial token,
// but an unterminated string literal is carried whole so its contents
// are never mistaken for object headers; past this bound the string
// is abandoned and scanning resumes inside it.
const maxRebuildCarry = 4 << 20

// foundTrailer is one trailer dictionary discovered during a rebuild
// scan, either after a "trailer" keyword or as the header of a
// /Type /XRef stream, tagged with where in the file it was found so
// later-in-file trailers can override earlier ones.
type foundTrailer struct {
	off  int64
	dict dict
}

// numberWindow is the two-token sliding window of the forward scan: a
// candidate "N G obj" header is recognized when the "obj" keyword is
// seen with exactly two bare integers immediately before it. Any
// other word clears the window, so integers buried in arrays, names,
// or dictionary values never pair up with a distant "obj".
type numberWindow struct {
	vals [2]int64
	offs [2]int64
	n    int
}

func (w *numberWindow) push(v, off int64) {
	if w.n == 2 {
		w.vals[0], w.offs[0] = w.vals[1], w.offs[1]
		w.n = 1
	}
	w.vals[w.n], w.offs[w.n] = v, off
	w.n++
}

func (w *numberWindow) clear() { w.n = 0 }

// rebuildXRef reconstructs an XRefTable by scanning the entire byte
// stream forward for "N G obj" occurrences, the fallback path spec
// §4.1.5 requires when startxref, an xref table, or an xref stream
// cannot be trusted. Unlike a table load, this never trusts a claimed
// offset: every object's location is the one the scan actually found
// it at. Containers found along the way (/Type /ObjStm, /Type /XRef)
// have their member tables enrolled afterwards, and each /Type /XRef
// header doubles as a discovered trailer.
func rebuildXRef(ctx context.Context, src ByteSource, opts Options) (*XRefTable, []foundTrailer, error) {
	xr := NewXRefTable(opts.MaxObjectNumber, opts.MaxXRefSize)
	size := src.Size()

	var buf [rebuildScanChunk]byte
	var carry []byte // unconsumed tail bytes from the previous chunk, re-prefixed onto the next
	var nums numberWindow

	var timer *parseTimer
	if opts.MaxScanDuration > 0 {
		timer = newParseTimer(opts.MaxScanDuration)
	}
	checker := newContextChecker(ctx, timer)

	for pos := int64(0); pos < size; pos += rebuildScanChunk {
		if err := checker.check(); err != nil {
			return nil, nil, handlerErrorf("rebuild scan cancelled: %v", err)
		}

		want := rebuildScanChunk
		if remaining := size - pos; remaining < int64(want) {
			want = int(remaining)
		}
		nRead, err := src.ReadAt(buf[:want], pos)
		if err != nil && nRead == 0 {
			break
		}
		chunk := buf[:nRead]
		final := pos+int64(want) >= size || err != nil

		window := append(carry, chunk...)
		base := pos - int64(len(carry))

		consumed := scanChunk(window, base, xr, &nums, final)
		tail := len(window) - consumed
		if tail > maxRebuildCarry {
			tail = 64
			nums.clear()
		}
		carry = append(carry[:0], window[len(window)-tail:]...)
	}

	if xr.entryCount() == 0 {
		return nil, nil, formatErrorf("rebuild scan found no objects")
	}

	trailers, err := enrollObjectStreams(src, xr, opts, checker)
	if err != nil {
		return nil, nil, err
	}

	return xr, trailers, nil
}

// enrollObjectStreams is the second half of spec §4.1.5's rebuild
// walk: a found object that is itself a stream with /Type /ObjStm or
// /Type /XRef additionally contributes its compressed-object table.
// The forward byte scan above only ever records the Normal "N G obj"
// location it found; without this pass, any object reachable only as
// a Compressed entry inside an object stream would be unrecoverable
// after a rebuild, even though the container holding it was found
// just fine.
//
// It re-visits every Normal entry the scan recorded, in file order,
// parses just enough of it to read /Type, and for a container enrolls
// its members (ObjStm) or merges its declared entries (XRef) into xr.
// Entries the byte scan already recorded win over anything a
// container's own table claims, matching the same "first-found is
// authoritative" precedence AddNormal/AddCompressed already apply
// everywhere else in a rebuild. Each /Type /XRef header is also
// returned as a candidate trailer, the way a "trailer" keyword's
// dictionary is: a file whose every revision uses cross-reference
// streams has no classic trailer at all, and /Root must come from
// somewhere.
func enrollObjectStreams(src ByteSource, xr *XRefTable, opts Options, checker *contextChecker) ([]foundTrailer, error) {
	xr.mu.RLock()
	candidates := make([]XRefEntry, 0, len(xr.entries))
	for _, e := range xr.entries {
		if e.Kind == xrefNormal {
			candidates = append(candidates, e)
		}
	}
	xr.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Offset < candidates[j].Offset })

	// A bare Document good enough to back Value.Key/Value.Reader for
	// the containers found here: no security handler (rebuild runs
	// before encryption is ever set up) and an empty xref table so an
	// indirect /Length or /Filter inside a container resolves to null
	// instead of panicking on a nil table.
	tmpDoc := &Document{src: src, opts: opts, xref: NewXRefTable(opts.MaxObjectNumber, opts.MaxXRefSize)}
	tzr := NewTokenizer(src, opts.ReadBufferSize)

	var trailers []foundTrailer
	for _, e := range candidates {
		if err := checker.check(); err != nil {
			return nil, handlerErrorf("rebuild object-stream enrollment cancelled: %v", err)
		}

		def, err := tzr.GetIndirectObject(e.Offset, e.Ptr, Loose)
		if err != nil {
			continue
		}
		strm, ok := def.obj.(stream)
		if !ok {
			continue
		}
		strm.ptr = def.ptr
		strm.offset = tzr.GetPos()

		switch strm.hdr[name("Type")] {
		case name("ObjStm"):
			enrollObjStmMembers(tmpDoc, e.Ptr.id, strm, xr)
		case name("XRef"):
			if sub, err := readXRefStream(tmpDoc, strm, opts); err == nil {
				xr.MergeUp(sub)
			}
			trailers = append(trailers, foundTrailer{off: e.Offset, dict: strm.hdr})
		}
	}
	return trailers, nil
}

// enrollObjStmMembers decodes containerID's object-stream body and
// records every member it declares as a Compressed xref entry, the
// same (container, index) shape readClassicXRefTable/readXRefStream
// produce for a trusted table.
func enrollObjStmMembers(doc *Document, containerID uint32, strm stream, xr *XRefTable) {
	n, _ := strm.hdr[name("N")].(int64)
	if n <= 0 {
		return
	}

	v := Value{doc: doc, ptr: objptr{id: containerID}, data: strm}
	rc := v.Reader()
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return
	}

	b := newBuffer(newByteSliceReader(body), 0)
	b.allowEOF = true
	defer putPDFBuffer(b)

	for i := int64(0); i < n; i++ {
		id, ok := b.readToken().(int64)
		if !ok {
			return
		}
		if _, ok := b.readToken().(int64); !ok { // per-member offset; unused here, recomputed on resolve
			return
		}
		if id > 0 {
			xr.AddCompressed(uint32(id), containerID, i)
		}
	}
}

// scanChunk tokenizes window word by word using a lightweight
// hand-rolled scan (not the full buffer tokenizer, deliberately:
// rebuild-scan runs over the whole file and must not pay
// dictionary/array parsing cost for every byte). A word is a maximal
// run of non-space, non-delimiter bytes; all-digit words feed the
// two-number window, "obj" with two numbers pending records a Normal
// entry at the first number's offset, and every other word or
// delimiter clears the window. String literals and hex strings are
// skipped whole so their contents never produce phantom entries.
//
// It returns how many leading bytes of window were fully consumed;
// the caller carries the remainder into the next chunk. When final is
// false, a token touching the end of the window is left unconsumed
// rather than guessed at, since its remainder is in the next chunk.
func scanChunk(window []byte, base int64, xr *XRefTable, nums *numberWindow, final bool) int {
	i := 0
	for i < len(window) {
		c := window[i]
		switch {
		case isSpace(c):
			i++
		case c == '(':
			j, ok := skipParenString(window, i)
			if !ok && !final {
				return i
			}
			i = j
			nums.clear()
		case c == '<' && i+1 < len(window) && window[i+1] == '<':
			i += 2
			nums.clear()
		case c == '<':
			if i+1 == len(window) && !final {
				return i // could still turn out to be "<<"
			}
			j, ok := skipHexString(window, i)
			if !ok && !final {
				return i
			}
			i = j
			nums.clear()
		case c == '%':
			j := i
			for j < len(window) && window[j] != '\r' && window[j] != '\n' {
				j++
			}
			if j == len(window) && !final {
				return i
			}
			i = j
			nums.clear()
		case isDelim(c):
			i++
			nums.clear()
		default:
			j := i
			for j < len(window) && !isSpace(window[j]) && !isDelim(window[j]) {
				j++
			}
			if j == len(window) && !final {
				return i
			}
			word := window[i:j]
			if v, ok := parseDigits(word); ok {
				nums.push(v, base+int64(i))
			} else {
				if string(word) == "obj" && nums.n == 2 {
					id, gen := nums.vals[0], nums.vals[1]
					if id > 0 && id <= int64(xr.maxObjectNumber) && gen >= 0 && gen <= 0xFFFF {
						xr.AddNormal(uint32(id), uint16(gen), false, nums.offs[0])
					}
				}
				nums.clear()
			}
			i = j
		}
	}
	return i
}

// parseDigits parses word as an unsigned decimal integer, reporting
// ok=false for anything that is not all digits (signs included: an
// object number is never signed).
func parseDigits(word []byte) (int64, bool) {
	if len(word) == 0 {
		return 0, false
	}
	for _, c := range word {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(string(word), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// skipParenString scans a literal string starting at the opening "("
// in window[start], honoring backslash escapes and nested balanced
// parens, and returns the offset one past the matching ")" plus true.
// It returns (len(window), false) if the string is not closed within
// window, so the caller can carry the whole thing into the next chunk
// rather than guess.
func skipParenString(window []byte, start int) (int, bool) {
	depth := 0
	i := start
	for i < len(window) {
		switch window[i] {
		case '\\':
			i += 2
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
		i++
	}
	return len(window), false
}

// skipHexString scans a hex string starting at the opening "<" in
// window[start] and returns the offset one past the matching ">" plus
// true, or (len(window), false) if it is not closed within window.
func skipHexString(window []byte, start int) (int, bool) {
	i := start + 1
	for i < len(window) {
		if window[i] == '>' {
			return i + 1, true
		}
		i++
	}
	return len(window), false
}

// collectTrailerDicts scans src for every "trailer" keyword and parses
// the dictionary following each, returning them tagged with their file
// offsets.
func collectTrailerDicts(src ByteSource) ([]foundTrailer, error) {
	size := src.Size()
	data, err := readAllAt(src, 0, size)
	if err != nil {
		return nil, handlerErrorf("rebuild trailer scan: %v", err)
	}

	var found []foundTrailer
	idx := 0
	for {
		rel := bytes.Index(data[idx:], []byte("trailer"))
		if rel < 0 {
			break
		}
		keywordOff := idx + rel
		start := keywordOff + len("trailer")
		tzr := newTokenizerOverBytes(data[start:])
		if d, ok := tzr.GetObjectBody().(dict); ok {
			found = append(found, foundTrailer{off: int64(keywordOff), dict: d})
		}
		idx = start
	}
	return found, nil
}

// mergeFoundTrailers overlays the discovered trailers in file order,
// per spec §4.1.5's older-under-newer rebuild merge: the last trailer
// found wins recognized keys, and earlier ones only fill keys the
// later trailers never set. It returns nil if none were found.
func mergeFoundTrailers(found []foundTrailer) dict {
	if len(found) == 0 {
		return nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].off < found[j].off })
	merged := dict{}
	for _, t := range found {
		for k, v := range t.dict {
			merged[k] = v
		}
	}
	return merged
}

func readAllAt(src ByteSource, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	read := int64(0)
	for read < n {
		m, err := src.ReadAt(buf[read:], off+read)
		read += int64(m)
		if err != nil {
			if read == n {
				break
			}
			return buf[:read], err
		}
	}
	return buf, nil
}

func newTokenizerOverBytes(b []byte) *Tokenizer {
	return NewTokenizer(&memByteSource{b: b}, 0)
}

// memByteSource is a trivial in-memory ByteSource used internally by
// rebuild to re-parse a small dictionary body it has already located
// via the raw byte scan.
type memByteSource struct{ b []byte }

func (m *memByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
func (m *memByteSource) Size() int64  { return int64(len(m.b)) }
func (m *memByteSource) Close() error { return nil }
