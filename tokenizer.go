package pdf

import (
	"io"
)

// Tokenizer is the named contract spec §6.2 describes: a cursor over
// a ByteSource that understands PDF lexical syntax, used by both the
// Parser Engine's header/xref discovery and the rebuild-scan fallback.
// It owns no interpretation of object semantics beyond what token.go's
// buffer already provides; it exists to give that buffer machinery a
// stable, named surface independent of its object-graph caller.
type Tokenizer struct {
	src         ByteSource
	buf         *buffer
	bufSize     int
	trailerEnds []int64
}

// NewTokenizer returns a Tokenizer reading from src, refilling in
// chunks of bufSize bytes (0 selects the package default).
func NewTokenizer(src ByteSource, bufSize int) *Tokenizer {
	if bufSize <= 0 {
		bufSize = pdfBufferSize
	}
	t := &Tokenizer{src: src, bufSize: bufSize}
	t.buf = newBuffer(newReaderAtReader(src, 0), 0)
	if cap(t.buf.buf) != bufSize {
		// Refills read up to cap(buf) bytes at a time.
		t.buf.buf = make([]byte, 0, bufSize)
	}
	t.buf.allowEOF = true
	return t
}

// SetReadBufferSize records n as the Tokenizer's buffer size. The
// internal buffer keeps the capacity it was given by NewTokenizer, so
// later refills still read in chunks of that original size.
func (t *Tokenizer) SetReadBufferSize(n int) {
	if n > 0 {
		t.bufSize = n
	}
}

// GetDocumentSize returns the total size of the underlying byte
// stream.
func (t *Tokenizer) GetDocumentSize() int64 {
	return t.src.Size()
}

// SetPos repositions the tokenizer to read starting at pos.
func (t *Tokenizer) SetPos(pos int64) {
	t.buf.r = newReaderAtReader(t.src, pos)
	t.buf.seek(pos)
}

// GetPos returns the tokenizer's current read offset.
func (t *Tokenizer) GetPos() int64 {
	return t.buf.readOffset()
}

// SetTrailerEnds arms boundary tracking: while ends is non-nil, every
// time the tokenizer reads a comment or one of the keywords "stream",
// "endobj", "trailer" or "startxref", the current offset is appended
// to ends. Recording does not change how tokens are read; nil disarms
// it. Nothing in this package's own parse path arms it.
func (t *Tokenizer) SetTrailerEnds(ends *[]int64) {
	if ends != nil {
		t.buf.trailerEnds = ends
	} else {
		t.buf.trailerEnds = nil
	}
}

// GetCharAt returns the byte at absolute offset pos without disturbing
// the tokenizer's current position.
func (t *Tokenizer) GetCharAt(pos int64) (byte, error) {
	var b [1]byte
	n, err := t.src.ReadAt(b[:], pos)
	if n == 1 {
		return b[0], nil
	}
	if err != nil && err != io.EOF {
		return 0, err
	}
	return 0, io.EOF
}

// ReadBlock reads length bytes starting at offset, without disturbing
// the tokenizer's current position.
func (t *Tokenizer) ReadBlock(offset, length int64) ([]byte, error) {
	if length < 0 {
		return nil, formatErrorf("negative read length %d", length)
	}
	buf := make([]byte, length)
	n, err := t.src.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// GetKeyword reads the next token and returns it as a keyword string
// if it is one (including punctuation keywords like "<<" and "obj").
// It reports ok=false, leaving the token unconsumed, if the next token
// is not a keyword.
func (t *Tokenizer) GetKeyword() (string, bool) {
	tok := t.buf.readToken()
	if kw, ok := tok.(keyword); ok {
		return string(kw), true
	}
	t.buf.unreadToken(tok)
	return "", false
}

// GetNextWord reads and returns the next token, whatever its kind; the
// classic xref table reader uses it to walk subsection headers and
// entries.
func (t *Tokenizer) GetNextWord() token {
	return t.buf.readToken()
}

// GetDirectNum reads the next token and returns it as an int64 if it
// is a bare integer (not an indirect reference). It reports ok=false,
// leaving the token unconsumed, otherwise.
func (t *Tokenizer) GetDirectNum() (int64, bool) {
	save := t.buf.allowObjptr
	t.buf.allowObjptr = false
	tok := t.buf.readToken()
	t.buf.allowObjptr = save
	if n, ok := tok.(int64); ok {
		return n, true
	}
	t.buf.unreadToken(tok)
	return 0, false
}

// BackwardsSearchToWord searches backward from fromPos (exclusive) for
// the last occurrence of word, within at most window bytes, and
// returns its starting offset. This backs the startxref search (spec
// §4.1.2), which must not scan the entire file to find a keyword that
// is supposed to live in the last few hundred bytes.
func (t *Tokenizer) BackwardsSearchToWord(word string, fromPos int64, window int64) (int64, bool) {
	if fromPos <= 0 {
		return 0, false
	}
	start := fromPos - window
	if start < 0 {
		start = 0
	}
	n := fromPos - start
	buf, err := t.ReadBlock(start, n)
	if err != nil && len(buf) == 0 {
		return 0, false
	}
	idx := lastIndex(buf, []byte(word))
	if idx < 0 {
		return 0, false
	}
	return start + int64(idx), true
}

func lastIndex(s, sep []byte) int {
	if len(sep) == 0 {
		return len(s)
	}
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// GetObjectBody parses one PDF syntax object starting at the
// tokenizer's current position: a dict, array, stream header, string,
// number, name, or null/bool, whichever comes next. It does not
// expect or consume an "N G obj" wrapper; use GetIndirectObject for
// that.
func (t *Tokenizer) GetObjectBody() object {
	saveStream, saveObjptr := t.buf.allowStream, t.buf.allowObjptr
	t.buf.allowStream = true
	t.buf.allowObjptr = true
	defer func() {
		t.buf.allowStream = saveStream
		t.buf.allowObjptr = saveObjptr
	}()
	return t.buf.readObject()
}

// ReadString reads the next token as a literal or hex string and
// returns its decoded bytes. It reports ok=false if the next token
// was not a string.
func (t *Tokenizer) ReadString() (string, bool) {
	tok := t.buf.readToken()
	if s, ok := tok.(string); ok {
		return s, true
	}
	t.buf.unreadToken(tok)
	return "", false
}

// ReadHexString is an alias of ReadString retained for symmetry with
// spec §6.2's contract; hex and literal strings are indistinguishable
// once tokenized, since both decode to a raw byte string.
func (t *Tokenizer) ReadHexString() (string, bool) {
	return t.ReadString()
}

// GetIndirectObject parses one "N G obj ... endobj" definition
// starting at offset and returns its object number/generation and
// body. In Strict mode, an object number or generation mismatch
// against expectID (when expectID.id != 0) is a FormatError; in Loose
// mode it is tolerated. A missing "endobj" keyword is tolerated in
// both modes.
func (t *Tokenizer) GetIndirectObject(offset int64, expectID objptr, mode ParseMode) (objdef, error) {
	t.SetPos(offset)
	t.buf.allowObjptr = true
	t.buf.allowStream = true
	obj := t.buf.readObject()
	def, ok := obj.(objdef)
	if !ok {
		return objdef{}, formatErrorf("no object definition at offset %d", offset)
	}
	if expectID.id != 0 && def.ptr != expectID {
		if mode == Strict {
			return objdef{}, formatErrorf("object at offset %d is %d %d obj, expected %d %d obj",
				offset, def.ptr.id, def.ptr.gen, expectID.id, expectID.gen)
		}
	}
	return def, nil
}
