package pdf

import (
	"bufio"
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/ascii85"
	"fmt"
	"io"
	"sort"
)

// ValueKind identifies which of the nine PDF object kinds a Value
// wraps (spec §3.1's "resolved object" surface).
type ValueKind int

const (
	Null ValueKind = iota
	Bool
	Integer
	Real
	String
	Name
	Dict
	Array
	Stream
)

// Value is a fully or lazily resolved PDF object, bound to the
// Document that produced it so Key/Index can transparently chase
// further indirect references. The zero Value is a null.
type Value struct {
	doc  *Document
	ptr  objptr // the indirect object this value was reached through, if any
	data object
}

func (v Value) Kind() ValueKind {
	switch v.data.(type) {
	case bool:
		return Bool
	case int64:
		return Integer
	case float64:
		return Real
	case string:
		return String
	case name:
		return Name
	case dict:
		return Dict
	case array:
		return Array
	case stream:
		return Stream
	default:
		return Null
	}
}

func (v Value) IsNull() bool { return v.data == nil }

// ObjNum returns the object number v was reached through (the indirect
// reference a Key/Index resolve followed). A direct value carries the
// number of the indirect object it was read from, or 0 if it was not
// read from one.
func (v Value) ObjNum() uint32 { return v.ptr.id }

// GenNum returns the generation number v was reached through.
func (v Value) GenNum() uint16 { return v.ptr.gen }

func (v Value) Bool() bool {
	x, _ := v.data.(bool)
	return x
}

func (v Value) Int64() int64 {
	x, _ := v.data.(int64)
	return x
}

func (v Value) Float64() float64 {
	switch x := v.data.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	default:
		return 0
	}
}

// RawString returns v's raw, undecoded byte string. If v.Kind() !=
// String, RawString returns "".
func (v Value) RawString() string {
	x, _ := v.data.(string)
	return x
}

// Text decodes v as a PDF text string per ISO 32000-1 §7.9.2.2: a
// leading UTF-16BE byte-order mark selects wide decoding, otherwise
// PDFDocEncoding is assumed. If v.Kind() != String, Text returns "".
func (v Value) Text() string {
	x, ok := v.data.(string)
	if !ok {
		return ""
	}
	return decodeTextString(x)
}

func (v Value) Name() string {
	x, _ := v.data.(name)
	return string(x)
}

// dictOf returns the underlying dict for a Dict or Stream value.
func (v Value) dictOf() (dict, bool) {
	if d, ok := v.data.(dict); ok {
		return d, true
	}
	if s, ok := v.data.(stream); ok {
		return s.hdr, true
	}
	return nil, false
}

// Key returns the value under key in v's dictionary (or a stream's
// header dictionary), resolving indirect references. If v is neither
// a Dict nor a Stream, or key is absent, Key returns a null Value.
func (v Value) Key(key string) Value {
	d, ok := v.dictOf()
	if !ok {
		return Value{}
	}
	if v.doc == nil {
		return Value{data: d[name(key)]}
	}
	return v.doc.resolve(v.ptr, d[name(key)])
}

// Keys returns the sorted key names of v's dictionary (or a stream's
// header dictionary). If v is neither, Keys returns nil.
func (v Value) Keys() []string {
	d, ok := v.dictOf()
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// Index returns the i'th element of v, resolving indirect references.
// If v.Kind() != Array or i is out of range, Index returns a null
// Value.
func (v Value) Index(i int) Value {
	a, ok := v.data.(array)
	if !ok || i < 0 || i >= len(a) {
		return Value{}
	}
	if v.doc == nil {
		return Value{data: a[i]}
	}
	return v.doc.resolve(v.ptr, a[i])
}

func (v Value) Len() int {
	a, ok := v.data.(array)
	if !ok {
		return 0
	}
	return len(a)
}

func (v Value) String() string { return objfmt(v.data) }

func objfmt(x object) string {
	switch x := x.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case name:
		return "/" + string(x)
	case dict:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteString("<<")
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(' ')
			}
			fmt.Fprintf(&buf, "/%s %s", k, objfmt(x[name(k)]))
		}
		buf.WriteString(">>")
		return buf.String()
	case array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(objfmt(e))
		}
		buf.WriteByte(']')
		return buf.String()
	case stream:
		return fmt.Sprintf("%s@%d", objfmt(x.hdr), x.offset)
	case objptr:
		return fmt.Sprintf("%d %d R", x.id, x.gen)
	default:
		return fmt.Sprint(x)
	}
}

type errorReadCloser struct{ err error }

func (e *errorReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e *errorReadCloser) Close() error             { return nil }

// Reader returns the decoded byte content of the stream v: its raw
// bytes are read from the Document's ByteSource, decrypted if a
// security handler is active, then passed through the filter chain
// named by /Filter (with /DecodeParms supplying each filter's
// parameters). If v.Kind() != Stream, Reader returns a ReadCloser
// whose reads all fail.
func (v Value) Reader() io.ReadCloser {
	s, ok := v.data.(stream)
	if !ok {
		return &errorReadCloser{fmt.Errorf("value is not a stream")}
	}
	if v.doc == nil {
		return &errorReadCloser{fmt.Errorf("stream has no document context")}
	}
	length := v.Key("Length").Int64()
	var rd io.Reader = io.NewSectionReader(v.doc.src, s.offset, length)

	if v.doc.security != nil && s.ptr.id != v.doc.security.metadataObjnum() {
		ch := v.doc.security.CryptoHandler()
		if ch != nil {
			decrypted, err := ch.DecryptStream(s.ptr, rd)
			if err != nil {
				return &errorReadCloser{err}
			}
			rd = decrypted
		}
	}

	filter := v.Key("Filter")
	parms := v.Key("DecodeParms")
	switch filter.Kind() {
	case Null:
		// no filter
	case Name:
		rd, err := applyFilter(rd, filter.Name(), parms)
		if err != nil {
			return &errorReadCloser{err}
		}
		return io.NopCloser(rd)
	case Array:
		for i := 0; i < filter.Len(); i++ {
			var err error
			rd, err = applyFilter(rd, filter.Index(i).Name(), parms.Index(i))
			if err != nil {
				return &errorReadCloser{err}
			}
		}
	default:
		return &errorReadCloser{fmt.Errorf("malformed /Filter value")}
	}
	return io.NopCloser(rd)
}

func applyFilter(rd io.Reader, filterName string, parm Value) (io.Reader, error) {
	switch filterName {
	case "FlateDecode", "Fl":
		zr, err := zlib.NewReader(rd)
		if err != nil {
			return nil, wrapFormat(err, "FlateDecode")
		}
		return applyPredictor(zr, parm), nil
	case "LZWDecode", "LZW":
		early := parm.Key("EarlyChange")
		if early.Kind() != Null && early.Int64() != 1 {
			return nil, formatErrorf("unsupported LZWDecode EarlyChange %v", early.Int64())
		}
		return applyPredictor(lzw.NewReader(rd, lzw.MSB, 8), parm), nil
	case "ASCIIHexDecode", "AHx":
		return newASCIIHexDecoder(rd), nil
	case "ASCII85Decode", "A85":
		return ascii85.NewDecoder(rd), nil
	case "RunLengthDecode", "RL":
		return newRunLengthReader(rd), nil
	case "DCTDecode", "DCT", "JPXDecode", "CCITTFaxDecode", "CCF":
		// Image codecs: opaque to this module by design (spec §1
		// Non-goals). Passed through undecoded for a caller that
		// understands the encoding.
		return rd, nil
	default:
		return nil, formatErrorf("unsupported filter %q", filterName)
	}
}

func applyPredictor(rd io.Reader, parm Value) io.Reader {
	if parm.Kind() != Dict {
		return rd
	}
	pred := parm.Key("Predictor")
	switch pred.Int64() {
	case 0, 1, 2:
		return rd
	case 12:
		columns := parm.Key("Columns").Int64()
		if columns <= 0 {
			columns = 1
		}
		return &pngUpReader{r: rd, hist: make([]byte, 1+columns), tmp: make([]byte, 1+columns)}
	default:
		return rd
	}
}

// pngUpReader undoes the PNG "Up" predictor (ISO 32000-1 Table 8),
// the only predictor variant this module implements: it is the one
// virtually every FlateDecode-compressed content and xref stream
// actually uses in practice.
type pngUpReader struct {
	r    io.Reader
	hist []byte
	tmp  []byte
	pend []byte
}

func (r *pngUpReader) Read(b []byte) (int, error) {
	n := 0
	for len(b) > 0 {
		if len(r.pend) > 0 {
			m := copy(b, r.pend)
			n += m
			b = b[m:]
			r.pend = r.pend[m:]
			continue
		}
		if _, err := io.ReadFull(r.r, r.tmp); err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if r.tmp[0] != 2 {
			return n, formatErrorf("unsupported PNG predictor tag %d", r.tmp[0])
		}
		for i, v := range r.tmp {
			r.hist[i] += v
		}
		r.pend = r.hist[1:]
	}
	return n, nil
}

// runLengthReader implements the RunLengthDecode filter (ISO 32000-1
// §7.4.5).
type runLengthReader struct {
	r   *bufio.Reader
	buf []byte
	eod bool
}

func newRunLengthReader(rd io.Reader) io.Reader {
	return &runLengthReader{r: bufio.NewReader(rd)}
}

func (r *runLengthReader) Read(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		if len(r.buf) == 0 {
			if r.eod {
				break
			}
			if err := r.fill(); err != nil {
				if err == io.EOF {
					break
				}
				return n, err
			}
		}
		m := copy(p, r.buf)
		n += m
		p = p[m:]
		r.buf = r.buf[m:]
	}
	if n == 0 && r.eod {
		return 0, io.EOF
	}
	return n, nil
}

func (r *runLengthReader) fill() error {
	b, err := r.r.ReadByte()
	if err != nil {
		return err
	}
	switch {
	case b == 128:
		r.eod = true
		return io.EOF
	case b <= 127:
		count := int(b) + 1
		r.buf = make([]byte, count)
		_, err := io.ReadFull(r.r, r.buf)
		return err
	default:
		count := 257 - int(b)
		val, err := r.r.ReadByte()
		if err != nil {
			return err
		}
		r.buf = bytes.Repeat([]byte{val}, count)
		return nil
	}
}

// asciiHexDecoder implements the ASCIIHexDecode filter (ISO 32000-1
// §7.4.2): pairs of hex digits, whitespace ignored, terminated by
// ">". An odd trailing digit is padded with an implicit 0 nibble.
type asciiHexDecoder struct {
	r          *bufio.Reader
	done       bool
	pendingNib int8
}

func newASCIIHexDecoder(rd io.Reader) io.Reader {
	return &asciiHexDecoder{r: bufio.NewReader(rd), pendingNib: -1}
}

func (d *asciiHexDecoder) Read(p []byte) (int, error) {
	if d.done {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) {
		c, err := d.r.ReadByte()
		if err != nil {
			if d.pendingNib >= 0 {
				p[n] = byte(d.pendingNib << 4)
				n++
				d.pendingNib = -1
			}
			d.done = true
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		if isSpace(c) {
			continue
		}
		if c == '>' {
			d.done = true
			if d.pendingNib >= 0 {
				p[n] = byte(d.pendingNib << 4)
				n++
				d.pendingNib = -1
			}
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		v := unhex(c)
		if v < 0 {
			continue
		}
		if d.pendingNib < 0 {
			d.pendingNib = int8(v)
			continue
		}
		p[n] = byte(d.pendingNib<<4 | int8(v))
		n++
		d.pendingNib = -1
	}
	return n, nil
}
