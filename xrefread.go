package pdf

import "io"

// readClassicXRefTable reads one classic "xref ... trailer <<...>>"
// section starting right after the "xref" keyword has already been
// consumed by the caller, and returns the entries it declares plus
// the trailer dictionary that follows.
func readClassicXRefTable(tzr *Tokenizer, opts Options) (*XRefTable, dict, error) {
	xr := NewXRefTable(opts.MaxObjectNumber, opts.MaxXRefSize)
	docSize := tzr.GetDocumentSize()

	for {
		tok := tzr.GetNextWord()
		if tok == keyword("trailer") {
			break
		}
		if tok == nil || tok == io.EOF {
			return nil, nil, formatErrorf("xref table ended without a trailer keyword")
		}
		start, ok1 := tok.(int64)
		count, ok2 := tzr.GetNextWord().(int64)
		if !ok1 || !ok2 || count < 0 {
			return nil, nil, formatErrorf("malformed xref subsection header")
		}
		if uint32(count) > opts.MaxXRefSize {
			return nil, nil, formatErrorf("xref subsection declares %d entries, exceeding the configured limit", count)
		}
		for i := int64(0); i < count; i++ {
			off, ok1 := tzr.GetNextWord().(int64)
			gen, ok2 := tzr.GetNextWord().(int64)
			mark, ok3 := tzr.GetNextWord().(keyword)
			if !ok1 || !ok2 || !ok3 || (mark != "n" && mark != "f") {
				return nil, nil, formatErrorf("malformed xref entry at subsection offset %d", i)
			}
			id := uint32(start + i)
			if mark == "n" {
				if off < pdfHeaderSize || off >= docSize {
					// An in-use entry cannot live inside the header or
					// past end of file; drop it so an older revision's
					// entry (or rebuild) can serve the object instead.
					continue
				}
				xr.AddNormal(id, clampGen(gen), false, off)
			} else {
				xr.SetFree(id, clampGen(gen), uint32(off))
			}
		}
	}

	trailer, ok := tzr.GetObjectBody().(dict)
	if !ok {
		return nil, nil, formatErrorf("xref table not followed by a trailer dictionary")
	}
	return xr, trailer, nil
}

// readXRefStream decodes a cross-reference stream (ISO 32000-1
// §7.5.8) into an XRefTable. strm must already have its object
// pointer and offset populated (as GetIndirectObject leaves them).
func readXRefStream(d *Document, strm stream, opts Options) (*XRefTable, error) {
	if strm.hdr[name("Type")] != name("XRef") {
		return nil, formatErrorf("cross-reference stream missing /Type /XRef")
	}
	size, ok := strm.hdr[name("Size")].(int64)
	if !ok || size < 0 {
		return nil, formatErrorf("cross-reference stream missing /Size")
	}

	wArr, ok := strm.hdr[name("W")].(array)
	if !ok || len(wArr) < 3 {
		return nil, formatErrorf("cross-reference stream missing /W")
	}
	w := make([]int, len(wArr))
	total := 0
	for i, x := range wArr {
		n, ok := x.(int64)
		if !ok || n < 0 {
			return nil, formatErrorf("cross-reference stream /W entry %d is not a non-negative integer", i)
		}
		w[i] = int(n)
		total += int(n)
	}

	index, ok := strm.hdr[name("Index")].(array)
	if !ok {
		index = array{int64(0), size}
	}
	if len(index)%2 != 0 {
		return nil, formatErrorf("cross-reference stream /Index has odd length")
	}

	v := Value{doc: d, ptr: objptr{}, data: strm}
	rc := v.Reader()
	defer rc.Close()

	xr := NewXRefTable(opts.MaxObjectNumber, opts.MaxXRefSize)
	buf := make([]byte, total)
	docSize := d.src.Size()

	for len(index) > 0 {
		start, ok1 := index[0].(int64)
		count, ok2 := index[1].(int64)
		if !ok1 || !ok2 || count < 0 {
			return nil, formatErrorf("cross-reference stream /Index pair is malformed")
		}
		index = index[2:]
		if uint32(count) > opts.MaxXRefSize {
			return nil, formatErrorf("cross-reference stream segment declares %d entries, exceeding the configured limit", count)
		}
		for i := int64(0); i < count; i++ {
			if _, err := io.ReadFull(rc, buf); err != nil {
				// A segment shorter than its /Index claims is
				// tolerated: skip what could not be decoded rather
				// than failing the whole table (spec §9).
				break
			}
			typ := 1
			if w[0] != 0 {
				typ = decodeBigEndian(buf[0:w[0]])
			}
			f2 := decodeBigEndian(buf[w[0] : w[0]+w[1]])
			f3 := decodeBigEndian(buf[w[0]+w[1] : w[0]+w[1]+w[2]])
			id := uint32(start + i)
			switch typ {
			case 0:
				xr.SetFree(id, uint16(f3), uint32(f2))
			case 1:
				if int64(f2) < pdfHeaderSize || int64(f2) >= docSize {
					continue
				}
				xr.AddNormal(id, uint16(f3), false, int64(f2))
			case 2:
				xr.AddCompressed(id, uint32(f2), int64(f3))
			}
		}
	}
	xr.SetObjectMapSize(uint32(size))
	return xr, nil
}

func decodeBigEndian(b []byte) int {
	x := 0
	for _, c := range b {
		x = x<<8 | int(c)
	}
	return x
}
