package pdf

import (
	"io"
	"sync"
)

// objStreamIndex maps an object number to its byte offset within the
// decoded body of one object-stream container (spec §4.1.8). It is
// built once per container, lazily, the first time an object inside
// that container is requested.
type objStreamIndex map[uint32]int64

// ObjectStreamCache memoizes the per-container index of an
// object-stream (/Type /ObjStm), so resolving many compressed objects
// out of the same container only pays the cost of reading its N-pair
// header table once.
type ObjectStreamCache struct {
	mu    sync.RWMutex
	index map[uint32]objStreamIndex
}

// NewObjectStreamCache returns an empty cache.
func NewObjectStreamCache() *ObjectStreamCache {
	return &ObjectStreamCache{index: make(map[uint32]objStreamIndex)}
}

// Lookup returns the offset of objnum within container's decoded body,
// building and caching the container's index via build the first time
// it is needed. build is called at most once per container regardless
// of how many concurrent goroutines request objects from it.
func (c *ObjectStreamCache) Lookup(container uint32, objnum uint32, build func() (objStreamIndex, error)) (int64, bool, error) {
	c.mu.RLock()
	idx, ok := c.index[container]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if existing, ok := c.index[container]; ok {
			// Another goroutine built it while we waited for the lock.
			idx = existing
		} else {
			built, err := build()
			if err != nil {
				c.mu.Unlock()
				return 0, false, err
			}
			c.index[container] = built
			idx = built
		}
		c.mu.Unlock()
	}
	off, ok := idx[objnum]
	return off, ok, nil
}

// buildObjStreamIndex parses the N id/offset pairs at the front of an
// object stream's decoded body, per ISO 32000-1 §7.5.7: N pairs of
// integers, object number then offset relative to First.
func buildObjStreamIndex(body []byte, n int, first int64) (objStreamIndex, error) {
	b := newBuffer(newByteSliceReader(body), 0)
	b.allowEOF = true
	defer putPDFBuffer(b)

	idx := make(objStreamIndex, n)
	for i := 0; i < n; i++ {
		id, ok := b.readToken().(int64)
		if !ok {
			return nil, formatErrorf("object stream index: expected object number at pair %d", i)
		}
		off, ok := b.readToken().(int64)
		if !ok {
			return nil, formatErrorf("object stream index: expected offset at pair %d", i)
		}
		idx[uint32(id)] = first + off
	}
	return idx, nil
}

type byteSliceReader struct {
	b   []byte
	pos int
}

func newByteSliceReader(b []byte) *byteSliceReader { return &byteSliceReader{b: b} }

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
