package pdf

import "sync"

// pdfBufferSize is the default chunk size used when refilling a
// buffer from its underlying reader.
const pdfBufferSize = 4096

var pdfBufferPool = sync.Pool{
	New: func() interface{} {
		return &buffer{
			buf: make([]byte, 0, pdfBufferSize),
			tmp: make([]byte, 0, 256),
		}
	},
}

// getPDFBuffer returns a *buffer from the pool with its scratch slices
// reset but their backing arrays retained, avoiding an allocation per
// tokenizer instantiation when scanning many objects in a document.
func getPDFBuffer() *buffer {
	b := pdfBufferPool.Get().(*buffer)
	b.r = nil
	b.buf = b.buf[:0]
	b.pos = 0
	b.offset = 0
	b.tmp = b.tmp[:0]
	b.unread = b.unread[:0]
	b.allowEOF = false
	b.allowObjptr = false
	b.allowStream = false
	b.eof = false
	b.readErr = nil
	b.trailerEnds = nil
	return b
}

// putPDFBuffer returns b to the pool. Callers must not use b after
// calling this.
func putPDFBuffer(b *buffer) {
	if cap(b.buf) > 1<<20 {
		// Don't let one huge object stream body bloat the pool.
		return
	}
	pdfBufferPool.Put(b)
}
