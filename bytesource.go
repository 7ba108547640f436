package pdf

import (
	"context"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// ByteSource is the external random-access byte-stream contract the
// Parser Engine and Syntax Tokenizer are built against (see spec
// §6.1). Any type providing ReadAt over a fixed-length span of bytes
// can back a parse; the parser never assumes it owns a file
// descriptor. The rebuild-scan fallback's trailer search does read
// the whole document into memory.
type ByteSource interface {
	io.ReaderAt
	// Size returns the total length of the byte stream in bytes.
	Size() int64
	// Close releases any resources (file handles, mappings) held by
	// the source. It is safe to call more than once.
	Close() error
}

// readerAtByteSource adapts an io.ReaderAt of known size into a
// ByteSource, for callers who already have one open (e.g. an
// in-memory buffer, or a *os.File whose size was determined
// separately).
type readerAtByteSource struct {
	r      io.ReaderAt
	size   int64
	closer io.Closer
}

// NewReaderAtByteSource wraps r, which must expose exactly size bytes
// starting at offset 0. If r also implements io.Closer, Close on the
// returned ByteSource closes it too.
func NewReaderAtByteSource(r io.ReaderAt, size int64) ByteSource {
	src := &readerAtByteSource{r: r, size: size}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

func (s *readerAtByteSource) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

func (s *readerAtByteSource) Size() int64 { return s.size }

func (s *readerAtByteSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// mmapByteSource is a ByteSource backed by a memory-mapped file. It
// avoids copying the whole document into the Go heap, which matters
// for the multi-hundred-megabyte scanned-document PDFs the rebuild
// path has to scan end to end.
type mmapByteSource struct {
	f *os.File
	m mmap.MMap
}

// OpenMMapByteSource memory-maps the file at path read-only and
// returns a ByteSource over it. The caller must Close the result when
// done; Close unmaps and closes the underlying file.
func OpenMMapByteSource(path string) (ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &mmapByteSource{f: f, m: m}, nil
}

func (s *mmapByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.m)) {
		return 0, io.EOF
	}
	n := copy(p, s.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *mmapByteSource) Size() int64 { return int64(len(s.m)) }

func (s *mmapByteSource) Close() error {
	if s.m != nil {
		if err := s.m.Unmap(); err != nil {
			s.f.Close()
			return err
		}
		s.m = nil
	}
	return s.f.Close()
}

// ContextByteSource wraps a ByteSource with periodic context
// cancellation checks, so a long linear scan (rebuild-scan over a
// multi-gigabyte stream, spec §4.1.5) can be aborted promptly instead
// of running to completion after a caller has given up. It checks
// ctx.Err() once per call rather than per byte, so it adds no
// measurable overhead to small reads.
type ContextByteSource struct {
	ByteSource
	ctx context.Context
}

// NewContextByteSource returns a ByteSource that checks ctx before
// every ReadAt.
func NewContextByteSource(ctx context.Context, src ByteSource) *ContextByteSource {
	return &ContextByteSource{ByteSource: src, ctx: ctx}
}

func (s *ContextByteSource) ReadAt(p []byte, off int64) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	return s.ByteSource.ReadAt(p, off)
}

// readerAtReader adapts an io.ReaderAt plus a moving offset into an
// io.Reader, the shape (*buffer).r wants.
type readerAtReader struct {
	r   io.ReaderAt
	off int64
}

func newReaderAtReader(r io.ReaderAt, off int64) *readerAtReader {
	return &readerAtReader{r: r, off: off}
}

func (r *readerAtReader) Read(p []byte) (int, error) {
	n, err := r.r.ReadAt(p, r.off)
	r.off += int64(n)
	return n, err
}
