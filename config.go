package pdf

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// ParseMode selects how GetIndirectObject reacts to an object whose
// "N G obj" header is not the one the caller expected (see spec
// §4.1.7, §6.2). The parser passes it to GetIndirectObject when it
// materializes an object through the xref table; xref loading and
// rebuild-scan always parse Loose.
type ParseMode int

const (
	// Strict fails an object whose header names a different object
	// number or generation than expected.
	Strict ParseMode = iota
	// Loose accepts such an object as found. Other malformed syntax
	// (missing endobj, odd-length hex strings, unterminated arrays)
	// goes through the tolerant token-reading paths in token.go in
	// both modes.
	Loose
)

// Options carries the tunables a parse needs across the corpus of PDFs
// this module is expected to open, most of which have no single
// correct default: aggressive limits break valid documents produced by
// unusual toolchains, permissive limits let a hostile document exhaust
// memory during rebuild-scan.
type Options struct {
	// ParseMode governs GetIndirectObject and object-level tolerance.
	ParseMode ParseMode

	// MaxObjectNumber bounds the object numbers this module will
	// allocate space for when sizing an XRefTable, guarding against a
	// document claiming an absurd /Size.
	MaxObjectNumber uint32 `validate:"omitempty,gt=0"`

	// MaxXRefSize bounds the number of entries a single classic xref
	// subsection or xref stream segment may declare.
	MaxXRefSize uint32 `validate:"omitempty,gt=0"`

	// ReadBufferSize is the chunk size used by the tokenizer when
	// refilling from its ByteSource.
	ReadBufferSize int `validate:"omitempty,gt=0"`

	// HeaderSearchWindow bounds how many leading bytes are searched
	// for the "%PDF-" signature before giving up (spec §4.1.1).
	HeaderSearchWindow int64 `validate:"omitempty,gt=0"`

	// StartxrefSearchWindow bounds how many trailing bytes are
	// searched backward for the "startxref" keyword (spec §4.1.2).
	StartxrefSearchWindow int64 `validate:"omitempty,gt=0"`

	// Password is passed to the security handler's OnInit. Revision 5
	// and 6 handlers try it as both user and owner password; revision
	// 2-4 handlers derive the key from it without checking it.
	Password string

	// MaxScanDuration bounds how long the rebuild-scan fallback (spec
	// §4.1.5) may run before giving up with a HandlerError, independent
	// of ctx's own cancellation. Zero disables the wall-clock ceiling
	// and leaves cancellation entirely to ctx.
	MaxScanDuration time.Duration `validate:"omitempty,gt=0"`
}

const (
	defaultMaxObjectNumber       = 8_388_607 // matches MAX_OBJECT_NUMBER, spec §3.2
	defaultMaxXRefSize           = 1_000_000
	defaultReadBufferSize        = pdfBufferSize
	defaultHeaderSearchWindow    = 1024
	defaultStartxrefSearchWindow = 4096
)

// DefaultOptions returns the Options a bare StartParse call uses when
// none are supplied.
func DefaultOptions() Options {
	return Options{
		ParseMode:             Loose,
		MaxObjectNumber:       defaultMaxObjectNumber,
		MaxXRefSize:           defaultMaxXRefSize,
		ReadBufferSize:        defaultReadBufferSize,
		HeaderSearchWindow:    defaultHeaderSearchWindow,
		StartxrefSearchWindow: defaultStartxrefSearchWindow,
	}
}

var optionsValidator = validator.New()

// Validate reports whether o's non-zero fields are within acceptable
// ranges. Zero fields are treated as "use the default" by withDefaults
// and are exempt via the omitempty tags above.
func (o Options) Validate() error {
	return optionsValidator.Struct(o)
}

// withDefaults fills any zero-valued tunable in o with its default,
// leaving explicit caller values untouched.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxObjectNumber == 0 {
		o.MaxObjectNumber = d.MaxObjectNumber
	}
	if o.MaxXRefSize == 0 {
		o.MaxXRefSize = d.MaxXRefSize
	}
	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.HeaderSearchWindow == 0 {
		o.HeaderSearchWindow = d.HeaderSearchWindow
	}
	if o.StartxrefSearchWindow == 0 {
		o.StartxrefSearchWindow = d.StartxrefSearchWindow
	}
	return o
}
