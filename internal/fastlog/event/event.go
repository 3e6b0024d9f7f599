// Package event implements the 64-bit event word codec for the fastlog runtime.
//
// Every instrumented operation is recorded as a single 64-bit word with the
// following little-endian layout:
//
//	[Header:4][Value:8][SrcLoc:20][Address:32]
//
// This packing enables the critical hot-path property: one encoded word, one
// store, no variable-length framing. Fields that do not fit (upper address
// bits, upper value bits, full PC) are truncated; the analyzer reconstructs
// or disambiguates them offline from per-process metadata.
package event

// Kind is the 4-bit event header tag stored in bits 63..60 of an event word.
//
// Memory-access tags have the form 0b1AS: the top bit discriminates memory
// accesses, A is the write bit, and S is the 2-bit size-class log
// (0..3 = 1,2,4,8 bytes). Tag 0b0001 marks a timestamp event. All other
// values are reserved.
type Kind uint8

const (
	// Bad is the zero Kind; no valid event word carries it.
	Bad Kind = 0b0000

	// Timestamp marks an event whose address field holds the low 32 bits
	// of a cycle counter instead of a memory address.
	Timestamp Kind = 0b0001

	// Read1..Read8 tag read accesses of 1, 2, 4 and 8 bytes.
	Read1 Kind = 0b1000
	Read2 Kind = 0b1001
	Read4 Kind = 0b1010
	Read8 Kind = 0b1011

	// Write1..Write8 tag write accesses of 1, 2, 4 and 8 bytes.
	Write1 Kind = 0b1100
	Write2 Kind = 0b1101
	Write4 Kind = 0b1110
	Write8 Kind = 0b1111
)

// Field widths and positions within an event word.
const (
	// HeaderBits is the width of the event kind tag.
	HeaderBits = 4

	// ValueBits is the width of the value field (low byte of the
	// stored/loaded value).
	ValueBits = 8

	// SrcLocBits is the width of the truncated instrumentation-site
	// identifier (~1M distinct sites).
	SrcLocBits = 20

	// AddrBits is the width of the address field.
	AddrBits = 32

	headerShift = 60
	valueShift  = 52
	srcLocShift = 32

	// ValueMask extracts the low value byte before shifting.
	ValueMask = (1 << ValueBits) - 1

	// SrcLocMask extracts the truncated site ID before shifting.
	SrcLocMask = (1 << SrcLocBits) - 1

	// AddrMask extracts the low address bits.
	AddrMask = (1 << AddrBits) - 1
)

// IsMemAccess reports whether k tags a memory read or write.
//
//go:nosplit
func (k Kind) IsMemAccess() bool {
	return k&0b1000 != 0
}

// IsWrite reports whether k tags a memory write. Only meaningful when
// IsMemAccess is true.
//
//go:nosplit
func (k Kind) IsWrite() bool {
	return k&0b1100 == 0b1100
}

// Size returns the access size in bytes (1, 2, 4 or 8). Only meaningful
// when IsMemAccess is true.
//
//go:nosplit
func (k Kind) Size() int {
	return 1 << (k & 0b0011)
}

// Valid reports whether k is a defined header tag (timestamp or memory
// access). Reserved tags decode as invalid.
func (k Kind) Valid() bool {
	return k == Timestamp || k.IsMemAccess()
}

// EncodeMemAccess packs a memory-access event word.
//
// This is on the CRITICAL HOT PATH: it compiles to a handful of shifts,
// masks and ORs, allocates nothing, and is a mandatory inline candidate.
//
// pc is truncated to its low 20 bits ((pc << 44) >> 44 shifted into the
// SrcLoc field), yielding site-stable but collision-prone IDs. addr keeps
// its low 32 bits, val its low 8 bits.
//
//go:nosplit
func EncodeMemAccess(kind Kind, pc uint64, addr uint64, val uint64) uint64 {
	loc := (pc << 44) >> 44
	return uint64(kind)<<headerShift |
		(val&ValueMask)<<valueShift |
		loc<<srcLocShift |
		addr&AddrMask
}

// EncodeTimestamp packs a timestamp event word carrying the low 32 bits of
// a cycle counter in the address field.
//
//go:nosplit
func EncodeTimestamp(cycles uint64) uint64 {
	return uint64(Timestamp)<<headerShift | cycles&AddrMask
}

// Decode unpacks an event word into its header tag and fields.
//
// For timestamp events, addr holds the low cycle-counter bits and pc/val
// are zero by construction. Masked-out bits of the original inputs are
// unrecoverable and decode as zero.
//
//go:nosplit
func Decode(w uint64) (kind Kind, pc uint64, addr uint64, val uint64) {
	kind = Kind(w >> headerShift)
	val = (w >> valueShift) & ValueMask
	pc = (w >> srcLocShift) & SrcLocMask
	addr = w & AddrMask
	return
}

// String returns a human-readable tag name for debugging and trace dumps.
// Not used on the hot path.
func (k Kind) String() string {
	switch k {
	case Timestamp:
		return "TIMESTAMP"
	case Read1:
		return "READ1"
	case Read2:
		return "READ2"
	case Read4:
		return "READ4"
	case Read8:
		return "READ8"
	case Write1:
		return "WRITE1"
	case Write2:
		return "WRITE2"
	case Write4:
		return "WRITE4"
	case Write8:
		return "WRITE8"
	default:
		return "RESERVED"
	}
}
