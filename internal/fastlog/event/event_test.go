package event

import "testing"

// TestEncodeMemAccess tests the packed layout of memory-access words.
func TestEncodeMemAccess(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		pc   uint64
		addr uint64
		val  uint64
		want uint64
	}{
		{
			name: "zero write8",
			kind: Write8,
			want: 0xF000000000000000,
		},
		{
			name: "address only",
			kind: Write8,
			addr: 0xDEADBEEF,
			want: 0xF0000000DEADBEEF,
		},
		{
			name: "address truncated to 32 bits",
			kind: Write8,
			addr: 0x00007FFF12345678,
			want: 0xF000000012345678,
		},
		{
			name: "value low byte",
			kind: Write1,
			val:  0x1FF, // only 0xFF survives
			want: 0xCFF0000000000000,
		},
		{
			name: "pc truncated to 20 bits",
			kind: Read4,
			pc:   0xFFFFF00456, // low 20 bits are 0x00456
			want: 0xA000045600000000,
		},
		{
			name: "all fields",
			kind: Write2,
			pc:   0x12345,
			addr: 0xCAFEBABE,
			val:  0xAB,
			want: 0xDAB12345CAFEBABE,
		},
		{
			name: "read8 full address space",
			kind: Read8,
			addr: 0xFFFFFFFFFFFFFFFF,
			want: 0xB0000000FFFFFFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeMemAccess(tt.kind, tt.pc, tt.addr, tt.val)
			if got != tt.want {
				t.Errorf("EncodeMemAccess(%v, %#x, %#x, %#x) = %#016x, want %#016x",
					tt.kind, tt.pc, tt.addr, tt.val, got, tt.want)
			}
		})
	}
}

// TestEncodeTimestamp tests timestamp word packing.
func TestEncodeTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		cycles uint64
		want   uint64
	}{
		{name: "zero", cycles: 0, want: 0x1000000000000000},
		{name: "small", cycles: 0x1234, want: 0x1000000000001234},
		{name: "truncated to 32 bits", cycles: 0xAAAABBBBCCCCDDDD, want: 0x10000000CCCCDDDD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeTimestamp(tt.cycles)
			if got != tt.want {
				t.Errorf("EncodeTimestamp(%#x) = %#016x, want %#016x", tt.cycles, got, tt.want)
			}
		})
	}
}

// TestRoundTrip verifies the encode/decode law: decoding an encoded word
// yields the inputs with pc masked to 20 bits, addr to 32 bits and val to
// 8 bits.
func TestRoundTrip(t *testing.T) {
	kinds := []Kind{Read1, Read2, Read4, Read8, Write1, Write2, Write4, Write8}
	inputs := []struct {
		pc, addr, val uint64
	}{
		{0, 0, 0},
		{0x407aa8, 0xC000012345, 0x7F},
		{0xFFFFFFFFFFFFF, 0xFFFFFFFFFFFFFFFF, 0xFFFF},
		{1, 2, 3},
	}

	for _, kind := range kinds {
		for _, in := range inputs {
			w := EncodeMemAccess(kind, in.pc, in.addr, in.val)
			gotKind, gotPC, gotAddr, gotVal := Decode(w)
			if gotKind != kind {
				t.Errorf("Decode kind = %v, want %v", gotKind, kind)
			}
			if gotPC != in.pc&SrcLocMask {
				t.Errorf("Decode pc = %#x, want %#x", gotPC, in.pc&SrcLocMask)
			}
			if gotAddr != in.addr&AddrMask {
				t.Errorf("Decode addr = %#x, want %#x", gotAddr, in.addr&AddrMask)
			}
			if gotVal != in.val&ValueMask {
				t.Errorf("Decode val = %#x, want %#x", gotVal, in.val&ValueMask)
			}
		}
	}
}

// TestKindPredicates tests the tag classification helpers.
func TestKindPredicates(t *testing.T) {
	tests := []struct {
		kind    Kind
		isMem   bool
		isWrite bool
		size    int
		valid   bool
	}{
		{Bad, false, false, 0, false},
		{Timestamp, false, false, 0, true},
		{Read1, true, false, 1, true},
		{Read2, true, false, 2, true},
		{Read4, true, false, 4, true},
		{Read8, true, false, 8, true},
		{Write1, true, true, 1, true},
		{Write2, true, true, 2, true},
		{Write4, true, true, 4, true},
		{Write8, true, true, 8, true},
		{Kind(0b0010), false, false, 0, false}, // reserved
		{Kind(0b0111), false, false, 0, false}, // reserved
	}

	for _, tt := range tests {
		if got := tt.kind.IsMemAccess(); got != tt.isMem {
			t.Errorf("%v.IsMemAccess() = %v, want %v", tt.kind, got, tt.isMem)
		}
		if got := tt.kind.Valid(); got != tt.valid {
			t.Errorf("%v.Valid() = %v, want %v", tt.kind, got, tt.valid)
		}
		if !tt.isMem {
			continue
		}
		if got := tt.kind.IsWrite(); got != tt.isWrite {
			t.Errorf("%v.IsWrite() = %v, want %v", tt.kind, got, tt.isWrite)
		}
		if got := tt.kind.Size(); got != tt.size {
			t.Errorf("%v.Size() = %v, want %v", tt.kind, got, tt.size)
		}
	}
}

// TestKindString spot-checks tag names used in trace dumps.
func TestKindString(t *testing.T) {
	if got := Write8.String(); got != "WRITE8" {
		t.Errorf("Write8.String() = %q, want WRITE8", got)
	}
	if got := Timestamp.String(); got != "TIMESTAMP" {
		t.Errorf("Timestamp.String() = %q, want TIMESTAMP", got)
	}
	if got := Kind(0b0110).String(); got != "RESERVED" {
		t.Errorf("reserved tag String() = %q, want RESERVED", got)
	}
}

// BenchmarkEncodeMemAccess measures the codec hot path.
//
// Target: ~1ns per operation, zero allocations (pure bit manipulation).
func BenchmarkEncodeMemAccess(b *testing.B) {
	b.ReportAllocs()
	var sink uint64
	for i := 0; i < b.N; i++ {
		sink = EncodeMemAccess(Write8, uint64(i), uint64(i)*8, uint64(i))
	}
	_ = sink
}
