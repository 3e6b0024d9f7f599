package trace

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/fastlog/internal/fastlog/event"
	"github.com/kolkov/fastlog/internal/fastlog/sink"
)

// record locates one buffer record inside the source.
type record struct {
	threadID int32
	epoch    int32
	count    uint64
	payload  int64 // byte offset of the first event word
}

// Parser holds the trace parsing state: a validated index of every buffer
// record in the source.
type Parser struct {
	src  Source
	recs []record
}

// NewParser validates the trace magic and indexes the source's records.
// Indexing only reads the fixed-size record headers, so it stays cheap
// even for multi-gigabyte traces.
func NewParser(src Source) (*Parser, error) {
	size := int64(src.Len())
	if size < int64(len(sink.Magic)) {
		return nil, fmt.Errorf("trace too short for magic: %d bytes", size)
	}

	var magic [8]byte
	if _, err := src.ReadAt(magic[:], 0); err != nil {
		return nil, fmt.Errorf("reading trace magic: %w", err)
	}
	if string(magic[:]) != sink.Magic {
		return nil, fmt.Errorf("bad trace magic %q", magic[:])
	}

	p := &Parser{src: src}
	var hdr [sink.RecordHeaderSize]byte
	for off := int64(len(sink.Magic)); off < size; {
		if off+sink.RecordHeaderSize > size {
			return nil, fmt.Errorf("truncated record header at offset %d", off)
		}
		if _, err := src.ReadAt(hdr[:], off); err != nil {
			return nil, fmt.Errorf("reading record header at offset %d: %w", off, err)
		}

		rec := record{
			threadID: int32(binary.LittleEndian.Uint32(hdr[0:4])),
			epoch:    int32(binary.LittleEndian.Uint32(hdr[4:8])),
			count:    binary.LittleEndian.Uint64(hdr[8:16]),
			payload:  off + sink.RecordHeaderSize,
		}
		end := rec.payload + int64(rec.count)*8
		if end > size {
			return nil, fmt.Errorf("record at offset %d claims %d events past end of trace", off, rec.count)
		}
		p.recs = append(p.recs, rec)
		off = end
	}
	return p, nil
}

// NumBuffers returns the number of buffer records in the trace.
func (p *Parser) NumBuffers() int {
	return len(p.recs)
}

// Parse decodes every record, fanning the work out across goroutines (one
// per record; records are large, typically millions of events). The
// result is sorted by thread then epoch, so each thread's buffers appear
// in delivery order.
func (p *Parser) Parse() ([]Buffer, error) {
	bufs := make([]Buffer, len(p.recs))

	var g errgroup.Group
	for i := range p.recs {
		i := i
		g.Go(func() error {
			b, err := p.parseRecord(p.recs[i])
			if err != nil {
				return err
			}
			bufs[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(bufs, func(i, j int) bool {
		if bufs[i].ThreadID != bufs[j].ThreadID {
			return bufs[i].ThreadID < bufs[j].ThreadID
		}
		return bufs[i].Epoch < bufs[j].Epoch
	})
	return bufs, nil
}

// parseRecord reads and decodes one record's event words.
func (p *Parser) parseRecord(rec record) (Buffer, error) {
	raw := make([]byte, rec.count*8)
	if n, err := p.src.ReadAt(raw, rec.payload); n != len(raw) {
		return Buffer{}, fmt.Errorf("reading %d event words at offset %d: %w", rec.count, rec.payload, err)
	}

	events := make([]Event, rec.count)
	for i := range events {
		w := binary.LittleEndian.Uint64(raw[i*8:])
		kind, pc, addr, val := event.Decode(w)
		if !kind.Valid() {
			return Buffer{}, fmt.Errorf("thread %d epoch %d: reserved event tag %#x at index %d",
				rec.threadID, rec.epoch, uint8(kind), i)
		}
		events[i] = Event{Kind: kind, PC: pc, Addr: addr, Value: uint8(val)}
	}

	return Buffer{ThreadID: rec.threadID, Epoch: rec.epoch, Events: events}, nil
}
