package sink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// Trace file framing. A trace file is the magic followed by zero or more
// records; each record is an out-of-band buffer header followed by the raw
// event words:
//
//	[Magic:8]
//	[ThreadID:u32][Epoch:u32][Count:u64][Count x u64 event words]...
//
// Everything is little-endian, matching the in-memory event layout, so a
// record's payload is a byte-for-byte image of the buffer's valid storage.
const (
	// Magic identifies a fastlog trace file, version 1.
	Magic = "fastlog1"

	// RecordHeaderSize is the fixed size of a record header in bytes.
	RecordHeaderSize = 4 + 4 + 8
)

// File persists delivered buffers to a trace file.
//
// Consume cannot return an error (shims and workers are infallible by
// contract), so write failures are sticky: the first one is retained and
// reported by Close, and later deliveries are discarded.
//
// Thread Safety: safe for concurrent Consume calls; records from
// concurrent workers are serialized in arrival order.
type File struct {
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	err error

	scratch [RecordHeaderSize]byte
}

// Create creates (or truncates) a trace file and writes the magic.
func Create(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.WriteString(Magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing trace magic: %w", err)
	}
	return &File{f: f, w: w}, nil
}

// Consume implements the worker contract by appending one record.
func (s *File) Consume(threadID, epoch int32, events []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}

	hdr := s.scratch[:]
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(threadID))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(epoch))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(events)))
	if _, err := s.w.Write(hdr); err != nil {
		s.err = fmt.Errorf("writing record header: %w", err)
		return
	}

	var word [8]byte
	for _, ev := range events {
		binary.LittleEndian.PutUint64(word[:], ev)
		if _, err := s.w.Write(word[:]); err != nil {
			s.err = fmt.Errorf("writing event words: %w", err)
			return
		}
	}
}

// Close flushes and closes the file, returning the first error that
// occurred during any delivery or the close itself.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil && s.err == nil {
		s.err = fmt.Errorf("flushing trace file: %w", err)
	}
	if err := s.f.Close(); err != nil && s.err == nil {
		s.err = fmt.Errorf("closing trace file: %w", err)
	}
	return s.err
}
