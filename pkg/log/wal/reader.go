package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"coredb/pkg/log/record"
	"coredb/pkg/primitives"
)

// headerSize is the length of the file-level xchecksum header at offset 0.
const headerSize = 4

// LogReader iterates WAL records in append order, single-threaded by
// contract (§5: "readers (recovery) are single-threaded").
type LogReader struct {
	file *os.File
	pos  int64
	size int64

	// badTail is set once ReadNext hits a record whose declared length
	// runs past EOF or whose checksum disagrees; everything from badTail
	// onward is the corrupted tail described in §4.3.
	badTail    int64
	hasBadTail bool
}

// NewLogReader opens path for sequential record iteration, positioned
// just after the xchecksum header.
func NewLogReader(path string) (*LogReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open WAL for reading: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat WAL: %w", err)
	}
	return &LogReader{file: file, pos: headerSize, size: info.Size()}, nil
}

// Rewind resets the iterator to the first record.
func (r *LogReader) Rewind() {
	r.pos = headerSize
	r.hasBadTail = false
}

// ReadNext returns the next record, or io.EOF when the log is exhausted —
// either because every record has already been read, or because the next
// record's declared size overruns the file or its checksum disagrees (a
// corrupted tail, per §4.3: "aborts iteration and marks the remaining
// bytes as bad tail").
func (r *LogReader) ReadNext() (*record.LogRecord, error) {
	if r.pos+8 > r.size {
		if r.pos < r.size {
			r.markBadTail(r.pos)
		}
		return nil, io.EOF
	}

	header := make([]byte, 8)
	if _, err := r.file.ReadAt(header, r.pos); err != nil {
		return nil, fmt.Errorf("read record header at %d: %w", r.pos, err)
	}
	size := binary.BigEndian.Uint32(header[0:4])
	checksum := binary.BigEndian.Uint32(header[4:8])

	if r.pos+8+int64(size) > r.size {
		r.markBadTail(r.pos)
		return nil, io.EOF
	}

	data := make([]byte, size)
	if size > 0 {
		if _, err := r.file.ReadAt(data, r.pos+8); err != nil {
			return nil, fmt.Errorf("read record body at %d: %w", r.pos+8, err)
		}
	}

	if foldChecksum(0, data) != checksum {
		r.markBadTail(r.pos)
		return nil, io.EOF
	}

	lsn := primitives.LSN(r.pos)
	rec, err := record.DeserializeLogRecord(lsn, data)
	if err != nil {
		r.markBadTail(r.pos)
		return nil, io.EOF
	}

	r.pos += 8 + int64(size)
	return rec, nil
}

func (r *LogReader) markBadTail(offset int64) {
	if !r.hasBadTail {
		r.hasBadTail = true
		r.badTail = offset
	}
}

// BadTail reports the offset a corrupted or truncated tail starts at, if
// ReadNext has encountered one.
func (r *LogReader) BadTail() (primitives.LSN, bool) {
	return primitives.LSN(r.badTail), r.hasBadTail
}

// Close releases the underlying file handle.
func (r *LogReader) Close() error {
	return r.file.Close()
}
