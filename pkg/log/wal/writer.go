package wal

import (
	"encoding/binary"
	"os"

	"coredb/pkg/primitives"
)

// checksumSeed is the running-checksum multiplier used for both per-record
// and file-level (xchecksum) checksums.
const checksumSeed uint32 = 13331

func foldChecksum(c uint32, data []byte) uint32 {
	for _, b := range data {
		c = c*checksumSeed + uint32(b)
	}
	return c
}

// LogWriter appends framed records to the WAL file at an explicit offset
// and tracks the LSN (byte offset) the next record will be assigned.
// Writes go straight to the file via WriteAt; the WAL's own Force/Sync
// decides when to fsync, so no internal buffering is needed here.
type LogWriter struct {
	file       *os.File
	bufferSize int
	currentLSN primitives.LSN
}

// NewLogWriter wraps file for offset-tracked appends starting at
// currentLSN. bufferSize is retained only as a size hint for future
// rebuilds of this writer (e.g. after WAL compaction); it does not change
// write behavior.
func NewLogWriter(file *os.File, bufferSize int, startOffset, currentLSN primitives.LSN) *LogWriter {
	_ = startOffset
	return &LogWriter{
		file:       file,
		bufferSize: bufferSize,
		currentLSN: currentLSN,
	}
}

// Append writes one framed record ([size:4][checksum:4][data]) at the
// current LSN and returns the LSN it was assigned.
func (w *LogWriter) Append(data []byte) (primitives.LSN, error) {
	lsn := w.currentLSN

	frame := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(frame[4:8], foldChecksum(0, data))
	copy(frame[8:], data)

	if _, err := w.file.WriteAt(frame, int64(lsn)); err != nil {
		return 0, err
	}
	w.currentLSN += primitives.LSN(len(frame))
	return lsn, nil
}

// Sync fsyncs the file.
func (w *LogWriter) Sync() error {
	return w.file.Sync()
}

// Close fsyncs; it does not close the underlying file.
func (w *LogWriter) Close() error {
	return w.Sync()
}

// CurrentLSN returns the offset the next appended record will receive.
func (w *LogWriter) CurrentLSN() primitives.LSN {
	return w.currentLSN
}
