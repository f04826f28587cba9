// Package mvcc implements the version manager (spec §4.8): multi-version
// entries layered on top of the heap's raw data items, visibility rules
// for read-committed and repeatable-read isolation, and per-transaction
// snapshots.
package mvcc

import (
	"encoding/binary"
	"fmt"

	"coredb/pkg/heap"
	"coredb/pkg/primitives"
)

// entryHeaderLen is the [xmin:8][xmax:8] prefix of every MVCC entry.
const entryHeaderLen = 16

// Entry is the decoded form of one MVCC version: the creating and
// (if set) invalidating transaction IDs, plus the user payload.
type Entry struct {
	XMin    int64
	XMax    int64
	Payload []byte
}

// noXMax marks an entry that has not yet been superseded or deleted.
const noXMax int64 = 0

// EncodeEntry packs an Entry into the on-disk [xmin:8][xmax:8][data] body
// that heap.WrapRaw then wraps with the item envelope.
func EncodeEntry(e Entry) []byte {
	buf := make([]byte, entryHeaderLen+len(e.Payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.XMin))
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.XMax))
	copy(buf[entryHeaderLen:], e.Payload)
	return buf
}

// DecodeEntry unpacks the MVCC body produced by EncodeEntry. data is the
// payload heap.PayloadOf already extracted from a raw item.
func DecodeEntry(data []byte) (Entry, error) {
	if len(data) < entryHeaderLen {
		return Entry{}, fmt.Errorf("coredb: MVCC entry body too short: %d bytes", len(data))
	}
	return Entry{
		XMin:    int64(binary.BigEndian.Uint64(data[0:8])),
		XMax:    int64(binary.BigEndian.Uint64(data[8:16])),
		Payload: append([]byte(nil), data[entryHeaderLen:]...),
	}, nil
}

// wrapEntry encodes e as an Entry body and wraps it as a live raw item
// ready for heap.DataManager.Insert.
func wrapEntry(e Entry) ([]byte, error) {
	return heap.WrapRaw(EncodeEntry(e))
}

// readEntry unwraps a raw item read from the heap layer into its Entry
// form, or reports ErrNullEntry if the slot is a tombstone or otherwise
// unreadable.
func readEntry(raw []byte) (Entry, error) {
	if heap.IsTombstone(raw) {
		return Entry{}, fmt.Errorf("%w", primitives.ErrNullEntry)
	}
	return DecodeEntry(heap.PayloadOf(raw))
}
