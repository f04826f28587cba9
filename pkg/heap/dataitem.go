// Package heap implements the record-level layers above the page cache:
// the raw data item encoding (L4), the free-space index (L5), and the
// DataManager façade (L6) that the MVCC version manager and lock table
// build on.
package heap

import (
	"encoding/binary"
	"fmt"
)

// itemHeaderLen is the [valid:1][size:2] prefix of every raw data item.
const itemHeaderLen = 3

// MaxPayloadSize is the largest payload a single data item can carry: a
// full page's free space, minus the item header.
const MaxPayloadSize = 8192 - 2 - itemHeaderLen

const (
	validLive      byte = 0
	validTombstone byte = 1
)

// WrapRaw encodes payload as a live raw data item:
// [valid=0][size:2][payload].
func WrapRaw(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("coredb: payload of %d bytes exceeds max %d", len(payload), MaxPayloadSize)
	}
	raw := make([]byte, itemHeaderLen+len(payload))
	raw[0] = validLive
	binary.BigEndian.PutUint16(raw[1:3], uint16(len(payload)))
	copy(raw[itemHeaderLen:], payload)
	return raw, nil
}

// IsTombstone reports whether raw's valid byte marks it dead.
func IsTombstone(raw []byte) bool {
	return len(raw) > 0 && raw[0] != validLive
}

// PayloadOf returns the payload bytes a raw item wraps.
func PayloadOf(raw []byte) []byte {
	if len(raw) < itemHeaderLen {
		return nil
	}
	size := binary.BigEndian.Uint16(raw[1:3])
	end := itemHeaderLen + int(size)
	if end > len(raw) {
		end = len(raw)
	}
	return raw[itemHeaderLen:end]
}

// Tombstone returns a copy of raw with its valid byte set to dead, the
// same length as raw (so it overwrites the original item in place).
func Tombstone(raw []byte) []byte {
	out := append([]byte(nil), raw...)
	if len(out) > 0 {
		out[0] = validTombstone
	}
	return out
}

// SizeOf returns the total on-page size (header + payload) of raw.
func SizeOf(raw []byte) int {
	if len(raw) < itemHeaderLen {
		return 0
	}
	return itemHeaderLen + int(binary.BigEndian.Uint16(raw[1:3]))
}
