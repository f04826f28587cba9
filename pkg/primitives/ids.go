// Package primitives holds the small value types shared across every layer
// of the storage core: page and transaction identifiers, log sequence
// numbers, and the sentinel errors raised by the layers below.
package primitives

import "fmt"

// LSN is a byte offset into the write-ahead log, assigned by WAL.Log in
// append order. LSN 0 never names a real record.
type LSN uint64

// FileID names the backing heap file a page belongs to. The core only ever
// manages one heap file (P.db), so FileID is always 0 in this module; the
// type is kept distinct so PageID stays meaningful if a caller layers
// multiple files over the same cache.
type FileID uint64

// PageNumber is the 0-based page number within a heap file. Page 0 is
// reserved for PageOne (the open/close marker); data pages start at 1.
type PageNumber uint32

// HashCode is a stable 64-bit digest of a PageID, used as a map key where
// the PageID's own equality would be awkward (e.g. pointer-typed
// implementations).
type HashCode uint64

// PageID identifies a page within a file. Concrete implementations live in
// pkg/storage/page; the interface exists so the WAL and recovery layers do
// not need to import the page package directly.
type PageID interface {
	FileID() FileID
	PageNo() PageNumber
	Serialize() []byte
	Equals(other PageID) bool
	String() string
	HashCode() HashCode
}

// UID is the 64-bit unique identifier of a data item: high 32 bits are the
// page number, low 16 bits (of the low 32-bit half) are the intra-page
// byte offset. UIDs are stable for the life of the record.
type UID uint64

// NewUID packs a page number and intra-page offset into a UID.
func NewUID(pgno PageNumber, offset uint16) UID {
	return UID(uint64(pgno)<<32 | uint64(offset))
}

// PageNo returns the page number encoded in the UID.
func (u UID) PageNo() PageNumber {
	return PageNumber(uint64(u) >> 32)
}

// Offset returns the intra-page byte offset encoded in the UID.
func (u UID) Offset() uint16 {
	return uint16(uint64(u) & 0xFFFF)
}

func (u UID) String() string {
	return fmt.Sprintf("uid(pgno=%d,off=%d)", u.PageNo(), u.Offset())
}
