package memory

import (
	"encoding/binary"
	"fmt"
)

// Every data page (PageX) begins with a 2-byte free-space offset (FSO):
// the byte position where the next raw data item will be appended. Items
// are packed tail-first from FSO onward; nothing below FSO is in use.
const fsoHeaderLen = 2

// itemHeaderLen is the [valid:1][size:2] prefix of every raw data item
// (pkg/heap owns the full item encoding; PageX only needs the header
// length to compute MaxFreeSpace).
const itemHeaderLen = 3

// MaxFreeSpace is the largest raw item (header included) a single page can
// ever hold: the whole page, minus the FSO header.
const MaxFreeSpace = PageSize - fsoHeaderLen

func pageFSO(p *Page) uint16 {
	return binary.BigEndian.Uint16(p.Data[0:2])
}

func setPageFSO(p *Page, v uint16) {
	binary.BigEndian.PutUint16(p.Data[0:2], v)
}

// InitPageXRaw resets a page to an empty PageX: FSO points just past the
// header, and the rest of the page is zeroed.
func InitPageXRaw(p *Page) {
	for i := range p.Data {
		p.Data[i] = 0
	}
	setPageFSO(p, fsoHeaderLen)
}

// FreeSpace returns the number of bytes available for new items on p.
func FreeSpace(p *Page) int {
	return PageSize - int(pageFSO(p))
}

// PeekOffset returns the offset the next Insert on p will use, without
// modifying the page. Callers that need to log a record naming the offset
// before the WAL-before-page-write rule lets them actually write it (e.g.
// DataManager.Insert) must keep any other insert off p between this call
// and the matching Insert; DataManager.Insert does so by holding its own
// mutex across both.
func PeekOffset(p *Page) uint16 {
	return pageFSO(p)
}

// Insert appends raw at the current FSO, advances it, and returns the
// offset raw was written at. Callers must already hold p's write latch.
func Insert(p *Page, raw []byte) (uint16, error) {
	if len(raw) > FreeSpace(p) {
		return 0, fmt.Errorf("coredb: item of %d bytes does not fit in %d free bytes", len(raw), FreeSpace(p))
	}
	fso := pageFSO(p)
	copy(p.Data[fso:], raw)
	setPageFSO(p, fso+uint16(len(raw)))
	p.Dirty = true
	return fso, nil
}

// RecoverInsert replays an INSERT record during redo: it writes raw at the
// exact offset the original insert used and advances FSO only if the
// replayed item extends past it (the page may already have been extended
// further by a later, already-durable insert).
func RecoverInsert(p *Page, raw []byte, offset uint16) {
	p.Lock()
	defer p.Unlock()
	copy(p.Data[offset:], raw)
	if end := offset + uint16(len(raw)); end > pageFSO(p) {
		setPageFSO(p, end)
	}
	p.Dirty = true
}

// RecoverUpdate replays an UPDATE or CLR record: it overwrites the item at
// offset in place, never touching FSO (updates never change an item's
// size).
func RecoverUpdate(p *Page, raw []byte, offset uint16) {
	p.Lock()
	defer p.Unlock()
	copy(p.Data[offset:], raw)
	p.Dirty = true
}
