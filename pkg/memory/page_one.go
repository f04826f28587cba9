package memory

import (
	"bytes"
	"crypto/rand"
)

// PageOne is page 0 of the heap file: an 8-byte validity-check span
// written twice, at [100,108) and [108,116), per §4.2. The two copies
// match at a clean close; a mismatch at open means the previous session
// ended without closing and recovery must run.
const (
	vcOpenOffset  = 100
	vcCloseOffset = 108
	vcSpanLen     = 8
)

// InitPageOneRaw zero-fills a freshly allocated page 0. The validity-check
// span is left zero until SetVCOpen writes it.
func InitPageOneRaw(p *Page) {
	for i := range p.Data {
		p.Data[i] = 0
	}
}

// SetVCOpen writes a fresh random validity-check value into [100,108) on
// database open, leaving [108,116) as it was (so an unclean shutdown is
// detectable: the two spans will differ until SetVCClose runs again).
func SetVCOpen(p *Page) {
	p.Lock()
	defer p.Unlock()
	rand.Read(p.Data[vcOpenOffset : vcOpenOffset+vcSpanLen])
	p.Dirty = true
}

// SetVCClose copies the open-time validity value into [108,116), marking a
// clean shutdown.
func SetVCClose(p *Page) {
	p.Lock()
	defer p.Unlock()
	copy(p.Data[vcCloseOffset:vcCloseOffset+vcSpanLen], p.Data[vcOpenOffset:vcOpenOffset+vcSpanLen])
	p.Dirty = true
}

// CheckVC reports whether the two validity-check spans agree, i.e. whether
// the database was closed cleanly last time.
func CheckVC(p *Page) bool {
	p.RLock()
	defer p.RUnlock()
	return bytes.Equal(
		p.Data[vcOpenOffset:vcOpenOffset+vcSpanLen],
		p.Data[vcCloseOffset:vcCloseOffset+vcSpanLen],
	)
}
