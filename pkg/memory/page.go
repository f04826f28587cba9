// Package memory implements the page cache (spec §4.2/§4.4): the fixed-size
// page buffer pool backing the heap file, and the two page layouts built on
// top of it — PageOne, the single validity-check marker page, and PageX,
// the free-space-offset data page every other page in the file uses.
package memory

import (
	"sync"

	"coredb/pkg/primitives"
)

// PageSize is P, the fixed page size every page in the heap file occupies.
const PageSize = 8192

// Page is one in-memory buffer slot: a page's raw bytes plus the
// bookkeeping the cache and recovery need to manage it. Page.mu protects
// Data from concurrent readers and writers; callers must hold it (via
// Lock/RLock) for the duration of any access to Data.
type Page struct {
	Number primitives.PageNumber
	Data   []byte

	Dirty bool

	mu       sync.RWMutex
	refcount int32
}

func newPage(number primitives.PageNumber) *Page {
	return &Page{
		Number: number,
		Data:   make([]byte, PageSize),
	}
}

// Lock/Unlock/RLock/RUnlock expose the page's own latch directly; the
// cache's mutex only protects the slot table, not page contents.
func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }

// MarkDirty flags the page for write-back before eviction or close.
func (p *Page) MarkDirty() {
	p.mu.Lock()
	p.Dirty = true
	p.mu.Unlock()
}
