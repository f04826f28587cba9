package memory

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"coredb/pkg/primitives"
)

// MinPoolSize is the smallest page cache size Open/Create will accept;
// below this the cache could never hold even the pages a single
// transaction touches at once, making forward progress impossible.
const MinPoolSize = 10

// PageStore is the L1 page cache (§4.2): a fixed-capacity pool of Page
// buffers backed by one heap file, with singleflight-deduplicated loads
// and refcount-gated eviction. A page with refcount > 0 is pinned and is
// never chosen as an eviction victim; if every resident page is pinned
// when a new one is needed, NewPage/GetPage return ErrDatabaseBusy rather
// than block forever.
type PageStore struct {
	file *os.File

	mu    sync.Mutex
	pages map[primitives.PageNumber]*Page

	capacity int
	loading  singleflight.Group
}

// NewPageStore opens the heap file at path and creates a cache with room
// for capacity resident pages. capacity below MinPoolSize is rejected with
// ErrMemTooSmall.
func NewPageStore(path string, capacity int) (*PageStore, error) {
	if capacity < MinPoolSize {
		return nil, fmt.Errorf("%w: requested %d slots, minimum is %d", primitives.ErrMemTooSmall, capacity, MinPoolSize)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open heap file %s: %w", path, err)
	}

	return &PageStore{
		file:     file,
		pages:    make(map[primitives.PageNumber]*Page, capacity),
		capacity: capacity,
	}, nil
}

// PageCount returns the number of pages currently stored in the heap file.
func (ps *PageStore) PageCount() (primitives.PageNumber, error) {
	info, err := ps.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat heap file: %w", err)
	}
	return primitives.PageNumber(info.Size() / PageSize), nil
}

// NewPage appends a fresh page initialized from init (which must be
// PageSize bytes, or nil for an all-zero page) to the heap file and
// returns the page (its Number field holds its page number), pinned in the cache (refcount 1;
// callers must Release it).
func (ps *PageStore) NewPage(init []byte) (*Page, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	info, err := ps.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat heap file: %w", err)
	}
	pgno := primitives.PageNumber(info.Size() / PageSize)

	p := newPage(pgno)
	if init != nil {
		copy(p.Data, init)
	}
	if _, err := ps.file.WriteAt(p.Data, int64(pgno)*PageSize); err != nil {
		return nil, fmt.Errorf("write new page %d: %w", pgno, err)
	}

	if err := ps.admit(p); err != nil {
		return nil, err
	}
	p.refcount++
	return p, nil
}

// GetPage returns the page numbered pgno, loading it from the heap file if
// it is not already resident. The returned page is pinned; callers must
// call Release when done.
func (ps *PageStore) GetPage(pgno primitives.PageNumber) (*Page, error) {
	ps.mu.Lock()
	if p, ok := ps.pages[pgno]; ok {
		p.refcount++
		ps.mu.Unlock()
		return p, nil
	}
	ps.mu.Unlock()

	v, err, _ := ps.loading.Do(fmt.Sprintf("%d", pgno), func() (any, error) {
		buf := make([]byte, PageSize)
		if _, err := ps.file.ReadAt(buf, int64(pgno)*PageSize); err != nil {
			return nil, fmt.Errorf("read page %d: %w", pgno, err)
		}
		p := newPage(pgno)
		copy(p.Data, buf)

		ps.mu.Lock()
		defer ps.mu.Unlock()
		if existing, ok := ps.pages[pgno]; ok {
			return existing, nil
		}
		if err := ps.admit(p); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	p := v.(*Page)
	ps.mu.Lock()
	p.refcount++
	ps.mu.Unlock()
	return p, nil
}

// PinForRecovery loads pgno for the recovery manager's single-threaded
// redo/undo scan. It behaves exactly like GetPage; the name documents the
// call site rather than a distinct code path.
func (ps *PageStore) PinForRecovery(pgno primitives.PageNumber) (*Page, error) {
	return ps.GetPage(pgno)
}

// admit inserts p into the cache, evicting an unpinned victim first (and
// flushing it if dirty) if the cache is at capacity. Callers must hold ps.mu.
func (ps *PageStore) admit(p *Page) error {
	if len(ps.pages) < ps.capacity {
		ps.pages[p.Number] = p
		return nil
	}

	for pgno, victim := range ps.pages {
		if victim.refcount > 0 {
			continue
		}
		if victim.Dirty {
			if err := ps.flushLocked(victim); err != nil {
				return err
			}
		}
		delete(ps.pages, pgno)
		ps.pages[p.Number] = p
		return nil
	}

	return fmt.Errorf("%w", primitives.ErrDatabaseBusy)
}

// Release unpins p. The caller must not touch p.Data after calling
// Release unless it re-pins via GetPage.
func (ps *PageStore) Release(p *Page) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if p.refcount > 0 {
		p.refcount--
	}
	return nil
}

// FlushPage writes p's current contents back to the heap file and clears
// its dirty flag, regardless of pin state.
func (ps *PageStore) FlushPage(p *Page) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.flushLocked(p)
}

func (ps *PageStore) flushLocked(p *Page) error {
	p.RLock()
	defer p.RUnlock()
	if _, err := ps.file.WriteAt(p.Data, int64(p.Number)*PageSize); err != nil {
		return fmt.Errorf("flush page %d: %w", p.Number, err)
	}
	p.Dirty = false
	return nil
}

// TruncateByMaxPgno drops every resident page numbered above maxPgno and
// truncates the heap file to maxPgno+1 pages, per the recovery analysis
// step that discards pages beyond the last one any log record names.
func (ps *PageStore) TruncateByMaxPgno(maxPgno primitives.PageNumber) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for pgno := range ps.pages {
		if pgno > maxPgno {
			delete(ps.pages, pgno)
		}
	}

	if err := ps.file.Truncate((int64(maxPgno) + 1) * PageSize); err != nil {
		return fmt.Errorf("truncate heap file to %d pages: %w", maxPgno+1, err)
	}
	return nil
}

// Close flushes every dirty resident page and closes the heap file.
func (ps *PageStore) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, p := range ps.pages {
		if p.Dirty {
			if err := ps.flushLocked(p); err != nil {
				return err
			}
		}
	}
	return ps.file.Close()
}
