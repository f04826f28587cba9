package heap

import (
	"fmt"
	"sync"

	"coredb/pkg/log/wal"
	"coredb/pkg/memory"
	"coredb/pkg/primitives"
)

// ErrNotClosedCleanly is returned by Open when page 0's validity-check
// span shows the previous session crashed; the caller must run recovery
// against the same page store and WAL before calling Open again.
var ErrNotClosedCleanly = fmt.Errorf("coredb: heap file was not closed cleanly, recovery required")

// DataManager is the L6 façade every layer above the page cache talks to:
// it owns placement (via the free-space index), logs every mutation to
// the WAL before applying it to a page, and hands back/accepts raw item
// bytes. Callers above DataManager (pkg/mvcc) are responsible for the
// xmin/xmax+payload structure of those bytes; DataManager only knows
// about the [valid][size][payload] item envelope.
type DataManager struct {
	pages *memory.PageStore
	log   *wal.WAL
	fsi   *FSI

	mu sync.Mutex
}

// Bootstrap creates a fresh heap file: page 0 (PageOne) with its
// validity-check span initialized, and page 1, the first PageX.
func Bootstrap(pages *memory.PageStore) error {
	p0, err := pages.NewPage(nil)
	if err != nil {
		return fmt.Errorf("allocate page 0: %w", err)
	}
	memory.InitPageOneRaw(p0)
	memory.SetVCOpen(p0)
	memory.SetVCClose(p0)
	if err := pages.FlushPage(p0); err != nil {
		return err
	}
	if err := pages.Release(p0); err != nil {
		return err
	}

	p1, err := pages.NewPage(nil)
	if err != nil {
		return fmt.Errorf("allocate first data page: %w", err)
	}
	memory.InitPageXRaw(p1)
	if err := pages.FlushPage(p1); err != nil {
		return err
	}
	return pages.Release(p1)
}

// Open wires a DataManager to an already-created heap file: it checks
// page 0's validity-check span (a mismatch means the previous session
// crashed and recovery must run before Open is called again) and rebuilds
// the free-space index from every resident data page's current free
// space.
func Open(pages *memory.PageStore, log *wal.WAL) (*DataManager, error) {
	p0, err := pages.GetPage(0)
	if err != nil {
		return nil, fmt.Errorf("load page 0: %w", err)
	}
	clean := memory.CheckVC(p0)
	memory.SetVCOpen(p0)
	if err := pages.FlushPage(p0); err != nil {
		pages.Release(p0)
		return nil, err
	}
	if err := pages.Release(p0); err != nil {
		return nil, err
	}
	if !clean {
		return nil, ErrNotClosedCleanly
	}

	dm := &DataManager{pages: pages, log: log, fsi: NewFSI()}
	if err := dm.rebuildFSI(); err != nil {
		return nil, err
	}
	return dm, nil
}

func (dm *DataManager) rebuildFSI() error {
	count, err := dm.pages.PageCount()
	if err != nil {
		return err
	}
	for pgno := primitives.PageNumber(1); pgno < count; pgno++ {
		p, err := dm.pages.GetPage(pgno)
		if err != nil {
			return err
		}
		dm.fsi.Add(pgno, memory.FreeSpace(p))
		if err := dm.pages.Release(p); err != nil {
			return err
		}
	}
	return nil
}

// Insert places payload (already wrapped as a raw item by WrapRaw or the
// MVCC layer) on a page with enough free space, logging the INSERT record
// before applying it, and returns the item's UID.
func (dm *DataManager) Insert(tid *primitives.TransactionID, raw []byte) (primitives.UID, error) {
	if len(raw) > memory.MaxFreeSpace {
		return 0, fmt.Errorf("%w", primitives.ErrDataTooLarge)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	pgno, ok := dm.fsi.Select(len(raw))
	var p *memory.Page
	var err error
	if ok {
		p, err = dm.pages.GetPage(pgno)
		if err != nil {
			return 0, err
		}
		if memory.FreeSpace(p) < len(raw) {
			// Index was stale; fall back to allocating a fresh page.
			dm.pages.Release(p)
			p, pgno, err = dm.allocatePage()
			if err != nil {
				return 0, err
			}
		}
	} else {
		p, pgno, err = dm.allocatePage()
		if err != nil {
			return 0, err
		}
	}
	defer dm.pages.Release(p)

	// The offset is predictable before the page is actually touched
	// (insertion is append-only tail-first), so the WAL record can be
	// made durable before the page mutation, per §5's WAL-before-page-
	// write ordering. dm.mu serializes every Insert/UpdateInPlace call,
	// so no other writer can touch p between the peek and the commit.
	p.RLock()
	offset := memory.PeekOffset(p)
	p.RUnlock()

	if _, err := dm.log.LogInsertAt(tid, pgno, offset, raw); err != nil {
		return 0, fmt.Errorf("log insert: %w", err)
	}

	p.Lock()
	committedOffset, err := memory.Insert(p, raw)
	p.Unlock()
	if err != nil {
		return 0, err
	}
	if committedOffset != offset {
		return 0, fmt.Errorf("coredb: internal error, page offset changed between log and commit")
	}

	if err := dm.pages.FlushPage(p); err != nil {
		return 0, err
	}
	dm.fsi.Add(pgno, memory.FreeSpace(p))

	return primitives.NewUID(pgno, offset), nil
}

func (dm *DataManager) allocatePage() (*memory.Page, primitives.PageNumber, error) {
	p, err := dm.pages.NewPage(nil)
	if err != nil {
		return nil, 0, fmt.Errorf("allocate new data page: %w", err)
	}
	memory.InitPageXRaw(p)
	return p, p.Number, nil
}

// Read returns a copy of the raw item bytes at uid.
func (dm *DataManager) Read(uid primitives.UID) ([]byte, error) {
	p, err := dm.pages.GetPage(uid.PageNo())
	if err != nil {
		return nil, err
	}
	defer dm.pages.Release(p)

	p.RLock()
	defer p.RUnlock()

	offset := int(uid.Offset())
	if offset+itemHeaderLen > len(p.Data) {
		return nil, fmt.Errorf("%w", primitives.ErrNullEntry)
	}
	size := SizeOf(p.Data[offset:])
	if offset+size > len(p.Data) {
		return nil, fmt.Errorf("%w", primitives.ErrNullEntry)
	}
	out := make([]byte, size)
	copy(out, p.Data[offset:offset+size])
	return out, nil
}

// UpdateInPlace overwrites the item at uid with newRaw, which must be the
// same length as the item currently there (the MVCC layer only ever uses
// this to stamp an xmax field, never to resize a tuple). It logs the
// UPDATE record before applying it.
func (dm *DataManager) UpdateInPlace(tid *primitives.TransactionID, uid primitives.UID, oldRaw, newRaw []byte) error {
	if len(oldRaw) != len(newRaw) {
		return fmt.Errorf("coredb: in-place update must preserve item length (%d vs %d)", len(oldRaw), len(newRaw))
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if _, err := dm.log.LogUpdateUID(tid, uid, oldRaw, newRaw); err != nil {
		return fmt.Errorf("log update: %w", err)
	}

	p, err := dm.pages.GetPage(uid.PageNo())
	if err != nil {
		return err
	}
	defer dm.pages.Release(p)

	memory.RecoverUpdate(p, newRaw, uid.Offset())
	return dm.pages.FlushPage(p)
}

// Close writes a clean validity-check close marker on page 0, then closes
// the page cache, flushing every dirty page. It does not close the WAL.
func (dm *DataManager) Close() error {
	p0, err := dm.pages.GetPage(0)
	if err != nil {
		return err
	}
	memory.SetVCClose(p0)
	if err := dm.pages.FlushPage(p0); err != nil {
		dm.pages.Release(p0)
		return err
	}
	if err := dm.pages.Release(p0); err != nil {
		return err
	}
	return dm.pages.Close()
}
