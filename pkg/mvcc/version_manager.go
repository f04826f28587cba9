package mvcc

import (
	"fmt"

	"coredb/pkg/heap"
	"coredb/pkg/primitives"
	"coredb/pkg/tss"
)

// tssChecker adapts *tss.Store to the commitChecker interface IsVisible
// needs.
type tssChecker struct {
	store *tss.Store
}

func (c tssChecker) IsCommitted(xid int64) bool {
	return c.store.IsCommitted(primitives.NewTransactionIDFromValue(xid))
}

// VersionManager is the L7 layer: it turns the heap's raw item storage
// into multi-version rows, applying the §4.8.1 visibility rules on every
// read and enforcing first-committer-wins on every update/delete.
type VersionManager struct {
	data *heap.DataManager
	tss  *tss.Store
}

// NewVersionManager wires a VersionManager to its DataManager and
// transaction state store.
func NewVersionManager(data *heap.DataManager, store *tss.Store) *VersionManager {
	return &VersionManager{data: data, tss: store}
}

// Insert creates the first version of a new row, visible only to tid until
// tid commits.
func (vm *VersionManager) Insert(tid *primitives.TransactionID, payload []byte) (primitives.UID, error) {
	raw, err := wrapEntry(Entry{XMin: tid.ID(), XMax: noXMax, Payload: payload})
	if err != nil {
		return 0, err
	}
	return vm.data.Insert(tid, raw)
}

// Read returns the payload of the version of uid visible to tid under
// snap/level, or ErrNullEntry if no version is visible.
func (vm *VersionManager) Read(tid *primitives.TransactionID, uid primitives.UID, snap Snapshot, level Isolation) ([]byte, error) {
	raw, err := vm.data.Read(uid)
	if err != nil {
		return nil, err
	}
	entry, err := readEntry(raw)
	if err != nil {
		return nil, err
	}

	if !IsVisible(entry.XMin, entry.XMax, tid.ID(), snap, level, tssChecker{vm.tss}) {
		return nil, fmt.Errorf("%w", primitives.ErrNullEntry)
	}
	return entry.Payload, nil
}

// CheckConflict reports whether uid's currently visible version already has
// xmax stamped by some other transaction, without taking uid's write lock.
// Handle calls this before acquiring the lock so a losing writer sees
// ErrConcurrentUpdate immediately instead of blocking on a lock its rival
// won't release until that rival commits or aborts — the lock table only
// transfers a held lock on Remove, which runs from Commit/Abort, so
// blocking here before the conflict is known would deadlock a transaction
// against its own later Commit call in the same goroutine.
func (vm *VersionManager) CheckConflict(tid *primitives.TransactionID, uid primitives.UID, snap Snapshot, level Isolation) error {
	_, _, err := vm.readWritable(tid, uid, snap, level)
	return err
}

// readWritable loads uid's current entry and raw bytes, failing with
// ErrNullEntry if tid cannot see it or ErrConcurrentUpdate if another
// transaction already holds the first-committer-wins claim on it.
func (vm *VersionManager) readWritable(tid *primitives.TransactionID, uid primitives.UID, snap Snapshot, level Isolation) (Entry, []byte, error) {
	raw, err := vm.data.Read(uid)
	if err != nil {
		return Entry{}, nil, err
	}
	entry, err := readEntry(raw)
	if err != nil {
		return Entry{}, nil, err
	}

	if !IsVisible(entry.XMin, entry.XMax, tid.ID(), snap, level, tssChecker{vm.tss}) {
		return Entry{}, nil, fmt.Errorf("%w", primitives.ErrNullEntry)
	}
	if entry.XMax != noXMax {
		return Entry{}, nil, fmt.Errorf("%w", primitives.ErrConcurrentUpdate)
	}
	return entry, raw, nil
}

// Delete stamps xmax on the version of uid visible to tid, making it
// invisible to later readers. It fails with ErrConcurrentUpdate if another
// transaction has already set xmax on that version — first-committer-wins.
// Callers that need to avoid blocking on a lock held by the eventual loser
// of that race should call CheckConflict first.
func (vm *VersionManager) Delete(tid *primitives.TransactionID, uid primitives.UID, snap Snapshot, level Isolation) error {
	entry, raw, err := vm.readWritable(tid, uid, snap, level)
	if err != nil {
		return err
	}

	updated := entry
	updated.XMax = tid.ID()
	newRaw, err := wrapEntry(updated)
	if err != nil {
		return err
	}
	return vm.data.UpdateInPlace(tid, uid, raw, newRaw)
}

// Update performs a row update as a delete of the visible version followed
// by an insert of the new payload as a fresh version, returning the new
// version's UID. It fails with ErrConcurrentUpdate under the same
// first-committer-wins rule as Delete.
func (vm *VersionManager) Update(tid *primitives.TransactionID, uid primitives.UID, newPayload []byte, snap Snapshot, level Isolation) (primitives.UID, error) {
	if err := vm.Delete(tid, uid, snap, level); err != nil {
		return 0, err
	}
	return vm.Insert(tid, newPayload)
}
