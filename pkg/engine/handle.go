package engine

import (
	"fmt"

	"coredb/pkg/mvcc"
	"coredb/pkg/primitives"
)

// Handle is one open transaction against a DB. All of its methods are
// unsafe to call concurrently from multiple goroutines; a caller that
// wants concurrent transactions opens one Handle per goroutine via
// DB.Begin.
type Handle struct {
	db    *DB
	tid   *primitives.TransactionID
	snap  mvcc.Snapshot
	level mvcc.Isolation
	done  bool
}

// Begin starts a new transaction under the given isolation level. Its
// snapshot is the set of every other transaction the engine currently
// considers active, captured atomically with the new XID's allocation.
func (db *DB) Begin(level mvcc.Isolation) (*Handle, error) {
	tid, err := db.state.Begin()
	if err != nil {
		return nil, err
	}

	db.addActive(tid.ID())
	others := db.activeExcept(tid.ID())
	snap := mvcc.NewSnapshot(tid.ID(), others)

	if _, err := db.log.LogBegin(tid); err != nil {
		return nil, err
	}

	return &Handle{db: db, tid: tid, snap: snap, level: level}, nil
}

// Read returns the payload visible to this transaction at uid.
func (h *Handle) Read(uid primitives.UID) ([]byte, error) {
	if h.done {
		return nil, fmt.Errorf("coredb: transaction already committed or aborted")
	}
	return h.db.vm.Read(h.tid, uid, h.snap, h.level)
}

// Insert creates a new row holding payload, visible only to this
// transaction until it commits, and returns its UID.
func (h *Handle) Insert(payload []byte) (primitives.UID, error) {
	if h.done {
		return 0, fmt.Errorf("coredb: transaction already committed or aborted")
	}
	return h.db.vm.Insert(h.tid, payload)
}

// Delete removes the row at uid. It first checks, without blocking,
// whether uid already has a pending delete/update from another
// transaction — returning ErrConcurrentUpdate immediately if so — before
// acquiring uid's lock and blocking until any other transaction holding it
// releases it, or failing with ErrDeadlock if waiting would close a cycle
// in the wait-for graph. Checking before locking matters because the lock
// table only hands a held lock to a waiter when the holder commits or
// aborts: locking first would make a losing writer block on a rival that
// is never going to release.
func (h *Handle) Delete(uid primitives.UID) error {
	if h.done {
		return fmt.Errorf("coredb: transaction already committed or aborted")
	}
	if err := h.db.vm.CheckConflict(h.tid, uid, h.snap, h.level); err != nil {
		return err
	}
	if err := h.db.locks.AcquireBlocking(h.tid.ID(), uid); err != nil {
		return err
	}
	return h.db.vm.Delete(h.tid, uid, h.snap, h.level)
}

// Update replaces the row at uid with newPayload, returning the new
// version's UID. Like Delete, it checks for a conflict before taking
// uid's lock.
func (h *Handle) Update(uid primitives.UID, newPayload []byte) (primitives.UID, error) {
	if h.done {
		return 0, fmt.Errorf("coredb: transaction already committed or aborted")
	}
	if err := h.db.vm.CheckConflict(h.tid, uid, h.snap, h.level); err != nil {
		return 0, err
	}
	if err := h.db.locks.AcquireBlocking(h.tid.ID(), uid); err != nil {
		return 0, err
	}
	return h.db.vm.Update(h.tid, uid, newPayload, h.snap, h.level)
}

// Commit durably marks the transaction committed and releases its locks.
func (h *Handle) Commit() error {
	if h.done {
		return fmt.Errorf("coredb: transaction already committed or aborted")
	}
	if _, err := h.db.log.LogCommit(h.tid); err != nil {
		return err
	}
	if err := h.db.state.Commit(h.tid); err != nil {
		return err
	}
	h.finish()
	return nil
}

// Abort durably marks the transaction aborted and releases its locks. It
// does not undo the transaction's writes in place — they remain on disk
// but are permanently invisible to every reader, since IsVisible requires
// committed(xmin).
func (h *Handle) Abort() error {
	if h.done {
		return fmt.Errorf("coredb: transaction already committed or aborted")
	}
	if _, err := h.db.log.LogAbort(h.tid); err != nil {
		return err
	}
	if err := h.db.state.Abort(h.tid); err != nil {
		return err
	}
	h.finish()
	return nil
}

func (h *Handle) finish() {
	h.db.locks.Remove(h.tid.ID())
	h.db.removeActive(h.tid.ID())
	h.done = true
}
