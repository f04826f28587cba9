// Package lock implements the lock table (spec §4.9): exclusive per-UID
// locks with a wait-for graph and DFS-based deadlock detection. Granting a
// lock that would close a cycle in the wait-for graph aborts the
// requester instead of blocking it.
package lock

import (
	"fmt"
	"sync"

	"coredb/pkg/primitives"
)

// Table is the lock table: which transaction currently holds each UID,
// which UID each transaction is waiting on, and the FIFO queue of
// transactions waiting on each UID.
type Table struct {
	mu sync.Mutex

	holds map[primitives.UID]int64  // uid -> holding xid
	waits map[int64]primitives.UID  // xid -> uid it is blocked on
	queue map[primitives.UID][]int64 // uid -> xids waiting, in arrival order
	grant map[int64]chan struct{}   // xid -> channel closed when its wait is granted
}

// NewTable returns an empty lock table.
func NewTable() *Table {
	return &Table{
		holds: make(map[primitives.UID]int64),
		waits: make(map[int64]primitives.UID),
		queue: make(map[primitives.UID][]int64),
		grant: make(map[int64]chan struct{}),
	}
}

// Add requests the exclusive lock on uid for xid. If uid is unlocked or
// already held by xid, the lock is granted immediately. Otherwise xid is
// queued behind the current holder; if queuing xid would close a cycle in
// the wait-for graph, Add aborts xid instead (ErrDeadlock) and does not
// queue it.
func (t *Table) Add(xid int64, uid primitives.UID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if holder, held := t.holds[uid]; held {
		if holder == xid {
			return nil
		}
	} else {
		t.holds[uid] = xid
		return nil
	}

	// uid is held by someone else: xid must wait. Check first whether
	// doing so closes a cycle reachable from xid in the wait-for graph.
	t.waits[xid] = uid
	if t.hasCycle(xid) {
		delete(t.waits, xid)
		return fmt.Errorf("%w", primitives.ErrDeadlock)
	}

	t.queue[uid] = append(t.queue[uid], xid)
	t.grant[xid] = make(chan struct{})
	return errWouldBlock
}

// AcquireBlocking requests uid's lock for xid and, if it isn't immediately
// free, blocks until Remove transfers it to xid or a deadlock is detected.
func (t *Table) AcquireBlocking(xid int64, uid primitives.UID) error {
	err := t.Add(xid, uid)
	if err == nil {
		return nil
	}
	if err != errWouldBlock {
		return err
	}

	t.mu.Lock()
	ch := t.grant[xid]
	t.mu.Unlock()
	<-ch
	return nil
}

// errWouldBlock signals the caller must actually block (e.g. on a
// condition variable or channel) until Remove transfers the lock to it;
// it is not a failure.
var errWouldBlock = fmt.Errorf("coredb: lock held by another transaction, caller must wait")

// ErrWouldBlock is the sentinel Add returns when the lock was queued
// rather than granted or refused.
func ErrWouldBlock() error { return errWouldBlock }

// hasCycle runs a DFS from xid over the wait-for graph (xid waits on
// holder of uid, who may itself be waiting on another uid, and so on) and
// reports whether it revisits xid. Callers must hold t.mu.
func (t *Table) hasCycle(start int64) bool {
	visited := make(map[int64]bool)
	current := start
	for {
		uid, waiting := t.waits[current]
		if !waiting {
			return false
		}
		holder, held := t.holds[uid]
		if !held {
			return false
		}
		if holder == start {
			return true
		}
		if visited[holder] {
			return false
		}
		visited[holder] = true
		current = holder
	}
}

// Remove releases every lock xid holds, transferring each to the head of
// its wait queue (if any) and clearing xid from any queue it was waiting
// in.
func (t *Table) Remove(xid int64) []primitives.UID {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.waits, xid)
	delete(t.grant, xid)
	for uid, q := range t.queue {
		filtered := q[:0]
		for _, waiter := range q {
			if waiter != xid {
				filtered = append(filtered, waiter)
			}
		}
		t.queue[uid] = filtered
	}

	var released []primitives.UID
	for uid, holder := range t.holds {
		if holder != xid {
			continue
		}
		released = append(released, uid)
		delete(t.holds, uid)

		q := t.queue[uid]
		if len(q) > 0 {
			next := q[0]
			t.queue[uid] = q[1:]
			t.holds[uid] = next
			delete(t.waits, next)
			if ch, ok := t.grant[next]; ok {
				close(ch)
				delete(t.grant, next)
			}
		}
	}
	return released
}

// Granted reports whether xid currently holds uid's lock.
func (t *Table) Granted(xid int64, uid primitives.UID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.holds[uid] == xid
}
