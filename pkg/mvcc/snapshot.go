package mvcc

// Isolation selects which of the two visibility rules (§4.8.1) a
// transaction's reads are checked against.
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
)

// Snapshot captures what a transaction running under repeatable-read
// isolation is allowed to see: every XID active (not yet committed or
// aborted) at the moment the transaction began, plus the lowest such XID
// (the "xmin-limit" m in §4.8.1) — no version created by a transaction
// younger than the snapshot, even a since-committed one, is visible.
// Read-committed transactions carry a Snapshot too, but IsVisible ignores
// its ActiveXIDs/MinActiveXID fields for that isolation level.
type Snapshot struct {
	SelfXID      int64
	ActiveXIDs   map[int64]struct{}
	MinActiveXID int64
}

// NewSnapshot captures the active set at the instant a transaction with
// xid self begins. active lists every other transaction's XID currently
// recorded Active in the transaction state store.
func NewSnapshot(self int64, active []int64) Snapshot {
	s := Snapshot{
		SelfXID:    self,
		ActiveXIDs: make(map[int64]struct{}, len(active)),
	}
	minActive := self
	for _, xid := range active {
		s.ActiveXIDs[xid] = struct{}{}
		if xid < minActive {
			minActive = xid
		}
	}
	s.MinActiveXID = minActive
	return s
}

// Contains reports whether xid was active (uncommitted) when the snapshot
// was taken.
func (s Snapshot) Contains(xid int64) bool {
	_, ok := s.ActiveXIDs[xid]
	return ok
}
