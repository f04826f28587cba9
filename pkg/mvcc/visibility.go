package mvcc

// commitChecker reports whether a given XID is recorded committed; it
// abstracts over pkg/tss so this file can be unit tested without a real
// transaction state file.
type commitChecker interface {
	IsCommitted(xid int64) bool
}

// IsVisible implements §4.8.1's visibility rules: whether the version with
// creating transaction c (xmin) and invalidating transaction d (xmax,
// noXMax if unset) is visible to a transaction t reading under snap/level.
//
// Read-committed: visible iff (c=t ∧ d=0) ∨ (committed(c) ∧ (d=0 ∨ (d≠t ∧
// ¬committed(d)))) — a transaction sees its own uncommitted writes, plus
// any version created by a committed transaction that hasn't since been
// superseded by another committed transaction (or isn't superseded by
// itself, in which case the old version is correctly invisible).
//
// Repeatable-read: the same shape, but "committed(x)" is replaced by
// "committed(x) ∧ x was not active in snap ∧ x ≤ t" (a transaction that
// committed after the snapshot was taken is treated as not-yet-committed), and the
// creating transaction must additionally satisfy c ≤ snap.MinActiveXID —
// no version created by a transaction younger than every transaction
// active at snapshot time is visible, even if it has since committed.
func IsVisible(c, d int64, t int64, snap Snapshot, level Isolation, committed commitChecker) bool {
	if c == t && d == noXMax {
		return true
	}

	visibleCommit := func(xid int64) bool {
		if !committed.IsCommitted(xid) {
			return false
		}
		if level == RepeatableRead && (snap.Contains(xid) || xid > snap.SelfXID) {
			return false
		}
		return true
	}

	if !visibleCommit(c) {
		return false
	}
	if level == RepeatableRead && c > snap.MinActiveXID {
		return false
	}

	if d == noXMax {
		return true
	}
	if d == t {
		return false
	}
	return !visibleCommit(d)
}
