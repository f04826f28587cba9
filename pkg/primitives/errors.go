package primitives

import "errors"

// Recoverable error kinds (spec.md §7). Callers retry or surface these to
// the client; they never indicate on-disk corruption by themselves.
var (
	// ErrDatabaseBusy is raised by the page cache when no victim with a
	// zero refcount can be found to admit a new page. ErrCacheFull is
	// defined alongside it but no code path returns it.
	ErrCacheFull    = errors.New("coredb: page cache full")
	ErrDatabaseBusy = errors.New("coredb: database busy, no evictable page")

	// ErrDataTooLarge is raised by DataManager.Insert when the wrapped
	// item exceeds PageX.MaxFreeSpace.
	ErrDataTooLarge = errors.New("coredb: data item too large for one page")

	// ErrConcurrentUpdate is raised by VersionManager.Delete when another
	// transaction has already set xmax on the entry.
	ErrConcurrentUpdate = errors.New("coredb: concurrent update conflict")

	// ErrDeadlock is raised by the lock table when granting a wait would
	// close a cycle in the wait-for graph; the requester is the one
	// aborted.
	ErrDeadlock = errors.New("coredb: deadlock detected, transaction aborted")

	// ErrNullEntry is raised by VersionManager.Read when the uid names a
	// dead or missing item.
	ErrNullEntry = errors.New("coredb: no visible entry for uid")

	// ErrMemTooSmall is raised at open/create time when the requested
	// cache size is below the minimum number of page slots.
	ErrMemTooSmall = errors.New("coredb: requested cache memory too small")
)

// Fatal error kinds (spec.md §7). These indicate on-disk state that cannot
// be trusted; callers that see these at open time must not proceed.
var (
	ErrBadStateFile = errors.New("coredb: transaction state file is corrupt")
	ErrBadLogFile   = errors.New("coredb: write-ahead log file is corrupt")
	ErrFileExists   = errors.New("coredb: database file already exists")
	ErrFileNotExist = errors.New("coredb: database file does not exist")
	ErrFileCannotRW = errors.New("coredb: database file cannot be opened for read/write")
)
