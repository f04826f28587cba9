package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"coredb/pkg/heap"
	"coredb/pkg/log/wal"
	"coredb/pkg/lock"
	"coredb/pkg/memory"
	"coredb/pkg/mvcc"
	"coredb/pkg/primitives"
	"coredb/pkg/recovery"
	"coredb/pkg/tss"
)

// DB is an open database: one directory holding a heap file, a WAL, and a
// transaction state file, plus the in-memory structures (page cache, lock
// table, active-transaction set) that only live for the process's uptime.
type DB struct {
	pages *memory.PageStore
	log   *wal.WAL
	state *tss.Store
	data  *heap.DataManager
	vm    *mvcc.VersionManager
	locks *lock.Table

	checkpoint *wal.CheckpointDaemon

	mu     sync.Mutex
	active map[int64]struct{}
}

// Create initializes a fresh database at dir, which must not already
// contain a heap file, and returns it open.
func Create(dir string, cfg EngineConfig) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory %s: %w", dir, err)
	}

	heapPath := filepath.Join(dir, heapFileName)
	if _, err := os.Stat(heapPath); err == nil {
		return nil, fmt.Errorf("%w: heap file already exists at %s", primitives.ErrFileExists, heapPath)
	}

	pages, err := memory.NewPageStore(heapPath, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	if err := heap.Bootstrap(pages); err != nil {
		pages.Close()
		return nil, fmt.Errorf("bootstrap heap: %w", err)
	}

	return open(dir, cfg, pages)
}

// Open opens an existing database at dir. If the heap file's validity
// check span shows it was not closed cleanly, Open first runs crash
// recovery against the WAL before proceeding.
func Open(dir string, cfg EngineConfig) (*DB, error) {
	heapPath := filepath.Join(dir, heapFileName)
	pages, err := memory.NewPageStore(heapPath, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return open(dir, cfg, pages)
}

func open(dir string, cfg EngineConfig, pages *memory.PageStore) (*DB, error) {
	walPath := filepath.Join(dir, walFileName)
	w, err := wal.NewWAL(walPath, cfg.WALBufferSize)
	if err != nil {
		pages.Close()
		return nil, err
	}

	statePath := filepath.Join(dir, stateFileName)
	state, err := tss.Open(statePath)
	if err != nil {
		pages.Close()
		return nil, err
	}

	data, err := heap.Open(pages, w)
	if err != nil {
		if !errors.Is(err, heap.ErrNotClosedCleanly) {
			state.Close()
			pages.Close()
			return nil, fmt.Errorf("open heap: %w", err)
		}
		if rerr := recoverAndReopen(pages, w, walPath); rerr != nil {
			state.Close()
			pages.Close()
			return nil, fmt.Errorf("recover database: %w", rerr)
		}
		data, err = heap.Open(pages, w)
		if err != nil {
			state.Close()
			pages.Close()
			return nil, fmt.Errorf("reopen heap after recovery: %w", err)
		}
	}

	db := &DB{
		pages:  pages,
		log:    w,
		state:  state,
		data:   data,
		vm:     mvcc.NewVersionManager(data, state),
		locks:  lock.NewTable(),
		active: make(map[int64]struct{}),
	}

	if cfg.Checkpoint.Enabled {
		db.checkpoint = wal.NewCheckpointDaemon(w, cfg.Checkpoint)
		if err := db.checkpoint.Start(); err != nil {
			return nil, fmt.Errorf("start checkpoint daemon: %w", err)
		}
	}

	return db, nil
}

// recoverAndReopen runs the recovery manager against an unclean heap file,
// then marks page 0's validity-check span clean so the following
// heap.Open succeeds. It is only reached when heap.Open reported the heap
// was not closed cleanly; any other error from heap.Open propagates
// without attempting recovery.
func recoverAndReopen(pages *memory.PageStore, w *wal.WAL, walPath string) error {
	rm := recovery.NewRecoveryManager(w, walPath, pages)

	if needed, err := rm.IsRecoveryNeeded(); err == nil {
		fmt.Printf("heap file left dirty by last session; WAL scan reports recovery needed=%v\n", needed)
	}

	if err := rm.Recover(); err != nil {
		return err
	}

	fmt.Printf("recovery complete: %+v\n", rm.GetStats())

	p0, err := pages.GetPage(0)
	if err != nil {
		return fmt.Errorf("load page 0 after recovery: %w", err)
	}
	memory.SetVCClose(p0)
	if err := pages.FlushPage(p0); err != nil {
		pages.Release(p0)
		return err
	}
	return pages.Release(p0)
}

// Close stops the checkpoint daemon (if running) and closes the heap, WAL,
// and transaction state store in turn.
func (db *DB) Close() error {
	if db.checkpoint != nil {
		if err := db.checkpoint.Stop(); err != nil {
			return err
		}
	}
	if err := db.data.Close(); err != nil {
		return err
	}
	if err := db.log.Close(); err != nil {
		return err
	}
	if err := db.state.Close(); err != nil {
		return err
	}
	return nil
}

// addActive and removeActive maintain the in-memory set of XIDs the
// transaction state store currently records Active, used to build
// snapshots at Begin time. tss.Store durably tracks each XID's status but
// exposes no enumeration of "every XID active right now", so the engine
// keeps its own set alongside it.
func (db *DB) addActive(xid int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.active[xid] = struct{}{}
}

func (db *DB) removeActive(xid int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.active, xid)
}

func (db *DB) activeExcept(self int64) []int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	others := make([]int64, 0, len(db.active))
	for x := range db.active {
		if x != self {
			others = append(others, x)
		}
	}
	return others
}
