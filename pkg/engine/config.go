// Package engine wires the page cache, WAL, transaction state store, heap,
// MVCC version manager, and lock table into the single embeddable database
// handle described in spec §6.4: Create/Open a directory of files, then
// Begin/Commit/Abort transactions that Read/Insert/Delete rows.
package engine

import (
	"time"

	"coredb/pkg/log/wal"
)

// EngineConfig tunes the resource limits of a DB instance. The zero value is not
// valid; use DefaultConfig and override individual fields.
type EngineConfig struct {
	// CacheSize is the number of pages the page cache may hold resident.
	CacheSize int

	// WALBufferSize is passed to the WAL's underlying LogWriter, which
	// records it but writes every record straight to the file unbuffered.
	WALBufferSize int

	// Checkpoint controls the background checkpoint daemon. Checkpoint.Enabled
	// == false disables the daemon entirely.
	Checkpoint wal.CheckpointConfig
}

// DefaultConfig returns sensible defaults for a small embedded workload.
func DefaultConfig() EngineConfig {
	cfg := EngineConfig{
		CacheSize:     256,
		WALBufferSize: 64 * 1024,
		Checkpoint:    wal.DefaultCheckpointConfig(),
	}
	cfg.Checkpoint.Interval = 5 * time.Minute
	return cfg
}

const (
	heapFileName  = "P.db"
	walFileName   = "P.log"
	stateFileName = "P.xid"
)
