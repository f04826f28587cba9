package wal

import (
	"fmt"
	"os"
	"sync/atomic"

	"coredb/pkg/log/record"
	"coredb/pkg/primitives"
)

// checkpointState tracks this WAL's last successful fuzzy checkpoint. It is
// a field on WAL rather than a package global: one process can hold several
// DB instances open (each engine.DB owns its own WAL), and a shared global
// would hand one instance's checkpoint path to another's ShouldCheckpoint
// check.
type checkpointState struct {
	lastCheckpointLSN atomic.Value // stores primitives.LSN
	checkpointFile    string
}

// WriteCheckpoint writes a fuzzy checkpoint: a point-in-time snapshot of
// which XIDs are still ACTIVE and which heap pages are dirty, captured
// without blocking concurrent readers/writers. Recovery's analysis pass
// uses this snapshot to skip re-scanning the WAL from the very first
// record — it only needs to replay from the oldest LSN the checkpoint
// names as still-dirty.
func (w *WAL) WriteCheckpoint() (primitives.LSN, error) {
	// Phase 1: Write CheckpointBegin record
	beginLSN, err := w.writeCheckpointBegin()
	if err != nil {
		return 0, fmt.Errorf("failed to write checkpoint begin: %w", err)
	}

	// Phase 2: Capture snapshot of active transactions and dirty pages (with lock)
	// This is a "fuzzy" checkpoint - we capture the state at a point in time
	// but transactions can continue to run
	w.mutex.RLock()
	activeTxns := make(map[*primitives.TransactionID]*record.TransactionLogInfo)
	for tid, info := range w.activeTxns {
		activeTxns[tid] = &record.TransactionLogInfo{
			FirstLSN:    info.FirstLSN,
			LastLSN:     info.LastLSN,
			UndoNextLSN: info.UndoNextLSN,
		}
	}

	dirtyPages := make(map[primitives.PageID]primitives.LSN)
	for pageID, lsn := range w.dirtyPages {
		dirtyPages[pageID] = lsn
	}
	w.mutex.RUnlock()

	// Phase 3: Create and serialize checkpoint record
	checkpointRec := record.NewCheckpointRecord(activeTxns, dirtyPages)
	checkpointRec.LSN = beginLSN

	checkpointData, err := record.SerializeCheckpoint(checkpointRec)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	// Phase 4: Write checkpoint data to a sidecar file next to the WAL, so
	// recovery can load the latest snapshot without scanning the log.
	checkpointPath := w.getCheckpointPath()
	if err := w.writeCheckpointFile(checkpointPath, checkpointData); err != nil {
		return 0, fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	// Phase 5: Write CheckpointEnd record (this completes the checkpoint)
	endLSN, err := w.writeCheckpointEnd(beginLSN)
	if err != nil {
		return 0, fmt.Errorf("failed to write checkpoint end: %w", err)
	}

	// Phase 6: Force checkpoint records to disk
	if err := w.Force(endLSN); err != nil {
		return 0, fmt.Errorf("failed to force checkpoint to disk: %w", err)
	}

	w.checkpoint.lastCheckpointLSN.Store(endLSN)
	w.checkpoint.checkpointFile = checkpointPath

	fmt.Printf("checkpoint complete: LSN=%d activeXIDs=%d dirtyPages=%d size=%d bytes\n",
		endLSN, len(activeTxns), len(dirtyPages), len(checkpointData))

	return endLSN, nil
}

// GetLastCheckpoint retrieves the most recent checkpoint data
// Returns nil if no checkpoint exists
func (w *WAL) GetLastCheckpoint() (*record.CheckpointRecord, error) {
	// Check if we have a checkpoint file
	checkpointPath := w.getCheckpointPath()

	// Try to read checkpoint file
	data, err := os.ReadFile(checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No checkpoint exists
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	// Deserialize checkpoint
	checkpoint, err := record.DeserializeCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	return checkpoint, nil
}

// writeCheckpointBegin writes a CheckpointBegin log record
func (w *WAL) writeCheckpointBegin() (primitives.LSN, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	rec := record.NewLogRecord(record.CheckpointBegin, nil, nil, nil, nil, 0)
	lsn, err := w.writeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to write checkpoint begin record: %w", err)
	}

	return lsn, nil
}

// writeCheckpointEnd writes a CheckpointEnd log record
func (w *WAL) writeCheckpointEnd(beginLSN primitives.LSN) (primitives.LSN, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	// CheckpointEnd record references the CheckpointBegin LSN via PrevLSN
	rec := record.NewLogRecord(record.CheckpointEnd, nil, nil, nil, nil, beginLSN)
	lsn, err := w.writeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to write checkpoint end record: %w", err)
	}

	return lsn, nil
}

// writeCheckpointFile writes checkpoint data to a file
func (w *WAL) writeCheckpointFile(path string, data []byte) error {
	// Write to a temporary file first, then atomically rename
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary checkpoint file: %w", err)
	}

	// Atomically rename to final path
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) // Clean up temp file on error
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	return nil
}

// GetCheckpointStats reports the LSN and sidecar file path of the last
// checkpoint this WAL instance wrote, for the daemon's diagnostics.
func (w *WAL) GetCheckpointStats() *CheckpointStats {
	var lastLSN primitives.LSN
	if val := w.checkpoint.lastCheckpointLSN.Load(); val != nil {
		lastLSN = val.(primitives.LSN)
	}

	return &CheckpointStats{
		LastCheckpointLSN:  lastLSN,
		CheckpointFilePath: w.checkpoint.checkpointFile,
	}
}

// CheckpointStats contains statistics about checkpointing
type CheckpointStats struct {
	LastCheckpointLSN  primitives.LSN
	CheckpointFilePath string
}
