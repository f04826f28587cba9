package wal

import (
	"fmt"
	"io"
	"os"

	"coredb/pkg/log/record"
	"coredb/pkg/primitives"
)

// TruncateConfig configures the WAL history compaction a checkpoint may
// trigger: rewriting the log file to drop records no recovery scan will
// ever need again.
type TruncateConfig struct {
	// Enabled gates automatic truncation after a checkpoint.
	Enabled bool

	// MinWALSizeForTruncation is the smallest WAL size, in bytes, worth
	// rewriting — below this a truncation pass is pure overhead.
	MinWALSizeForTruncation int64

	// MinRetainedSize is the minimum number of bytes of history to always
	// keep, even if RetainLSN would allow truncating more.
	MinRetainedSize int64
}

// DefaultTruncateConfig returns sensible defaults for an embedded workload.
func DefaultTruncateConfig() TruncateConfig {
	return TruncateConfig{
		Enabled:                 true,
		MinWALSizeForTruncation: 5 * 1024 * 1024, // 5MB
		MinRetainedSize:         1 * 1024 * 1024,  // 1MB
	}
}

// safetyMargin keeps a small cushion of records before the computed
// truncation point, so a slightly-stale checkpoint snapshot never costs a
// recovery run its undo/redo starting point.
const safetyMargin = primitives.LSN(1024)

// TruncateWAL rewrites the log file to drop every record older than
// checkpoint's RetainLSN, honoring config's size thresholds. It returns the
// number of bytes removed (0 if truncation was skipped).
func (w *WAL) TruncateWAL(checkpoint *record.CheckpointRecord, config TruncateConfig) (int64, error) {
	if !config.Enabled {
		return 0, nil
	}

	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	currentSize := info.Size()
	if currentSize < config.MinWALSizeForTruncation {
		return 0, nil
	}

	truncateLSN := checkpoint.RetainLSN()
	if truncateLSN > safetyMargin {
		truncateLSN -= safetyMargin
	} else {
		truncateLSN = 0
	}
	if truncateLSN == 0 {
		return 0, nil
	}
	if currentSize-int64(truncateLSN) < config.MinRetainedSize {
		if currentSize <= config.MinRetainedSize {
			return 0, nil
		}
		truncateLSN = primitives.LSN(currentSize - config.MinRetainedSize)
	}

	bytesToTruncate := int64(truncateLSN)
	if bytesToTruncate < currentSize/10 {
		// Would reclaim under 10% of the file; not worth a rewrite.
		return 0, nil
	}

	fmt.Printf("truncating WAL: size=%d retainLSN=%d reclaiming=%d bytes\n",
		currentSize, truncateLSN, bytesToTruncate)

	if err := w.performTruncation(truncateLSN); err != nil {
		return 0, fmt.Errorf("failed to truncate WAL: %w", err)
	}

	return bytesToTruncate, nil
}

// performTruncation actually truncates the WAL file
func (w *WAL) performTruncation(truncateLSN primitives.LSN) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	// Step 1: Flush any pending writes
	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("failed to flush WAL before truncation: %w", err)
	}

	// Step 2: Create a new temporary WAL file
	newWALPath := w.file.Name() + ".truncate.tmp"
	newFile, err := os.OpenFile(newWALPath, os.O_CREATE|os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temporary WAL: %w", err)
	}

	// Step 3: Copy records from truncateLSN onwards to the new file
	oldPath := w.file.Name()
	copiedBytes, err := w.copyWALRecords(oldPath, newFile, truncateLSN)
	if err != nil {
		newFile.Close()
		os.Remove(newWALPath)
		return fmt.Errorf("failed to copy WAL records: %w", err)
	}

	// Step 4: Close the old WAL file
	if err := w.file.Close(); err != nil {
		newFile.Close()
		os.Remove(newWALPath)
		return fmt.Errorf("failed to close old WAL: %w", err)
	}

	// Step 5: Atomically replace old WAL with new WAL
	oldWALPath := oldPath
	backupPath := oldPath + ".old"

	// Rename old WAL to backup
	if err := os.Rename(oldWALPath, backupPath); err != nil {
		newFile.Close()
		return fmt.Errorf("failed to backup old WAL: %w", err)
	}

	// Rename new WAL to active WAL
	newFile.Close()
	if err := os.Rename(newWALPath, oldWALPath); err != nil {
		// Try to restore backup
		os.Rename(backupPath, oldWALPath)
		return fmt.Errorf("failed to activate new WAL: %w", err)
	}

	// Step 6: Reopen the new WAL file
	file, err := os.OpenFile(oldWALPath, os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen WAL: %w", err)
	}

	// Step 7: Recreate the writer with adjusted LSNs
	// LSNs in the new file start from 0, but we need to continue from where we were
	w.file = file
	w.writer = NewLogWriter(file, w.writer.bufferSize, primitives.LSN(copiedBytes), primitives.LSN(copiedBytes))

	// Step 8: Update dirty page table LSNs (subtract truncateLSN)
	newDirtyPages := make(map[primitives.PageID]primitives.LSN)
	for pageID, lsn := range w.dirtyPages {
		if lsn >= truncateLSN {
			newDirtyPages[pageID] = lsn - truncateLSN
		}
	}
	w.dirtyPages = newDirtyPages

	// Step 9: Clean up backup file
	os.Remove(backupPath)

	fmt.Printf("WAL truncation completed: new size=%d bytes\n", copiedBytes)
	return nil
}

// copyWALRecords copies WAL records from startLSN onwards to a new file
func (w *WAL) copyWALRecords(oldPath string, newFile *os.File, startLSN primitives.LSN) (int64, error) {
	reader, err := NewLogReader(oldPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Close()

	var totalBytes int64
	newLSN := primitives.LSN(0)

	for {
		rec, err := reader.ReadNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("failed to read record: %w", err)
		}

		// Skip records before startLSN
		if rec.LSN < startLSN {
			continue
		}

		// Serialize record
		data, err := record.SerializeLogRecord(rec)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize record: %w", err)
		}

		// Write to new file
		if _, err := newFile.WriteAt(data, int64(newLSN)); err != nil {
			return 0, fmt.Errorf("failed to write record: %w", err)
		}

		newLSN += primitives.LSN(len(data))
		totalBytes += int64(len(data))
	}

	// Ensure everything is written to disk
	if err := newFile.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync new WAL: %w", err)
	}

	return totalBytes, nil
}

// TruncateAfterCheckpoint writes a fresh checkpoint and then compacts the
// WAL against it in one call — the operation CheckpointDaemon runs after
// every successful automatic or manual checkpoint.
func (w *WAL) TruncateAfterCheckpoint(truncateConfig TruncateConfig) (primitives.LSN, int64, error) {
	checkpointLSN, err := w.WriteCheckpoint()
	if err != nil {
		return 0, 0, fmt.Errorf("checkpoint failed: %w", err)
	}

	// Step 2: Load the checkpoint we just wrote
	checkpoint, err := w.GetLastCheckpoint()
	if err != nil {
		return checkpointLSN, 0, fmt.Errorf("failed to load checkpoint for truncation: %w", err)
	}

	// Step 3: Truncate WAL
	bytesRemoved, err := w.TruncateWAL(checkpoint, truncateConfig)
	if err != nil {
		return checkpointLSN, 0, fmt.Errorf("truncation failed: %w", err)
	}

	return checkpointLSN, bytesRemoved, nil
}
