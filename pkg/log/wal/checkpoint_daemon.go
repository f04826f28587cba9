package wal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"coredb/pkg/primitives"
)

// CheckpointDaemon manages automatic checkpoint triggering
type CheckpointDaemon struct {
	wal           *WAL
	config        CheckpointConfig
	stopChan      chan struct{}
	wg            sync.WaitGroup
	running       atomic.Bool
	lastCheckpoint atomic.Value // stores time.Time
	stats         CheckpointDaemonStats
	statsMutex    sync.RWMutex
}

// CheckpointConfig configures checkpoint triggering behavior
type CheckpointConfig struct {
	// Time-based trigger: checkpoint every Interval
	Interval time.Duration

	// Size-based trigger: checkpoint when WAL exceeds MaxWALSize bytes
	MaxWALSize int64

	// MaxTransactions is carried in the config but the daemon does not
	// read it; only Interval and MaxWALSize trigger checkpoints.
	MaxTransactions int64

	// Enable automatic checkpointing
	Enabled bool

	// Truncate controls the history compaction run against every
	// checkpoint this daemon writes. Truncate.Enabled == false checkpoints
	// without ever rewriting the log file.
	Truncate TruncateConfig
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Interval:        10 * time.Minute,
		MaxWALSize:      10 * 1024 * 1024, // 10MB
		MaxTransactions: 1000,
		Enabled:         true,
		Truncate:        DefaultTruncateConfig(),
	}
}

// CheckpointDaemonStats tracks daemon statistics
type CheckpointDaemonStats struct {
	TotalCheckpoints       int64
	TimeBasedTriggers      int64
	SizeBasedTriggers      int64
	ManualTriggers         int64
	FailedCheckpoints      int64
	LastCheckpointTime     time.Time
	LastCheckpointLSN      primitives.LSN
	LastCheckpointDuration time.Duration
	TotalBytesTruncated    int64
}

// NewCheckpointDaemon creates a new checkpoint daemon
func NewCheckpointDaemon(wal *WAL, config CheckpointConfig) *CheckpointDaemon {
	daemon := &CheckpointDaemon{
		wal:      wal,
		config:   config,
		stopChan: make(chan struct{}),
	}
	daemon.lastCheckpoint.Store(time.Now())
	return daemon
}

// Start begins the checkpoint daemon
func (cd *CheckpointDaemon) Start() error {
	if !cd.config.Enabled {
		fmt.Println("checkpoint daemon disabled")
		return nil
	}

	if !cd.running.CompareAndSwap(false, true) {
		return fmt.Errorf("checkpoint daemon already running")
	}

	fmt.Printf("starting checkpoint daemon (interval=%v, maxWALSize=%d bytes, truncate=%v)\n",
		cd.config.Interval, cd.config.MaxWALSize, cd.config.Truncate.Enabled)

	cd.wg.Add(1)
	go cd.run()

	return nil
}

// Stop gracefully stops the checkpoint daemon
func (cd *CheckpointDaemon) Stop() error {
	if !cd.running.Load() {
		return nil
	}

	fmt.Println("stopping checkpoint daemon...")
	close(cd.stopChan)
	cd.wg.Wait()
	cd.running.Store(false)
	fmt.Println("checkpoint daemon stopped")

	return nil
}

// run is the main daemon loop
func (cd *CheckpointDaemon) run() {
	defer cd.wg.Done()

	ticker := time.NewTicker(cd.config.Interval)
	defer ticker.Stop()

	// Also check more frequently for size-based triggers
	checkTicker := time.NewTicker(30 * time.Second)
	defer checkTicker.Stop()

	for {
		select {
		case <-cd.stopChan:
			return

		case <-ticker.C:
			// Time-based trigger
			if cd.shouldCheckpointByTime() {
				cd.triggerCheckpoint("time-based")
				cd.statsMutex.Lock()
				cd.stats.TimeBasedTriggers++
				cd.statsMutex.Unlock()
			}

		case <-checkTicker.C:
			// Check size-based trigger
			if cd.shouldCheckpointBySize() {
				cd.triggerCheckpoint("size-based")
				cd.statsMutex.Lock()
				cd.stats.SizeBasedTriggers++
				cd.statsMutex.Unlock()
			}
		}
	}
}

// shouldCheckpointByTime checks if enough time has passed since last checkpoint
func (cd *CheckpointDaemon) shouldCheckpointByTime() bool {
	lastCheckpoint := cd.lastCheckpoint.Load().(time.Time)
	return time.Since(lastCheckpoint) >= cd.config.Interval
}

// shouldCheckpointBySize checks if WAL has grown too large
func (cd *CheckpointDaemon) shouldCheckpointBySize() bool {
	if cd.config.MaxWALSize <= 0 {
		return false
	}

	return cd.wal.ShouldCheckpoint(cd.config.MaxWALSize, 0)
}

// triggerCheckpoint writes a checkpoint and then compacts the WAL against
// it, recording both in the daemon's stats.
func (cd *CheckpointDaemon) triggerCheckpoint(reason string) {
	fmt.Printf("triggering checkpoint (reason: %s)...\n", reason)
	startTime := time.Now()

	lsn, bytesTruncated, err := cd.wal.TruncateAfterCheckpoint(cd.config.Truncate)
	duration := time.Since(startTime)

	cd.statsMutex.Lock()
	defer cd.statsMutex.Unlock()

	if err != nil {
		fmt.Printf("checkpoint failed: %v\n", err)
		cd.stats.FailedCheckpoints++
		return
	}

	cd.stats.TotalCheckpoints++
	cd.stats.LastCheckpointTime = startTime
	cd.stats.LastCheckpointLSN = lsn
	cd.stats.LastCheckpointDuration = duration
	cd.stats.TotalBytesTruncated += bytesTruncated
	cd.lastCheckpoint.Store(startTime)

	fmt.Printf("checkpoint complete in %v (LSN=%d, truncated=%d bytes)\n", duration, lsn, bytesTruncated)
}

// TriggerManualCheckpoint checkpoints and compacts the WAL on demand, for
// administrative use outside the daemon's own schedule.
func (cd *CheckpointDaemon) TriggerManualCheckpoint() (primitives.LSN, error) {
	fmt.Println("manual checkpoint triggered")

	startTime := time.Now()
	lsn, bytesTruncated, err := cd.wal.TruncateAfterCheckpoint(cd.config.Truncate)
	duration := time.Since(startTime)

	cd.statsMutex.Lock()
	defer cd.statsMutex.Unlock()

	if err != nil {
		cd.stats.FailedCheckpoints++
		return 0, fmt.Errorf("manual checkpoint failed: %w", err)
	}

	cd.stats.TotalCheckpoints++
	cd.stats.ManualTriggers++
	cd.stats.LastCheckpointTime = startTime
	cd.stats.LastCheckpointLSN = lsn
	cd.stats.LastCheckpointDuration = duration
	cd.stats.TotalBytesTruncated += bytesTruncated
	cd.lastCheckpoint.Store(startTime)

	return lsn, nil
}

// GetStats returns current daemon statistics
func (cd *CheckpointDaemon) GetStats() CheckpointDaemonStats {
	cd.statsMutex.RLock()
	defer cd.statsMutex.RUnlock()
	return cd.stats
}

// IsRunning returns true if the daemon is currently running
func (cd *CheckpointDaemon) IsRunning() bool {
	return cd.running.Load()
}

// GetConfig returns the current configuration
func (cd *CheckpointDaemon) GetConfig() CheckpointConfig {
	return cd.config
}

// UpdateConfig updates the daemon configuration
// Note: This does not affect the running daemon - you must restart it
func (cd *CheckpointDaemon) UpdateConfig(config CheckpointConfig) {
	cd.config = config
}
