// Package tss implements the Transaction State Store (spec §4.1): the
// durable record of every transaction's outcome, independent of the WAL.
// The file format is a fixed 8-byte header holding the highest XID ever
// issued, followed by one status byte per XID starting at 1 (XID 0, the
// super-transaction, is implicit and always committed).
package tss

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"coredb/pkg/primitives"
)

const (
	headerLen = 8
	statusLen = 1
)

// Status is one transaction's recorded outcome.
type Status byte

const (
	Active Status = iota
	Committed
	Aborted
)

// Store is the L0 transaction state store: one status byte per XID,
// fsynced on every commit/abort so a crash can never leave a transaction's
// outcome ambiguous.
type Store struct {
	file *os.File
	mu   sync.Mutex

	maxXID int64
}

// Open opens or creates the transaction state file at path. A freshly
// created file starts with maxXID 0 (only the super-transaction exists).
// On open of an existing file, the header's maxXID is checked against the
// file's actual length; a mismatch means the file was truncated or
// corrupted and ErrBadStateFile is returned.
func Open(path string) (*Store, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open transaction state file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat transaction state file: %w", err)
	}

	s := &Store{file: file}

	if info.Size() == 0 {
		if err := s.writeHeader(0); err != nil {
			file.Close()
			return nil, err
		}
		return s, nil
	}

	if info.Size() < headerLen {
		file.Close()
		return nil, fmt.Errorf("%w: state file shorter than header", primitives.ErrBadStateFile)
	}

	header := make([]byte, headerLen)
	if _, err := file.ReadAt(header, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("read state file header: %w", err)
	}
	maxXID := int64(binary.BigEndian.Uint64(header))

	expectedSize := int64(headerLen) + maxXID*statusLen
	if info.Size() != expectedSize {
		file.Close()
		return nil, fmt.Errorf("%w: header claims %d transactions but file is %d bytes, expected %d",
			primitives.ErrBadStateFile, maxXID, info.Size(), expectedSize)
	}

	s.maxXID = maxXID
	return s, nil
}

func (s *Store) writeHeader(maxXID int64) error {
	header := make([]byte, headerLen)
	binary.BigEndian.PutUint64(header, uint64(maxXID))
	if _, err := s.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("write state file header: %w", err)
	}
	return nil
}

func statusOffset(xid int64) int64 {
	return headerLen + (xid-1)*statusLen
}

// Begin allocates a fresh XID, durably recording it Active before
// returning. Allocation and the durable write are serialized by s.mu, so
// two concurrent Begin calls never race on the same XID.
func (s *Store) Begin() (*primitives.TransactionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	xid := s.maxXID + 1
	if _, err := s.file.WriteAt([]byte{byte(Active)}, statusOffset(xid)); err != nil {
		panic(fmt.Sprintf("coredb: transaction state file write failed, cannot continue: %v", err))
	}
	if err := s.writeHeader(xid); err != nil {
		panic(fmt.Sprintf("coredb: transaction state file header update failed, cannot continue: %v", err))
	}
	if err := s.file.Sync(); err != nil {
		panic(fmt.Sprintf("coredb: transaction state file fsync failed, cannot continue: %v", err))
	}

	s.maxXID = xid
	return primitives.NewTransactionIDFromValue(xid), nil
}

// Commit durably marks tid Committed.
func (s *Store) Commit(tid *primitives.TransactionID) error {
	return s.setStatus(tid, Committed)
}

// Abort durably marks tid Aborted.
func (s *Store) Abort(tid *primitives.TransactionID) error {
	return s.setStatus(tid, Aborted)
}

func (s *Store) setStatus(tid *primitives.TransactionID, status Status) error {
	xid := tid.ID()
	if xid == primitives.SuperXID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.WriteAt([]byte{byte(status)}, statusOffset(xid)); err != nil {
		panic(fmt.Sprintf("coredb: transaction state file write failed, cannot continue: %v", err))
	}
	if err := s.file.Sync(); err != nil {
		panic(fmt.Sprintf("coredb: transaction state file fsync failed, cannot continue: %v", err))
	}
	return nil
}

func (s *Store) statusOf(xid int64) (Status, error) {
	if xid == primitives.SuperXID {
		return Committed, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if xid < 1 || xid > s.maxXID {
		return 0, fmt.Errorf("coredb: xid %d never issued", xid)
	}

	buf := make([]byte, 1)
	if _, err := s.file.ReadAt(buf, statusOffset(xid)); err != nil {
		return 0, fmt.Errorf("read status for xid %d: %w", xid, err)
	}
	return Status(buf[0]), nil
}

// IsActive reports whether tid is still recorded Active.
func (s *Store) IsActive(tid *primitives.TransactionID) bool {
	status, err := s.statusOf(tid.ID())
	return err == nil && status == Active
}

// IsCommitted reports whether tid is recorded Committed.
func (s *Store) IsCommitted(tid *primitives.TransactionID) bool {
	status, err := s.statusOf(tid.ID())
	return err == nil && status == Committed
}

// IsAborted reports whether tid is recorded Aborted.
func (s *Store) IsAborted(tid *primitives.TransactionID) bool {
	status, err := s.statusOf(tid.ID())
	return err == nil && status == Aborted
}

// MaxXID returns the highest XID ever allocated.
func (s *Store) MaxXID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxXID
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}
