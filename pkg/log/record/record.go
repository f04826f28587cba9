// Package record defines the write-ahead log's on-disk record bodies: the
// low-level INSERT/UPDATE bodies the heap layer depends on byte-for-byte,
// and the transaction bookkeeping bodies (begin/commit/abort/CLR/checkpoint)
// the recovery manager uses to rebuild its analysis tables.
package record

import (
	"encoding/binary"
	"fmt"

	"coredb/pkg/primitives"
	"coredb/pkg/storage/page"
)

// RecordType is the leading byte of every WAL record body. Recovery's
// redo/undo passes act on InsertRecord and UpdateRecord bodies, and redo
// also replays CLRRecord bodies; the remaining types exist for the
// transaction-table bookkeeping layered on top.
type RecordType byte

const (
	InsertRecord RecordType = iota
	UpdateRecord
	BeginRecord
	CommitRecord
	AbortRecord
	DeleteRecord
	CLRRecord
	CheckpointBegin
	CheckpointEnd
)

// TransactionLogInfo is the per-transaction bookkeeping carried in a
// checkpoint record.
type TransactionLogInfo struct {
	FirstLSN    primitives.LSN
	LastLSN     primitives.LSN
	UndoNextLSN primitives.LSN
}

// LogRecord is the in-memory, deserialized form of a WAL record.
type LogRecord struct {
	LSN     primitives.LSN
	Type    RecordType
	TID     *primitives.TransactionID
	PrevLSN primitives.LSN
	PageID  primitives.PageID

	// BeforeImage/AfterImage carry the old/new raw data-item bytes for
	// UpdateRecord; AfterImage alone carries the inserted raw bytes for
	// InsertRecord and the compensating image for CLRRecord.
	BeforeImage []byte
	AfterImage  []byte

	// UndoNextLSN continues a transaction's undo chain past a CLR.
	UndoNextLSN primitives.LSN

	// Pgno/Offset/UID are the heap-layer addressing fields decoded from
	// an InsertRecord/UpdateRecord body; DataManager and recovery use
	// them directly instead of re-deriving from PageID.
	Pgno   primitives.PageNumber
	Offset uint16
	UID    primitives.UID
}

// NewLogRecord builds a bookkeeping record (begin/commit/abort/CLR/
// checkpoint marker). pageID, before and after may be nil for record types
// that don't carry a page image.
func NewLogRecord(typ RecordType, tid *primitives.TransactionID, pageID primitives.PageID, before, after []byte, prevLSN primitives.LSN) *LogRecord {
	return &LogRecord{
		Type:        typ,
		TID:         tid,
		PageID:      pageID,
		BeforeImage: before,
		AfterImage:  after,
		PrevLSN:     prevLSN,
	}
}

// NewInsertRecord builds the exact §6.2 INSERT body:
// [type=0][xid:8][pgno:4][offset:2][raw:N].
func NewInsertRecord(tid *primitives.TransactionID, pgno primitives.PageNumber, offset uint16, raw []byte) *LogRecord {
	return &LogRecord{
		Type:       InsertRecord,
		TID:        tid,
		PageID:     page.NewDefault(pgno),
		AfterImage: raw,
		Pgno:       pgno,
		Offset:     offset,
		UID:        primitives.NewUID(pgno, offset),
	}
}

// NewUpdateRecord builds the exact §6.2 UPDATE body:
// [type=1][xid:8][uid:8][old_raw:N][new_raw:N]. oldRaw and newRaw must be
// equal length (updates are in-place replacements).
func NewUpdateRecord(tid *primitives.TransactionID, uid primitives.UID, oldRaw, newRaw []byte) *LogRecord {
	return &LogRecord{
		Type:        UpdateRecord,
		TID:         tid,
		PageID:      page.NewDefault(uid.PageNo()),
		BeforeImage: oldRaw,
		AfterImage:  newRaw,
		UID:         uid,
		Pgno:        uid.PageNo(),
		Offset:      uid.Offset(),
	}
}

// SerializeLogRecord encodes a LogRecord to its on-disk body (everything
// after the [size][checksum] framing applied by the WAL writer).
func SerializeLogRecord(rec *LogRecord) ([]byte, error) {
	switch rec.Type {
	case InsertRecord:
		buf := make([]byte, 1+8+4+2+len(rec.AfterImage))
		buf[0] = byte(InsertRecord)
		binary.BigEndian.PutUint64(buf[1:9], uint64(rec.TID.ID()))
		binary.BigEndian.PutUint32(buf[9:13], uint32(rec.Pgno))
		binary.BigEndian.PutUint16(buf[13:15], rec.Offset)
		copy(buf[15:], rec.AfterImage)
		return buf, nil

	case UpdateRecord:
		if len(rec.BeforeImage) != len(rec.AfterImage) {
			return nil, fmt.Errorf("update record images differ in length: %d vs %d", len(rec.BeforeImage), len(rec.AfterImage))
		}
		n := len(rec.AfterImage)
		buf := make([]byte, 1+8+8+n+n)
		buf[0] = byte(UpdateRecord)
		binary.BigEndian.PutUint64(buf[1:9], uint64(rec.TID.ID()))
		binary.BigEndian.PutUint64(buf[9:17], uint64(rec.UID))
		copy(buf[17:17+n], rec.BeforeImage)
		copy(buf[17+n:], rec.AfterImage)
		return buf, nil

	case BeginRecord, CommitRecord, AbortRecord:
		buf := make([]byte, 1+8)
		buf[0] = byte(rec.Type)
		binary.BigEndian.PutUint64(buf[1:9], uint64(rec.TID.ID()))
		return buf, nil

	case CLRRecord:
		xid := int64(primitives.SuperXID)
		if rec.TID != nil {
			xid = rec.TID.ID()
		}
		pgno := rec.Pgno
		if pgno == 0 && rec.PageID != nil {
			pgno = rec.PageID.PageNo()
		}
		n := len(rec.AfterImage)
		buf := make([]byte, 1+8+4+2+4+n+8)
		buf[0] = byte(CLRRecord)
		binary.BigEndian.PutUint64(buf[1:9], uint64(xid))
		binary.BigEndian.PutUint32(buf[9:13], uint32(pgno))
		binary.BigEndian.PutUint16(buf[13:15], rec.Offset)
		binary.BigEndian.PutUint32(buf[15:19], uint32(n))
		copy(buf[19:19+n], rec.AfterImage)
		binary.BigEndian.PutUint64(buf[19+n:], uint64(rec.UndoNextLSN))
		return buf, nil

	case CheckpointBegin, CheckpointEnd:
		buf := make([]byte, 1+8)
		buf[0] = byte(rec.Type)
		binary.BigEndian.PutUint64(buf[1:9], uint64(rec.PrevLSN))
		return buf, nil

	default:
		return nil, fmt.Errorf("unknown record type %d", rec.Type)
	}
}

// DeserializeLogRecord decodes a record body produced by
// SerializeLogRecord. lsn is the byte offset the WAL assigned the record.
func DeserializeLogRecord(lsn primitives.LSN, data []byte) (*LogRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty record body")
	}
	typ := RecordType(data[0])

	switch typ {
	case InsertRecord:
		if len(data) < 15 {
			return nil, fmt.Errorf("insert record body too short: %d bytes", len(data))
		}
		xid := int64(binary.BigEndian.Uint64(data[1:9]))
		pgno := primitives.PageNumber(binary.BigEndian.Uint32(data[9:13]))
		offset := binary.BigEndian.Uint16(data[13:15])
		raw := append([]byte(nil), data[15:]...)
		return &LogRecord{
			LSN:        lsn,
			Type:       InsertRecord,
			TID:        primitives.NewTransactionIDFromValue(xid),
			PageID:     page.NewDefault(pgno),
			AfterImage: raw,
			Pgno:       pgno,
			Offset:     offset,
			UID:        primitives.NewUID(pgno, offset),
		}, nil

	case UpdateRecord:
		if len(data) < 17 {
			return nil, fmt.Errorf("update record body too short: %d bytes", len(data))
		}
		xid := int64(binary.BigEndian.Uint64(data[1:9]))
		uid := primitives.UID(binary.BigEndian.Uint64(data[9:17]))
		rest := data[17:]
		if len(rest)%2 != 0 {
			return nil, fmt.Errorf("update record image length not even: %d", len(rest))
		}
		half := len(rest) / 2
		before := append([]byte(nil), rest[:half]...)
		after := append([]byte(nil), rest[half:]...)
		return &LogRecord{
			LSN:         lsn,
			Type:        UpdateRecord,
			TID:         primitives.NewTransactionIDFromValue(xid),
			PageID:      page.NewDefault(uid.PageNo()),
			BeforeImage: before,
			AfterImage:  after,
			UID:         uid,
			Pgno:        uid.PageNo(),
			Offset:      uid.Offset(),
		}, nil

	case BeginRecord, CommitRecord, AbortRecord:
		if len(data) < 9 {
			return nil, fmt.Errorf("transaction record body too short: %d bytes", len(data))
		}
		xid := int64(binary.BigEndian.Uint64(data[1:9]))
		return &LogRecord{
			LSN:  lsn,
			Type: typ,
			TID:  primitives.NewTransactionIDFromValue(xid),
		}, nil

	case CLRRecord:
		if len(data) < 19 {
			return nil, fmt.Errorf("CLR record body too short: %d bytes", len(data))
		}
		xid := int64(binary.BigEndian.Uint64(data[1:9]))
		pgno := primitives.PageNumber(binary.BigEndian.Uint32(data[9:13]))
		offset := binary.BigEndian.Uint16(data[13:15])
		n := int(binary.BigEndian.Uint32(data[15:19]))
		if len(data) < 19+n+8 {
			return nil, fmt.Errorf("CLR record body truncated")
		}
		after := append([]byte(nil), data[19:19+n]...)
		undoNext := primitives.LSN(binary.BigEndian.Uint64(data[19+n : 19+n+8]))
		return &LogRecord{
			LSN:         lsn,
			Type:        CLRRecord,
			TID:         primitives.NewTransactionIDFromValue(xid),
			PageID:      page.NewDefault(pgno),
			AfterImage:  after,
			UndoNextLSN: undoNext,
			Pgno:        pgno,
			Offset:      offset,
		}, nil

	case CheckpointBegin, CheckpointEnd:
		if len(data) < 9 {
			return nil, fmt.Errorf("checkpoint record body too short: %d bytes", len(data))
		}
		prevLSN := primitives.LSN(binary.BigEndian.Uint64(data[1:9]))
		return &LogRecord{
			LSN:     lsn,
			Type:    typ,
			PrevLSN: prevLSN,
		}, nil

	default:
		return nil, fmt.Errorf("unknown record type byte %d at LSN %d", data[0], lsn)
	}
}
