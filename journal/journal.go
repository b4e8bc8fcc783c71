// Package journal implements the write-ahead log of pending byte-range
// writes to the volume image. Every Volume mutation is staged here first;
// commit applies it to the image in the order log-write, log-flush,
// data-write, data-flush, log-truncate, so a crash at any point leaves the
// image either fully pre- or fully post-transaction.
package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	log "github.com/dsoprea/go-logging"

	"github.com/dargueta/fatdefrag/imageio"
	"github.com/dargueta/fatdefrag/internal/ferrors"
)

const (
	flagStaged = 0
	flagCommit = 1
)

// record is one entry in the on-disk log, matching spec.md's wire format:
// seq(8) | offset(8) | length(4) | old[length] | new[length] | crc32(4) | flag(1)
type record struct {
	seq     uint64
	offset  uint64
	oldData []byte
	newData []byte
	flag    byte
}

func (r record) checksum() uint32 {
	h := crc32.NewIEEE()
	var hdr [20]byte
	binary.LittleEndian.PutUint64(hdr[0:8], r.seq)
	binary.LittleEndian.PutUint64(hdr[8:16], r.offset)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(r.oldData)))
	h.Write(hdr[:])
	h.Write(r.oldData)
	h.Write(r.newData)
	return h.Sum32()
}

func (r record) encode() []byte {
	length := len(r.oldData)
	buf := make([]byte, 8+8+4+length+length+4+1)

	binary.LittleEndian.PutUint64(buf[0:8], r.seq)
	binary.LittleEndian.PutUint64(buf[8:16], r.offset)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(length))
	copy(buf[20:20+length], r.oldData)
	copy(buf[20+length:20+2*length], r.newData)
	binary.LittleEndian.PutUint32(buf[20+2*length:24+2*length], r.checksum())
	buf[24+2*length] = r.flag
	return buf
}

// TxID identifies an open transaction.
type TxID uint64

// Journal is the append-only log of pending mutations for one Volume.
type Journal struct {
	logPath string
	logFile *os.File
	image   imageio.ImageIO

	nextSeq    uint64
	activeTx   TxID
	txOpen     bool
	staged     []record
	txBeginSeq uint64
}

// Open creates (truncating) the sibling journal file for image and returns a
// ready-to-use Journal. Callers must run ReplayOnOpen on the same path
// *before* calling Open, since Open truncates the log — see ReplayOnOpen's
// doc comment.
func Open(logPath string, image imageio.ImageIO) (*Journal, error) {
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, ferrors.IoError.WrapError(err)
	}

	return &Journal{
		logPath: logPath,
		logFile: f,
		image:   image,
		nextSeq: 1,
	}, nil
}

// Begin opens a new transaction. Only one transaction may be open at a time;
// callers must Commit or Abort before calling Begin again.
func (j *Journal) Begin() (TxID, error) {
	if j.txOpen {
		return 0, ferrors.IoError.WithMessage("a transaction is already open")
	}
	j.txOpen = true
	j.activeTx = TxID(j.nextSeq)
	j.txBeginSeq = j.nextSeq
	j.staged = nil
	return j.activeTx, nil
}

// Stage appends a pending write to the current transaction. It captures the
// current on-disk bytes at offset as oldData, which Commit writes into the
// log record alongside the new bytes. The write is not visible on the image
// until Commit.
func (j *Journal) Stage(tx TxID, offset uint64, newData []byte) error {
	if !j.txOpen || tx != j.activeTx {
		return ferrors.IoError.WithMessage("Stage called outside its transaction")
	}

	oldData, err := j.image.ReadAt(offset, uint32(len(newData)))
	if err != nil {
		return err
	}

	j.staged = append(j.staged, record{
		seq:     j.nextSeq,
		offset:  offset,
		oldData: oldData,
		newData: newData,
		flag:    flagStaged,
	})
	j.nextSeq++
	return nil
}

// Commit writes a commit marker, flushes the log, applies every staged write
// to the image, flushes the image, then truncates the log. This exact
// ordering is what makes the protocol crash-safe: see the package doc.
func (j *Journal) Commit(tx TxID) error {
	if !j.txOpen || tx != j.activeTx {
		return ferrors.IoError.WithMessage("Commit called outside its transaction")
	}

	for _, r := range j.staged {
		if _, err := j.logFile.Write(r.encode()); err != nil {
			return ferrors.IoError.WrapError(err)
		}
	}

	commitRec := record{seq: j.nextSeq, offset: 0, oldData: nil, newData: nil, flag: flagCommit}
	j.nextSeq++
	if _, err := j.logFile.Write(commitRec.encode()); err != nil {
		return ferrors.IoError.WrapError(err)
	}

	if err := j.logFile.Sync(); err != nil {
		return ferrors.IoError.WrapError(err)
	}

	for _, r := range j.staged {
		if err := j.image.WriteAt(r.offset, r.newData); err != nil {
			return ferrors.IoError.WrapError(err)
		}
	}

	if err := j.image.Flush(); err != nil {
		return ferrors.IoError.WrapError(err)
	}

	if err := j.truncateLog(); err != nil {
		return err
	}

	j.txOpen = false
	j.staged = nil
	return nil
}

// Abort discards every record staged since Begin without touching the image.
func (j *Journal) Abort(tx TxID) error {
	if !j.txOpen || tx != j.activeTx {
		return ferrors.IoError.WithMessage("Abort called outside its transaction")
	}
	j.txOpen = false
	j.staged = nil
	j.nextSeq = j.txBeginSeq
	return nil
}

func (j *Journal) truncateLog() error {
	if err := j.logFile.Truncate(0); err != nil {
		return ferrors.IoError.WrapError(err)
	}
	if _, err := j.logFile.Seek(0, io.SeekStart); err != nil {
		return ferrors.IoError.WrapError(err)
	}
	return nil
}

// Close closes the log file without truncating it; every successful Commit
// has already truncated it. The caller is responsible for flushing and
// closing the image separately (Volume owns both).
func (j *Journal) Close() error {
	if err := j.logFile.Close(); err != nil {
		return ferrors.IoError.WrapError(err)
	}
	return nil
}

// ReplayOnOpen scans the journal file at logPath (if it exists) and, for
// every committed transaction found, re-applies its new_bytes to image. Any
// trailing records that never reached a commit marker are discarded. It must
// be called once, before the Journal for this run is created (Open
// truncates the log).
//
// If a record's checksum fails, replay stops immediately and returns
// ferrors.CorruptJournal without touching the image further, per spec: the
// tool reports a manual-repair state rather than guessing.
func ReplayOnOpen(logPath string, image imageio.ImageIO) error {
	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ferrors.IoError.WrapError(err)
	}
	defer f.Close()

	var pending []record
	for {
		r, ok, err := readRecord(f)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		if r.flag == flagCommit {
			for _, staged := range pending {
				if err := image.WriteAt(staged.offset, staged.newData); err != nil {
					return err
				}
			}
			if len(pending) > 0 {
				_ = log.Errorf("replayed %d committed journal record(s) from %s", len(pending), logPath)
			}
			pending = nil
			continue
		}
		pending = append(pending, r)
	}

	if len(pending) > 0 {
		_ = log.Errorf("discarding %d uncommitted journal record(s) from %s", len(pending), logPath)
	}

	return image.Flush()
}

// readRecord reads one record off r. ok is false (with a nil error) at a
// clean end-of-file between records.
func readRecord(r io.Reader) (record, bool, error) {
	var hdr [20]byte
	n, err := io.ReadFull(r, hdr[:])
	if err == io.EOF && n == 0 {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, ferrors.CorruptJournal.WrapError(err)
	}

	seq := binary.LittleEndian.Uint64(hdr[0:8])
	offset := binary.LittleEndian.Uint64(hdr[8:16])
	length := binary.LittleEndian.Uint32(hdr[16:20])

	body := make([]byte, 2*length+4+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return record{}, false, ferrors.CorruptJournal.WrapError(err)
	}

	rec := record{
		seq:     seq,
		offset:  offset,
		oldData: body[0:length],
		newData: body[length : 2*length],
		flag:    body[2*length+4],
	}

	wantChecksum := binary.LittleEndian.Uint32(body[2*length : 2*length+4])
	if rec.checksum() != wantChecksum {
		return record{}, false, ferrors.CorruptJournal.WithMessage(
			fmt.Sprintf("checksum mismatch at sequence %d", seq))
	}

	return rec, true, nil
}
