// Package volume implements the filesystem abstraction over a FAT image:
// cluster chains, the free-cluster map, directory traversal, and the
// allocate/free/move primitives the Relocator, Fragmentator, and
// ErrorCreator are all built from. Volume exclusively owns the image file
// handle and the Journal; nothing above this layer touches imageio or
// journal directly.
package volume

import (
	"path/filepath"

	"github.com/boljen/go-bitmap"
	log "github.com/dsoprea/go-logging"

	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/imageio"
	"github.com/dargueta/fatdefrag/internal/ferrors"
	"github.com/dargueta/fatdefrag/journal"
)

// Volume is the live, in-memory model of an open FAT image. It owns the
// image handle, the journal, and both in-memory copies of the FAT.
type Volume struct {
	image   imageio.ImageIO
	journal *journal.Journal
	bp      *codec.BootParameters

	fat0, fat1 []byte
	freeMap    bitmap.Bitmap

	scratch  []byte
	poisoned error
}

// Open opens the image at path, replays any pending journal transaction left
// over from a crashed run, loads both FAT copies, and builds the free map.
// If the two FAT copies disagree, FAT#0 is treated as authoritative and a
// rewrite of FAT#1 is staged immediately, per spec.
func Open(path string) (*Volume, error) {
	logPath := path + ".jrnl"

	// Replay must run against a throwaway view of the image before the
	// "real" Journal is created, since Journal.Open truncates the log.
	img, err := imageio.OpenFile(path)
	if err != nil {
		return nil, err
	}

	if err := journal.ReplayOnOpen(logPath, img); err != nil {
		img.Close()
		return nil, err
	}

	return open(img, logPath)
}

// OpenImage builds a Volume directly on top of an already-constructed
// ImageIO (typically imageio.OpenMemory in tests) and a chosen journal path.
// Callers are responsible for running journal.ReplayOnOpen themselves first
// if they care about crash recovery semantics.
func OpenImage(img imageio.ImageIO, journalPath string) (*Volume, error) {
	return open(img, journalPath)
}

func open(img imageio.ImageIO, logPath string) (*Volume, error) {
	j, err := journal.Open(logPath, img)
	if err != nil {
		img.Close()
		return nil, err
	}

	v := &Volume{image: img, journal: j}

	sector0, err := img.ReadAt(0, 512)
	if err != nil {
		v.poison(err)
		return nil, err
	}

	bp, err := codec.ParseBootSector(sector0)
	if err != nil {
		return nil, err
	}
	v.bp = bp
	v.scratch = make([]byte, bp.BytesPerCluster)

	fatSize := uint32(bp.SectorsPerFAT * bp.BytesPerSector)
	v.fat0, err = img.ReadAt(uint64(bp.FATByteOffset(0, 0)), fatSize)
	if err != nil {
		v.poison(err)
		return nil, err
	}
	v.fat1, err = img.ReadAt(uint64(bp.FATByteOffset(1, 0)), fatSize)
	if err != nil {
		v.poison(err)
		return nil, err
	}

	if err := v.reconcileFATCopies(); err != nil {
		return nil, err
	}

	v.rebuildFreeMap()

	return v, nil
}

// reconcileFATCopies compares FAT#0 and FAT#1 byte-for-byte. If they differ,
// FAT#0 wins and a rewrite of FAT#1 is staged and committed immediately, so
// by the time Open returns the two copies always agree (testable property 5).
func (v *Volume) reconcileFATCopies() error {
	if bytesEqual(v.fat0, v.fat1) {
		return nil
	}

	_ = log.Errorf("FAT copies disagree on open: rewriting FAT#1 to match FAT#0")

	tx, err := v.journal.Begin()
	if err != nil {
		return ferrors.IoError.WrapError(err)
	}

	offset1 := v.bp.FATByteOffset(1, 0)
	if err := v.journal.Stage(tx, offset1, v.fat0); err != nil {
		v.journal.Abort(tx)
		return err
	}
	if err := v.journal.Commit(tx); err != nil {
		return v.poison(err)
	}

	copy(v.fat1, v.fat0)
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rebuildFreeMap derives the FreeMap from the current in-memory FAT#0. It
// must be called again any time the FAT is mutated outside of the
// allocate/move helpers that keep it updated incrementally.
func (v *Volume) rebuildFreeMap() {
	total := int(v.bp.TotalClusters)
	v.freeMap = bitmap.NewSlice(total)

	for i := 0; i < total; i++ {
		cluster := v.bp.FirstDataCluster + codec.ClusterID(i)
		entry, err := v.getFatEntry(cluster)
		if err != nil {
			continue
		}
		if entry.Class == codec.Free {
			v.freeMap.Set(i, true)
		}
	}
}

// BootParameters returns the volume's immutable boot-sector-derived
// parameters.
func (v *Volume) BootParameters() *codec.BootParameters {
	return v.bp
}

// poison marks the Volume unusable after an I/O failure, per spec: lower
// layers never swallow errors, and Volume propagates IoError upward for
// every subsequent call once poisoned.
func (v *Volume) poison(err error) error {
	if v.poisoned == nil {
		v.poisoned = err
	}
	return v.poisoned
}

func (v *Volume) checkPoisoned() error {
	if v.poisoned != nil {
		return v.poisoned
	}
	return nil
}

// Close flushes the journal and image and releases the file handle.
func (v *Volume) Close() error {
	if err := v.journal.Close(); err != nil {
		return err
	}
	if err := v.image.Flush(); err != nil {
		return err
	}
	return v.image.Close()
}

// Stat summarizes the volume for the INFO external mode: total/free
// clusters and the number of files reachable from the root.
type Stat struct {
	TotalClusters uint
	FreeClusters  uint
	BytesPerByte  uint
	FileCount     int
}

// Stat reports aggregate information about the volume without mutating it.
func (v *Volume) Stat() (Stat, error) {
	if err := v.checkPoisoned(); err != nil {
		return Stat{}, err
	}

	free := uint(0)
	for i := 0; i < int(v.bp.TotalClusters); i++ {
		if v.freeMap.Get(i) {
			free++
		}
	}

	files, err := v.WalkTree()
	if err != nil {
		return Stat{}, err
	}

	return Stat{
		TotalClusters: v.bp.TotalClusters,
		FreeClusters:  free,
		FileCount:     len(files),
	}, nil
}

// JournalPathFor is a small helper kept for symmetry with Open; exported so
// callers building their own fixtures (tests, cmd/fatdefrag) can derive the
// same sibling path convention instead of hard-coding ".jrnl".
func JournalPathFor(imagePath string) string {
	return filepath.Clean(imagePath) + ".jrnl"
}

// txHandle is the internal alias for an open journal transaction. Every
// exported mutating Volume method owns one transaction for its entire
// duration, keeping spec's "bounded per-cluster transaction" guarantee: a
// crash mid-call leaves either the whole call applied or none of it.
type txHandle = journal.TxID

func (v *Volume) beginTx() (txHandle, error) {
	if err := v.checkPoisoned(); err != nil {
		return 0, err
	}
	return v.journal.Begin()
}

func (v *Volume) stage(tx txHandle, offset uint64, data []byte) error {
	return v.journal.Stage(tx, offset, data)
}

func (v *Volume) commitTx(tx txHandle) error {
	if err := v.journal.Commit(tx); err != nil {
		return v.poison(err)
	}
	return nil
}

func (v *Volume) abortTx(tx txHandle) {
	v.journal.Abort(tx)
}
