package volume

import (
	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/internal/ferrors"
)

// NoPredecessor is passed to MoveCluster for a chain's first cluster: there
// is no FAT entry pointing at it to fix up, only the owning directory entry,
// which the caller updates separately via UpdateDirEntry once every cluster
// in the chain has been relocated.
const NoPredecessor codec.ClusterID = 0

// AllocateContiguous finds the lowest-numbered run of count consecutive free
// clusters and marks them Allocated, chained in order with the last one
// EOC-terminated. It does not touch any directory entry or existing chain;
// callers wire the returned clusters in themselves. Returns ferrors.NoSpace
// if no run of that length exists.
func (v *Volume) AllocateContiguous(count uint) ([]codec.ClusterID, error) {
	return v.allocateContiguousScan(count, false)
}

// AllocateContiguousFromEnd is AllocateContiguous's mirror image: it returns
// the highest-numbered free run instead of the lowest. Relocator's
// displacement pass uses this to move a blocking file toward the far end of
// the volume.
func (v *Volume) AllocateContiguousFromEnd(count uint) ([]codec.ClusterID, error) {
	return v.allocateContiguousScan(count, true)
}

func (v *Volume) allocateContiguousScan(count uint, fromEnd bool) ([]codec.ClusterID, error) {
	if err := v.checkPoisoned(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	total := int(v.bp.TotalClusters)
	run, ok := findRun(v.freeMap, total, int(count), fromEnd)
	if !ok {
		return nil, ferrors.NoSpace.WithMessage("no contiguous run of free clusters large enough")
	}

	clusters := make([]codec.ClusterID, count)
	for i := range clusters {
		clusters[i] = v.bp.FirstDataCluster + codec.ClusterID(run+i)
	}

	tx, err := v.beginTx()
	if err != nil {
		return nil, err
	}

	for i, cluster := range clusters {
		var entry codec.FatEntry
		if i == len(clusters)-1 {
			entry = codec.FatEntry{Class: codec.EOC}
		} else {
			entry = codec.FatEntry{Class: codec.Allocated, Next: clusters[i+1]}
		}
		if err := v.setFatEntry(tx, cluster, entry); err != nil {
			v.abortTx(tx)
			return nil, err
		}
	}

	if err := v.commitTx(tx); err != nil {
		return nil, err
	}

	return clusters, nil
}

// findRun scans the free map for count consecutive set bits, returning the
// index of the run's first bit. fromEnd reverses the scan direction so the
// highest-addressed qualifying run wins instead of the lowest.
func findRun(fm interface{ Get(int) bool }, total, count int, fromEnd bool) (int, bool) {
	if !fromEnd {
		run := 0
		for i := 0; i < total; i++ {
			if fm.Get(i) {
				run++
				if run == count {
					return i - count + 1, true
				}
			} else {
				run = 0
			}
		}
		return 0, false
	}

	run := 0
	for i := total - 1; i >= 0; i-- {
		if fm.Get(i) {
			run++
			if run == count {
				return i, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// FreeClusters returns every currently-free data cluster, in ascending
// order. Fragmentator uses this to hand-pick a scattered allocation instead
// of AllocateContiguous's single contiguous run.
func (v *Volume) FreeClusters() []codec.ClusterID {
	var out []codec.ClusterID
	for i := 0; i < int(v.bp.TotalClusters); i++ {
		if v.freeMap.Get(i) {
			out = append(out, v.bp.FirstDataCluster+codec.ClusterID(i))
		}
	}
	return out
}

// AllocateExact marks every cluster in clusters Allocated, chained in the
// given order with the last one EOC-terminated, the same way
// AllocateContiguous does for a run it found itself. Every cluster must
// currently be free; AllocateExact returns ferrors.NoSpace (without
// modifying anything) if any of them are not.
func (v *Volume) AllocateExact(clusters []codec.ClusterID) error {
	if err := v.checkPoisoned(); err != nil {
		return err
	}
	for _, c := range clusters {
		if !v.isFree(c) {
			return ferrors.NoSpace.WithMessage("requested cluster is not free")
		}
	}

	tx, err := v.beginTx()
	if err != nil {
		return err
	}

	for i, cluster := range clusters {
		var entry codec.FatEntry
		if i == len(clusters)-1 {
			entry = codec.FatEntry{Class: codec.EOC}
		} else {
			entry = codec.FatEntry{Class: codec.Allocated, Next: clusters[i+1]}
		}
		if err := v.setFatEntry(tx, cluster, entry); err != nil {
			v.abortTx(tx)
			return err
		}
	}

	return v.commitTx(tx)
}

// FreeChain marks every cluster in chain Free, in one transaction.
func (v *Volume) FreeChain(chain []codec.ClusterID) error {
	tx, err := v.beginTx()
	if err != nil {
		return err
	}

	for _, cluster := range chain {
		if err := v.setFatEntry(tx, cluster, codec.FatEntry{Class: codec.Free}); err != nil {
			v.abortTx(tx)
			return err
		}
	}

	return v.commitTx(tx)
}

// MoveCluster relocates the contents of src to the already-allocated-but-
// logically-free cluster dst, repoints predecessor's FAT entry (if any) at
// dst, and frees src. The whole operation is one bounded transaction: a
// crash mid-move leaves either the pre-move or post-move state, never a
// half-copied cluster with a dangling pointer.
//
// predecessor is NoPredecessor when src is a chain head; in that case the
// caller is responsible for updating the owning directory entry's
// FirstCluster to dst via UpdateDirEntry once every cluster in the chain has
// been moved, per spec's ordering: all cluster moves for a file complete
// before its directory entry is touched.
func (v *Volume) MoveCluster(src, dst, predecessor codec.ClusterID) error {
	if err := v.checkPoisoned(); err != nil {
		return err
	}

	srcEntry, err := v.getFatEntry(src)
	if err != nil {
		return err
	}
	if srcEntry.Class != codec.Allocated && srcEntry.Class != codec.EOC {
		return ferrors.CorruptChain.WithMessage("MoveCluster source is not an allocated cluster")
	}

	data, err := v.ReadClusterData(src)
	if err != nil {
		return err
	}

	tx, err := v.beginTx()
	if err != nil {
		return err
	}

	if err := v.stage(tx, v.bp.ClusterByteOffset(dst), data); err != nil {
		v.abortTx(tx)
		return err
	}

	if err := v.setFatEntry(tx, dst, srcEntry); err != nil {
		v.abortTx(tx)
		return err
	}

	if err := v.setFatEntry(tx, src, codec.FatEntry{Class: codec.Free}); err != nil {
		v.abortTx(tx)
		return err
	}

	if predecessor != NoPredecessor {
		if err := v.setFatEntry(tx, predecessor, codec.FatEntry{Class: codec.Allocated, Next: dst}); err != nil {
			v.abortTx(tx)
			return err
		}
	}

	return v.commitTx(tx)
}
