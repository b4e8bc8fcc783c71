package volume

import (
	"fmt"

	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/internal/ferrors"
)

// getFatEntry reads the in-memory FAT#0 copy. It never touches the image
// directly; callers see the same view Open() built the free map from.
func (v *Volume) getFatEntry(cluster codec.ClusterID) (codec.FatEntry, error) {
	if !v.bp.IsDataCluster(cluster) {
		return codec.FatEntry{}, ferrors.CorruptChain.WithMessage(
			fmt.Sprintf("cluster %d is outside the valid data range", cluster))
	}
	return codec.ReadFatEntry(v.fat0, cluster, v.bp.Variant)
}

// setFatEntry stages a write to both FAT copies inside tx and updates the
// in-memory mirrors and free map immediately, so subsequent calls within the
// same transaction see a consistent view.
func (v *Volume) setFatEntry(tx txHandle, cluster codec.ClusterID, entry codec.FatEntry) error {
	if !v.bp.IsDataCluster(cluster) {
		return ferrors.CorruptChain.WithMessage(
			fmt.Sprintf("cluster %d is outside the valid data range", cluster))
	}

	width := v.bp.SectorsPerFAT * v.bp.BytesPerSector
	scratch0 := make([]byte, width)
	copy(scratch0, v.fat0)
	if err := codec.WriteFatEntry(scratch0, cluster, v.bp.Variant, entry); err != nil {
		return err
	}

	scratch1 := make([]byte, width)
	copy(scratch1, v.fat1)
	if err := codec.WriteFatEntry(scratch1, cluster, v.bp.Variant, entry); err != nil {
		return err
	}

	if err := v.stage(tx, v.bp.FATByteOffset(0, 0), scratch0); err != nil {
		return err
	}
	if err := v.stage(tx, v.bp.FATByteOffset(1, 0), scratch1); err != nil {
		return err
	}

	v.fat0 = scratch0
	v.fat1 = scratch1

	idx := int(cluster - v.bp.FirstDataCluster)
	v.freeMap.Set(idx, entry.Class == codec.Free)

	return nil
}

// isFree reports whether cluster currently has no allocation, per the
// in-memory free map built at Open and maintained incrementally thereafter.
func (v *Volume) isFree(cluster codec.ClusterID) bool {
	idx := int(cluster - v.bp.FirstDataCluster)
	if idx < 0 || idx >= int(v.bp.TotalClusters) {
		return false
	}
	return v.freeMap.Get(idx)
}
