package volume

import (
	"fmt"

	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/internal/ferrors"
)

// ReadChain returns every cluster in the chain starting at start, in order.
// An EOC entry ends the chain normally. A Free, Reserved, or Bad entry found
// mid-chain is corruption: ReadChain returns what it found so far alongside
// ferrors.CorruptChain, mirroring the teacher's listClusters.
func (v *Volume) ReadChain(start codec.ClusterID) ([]codec.ClusterID, error) {
	if err := v.checkPoisoned(); err != nil {
		return nil, err
	}
	if !v.bp.IsDataCluster(start) {
		return nil, ferrors.CorruptChain.WithMessage(
			fmt.Sprintf("invalid cluster %d cannot start a chain", start))
	}

	var chain []codec.ClusterID
	current := start
	seen := make(map[codec.ClusterID]bool)

	for {
		if seen[current] {
			return chain, ferrors.CorruptChain.WithMessage(
				fmt.Sprintf("cluster %d revisited: chain from %d contains a cycle", current, start))
		}
		seen[current] = true
		chain = append(chain, current)

		entry, err := v.getFatEntry(current)
		if err != nil {
			return chain, err
		}

		switch entry.Class {
		case codec.EOC:
			return chain, nil
		case codec.Allocated:
			if !v.bp.IsDataCluster(entry.Next) {
				return chain, ferrors.CorruptChain.WithMessage(
					fmt.Sprintf("cluster %d points at out-of-range cluster %d", current, entry.Next))
			}
			current = entry.Next
		default:
			return chain, ferrors.CorruptChain.WithMessage(
				fmt.Sprintf("cluster %d in chain from %d has unexpected class", current, start))
		}
	}
}

// ChainLength is a convenience wrapper returning just the cluster count of
// the chain starting at start.
func (v *Volume) ChainLength(start codec.ClusterID) (int, error) {
	chain, err := v.ReadChain(start)
	return len(chain), err
}

// IsContiguous reports whether the chain beginning at start occupies a
// single run of physically increasing, adjacent cluster numbers — the
// definition of "not fragmented" used throughout spec.md.
func (v *Volume) IsContiguous(start codec.ClusterID) (bool, error) {
	chain, err := v.ReadChain(start)
	if err != nil {
		return false, err
	}
	for i := 1; i < len(chain); i++ {
		if chain[i] != chain[i-1]+1 {
			return false, nil
		}
	}
	return true, nil
}

// ReadClusterData returns the raw bytes of a single cluster.
func (v *Volume) ReadClusterData(cluster codec.ClusterID) ([]byte, error) {
	if err := v.checkPoisoned(); err != nil {
		return nil, err
	}
	if !v.bp.IsDataCluster(cluster) {
		return nil, ferrors.CorruptChain.WithMessage(
			fmt.Sprintf("invalid cluster %d", cluster))
	}
	return v.image.ReadAt(v.bp.ClusterByteOffset(cluster), uint32(v.bp.BytesPerCluster))
}
