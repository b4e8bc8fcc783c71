package volume

import (
	"github.com/dargueta/fatdefrag/codec"
)

// SetRawFatEntry overwrites cluster's FAT entry directly, bypassing every
// allocation invariant Volume otherwise enforces. It exists solely for
// errorcreator: building a corrupt-volume fixture necessarily means writing
// FAT states AllocateContiguous/MoveCluster would never produce on their
// own (out-of-range targets, premature EOCs, shared tails).
func (v *Volume) SetRawFatEntry(cluster codec.ClusterID, entry codec.FatEntry) error {
	tx, err := v.beginTx()
	if err != nil {
		return err
	}
	if err := v.setFatEntry(tx, cluster, entry); err != nil {
		v.abortTx(tx)
		return err
	}
	return v.commitTx(tx)
}

// PokeBytes overwrites length(data)-bytes at an arbitrary absolute image
// offset, in its own bounded transaction. Like SetRawFatEntry, it's an
// escape hatch reserved for errorcreator, which writes hand-built directory
// entry bytes (reserved attribute bits, out-of-range first clusters)
// directly instead of through UpdateDirEntry.
func (v *Volume) PokeBytes(offset uint64, data []byte) error {
	tx, err := v.beginTx()
	if err != nil {
		return err
	}
	if err := v.stage(tx, offset, data); err != nil {
		v.abortTx(tx)
		return err
	}
	return v.commitTx(tx)
}
