package volume

import (
	"errors"
	"path"
	"strings"

	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/internal/ferrors"
)

// DirEntryPosition pins a directory entry's exact location in the image, so
// Relocator and ErrorCreator can rewrite it later without re-walking the
// directory tree.
type DirEntryPosition struct {
	ByteOffset uint64
}

// File is one resolved directory entry and the position of its short entry
// within the image.
type File struct {
	Path     string
	Entry    codec.DirectoryEntry
	Position DirEntryPosition
}

// slot is one raw 32-byte directory record plus where it came from.
type slot struct {
	data   []byte
	offset uint64
}

// rawSlots returns every 32-byte slot of the directory whose first cluster
// is start, in on-disk order. isRoot selects the FAT12/16 fixed-size root
// region instead of walking a cluster chain; start is ignored in that case.
func (v *Volume) rawSlots(start codec.ClusterID, isRoot bool) ([]slot, error) {
	if isRoot && v.bp.Variant != codec.FAT32 {
		regionOffset := uint64(v.bp.FirstRootDirSector) * uint64(v.bp.BytesPerSector)
		regionSize := v.bp.RootDirSectors * v.bp.BytesPerSector
		raw, err := v.image.ReadAt(regionOffset, uint32(regionSize))
		if err != nil {
			return nil, err
		}
		return splitSlots(raw, regionOffset), nil
	}

	chainStart := start
	if isRoot {
		chainStart = v.bp.RootCluster
	}

	chain, err := v.ReadChain(chainStart)
	if err != nil {
		return nil, err
	}

	var slots []slot
	for _, cluster := range chain {
		raw, err := v.ReadClusterData(cluster)
		if err != nil {
			return nil, err
		}
		slots = append(slots, splitSlots(raw, v.bp.ClusterByteOffset(cluster))...)
	}
	return slots, nil
}

func splitSlots(raw []byte, baseOffset uint64) []slot {
	slots := make([]slot, 0, len(raw)/codec.DirentSize)
	for i := 0; i+codec.DirentSize <= len(raw); i += codec.DirentSize {
		slots = append(slots, slot{
			data:   raw[i : i+codec.DirentSize],
			offset: baseOffset + uint64(i),
		})
	}
	return slots
}

// WalkDirectory decodes the immediate (non-recursive) contents of one
// directory, skipping deleted entries and VFAT long-name fragments: the
// returned Files carry only the 8.3 short entry a caller needs to read or
// rewrite. A fragment's bytes live in the same cluster as the short entry
// that follows it, so relocating that cluster (see Volume.MoveCluster)
// carries the fragment along without either side needing to track it
// separately.
func (v *Volume) WalkDirectory(start codec.ClusterID, isRoot bool) ([]File, error) {
	if err := v.checkPoisoned(); err != nil {
		return nil, err
	}

	slots, err := v.rawSlots(start, isRoot)
	if err != nil {
		return nil, err
	}

	var files []File

	for _, s := range slots {
		entry, perr := codec.ParseDirEntry(s.data)
		if errors.Is(perr, codec.ErrEndOfDirectory) {
			break
		}
		if errors.Is(perr, codec.ErrDeletedEntry) {
			continue
		}
		if perr != nil {
			return nil, perr
		}

		if entry.IsLongName() {
			continue
		}

		files = append(files, File{
			Path:     entry.Name,
			Entry:    entry,
			Position: DirEntryPosition{ByteOffset: s.offset},
		})
	}

	return files, nil
}

// WalkTree recursively enumerates every non-"."/".."" file and directory
// reachable from the root, with Path set to the full slash-separated path
// from the root. Cycle protection mirrors ReadChain's: a directory cluster
// is never visited twice.
func (v *Volume) WalkTree() ([]File, error) {
	visited := make(map[codec.ClusterID]bool)
	return v.walkTreeFrom(v.bp.RootCluster, true, "", visited)
}

func (v *Volume) walkTreeFrom(cluster codec.ClusterID, isRoot bool, prefix string, visited map[codec.ClusterID]bool) ([]File, error) {
	entries, err := v.WalkDirectory(cluster, isRoot)
	if err != nil {
		return nil, err
	}

	var out []File
	for _, f := range entries {
		if f.Path == "." || f.Path == ".." {
			continue
		}
		f.Path = path.Join(prefix, strings.TrimSpace(f.Path))
		out = append(out, f)

		if f.Entry.IsDirectory() {
			if visited[f.Entry.FirstCluster] {
				return out, ferrors.CorruptChain.WithMessage(
					"directory cluster visited twice while walking tree, tree contains a cycle")
			}
			visited[f.Entry.FirstCluster] = true

			children, err := v.walkTreeFrom(f.Entry.FirstCluster, false, f.Path, visited)
			if err != nil {
				return out, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}

// UpdateDirEntry overwrites the 32-byte record at pos with entry's encoded
// form, in its own bounded transaction. It never touches the entry's
// preceding long-name fragments: their slot doesn't move when only
// FirstCluster changes, and when the whole directory moves, MoveCluster
// already carried those bytes to the new cluster before UpdateDirEntry (or
// the "."/".." fixups) run against the new positions.
func (v *Volume) UpdateDirEntry(pos DirEntryPosition, entry codec.DirectoryEntry) error {
	tx, err := v.beginTx()
	if err != nil {
		return err
	}

	encoded := codec.EncodeDirEntry(entry)
	if err := v.stage(tx, pos.ByteOffset, encoded); err != nil {
		v.abortTx(tx)
		return err
	}

	return v.commitTx(tx)
}
