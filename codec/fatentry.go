package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/fatdefrag/internal/ferrors"
)

// EntryClass is the semantic meaning of a FatEntry value, independent of
// width.
type EntryClass int

const (
	Free EntryClass = iota
	Reserved
	Allocated
	Bad
	EOC
)

// FatEntry is a single decoded FAT table slot. Next is only meaningful when
// Class == Allocated.
type FatEntry struct {
	Class EntryClass
	Next  ClusterID
}

// eocThreshold and badValue give the per-width sentinel boundaries. Any value
// at or above eocThreshold (and not equal to badValue) is treated as an
// end-of-chain marker, matching the ranges in the FAT white paper (e.g. FAT16
// EOC in [0xFFF8, 0xFFFF]).
func eocThreshold(v Variant) uint32 {
	switch v {
	case FAT12:
		return 0xFF8
	case FAT16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

func badValue(v Variant) uint32 {
	switch v {
	case FAT12:
		return 0xFF7
	case FAT16:
		return 0xFFF7
	default:
		return 0x0FFFFFF7
	}
}

func maxValue(v Variant) uint32 {
	switch v {
	case FAT12:
		return 0xFFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// classify converts a raw table value into a FatEntry.
func classify(raw uint32, v Variant) FatEntry {
	switch {
	case raw == 0:
		return FatEntry{Class: Free}
	case raw == 1:
		return FatEntry{Class: Reserved}
	case raw == badValue(v):
		return FatEntry{Class: Bad}
	case raw >= eocThreshold(v):
		return FatEntry{Class: EOC}
	default:
		return FatEntry{Class: Allocated, Next: ClusterID(raw)}
	}
}

// encode converts a FatEntry back into its raw numeric form for the given
// width.
func (e FatEntry) encode(v Variant) uint32 {
	switch e.Class {
	case Free:
		return 0
	case Reserved:
		return 1
	case Bad:
		return badValue(v)
	case EOC:
		return maxValue(v)
	default:
		return uint32(e.Next)
	}
}

// ReadFatEntry decodes the entry for cluster idx out of a raw FAT table
// buffer. fat must contain the entire FAT (all sectorsPerFAT sectors), not
// just the slot being read, because FAT12 entries straddle byte boundaries
// shared with their neighbor.
func ReadFatEntry(fat []byte, idx ClusterID, v Variant) (FatEntry, error) {
	switch v {
	case FAT12:
		bytePos := (uint32(idx) * 3) / 2
		if int(bytePos)+1 >= len(fat) {
			return FatEntry{}, ferrors.CorruptChain.WithMessage(
				fmt.Sprintf("cluster %d is out of bounds for a %d-byte FAT12 table", idx, len(fat)))
		}
		var raw uint32
		if idx%2 == 0 {
			raw = uint32(fat[bytePos]) | ((uint32(fat[bytePos+1]) & 0x0F) << 8)
		} else {
			raw = uint32(fat[bytePos]>>4) | (uint32(fat[bytePos+1]) << 4)
		}
		return classify(raw, v), nil

	case FAT16:
		offset := int(idx) * 2
		if offset+2 > len(fat) {
			return FatEntry{}, ferrors.CorruptChain.WithMessage(
				fmt.Sprintf("cluster %d is out of bounds for a %d-byte FAT16 table", idx, len(fat)))
		}
		raw := uint32(binary.LittleEndian.Uint16(fat[offset : offset+2]))
		return classify(raw, v), nil

	default:
		offset := int(idx) * 4
		if offset+4 > len(fat) {
			return FatEntry{}, ferrors.CorruptChain.WithMessage(
				fmt.Sprintf("cluster %d is out of bounds for a %d-byte FAT32 table", idx, len(fat)))
		}
		raw := binary.LittleEndian.Uint32(fat[offset:offset+4]) & 0x0FFFFFFF
		return classify(raw, v), nil
	}
}

// WriteFatEntry encodes entry into the raw FAT table buffer at cluster idx.
// For FAT12, the unrelated nibble shared with the neighboring entry is
// preserved exactly, per spec: writers MUST NOT disturb it.
func WriteFatEntry(fat []byte, idx ClusterID, v Variant, entry FatEntry) error {
	raw := entry.encode(v)

	switch v {
	case FAT12:
		bytePos := (uint32(idx) * 3) / 2
		if int(bytePos)+1 >= len(fat) {
			return ferrors.CorruptChain.WithMessage(
				fmt.Sprintf("cluster %d is out of bounds for a %d-byte FAT12 table", idx, len(fat)))
		}
		if idx%2 == 0 {
			fat[bytePos] = byte(raw & 0xFF)
			fat[bytePos+1] = (fat[bytePos+1] & 0xF0) | byte((raw>>8)&0x0F)
		} else {
			fat[bytePos] = (fat[bytePos] & 0x0F) | byte((raw&0x0F)<<4)
			fat[bytePos+1] = byte(raw >> 4)
		}
		return nil

	case FAT16:
		offset := int(idx) * 2
		if offset+2 > len(fat) {
			return ferrors.CorruptChain.WithMessage(
				fmt.Sprintf("cluster %d is out of bounds for a %d-byte FAT16 table", idx, len(fat)))
		}
		binary.LittleEndian.PutUint16(fat[offset:offset+2], uint16(raw))
		return nil

	default:
		offset := int(idx) * 4
		if offset+4 > len(fat) {
			return ferrors.CorruptChain.WithMessage(
				fmt.Sprintf("cluster %d is out of bounds for a %d-byte FAT32 table", idx, len(fat)))
		}
		// The top 4 bits of a FAT32 entry are reserved and must be preserved,
		// mirroring the nibble-preservation rule FAT12 has at the byte level.
		existing := binary.LittleEndian.Uint32(fat[offset : offset+4])
		merged := (existing & 0xF0000000) | (raw & 0x0FFFFFFF)
		binary.LittleEndian.PutUint32(fat[offset:offset+4], merged)
		return nil
	}
}

// FatBytesPerEntry returns how many whole bytes a single table has to grow by
// to hold one more entry, used only for sizing scratch buffers; FAT12 entries
// don't byte-align so callers needing an exact table size should use
// BootParameters.SectorsPerFAT * BootParameters.BytesPerSector instead.
func FatBytesPerEntry(v Variant) int {
	switch v {
	case FAT12:
		return 3 // per 2 entries, i.e. 1.5 bytes/entry
	case FAT16:
		return 2
	default:
		return 4
	}
}
