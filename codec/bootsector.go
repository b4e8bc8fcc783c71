// Package codec implements pure encode/decode of FAT on-disk structures:
// boot sector fields, FAT entries of width 12/16/32, directory entries, and
// FAT date/time values. Nothing in this package performs I/O.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/fatdefrag/internal/ferrors"
)

// SectorID addresses a single on-disk sector, 0-based from the start of the
// image.
type SectorID uint32

// ClusterID addresses a single on-disk cluster. 0 and 1 are never valid data
// clusters; data clusters begin at 2.
type ClusterID uint32

// Variant identifies which of the three FAT table widths a volume uses.
type Variant int

const (
	FAT12 Variant = 12
	FAT16 Variant = 16
	FAT32 Variant = 32
)

func (v Variant) String() string {
	return fmt.Sprintf("FAT%d", int(v))
}

// rawBootSector is the byte-exact representation of the fields common to all
// three FAT variants, read directly off sector 0 with encoding/binary.
//
// Mirrors the teacher's RawFATBootSectorWithBPB, extended with the FAT32-only
// fields the teacher never needed (it only ever read sectorsPerFAT32 to
// disambiguate FAT16 vs FAT32; here those fields are first-class since
// SPEC_FULL requires full FAT32 support).
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// rawBootSectorFAT32Extra holds the FAT32-only fields that immediately follow
// rawBootSector in sector 0.
type rawBootSectorFAT32Extra struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
}

// BootParameters is the fully processed, immutable-for-the-run view of a
// volume's boot sector. Derived fields are precomputed once at parse time,
// mirroring the teacher's FATBootSector.
type BootParameters struct {
	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	RootEntryCount    uint
	TotalSectors      uint
	SectorsPerFAT     uint
	Variant           Variant
	RootCluster       ClusterID // FAT32 only; 0 otherwise
	FSInfoSector      SectorID  // FAT32 only; 0 otherwise

	BytesPerCluster    uint
	FirstFATSector     SectorID
	FirstRootDirSector SectorID // FAT12/16 only
	RootDirSectors     uint     // FAT12/16 only
	FirstDataSector    SectorID
	TotalDataSectors   uint
	TotalClusters      uint
	FirstDataCluster   ClusterID
	LastDataCluster    ClusterID
}

// DetermineVariant classifies a FAT volume by its cluster count, per
// Microsoft's FAT white paper. This is the only correct way to determine the
// width: BPB fields that look like they imply a width (e.g. RootEntryCount
// being 0) are a side effect of the format, not the cause of it.
func DetermineVariant(totalClusters uint) Variant {
	if totalClusters < 4085 {
		return FAT12
	}
	if totalClusters < 65525 {
		return FAT16
	}
	return FAT32
}

// ParseBootSector decodes the 512-or-more byte sector 0 of a FAT image into a
// BootParameters. sector0 must contain at least 90 bytes (the common BPB plus
// the FAT32 extension) and the full sector for the 0xAA55 signature check.
func ParseBootSector(sector0 []byte) (*BootParameters, error) {
	if len(sector0) < 512 {
		return nil, ferrors.FormatError.WithMessage(
			fmt.Sprintf("sector 0 is only %d bytes, need at least 512", len(sector0)))
	}

	if sector0[510] != 0x55 || sector0[511] != 0xAA {
		return nil, ferrors.FormatError.WithMessage("missing 0xAA55 boot sector signature")
	}

	reader := bytes.NewReader(sector0)

	var raw rawBootSector
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return nil, ferrors.IoError.WrapError(err)
	}

	var extra rawBootSectorFAT32Extra
	if err := binary.Read(reader, binary.LittleEndian, &extra); err != nil {
		return nil, ferrors.IoError.WrapError(err)
	}

	if err := validateGeometry(raw); err != nil {
		return nil, err
	}

	sectorsPerFAT := uint(raw.SectorsPerFAT16)
	if sectorsPerFAT == 0 {
		sectorsPerFAT = uint(extra.SectorsPerFAT32)
	}

	totalSectors := uint(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint(raw.TotalSectors32)
	}

	rootDirSectors := ((uint(raw.RootEntryCount) * 32) + (uint(raw.BytesPerSector) - 1)) /
		uint(raw.BytesPerSector)

	totalFATSectors := uint(raw.NumFATs) * sectorsPerFAT
	firstDataSector := uint(raw.ReservedSectors) + totalFATSectors + rootDirSectors
	dataSectors := totalSectors - firstDataSector
	bytesPerCluster := uint(raw.BytesPerSector) * uint(raw.SectorsPerCluster)
	totalClusters := dataSectors / uint(raw.SectorsPerCluster)

	variant := DetermineVariant(totalClusters)
	if variant == FAT32 && rootDirSectors != 0 {
		return nil, ferrors.FormatError.WithMessage(
			fmt.Sprintf("root directory sectors is %d on a FAT32 volume, must be 0", rootDirSectors))
	}
	if variant != FAT32 && rootDirSectors == 0 {
		return nil, ferrors.FormatError.WithMessage(
			"root directory sectors is 0 on a non-FAT32 volume")
	}

	bp := &BootParameters{
		BytesPerSector:     uint(raw.BytesPerSector),
		SectorsPerCluster:  uint(raw.SectorsPerCluster),
		ReservedSectors:    uint(raw.ReservedSectors),
		NumFATs:            uint(raw.NumFATs),
		RootEntryCount:     uint(raw.RootEntryCount),
		TotalSectors:       totalSectors,
		SectorsPerFAT:      sectorsPerFAT,
		Variant:            variant,
		BytesPerCluster:    bytesPerCluster,
		FirstFATSector:     SectorID(raw.ReservedSectors),
		FirstRootDirSector: SectorID(uint(raw.ReservedSectors) + totalFATSectors),
		RootDirSectors:     rootDirSectors,
		FirstDataSector:    SectorID(firstDataSector),
		TotalDataSectors:   dataSectors,
		TotalClusters:      totalClusters,
		FirstDataCluster:   2,
		LastDataCluster:    ClusterID(totalClusters + 1),
	}

	if variant == FAT32 {
		bp.RootCluster = ClusterID(extra.RootCluster)
		bp.FSInfoSector = SectorID(extra.FSInfoSector)
	}

	return bp, nil
}

func validateGeometry(raw rawBootSector) error {
	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return ferrors.FormatError.WithMessage(
			fmt.Sprintf("bytes-per-sector must be 512/1024/2048/4096, got %d", raw.BytesPerSector))
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return ferrors.FormatError.WithMessage(
			fmt.Sprintf("sectors-per-cluster must be a power of 2 in [1,128], got %d", raw.SectorsPerCluster))
	}

	if raw.NumFATs == 0 {
		return ferrors.FormatError.WithMessage("number of FATs is 0")
	}

	bytesPerCluster := uint(raw.BytesPerSector) * uint(raw.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		return ferrors.FormatError.WithMessage(
			fmt.Sprintf("bytes-per-cluster cannot exceed 32768, got %d", bytesPerCluster))
	}

	return nil
}

// IsDataCluster reports whether c falls within the volume's valid data
// cluster range [FirstDataCluster, LastDataCluster].
func (bp *BootParameters) IsDataCluster(c ClusterID) bool {
	return c >= bp.FirstDataCluster && c <= bp.LastDataCluster
}

// ClusterByteOffset returns the byte offset of the start of cluster c within
// the image.
func (bp *BootParameters) ClusterByteOffset(c ClusterID) uint64 {
	firstSectorOfCluster := uint64(bp.FirstDataSector) + uint64(c-bp.FirstDataCluster)*uint64(bp.SectorsPerCluster)
	return firstSectorOfCluster * uint64(bp.BytesPerSector)
}

// FATByteOffset returns the byte offset of entry `idx` within FAT copy
// `fatIndex` (0 or 1, ...).
func (bp *BootParameters) FATByteOffset(fatIndex uint, idx ClusterID) uint64 {
	fatStart := uint64(bp.FirstFATSector)*uint64(bp.BytesPerSector) +
		uint64(fatIndex)*uint64(bp.SectorsPerFAT)*uint64(bp.BytesPerSector)

	switch bp.Variant {
	case FAT12:
		return fatStart + uint64(idx)*3/2
	case FAT16:
		return fatStart + uint64(idx)*2
	default:
		return fatStart + uint64(idx)*4
	}
}
