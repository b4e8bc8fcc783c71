// Package testfixtures builds small, byte-exact synthetic FAT12 images for
// use in the volume, relocator, fragmentator, and errorcreator tests. It mirrors the teacher's testing package in
// spirit — hand-built fixtures instead of real disk images checked into the
// repo — but builds images from scratch rather than decompressing a fixed
// sample, since the spec needs full control over cluster chain shapes.
package testfixtures

import (
	"encoding/binary"
	"time"

	"github.com/dargueta/fatdefrag/codec"
)

const (
	BytesPerSector = 512
	NumFATs        = 2
	SectorsPerFAT  = 1
	RootEntryCount = 512
)

// Image is an in-progress FAT12 volume image under construction.
type Image struct {
	SectorsPerCluster uint8
	TotalClusters     uint

	buf []byte

	fatOffset   [2]int
	rootOffset  int
	rootSectors uint
	dataOffset  int
}

// NewFAT12 allocates a blank, correctly-shaped FAT12 image with totalClusters
// data clusters of sectorsPerCluster sectors each, two 1-sector FAT copies,
// and a 512-entry fixed root directory. Every data cluster starts zeroed and
// every FAT entry starts Free.
func NewFAT12(totalClusters uint, sectorsPerCluster uint8) *Image {
	rootDirSectors := uint(RootEntryCount*32+BytesPerSector-1) / BytesPerSector
	dataSectors := totalClusters * uint(sectorsPerCluster)
	totalSectors := uint(1) + NumFATs*SectorsPerFAT + rootDirSectors + dataSectors

	buf := make([]byte, totalSectors*BytesPerSector)
	buf[510] = 0x55
	buf[511] = 0xAA

	binary.LittleEndian.PutUint16(buf[11:13], BytesPerSector)
	buf[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], 1) // reserved sectors
	buf[16] = NumFATs
	binary.LittleEndian.PutUint16(buf[17:19], RootEntryCount)
	binary.LittleEndian.PutUint16(buf[19:21], uint16(totalSectors))
	binary.LittleEndian.PutUint16(buf[22:24], SectorsPerFAT)

	img := &Image{
		SectorsPerCluster: sectorsPerCluster,
		TotalClusters:     totalClusters,
		buf:               buf,
		fatOffset:         [2]int{1 * BytesPerSector, (1 + SectorsPerFAT) * BytesPerSector},
		rootOffset:        (1 + NumFATs*SectorsPerFAT) * BytesPerSector,
		rootSectors:       rootDirSectors,
		dataOffset:        int(1+NumFATs*SectorsPerFAT+rootDirSectors) * BytesPerSector,
	}

	// Reserved cluster-0/1 slots: conventionally media-descriptor + EOC.
	img.setFat(0, 0xFF0)
	img.setFat(1, 0xFFF)

	return img
}

// Bytes returns the complete backing buffer. The returned slice aliases the
// Image's internal storage; callers typically hand it straight to
// imageio.OpenMemory.
func (img *Image) Bytes() []byte {
	return img.buf
}

// ClusterOffset returns the byte offset of cluster c within the image.
func (img *Image) ClusterOffset(c codec.ClusterID) int {
	bytesPerCluster := int(img.SectorsPerCluster) * BytesPerSector
	return img.dataOffset + (int(c)-2)*bytesPerCluster
}

// BytesPerCluster returns the size, in bytes, of one data cluster.
func (img *Image) BytesPerCluster() int {
	return int(img.SectorsPerCluster) * BytesPerSector
}

// WriteCluster overwrites cluster c's contents with data, which must be no
// longer than one cluster. Shorter writes are zero-padded.
func (img *Image) WriteCluster(c codec.ClusterID, data []byte) {
	off := img.ClusterOffset(c)
	size := img.BytesPerCluster()
	for i := 0; i < size; i++ {
		img.buf[off+i] = 0
	}
	copy(img.buf[off:off+size], data)
}

// setFat writes a raw 12-bit value into both FAT copies at index idx.
func (img *Image) setFat(idx codec.ClusterID, value uint16) {
	for _, base := range img.fatOffset {
		table := img.buf[base : base+SectorsPerFAT*BytesPerSector]
		entry := codec.FatEntry{}
		if value >= 0xFF8 {
			entry.Class = codec.EOC
		} else if value == 0xFF7 {
			entry.Class = codec.Bad
		} else if value == 0 {
			entry.Class = codec.Free
		} else if value == 1 {
			entry.Class = codec.Reserved
		} else {
			entry.Class = codec.Allocated
			entry.Next = codec.ClusterID(value)
		}
		_ = codec.WriteFatEntry(table, idx, codec.FAT12, entry)
	}
}

// Chain marks every cluster in clusters as Allocated, each pointing at the
// next, with the last one EOC-terminated. clusters need not be contiguous,
// letting callers build pre-fragmented fixtures directly.
func (img *Image) Chain(clusters []codec.ClusterID) {
	for i, c := range clusters {
		if i == len(clusters)-1 {
			img.setFat(c, 0xFFF)
		} else {
			img.setFat(c, uint16(clusters[i+1]))
		}
	}
}

// LinkCluster points from's FAT entry directly at to, bypassing Chain's
// head-to-tail convenience. Used to hand-build corrupt or cyclic chains for
// negative tests.
func (img *Image) LinkCluster(from, to codec.ClusterID) {
	img.setFat(from, uint16(to))
}

// FreeCluster marks a single cluster Free in both FAT copies.
func (img *Image) FreeCluster(c codec.ClusterID) {
	img.setFat(c, 0)
}

// AddRootEntry writes a short directory entry into the next free slot of the
// fixed root directory region and returns its byte offset in the image.
func (img *Image) AddRootEntry(name string, attr int, firstCluster codec.ClusterID, size uint32) uint64 {
	entry := codec.DirectoryEntry{
		Name:           name,
		AttributeFlags: attr,
		FirstCluster:   firstCluster,
		FileSize:       size,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		LastModified:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	encoded := codec.EncodeDirEntry(entry)

	for i := uint(0); i < RootEntryCount; i++ {
		off := img.rootOffset + int(i)*codec.DirentSize
		if img.buf[off] == 0x00 || img.buf[off] == 0xE5 {
			copy(img.buf[off:off+codec.DirentSize], encoded)
			return uint64(off)
		}
	}
	panic("testfixtures: root directory is full")
}

// AddDotEntries writes "." and ".." entries at the start of a
// subdirectory's first cluster, matching what a real FAT formatter writes
// when a directory is created.
func (img *Image) AddDotEntries(dirCluster, parentCluster codec.ClusterID) {
	dot := codec.DirectoryEntry{Name: ".", AttributeFlags: codec.AttrDirectory, FirstCluster: dirCluster}
	dotdot := codec.DirectoryEntry{Name: "..", AttributeFlags: codec.AttrDirectory, FirstCluster: parentCluster}

	off := img.ClusterOffset(dirCluster)
	copy(img.buf[off:off+codec.DirentSize], codec.EncodeDirEntry(dot))
	copy(img.buf[off+codec.DirentSize:off+2*codec.DirentSize], codec.EncodeDirEntry(dotdot))
}
