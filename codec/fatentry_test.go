package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatEntryRoundTrip(t *testing.T) {
	variants := []Variant{FAT12, FAT16, FAT32}
	entries := []FatEntry{
		{Class: Free},
		{Class: Reserved},
		{Class: Bad},
		{Class: EOC},
		{Class: Allocated, Next: 2},
		{Class: Allocated, Next: 1000},
	}

	for _, v := range variants {
		tableSize := 4096
		for _, e := range entries {
			fat := make([]byte, tableSize)
			idx := ClusterID(5)

			require.NoError(t, WriteFatEntry(fat, idx, v, e))
			got, err := ReadFatEntry(fat, idx, v)
			require.NoError(t, err)

			assert.Equal(t, e.Class, got.Class, "variant %v", v)
			if e.Class == Allocated {
				assert.Equal(t, e.Next, got.Next, "variant %v", v)
			}
		}
	}
}

func TestFat12PreservesNeighborNibble(t *testing.T) {
	fat := make([]byte, 12)

	require.NoError(t, WriteFatEntry(fat, 0, FAT12, FatEntry{Class: Allocated, Next: 0xABC}))
	require.NoError(t, WriteFatEntry(fat, 1, FAT12, FatEntry{Class: Allocated, Next: 0x123}))

	got0, err := ReadFatEntry(fat, 0, FAT12)
	require.NoError(t, err)
	got1, err := ReadFatEntry(fat, 1, FAT12)
	require.NoError(t, err)

	assert.Equal(t, ClusterID(0xABC), got0.Next)
	assert.Equal(t, ClusterID(0x123), got1.Next)

	// Rewriting entry 0 must not disturb entry 1's half of the shared byte.
	require.NoError(t, WriteFatEntry(fat, 0, FAT12, FatEntry{Class: Allocated, Next: 0x001}))
	got1Again, err := ReadFatEntry(fat, 1, FAT12)
	require.NoError(t, err)
	assert.Equal(t, ClusterID(0x123), got1Again.Next)
}

func TestReadFatEntryOutOfBounds(t *testing.T) {
	fat := make([]byte, 4)
	_, err := ReadFatEntry(fat, 1000, FAT16)
	assert.Error(t, err)
}
