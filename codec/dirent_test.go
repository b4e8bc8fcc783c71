package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirEntryRoundTrip(t *testing.T) {
	entry := DirectoryEntry{
		Name:           "FILE_A.TXT",
		AttributeFlags: AttrArchived,
		FirstCluster:   0x12345,
		FileSize:       4096,
		CreatedAt:      time.Date(2001, 6, 15, 10, 30, 0, 0, time.UTC),
		LastAccessed:   time.Date(2001, 6, 16, 0, 0, 0, 0, time.UTC),
		LastModified:   time.Date(2001, 6, 17, 11, 0, 0, 0, time.UTC),
	}

	encoded := EncodeDirEntry(entry)
	require.Len(t, encoded, DirentSize)

	decoded, err := ParseDirEntry(encoded)
	require.NoError(t, err)

	assert.Equal(t, entry.Name, decoded.Name)
	assert.Equal(t, entry.AttributeFlags, decoded.AttributeFlags)
	assert.Equal(t, entry.FirstCluster, decoded.FirstCluster)
	assert.Equal(t, entry.FileSize, decoded.FileSize)
	assert.Equal(t, entry.CreatedAt, decoded.CreatedAt)
	assert.Equal(t, entry.LastModified, decoded.LastModified)
}

func TestParseDirEntryEndOfDirectory(t *testing.T) {
	buf := make([]byte, DirentSize)
	_, err := ParseDirEntry(buf)
	assert.ErrorIs(t, err, ErrEndOfDirectory)
}

func TestParseDirEntryDeleted(t *testing.T) {
	entry := DirectoryEntry{Name: "GONE.TXT", FileSize: 10}
	encoded := EncodeDirEntry(entry)
	encoded[0] = deletedMarker

	decoded, err := ParseDirEntry(encoded)
	assert.ErrorIs(t, err, ErrDeletedEntry)
	assert.True(t, decoded.IsDeleted)
}

func TestIsLongNameAttribute(t *testing.T) {
	d := DirectoryEntry{AttributeFlags: AttrLongName}
	assert.True(t, d.IsLongName())

	d2 := DirectoryEntry{AttributeFlags: AttrDirectory}
	assert.False(t, d2.IsLongName())
}

func TestShortNameChecksumStable(t *testing.T) {
	c1 := ShortNameChecksum("FILE_A", "TXT")
	c2 := ShortNameChecksum("FILE_A", "TXT")
	assert.Equal(t, c1, c2)

	c3 := ShortNameChecksum("FILE_B", "TXT")
	assert.NotEqual(t, c1, c3)
}
