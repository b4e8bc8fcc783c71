package relocator

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/fatdefrag/codec"
	"github.com/dargueta/fatdefrag/imageio"
	"github.com/dargueta/fatdefrag/testfixtures"
	"github.com/dargueta/fatdefrag/volume"
)

func openTestVolume(t *testing.T, img *testfixtures.Image) *volume.Volume {
	t.Helper()
	memImg := imageio.OpenMemory(img.Bytes())
	logPath := filepath.Join(t.TempDir(), "test.jrnl")
	v, err := volume.OpenImage(memImg, logPath)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestDefragmentSkipsAlreadyContiguousFiles(t *testing.T) {
	img := testfixtures.NewFAT12(20, 1)
	img.Chain([]codec.ClusterID{2, 3, 4})
	img.AddRootEntry("FOO.TXT", 0, 2, 1500)
	v := openTestVolume(t, img)

	report, err := New(v).Defragment()
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Nil(t, report.Errors)
}

func TestDefragmentRelocatesFragmentedFile(t *testing.T) {
	img := testfixtures.NewFAT12(20, 1)
	// Fragmented: 2 -> 10 -> 5, scattered.
	img.Chain([]codec.ClusterID{2, 10, 5})
	img.WriteCluster(2, []byte("one."))
	img.WriteCluster(10, []byte("two."))
	img.WriteCluster(5, []byte("three"))
	img.AddRootEntry("FOO.TXT", 0, 2, 1500)

	v := openTestVolume(t, img)
	report, err := New(v).Defragment()
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Skipped)
	assert.Equal(t, 3, report.Results[0].ClustersMoved)

	files, err := v.WalkTree()
	require.NoError(t, err)
	require.Len(t, files, 1)

	ok, err := v.IsContiguous(files[0].Entry.FirstCluster)
	require.NoError(t, err)
	assert.True(t, ok)

	chain, err := v.ReadChain(files[0].Entry.FirstCluster)
	require.NoError(t, err)
	data0, err := v.ReadClusterData(chain[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("one."), data0[:4])
	data1, err := v.ReadClusterData(chain[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("two."), data1[:4])
	data2, err := v.ReadClusterData(chain[2])
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), data2[:5])
}

func TestDefragmentReportsNoSpaceWhenVolumeIsFull(t *testing.T) {
	// 6 data clusters total; one 3-cluster fragmented file, the rest fully
	// occupied by a second file, leaving no room for either a fresh run or a
	// displacement target.
	img := testfixtures.NewFAT12(6, 1)
	img.Chain([]codec.ClusterID{2, 4, 3}) // fragmented
	img.Chain([]codec.ClusterID{5, 6, 7}) // contiguous, occupies the rest
	img.AddRootEntry("A.TXT", 0, 2, 1500)
	img.AddRootEntry("B.TXT", 0, 5, 1500)

	v := openTestVolume(t, img)
	report, err := New(v).Defragment()
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Skipped)
	assert.NotNil(t, report.Errors)
}

func TestDefragmentDisplacesBlockerToMakeRoom(t *testing.T) {
	// 10 data clusters (2..11). A.TXT is fragmented across 2, 11, 9 and needs
	// a contiguous run of 3; the only free clusters are 3, 4, 7, 8, 10, none
	// of which form a run that long. B.TXT sits contiguously at 5-6, right
	// in between two of those free stretches. Displacing B to the volume's
	// high end (7-8, the only free pair there) merges 3-4 with the newly
	// freed 5-6 into a run of 4, which is enough for A.
	img := testfixtures.NewFAT12(10, 1)
	img.Chain([]codec.ClusterID{2, 11, 9})
	img.WriteCluster(2, []byte("A1--"))
	img.WriteCluster(11, []byte("A2--"))
	img.WriteCluster(9, []byte("A3--"))
	img.AddRootEntry("A.TXT", 0, 2, 1500)

	img.Chain([]codec.ClusterID{5, 6})
	img.WriteCluster(5, []byte("B1--"))
	img.WriteCluster(6, []byte("B2--"))
	img.AddRootEntry("B.TXT", 0, 5, 1000)

	v := openTestVolume(t, img)
	report, err := New(v).Defragment()
	require.NoError(t, err)
	assert.Nil(t, report.Errors)
	require.Len(t, report.Results, 1, "only A.TXT's move is reported; B.TXT's displacement is an internal step")
	assert.Equal(t, "A.TXT", report.Results[0].Path)
	assert.False(t, report.Results[0].Skipped)
	assert.Equal(t, 3, report.Results[0].ClustersMoved)

	files, err := v.WalkTree()
	require.NoError(t, err)

	var a, b volume.File
	for _, f := range files {
		switch f.Path {
		case "A.TXT":
			a = f
		case "B.TXT":
			b = f
		}
	}
	require.NotEmpty(t, a.Path)
	require.NotEmpty(t, b.Path)

	aContiguous, err := v.IsContiguous(a.Entry.FirstCluster)
	require.NoError(t, err)
	assert.True(t, aContiguous, "A.TXT should now be contiguous")

	bChain, err := v.ReadChain(b.Entry.FirstCluster)
	require.NoError(t, err)
	require.Len(t, bChain, 2)
	assert.EqualValues(t, 7, bChain[0], "B.TXT should have been displaced to the high end")
	bContiguous, err := v.IsContiguous(b.Entry.FirstCluster)
	require.NoError(t, err)
	assert.True(t, bContiguous, "B.TXT should still be contiguous after being displaced")

	aChain, err := v.ReadChain(a.Entry.FirstCluster)
	require.NoError(t, err)
	require.Len(t, aChain, 3)
	data0, _ := v.ReadClusterData(aChain[0])
	data1, _ := v.ReadClusterData(aChain[1])
	data2, _ := v.ReadClusterData(aChain[2])
	assert.Equal(t, []byte("A1--"), data0[:4])
	assert.Equal(t, []byte("A2--"), data1[:4])
	assert.Equal(t, []byte("A3--"), data2[:4])

	data0, _ = v.ReadClusterData(bChain[0])
	data1, _ = v.ReadClusterData(bChain[1])
	assert.Equal(t, []byte("B1--"), data0[:4])
	assert.Equal(t, []byte("B2--"), data1[:4])
}

func TestDefragmentFixesUpDotEntriesOnDirectoryMove(t *testing.T) {
	img := testfixtures.NewFAT12(20, 1)
	// SUBDIR's own chain is fragmented across clusters 10 and 5.
	img.Chain([]codec.ClusterID{10, 5})
	img.AddDotEntries(10, 0)
	img.AddRootEntry("SUBDIR", codec.AttrDirectory, 10, 0)

	// A child of SUBDIR whose ".." must be fixed up after SUBDIR moves.
	img.Chain([]codec.ClusterID{3})
	img.AddDotEntries(3, 10)

	// Manually place CHILD's directory entry inside SUBDIR's cluster (the
	// slot right after its own "." and ".." entries), since AddRootEntry
	// always targets the fixed root region.
	childEntry := codec.DirectoryEntry{Name: "CHILD", AttributeFlags: codec.AttrDirectory, FirstCluster: 3}
	encoded := codec.EncodeDirEntry(childEntry)
	raw := img.Bytes()
	subdirSlot := img.ClusterOffset(10) + 2*codec.DirentSize
	copy(raw[subdirSlot:subdirSlot+codec.DirentSize], encoded)

	v := openTestVolume(t, img)
	report, err := New(v).Defragment()
	require.NoError(t, err)

	var subdirMoved bool
	for _, res := range report.Results {
		if res.Path == "SUBDIR" {
			subdirMoved = true
			children, err := v.WalkDirectory(codec.ClusterID(res.NewStart), false)
			require.NoError(t, err)
			for _, c := range children {
				if c.Path == "." {
					assert.EqualValues(t, res.NewStart, c.Entry.FirstCluster)
				}
			}

			grandchildren, err := v.WalkDirectory(3, false)
			require.NoError(t, err)
			for _, gc := range grandchildren {
				if gc.Path == ".." {
					assert.EqualValues(t, res.NewStart, gc.Entry.FirstCluster)
				}
			}
		}
	}
	assert.True(t, subdirMoved)
}

func TestDefragmentCarriesLongNameFragmentAlongWithDirectoryMove(t *testing.T) {
	// SUBDIR's own chain is fragmented across 10 and 5, so Defragment
	// relocates it. Its first cluster holds ".", "..", a VFAT long-name
	// fragment, and the short entry that fragment belongs to, in that
	// order; relocating the whole cluster should carry the fragment's raw
	// bytes to the new cluster untouched, immediately ahead of the short
	// entry it describes.
	img := testfixtures.NewFAT12(20, 1)
	img.Chain([]codec.ClusterID{10, 5})
	img.AddDotEntries(10, 0)
	img.AddRootEntry("SUBDIR", codec.AttrDirectory, 10, 0)

	img.Chain([]codec.ClusterID{3})
	img.WriteCluster(3, []byte("contents"))

	lfnFragment := bytes.Repeat([]byte{0xAB}, codec.DirentSize)
	lfnFragment[0] = 0x41
	lfnFragment[11] = codec.AttrLongName

	shortEntry := codec.EncodeDirEntry(codec.DirectoryEntry{
		Name: "LONG.TXT", FirstCluster: 3, FileSize: 8,
	})

	raw := img.Bytes()
	lfnSlot := img.ClusterOffset(10) + 2*codec.DirentSize
	shortSlot := img.ClusterOffset(10) + 3*codec.DirentSize
	copy(raw[lfnSlot:lfnSlot+codec.DirentSize], lfnFragment)
	copy(raw[shortSlot:shortSlot+codec.DirentSize], shortEntry)

	v := openTestVolume(t, img)
	report, err := New(v).Defragment()
	require.NoError(t, err)

	var newSubdirStart codec.ClusterID
	for _, res := range report.Results {
		if res.Path == "SUBDIR" {
			newSubdirStart = codec.ClusterID(res.NewStart)
		}
	}
	require.NotZero(t, newSubdirStart, "SUBDIR should have been relocated")

	data, err := v.ReadClusterData(newSubdirStart)
	require.NoError(t, err)

	gotFragment := data[2*codec.DirentSize : 3*codec.DirentSize]
	assert.Equal(t, lfnFragment, gotFragment, "long-name fragment bytes should survive the move untouched")

	gotShort := data[3*codec.DirentSize : 4*codec.DirentSize]
	decoded, err := codec.ParseDirEntry(gotShort)
	require.NoError(t, err)
	assert.Equal(t, "LONG.TXT", decoded.Name)
	assert.EqualValues(t, 3, decoded.FirstCluster, "the file's own data didn't move, only its parent directory did")
}
