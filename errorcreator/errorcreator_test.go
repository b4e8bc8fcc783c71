package errorcreator

import (
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

func twoFileVolume(t *testing.T) (*volume.Volume, []volume.File) {
	img := testfixtures.NewFAT12(30, 1)
	img.Chain([]codec.ClusterID{2, 3, 4})
	img.Chain([]codec.ClusterID{10, 11})
	img.AddRootEntry("A.TXT", 0, 2, 1500)
	img.AddRootEntry("B.TXT", 0, 10, 1000)

	v := openTestVolume(t, img)
	files, err := v.WalkTree()
	require.NoError(t, err)
	require.Len(t, files, 2)
	return v, files
}

func TestInjectBrokenChainPointsPastValidRange(t *testing.T) {
	v, files := twoFileVolume(t)

	result := New(v).InjectBrokenChain(files[0])
	assert.True(t, result.Injected)

	_, err := v.ReadChain(files[0].Entry.FirstCluster)
	assert.Error(t, err)
}

func TestInjectLostClusterLeavesOrphanAllocated(t *testing.T) {
	v, files := twoFileVolume(t)

	result := New(v).InjectLostCluster(files[0])
	assert.True(t, result.Injected)

	chain, err := v.ReadChain(files[0].Entry.FirstCluster)
	require.NoError(t, err)
	assert.Len(t, chain, 2, "chain should now end one cluster early")

	st, err := v.Stat()
	require.NoError(t, err)
	// The orphaned cluster is still allocated, so total free count is
	// unaffected by the truncation.
	assert.EqualValues(t, 30-5, st.FreeClusters)
}

func TestInjectCrossLinkedChainSharesTail(t *testing.T) {
	v, files := twoFileVolume(t)

	result := New(v).InjectCrossLinkedChain(files[0], files[1])
	assert.True(t, result.Injected)

	chainA, err := v.ReadChain(files[0].Entry.FirstCluster)
	require.NoError(t, err)
	chainB, err := v.ReadChain(files[1].Entry.FirstCluster)
	require.NoError(t, err)

	assert.Equal(t, chainA[len(chainA)-1], chainB[len(chainB)-1])
}

func TestInjectBadDirEntryPointsPastValidRange(t *testing.T) {
	v, files := twoFileVolume(t)

	result := New(v).InjectBadDirEntry(files[0])
	assert.True(t, result.Injected)

	reloaded, err := v.WalkTree()
	require.NoError(t, err)

	var corrupted *codec.DirectoryEntry
	for i := range reloaded {
		if reloaded[i].Path == "BADNAME.BAD" {
			corrupted = &reloaded[i].Entry
		}
	}
	require.NotNil(t, corrupted, "corrupted entry should still decode as a short entry")

	_, err = v.ReadChain(corrupted.FirstCluster)
	assert.Error(t, err, "the corrupted entry's first cluster is out of the volume's valid range")
}

func TestInjectAllAggregatesSkips(t *testing.T) {
	img := testfixtures.NewFAT12(10, 1)
	img.Chain([]codec.ClusterID{2}) // single cluster: can't break/lose a chain of 1
	img.AddRootEntry("ONLY.TXT", 0, 2, 10)

	v := openTestVolume(t, img)
	files, err := v.WalkTree()
	require.NoError(t, err)

	report := New(v).InjectAll(files)
	require.NotEmpty(t, report.Results)
	assert.NotNil(t, report.Errors, "single-cluster file and lack of a second file should produce skips")
}
