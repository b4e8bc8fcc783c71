package fragmentator

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

func TestScatterBreaksUpContiguousFile(t *testing.T) {
	img := testfixtures.NewFAT12(20, 1)
	img.Chain([]codec.ClusterID{2, 3, 4, 5})
	img.WriteCluster(2, []byte("AAAA"))
	img.WriteCluster(3, []byte("BBBB"))
	img.WriteCluster(4, []byte("CCCC"))
	img.WriteCluster(5, []byte("DDDD"))
	img.AddRootEntry("FOO.TXT", 0, 2, 2000)

	v := openTestVolume(t, img)
	report, err := New(v).Scatter()
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 4, report.Results[0].ClustersMoved)

	files, err := v.WalkTree()
	require.NoError(t, err)
	require.Len(t, files, 1)

	ok, err := v.IsContiguous(files[0].Entry.FirstCluster)
	require.NoError(t, err)
	assert.False(t, ok, "scattered file should no longer be contiguous")

	chain, err := v.ReadChain(files[0].Entry.FirstCluster)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	data0, _ := v.ReadClusterData(chain[0])
	data1, _ := v.ReadClusterData(chain[1])
	data2, _ := v.ReadClusterData(chain[2])
	data3, _ := v.ReadClusterData(chain[3])
	assert.Equal(t, []byte("AAAA"), data0[:4])
	assert.Equal(t, []byte("BBBB"), data1[:4])
	assert.Equal(t, []byte("CCCC"), data2[:4])
	assert.Equal(t, []byte("DDDD"), data3[:4])
}

func TestScatterLeavesSingleClusterFilesAlone(t *testing.T) {
	img := testfixtures.NewFAT12(20, 1)
	img.Chain([]codec.ClusterID{2})
	img.AddRootEntry("SMALL.TXT", 0, 2, 10)

	v := openTestVolume(t, img)
	report, err := New(v).Scatter()
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}

func TestScatterReportsNoSpaceWhenNotEnoughFreeClusters(t *testing.T) {
	img := testfixtures.NewFAT12(4, 1)
	img.Chain([]codec.ClusterID{2, 3, 4, 5})
	img.AddRootEntry("FOO.TXT", 0, 2, 2000)

	v := openTestVolume(t, img)
	report, err := New(v).Scatter()
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Skipped)
	assert.NotNil(t, report.Errors)
}
