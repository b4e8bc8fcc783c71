package imageio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryImageReadWriteRoundTrip(t *testing.T) {
	buf := make([]byte, 4096)
	img := OpenMemory(buf)

	payload := []byte("defrag me please")
	require.NoError(t, img.WriteAt(100, payload))
	require.NoError(t, img.Flush())

	got, err := img.ReadAt(100, uint32(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The write must be visible through the original backing slice too,
	// since OpenMemory wraps it rather than copying it.
	assert.Equal(t, payload, buf[100:100+len(payload)])
}

func TestMemoryImageRejectsOutOfBoundsAccess(t *testing.T) {
	img := OpenMemory(make([]byte, 16))

	_, err := img.ReadAt(10, 100)
	assert.Error(t, err)

	err = img.WriteAt(10, make([]byte, 100))
	assert.Error(t, err)
}

func TestMemoryImageSize(t *testing.T) {
	img := OpenMemory(make([]byte, 2048))
	assert.EqualValues(t, 2048, img.Size())
}
