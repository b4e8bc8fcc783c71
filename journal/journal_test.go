package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/fatdefrag/imageio"
)

func newTestJournal(t *testing.T, image imageio.ImageIO) (*Journal, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.jrnl")
	j, err := Open(logPath, image)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, logPath
}

func TestCommitAppliesWritesAndTruncatesLog(t *testing.T) {
	buf := make([]byte, 512)
	image := imageio.OpenMemory(buf)
	j, logPath := newTestJournal(t, image)

	tx, err := j.Begin()
	require.NoError(t, err)
	require.NoError(t, j.Stage(tx, 10, []byte("hello")))
	require.NoError(t, j.Commit(tx))

	got, err := image.ReadAt(10, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "log must be truncated after a clean commit")
}

func TestAbortLeavesImageUntouched(t *testing.T) {
	buf := make([]byte, 512)
	image := imageio.OpenMemory(buf)
	j, _ := newTestJournal(t, image)

	tx, err := j.Begin()
	require.NoError(t, err)
	require.NoError(t, j.Stage(tx, 0, []byte("oops")))
	require.NoError(t, j.Abort(tx))

	got, err := image.ReadAt(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, got)
}

func TestReplayAppliesCommittedTransactionAfterCrash(t *testing.T) {
	buf := make([]byte, 512)
	image := imageio.OpenMemory(buf)
	j, logPath := newTestJournal(t, image)

	tx, err := j.Begin()
	require.NoError(t, err)
	require.NoError(t, j.Stage(tx, 20, []byte("crashsafe")))

	// Simulate a crash right after the log write+flush but before the data
	// write: write the log records by hand, without calling Commit (which
	// would also apply them to the image and truncate the log).
	for _, r := range j.staged {
		_, err := j.logFile.Write(r.encode())
		require.NoError(t, err)
	}
	commitRec := record{seq: j.nextSeq, flag: flagCommit}
	_, err = j.logFile.Write(commitRec.encode())
	require.NoError(t, err)
	require.NoError(t, j.logFile.Sync())

	// The image was never touched.
	got, err := image.ReadAt(20, 9)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 9), got)

	// Reopening and replaying must finish the transaction.
	require.NoError(t, ReplayOnOpen(logPath, image))

	got, err = image.ReadAt(20, 9)
	require.NoError(t, err)
	assert.Equal(t, []byte("crashsafe"), got)
}

func TestReplayDiscardsUncommittedTrailingRecords(t *testing.T) {
	buf := make([]byte, 512)
	image := imageio.OpenMemory(buf)
	j, logPath := newTestJournal(t, image)

	tx, err := j.Begin()
	require.NoError(t, err)
	require.NoError(t, j.Stage(tx, 0, []byte("neverhappened")))

	for _, r := range j.staged {
		_, err := j.logFile.Write(r.encode())
		require.NoError(t, err)
	}
	require.NoError(t, j.logFile.Sync())
	// No commit marker written: this transaction never committed.

	require.NoError(t, ReplayOnOpen(logPath, image))

	got, err := image.ReadAt(0, 13)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 13), got)
}

func TestReplayDetectsChecksumCorruption(t *testing.T) {
	buf := make([]byte, 512)
	image := imageio.OpenMemory(buf)
	j, logPath := newTestJournal(t, image)

	tx, err := j.Begin()
	require.NoError(t, err)
	require.NoError(t, j.Stage(tx, 0, []byte("data")))

	encoded := j.staged[0].encode()
	encoded[25] ^= 0xFF // corrupt a byte inside newData
	_, err = j.logFile.Write(encoded)
	require.NoError(t, err)
	require.NoError(t, j.logFile.Sync())

	err = ReplayOnOpen(logPath, image)
	assert.Error(t, err)
}

func TestReplayNoOpWhenJournalAbsent(t *testing.T) {
	buf := make([]byte, 64)
	image := imageio.OpenMemory(buf)
	err := ReplayOnOpen(filepath.Join(t.TempDir(), "missing.jrnl"), image)
	assert.NoError(t, err)
}
