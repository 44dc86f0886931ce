package s3vfs

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, blockSize int64) *File {
	t.Helper()
	store := NewMemStore()
	return newFile(store, "test-bucket", "a-test/cool.db", blockSize, false)
}

func TestReadUninitialized(t *testing.T) {
	f := newTestFile(t, 4096)

	buf := make([]byte, 100)
	n, err := f.ReadAt(buf, 50)
	require.NoError(t, err)
	require.Equal(t, 100, n)
	require.Equal(t, make([]byte, 100), buf)
}

func TestWriteReadRoundTrip(t *testing.T) {
	blockSizes := []int64{512, 4095, 4096, 4097, 8192}
	offsets := []int64{0, 1, 100, 4095, 4096, 4097, 10000}

	for _, B := range blockSizes {
		for _, off := range offsets {
			f := newTestFile(t, B)
			data := []byte("the quick brown fox jumps over the lazy dog, repeated for good measure 0123456789")

			n, err := f.WriteAt(data, off)
			require.NoError(t, err)
			require.Equal(t, len(data), n)

			got := make([]byte, len(data))
			n, err = f.ReadAt(got, off)
			require.NoError(t, err)
			require.Equal(t, len(data), n)
			require.Equal(t, data, got)
		}
	}
}

func TestWriteSplitIndependence(t *testing.T) {
	// The same final contents, written via differently-sized
	// non-overlapping writes, must read back identically regardless of
	// how the writes were split (§8 property 3).
	const B = 4096
	full := make([]byte, 10000)
	rand.New(rand.NewSource(1)).Read(full)

	wholeFile := newTestFile(t, B)
	_, err := wholeFile.WriteAt(full, 0)
	require.NoError(t, err)

	splitFile := newTestFile(t, B)
	splits := []int{1, 3, 17, 512, 4095, 1, 4096, 1000, 3000-1}
	offset := 0
	for _, size := range splits {
		if offset+size > len(full) {
			size = len(full) - offset
		}
		if size <= 0 {
			continue
		}
		_, err := splitFile.WriteAt(full[offset:offset+size], int64(offset))
		require.NoError(t, err)
		offset += size
	}
	// Write whatever's left in one go.
	if offset < len(full) {
		_, err := splitFile.WriteAt(full[offset:], int64(offset))
		require.NoError(t, err)
	}

	gotWhole := make([]byte, len(full))
	_, err = wholeFile.ReadAt(gotWhole, 0)
	require.NoError(t, err)

	gotSplit := make([]byte, len(full))
	_, err = splitFile.ReadAt(gotSplit, 0)
	require.NoError(t, err)

	require.Equal(t, gotWhole, gotSplit)
	require.Equal(t, full, gotSplit)
}

func TestSizeEqualsSumOfPayloads(t *testing.T) {
	f := newTestFile(t, 4096)

	_, err := f.WriteAt(bytes.Repeat([]byte{1}, 10000), 0)
	require.NoError(t, err)

	size, err := f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 10000, size)

	require.NoError(t, f.Truncate(5000))
	size, err = f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 5000, size)

	got := make([]byte, 5000)
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{1}, 5000), got)
}

func TestTruncateToZero(t *testing.T) {
	f := newTestFile(t, 4096)
	_, err := f.WriteAt(bytes.Repeat([]byte{7}, 9000), 0)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(0))
	size, err := f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 0, size)

	buf := make([]byte, 10)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 10), buf)
}

func TestTruncateGrowIsNotSupported(t *testing.T) {
	// Truncate only trims per §4.3; growing past the current size is
	// simply a no-op (there is nothing to delete, and keep is clamped
	// to each block's existing size).
	f := newTestFile(t, 4096)
	_, err := f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(100))
	size, err := f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 5, size)
}

func TestByteLockPageBackfill(t *testing.T) {
	const B = 4096
	store := NewMemStore()
	f := newFile(store, "test-bucket", "a-test/cool.db", B, false)

	lockBlock := int64(byteLockPage / B)

	// Leave a short stand-in for the block immediately below the lock
	// block, as if that were the last block SQLite had written so far
	// (its own sequential appends never touch the lock block itself).
	_, err := f.WriteAt(bytes.Repeat([]byte{9}, 10), (lockBlock-1)*B)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "test-bucket", blockKey(f.prefix, lockBlock))
	require.True(t, IsNotFound(err), "precondition: lock block doesn't exist yet")

	// The first write past the byte-lock page.
	pageSize := int64(B)
	off := byteLockPage + pageSize
	_, err = f.WriteAt(bytes.Repeat([]byte{5}, int(pageSize)), off)
	require.NoError(t, err)

	lockBlockBytes, err := store.Get(context.Background(), "test-bucket", blockKey(f.prefix, lockBlock))
	require.NoError(t, err)
	require.Len(t, lockBlockBytes, B, "the block containing the byte-lock page must be backfilled to full size")

	size, err := f.Size()
	require.NoError(t, err)
	// block (lockBlock-1): 10 bytes; lockBlock: B bytes (backfilled);
	// lockBlock+1: B bytes (the write itself).
	require.EqualValues(t, 10+2*B, size)
}

func TestReadAtNegativeOffsetRejected(t *testing.T) {
	f := newTestFile(t, 4096)
	_, err := f.ReadAt(make([]byte, 10), -1)
	require.Error(t, err)
}

func TestTruncateNegativeRejected(t *testing.T) {
	f := newTestFile(t, 4096)
	require.Error(t, f.Truncate(-1))
}

func TestLockStateTracksLastRequest(t *testing.T) {
	f := newTestFile(t, 4096)
	require.NoError(t, f.Lock(3))
	require.EqualValues(t, 3, f.LockState())
	ok, err := f.CheckReservedLock()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, f.Unlock(0))
	require.EqualValues(t, 0, f.LockState())
}
