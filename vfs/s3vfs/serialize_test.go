package s3vfs

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeIterMatchesSize(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	const bucket = "test-bucket"
	const B = 4096
	f := newFile(store, bucket, "p", B, false)

	data := bytes.Repeat([]byte{3}, 10000)
	_, err := f.WriteAt(data, 0)
	require.NoError(t, err)

	size, err := f.Size()
	require.NoError(t, err)

	s := NewSerializer(store, bucket)
	var out bytes.Buffer
	err = s.SerializeIter(ctx, "p", func(chunk []byte) error {
		require.NotEmpty(t, chunk, "empty chunks must never be emitted")
		_, err := out.Write(chunk)
		return err
	})
	require.NoError(t, err)
	require.EqualValues(t, size, out.Len())
	require.Equal(t, data, out.Bytes())
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	const bucket = "test-bucket"
	const B = 4096

	f1 := newFile(store, bucket, "p1", B, false)
	data := bytes.Repeat([]byte{1, 2, 3, 4}, 5000) // 20000 bytes
	_, err := f1.WriteAt(data, 0)
	require.NoError(t, err)

	s := NewSerializer(store, bucket)
	var exported bytes.Buffer
	require.NoError(t, s.SerializeIter(ctx, "p1", func(c []byte) error {
		_, err := exported.Write(c)
		return err
	}))

	require.NoError(t, s.DeserializeIter(ctx, "p2", B, bytes.NewReader(exported.Bytes())))

	f2 := newFile(store, bucket, "p2", B, false)
	size1, err := f1.Size()
	require.NoError(t, err)
	size2, err := f2.Size()
	require.NoError(t, err)
	require.Equal(t, size1, size2)

	got1 := make([]byte, size1)
	_, err = f1.ReadAt(got1, 0)
	require.NoError(t, err)
	got2 := make([]byte, size2)
	_, err = f2.ReadAt(got2, 0)
	require.NoError(t, err)
	require.Equal(t, got1, got2)
}

func TestSerializeFileObjReader(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	const bucket = "test-bucket"
	const B = 4096
	f := newFile(store, bucket, "p", B, false)

	data := bytes.Repeat([]byte{9}, 9500)
	_, err := f.WriteAt(data, 0)
	require.NoError(t, err)

	s := NewSerializer(store, bucket)
	r := s.SerializeFileObj("p")

	// Pull with an awkward buffer size that doesn't line up with
	// blocks or the internal chunk size, to exercise the re-chunking
	// state machine.
	var out bytes.Buffer
	buf := make([]byte, 777)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Equal(t, data, out.Bytes())
	_ = ctx
}

func TestPageSizeFromHeader(t *testing.T) {
	header := make([]byte, 100)
	header[16], header[17] = 0x10, 0x00 // 4096
	pageSize, ok := PageSizeFromHeader(header)
	require.True(t, ok)
	require.EqualValues(t, 4096, pageSize)

	header[16], header[17] = 0x00, 0x01 // special-cased 65536
	pageSize, ok = PageSizeFromHeader(header)
	require.True(t, ok)
	require.EqualValues(t, 65536, pageSize)

	_, ok = PageSizeFromHeader(header[:10])
	require.False(t, ok)
}
