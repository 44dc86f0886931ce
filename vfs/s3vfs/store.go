package s3vfs

import (
	"context"
	"errors"
	"io"
)

// ObjectStore is the narrow interface the file handle, the VFS registry,
// and the serializer consume from an S3-compatible object store. The
// real implementation ([S3Store]) wraps aws-sdk-go-v2; tests and the
// in-process examples run against [NewMemStore] instead.
type ObjectStore interface {
	// Get fetches the full payload of bucket/key. It returns a
	// *NotFoundError (use errors.As) if the object does not exist.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// GetChunks fetches bucket/key as a stream of non-empty chunks,
	// for callers (the serializer) that want to avoid holding a whole
	// block in memory at once. Same NotFoundError contract as Get.
	GetChunks(ctx context.Context, bucket, key string) (*ChunkReader, error)

	// Put overwrites (or creates) bucket/key with body.
	Put(ctx context.Context, bucket, key string, body []byte) error

	// Delete removes bucket/key. Deleting an absent key is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, bucket, prefix string) error

	// List enumerates objects under prefix in ascending key order.
	List(ctx context.Context, bucket, prefix string) (*ObjectIter, error)
}

// ObjectEntry is one entry returned while enumerating a prefix.
type ObjectEntry struct {
	Key  string
	Size int64
}

// objectPage is satisfied by whatever paginator backs an ObjectIter:
// the real S3 paginator, or the in-memory store's slice-backed one.
type objectPage interface {
	hasNext() bool
	next(ctx context.Context) ([]ObjectEntry, error)
}

// ObjectIter is an explicit, field-based enumerator over the objects
// under a prefix, replacing the generator-style iterator the source
// library uses with one that has no hidden coroutine state: all state
// lives in the struct, and Next is called until it reports ok == false.
type ObjectIter struct {
	page    objectPage
	pending []ObjectEntry
	err     error
}

func newObjectIter(page objectPage) *ObjectIter {
	return &ObjectIter{page: page}
}

// Next returns the next entry in ascending key order. ok is false once
// the enumeration is exhausted or an error occurred (check Err).
func (it *ObjectIter) Next(ctx context.Context) (entry ObjectEntry, ok bool) {
	for len(it.pending) == 0 {
		if it.err != nil || !it.page.hasNext() {
			return ObjectEntry{}, false
		}
		it.pending, it.err = it.page.next(ctx)
		if it.err != nil {
			return ObjectEntry{}, false
		}
	}
	entry, it.pending = it.pending[0], it.pending[1:]
	return entry, true
}

// Err returns the first error encountered during enumeration, if any.
func (it *ObjectIter) Err() error { return it.err }

// ChunkReader streams an object's payload as non-empty chunks. It
// satisfies io.Reader too, so it can be handed directly to code that
// wants a plain byte stream.
type ChunkReader struct {
	upstream io.ReadCloser
	buf      []byte
	eof      bool
}

func newChunkReader(upstream io.ReadCloser) *ChunkReader {
	return &ChunkReader{upstream: upstream, buf: make([]byte, 32*1024)}
}

// Next returns the next non-empty chunk, or io.EOF once the stream is
// exhausted. The returned slice is only valid until the next call.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.eof {
		return nil, io.EOF
	}
	for {
		n, err := c.upstream.Read(c.buf)
		if n > 0 {
			if err == io.EOF {
				c.eof = true
			} else if err != nil {
				return nil, err
			}
			return c.buf[:n], nil
		}
		if err != nil {
			c.eof = true
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// Read implements io.Reader over the chunk stream.
func (c *ChunkReader) Read(p []byte) (int, error) {
	return c.upstream.Read(p)
}

// Close releases the underlying stream.
func (c *ChunkReader) Close() error {
	return c.upstream.Close()
}

// IsNotFound reports whether err is (or wraps) a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
