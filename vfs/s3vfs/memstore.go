package s3vfs

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/edofic/go-ordmap/v2"
)

// MemStore is an in-memory [ObjectStore], used by this package's own
// tests and usable by callers that want to exercise the VFS without a
// live S3 endpoint. Objects are kept in an ordered map keyed by the full
// "bucket/key" string, the same approach
// github.com/ncruces/go-sqlite3/vfs/ordmap-mvcc takes for its in-memory
// database backing (there keyed by sector index; here keyed by object
// key, since a single MemStore can back several buckets and prefixes at
// once).
type MemStore struct {
	mu   sync.RWMutex
	data ordmap.NodeBuiltin[string, []byte]
}

// NewMemStore creates an empty in-memory object store.
func NewMemStore() *MemStore {
	return &MemStore{data: ordmap.NewBuiltin[string, []byte]()}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

func (m *MemStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	body, ok := m.data.Get(memKey(bucket, key))
	if !ok {
		return nil, &NotFoundError{Bucket: bucket, Key: key}
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

func (m *MemStore) GetChunks(ctx context.Context, bucket, key string) (*ChunkReader, error) {
	body, err := m.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return newChunkReader(io.NopCloser(strings.NewReader(string(body)))), nil
}

func (m *MemStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(body))
	copy(cp, body)
	m.data = m.data.Insert(memKey(bucket, key), cp)
	return nil
}

func (m *MemStore) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = m.data.Remove(memKey(bucket, key))
	return nil
}

func (m *MemStore) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	full := memKey(bucket, prefix)
	var toRemove []string
	for iter := m.data.Iterate(); !iter.Done(); iter.Next() {
		k := iter.GetKey()
		if strings.HasPrefix(k, full) {
			toRemove = append(toRemove, k)
		}
	}
	for _, k := range toRemove {
		m.data = m.data.Remove(k)
	}
	return nil
}

func (m *MemStore) List(ctx context.Context, bucket, prefix string) (*ObjectIter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	full := memKey(bucket, prefix)
	var entries []ObjectEntry
	for iter := m.data.Iterate(); !iter.Done(); iter.Next() {
		k := iter.GetKey()
		if !strings.HasPrefix(k, full) {
			continue
		}
		entries = append(entries, ObjectEntry{
			Key:  strings.TrimPrefix(k, bucket+"/"),
			Size: int64(len(iter.GetValue())),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return newObjectIter(&memPage{entries: entries}), nil
}

// memPage hands back its whole (already-sorted) slice in a single page;
// MemStore is a test double, not something meant to handle result sets
// large enough to need real pagination.
type memPage struct {
	entries []ObjectEntry
	done    bool
}

func (p *memPage) hasNext() bool { return !p.done }

func (p *memPage) next(ctx context.Context) ([]ObjectEntry, error) {
	p.done = true
	return p.entries, nil
}
