package s3vfs

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/vfs"
)

// byteLockPage is the byte offset SQLite reserves for the "PENDING
// byte" lock page; SQLite never writes this page, even once the
// database has grown past it. See the write-path comment below for why
// an object store needs special handling here that a POSIX file does
// not.
const byteLockPage = 1073741824 // 0x40000000, 1GiB

var (
	_ vfs.File          = (*File)(nil)
	_ vfs.FileLockState = (*File)(nil)
)

// File is the per-open-file VFS contract: read, write, truncate, size,
// sync, lock, close. It caches nothing; every call consults the object
// store. A File is created by [VFS.Open].
type File struct {
	store     ObjectStore
	bucket    string
	prefix    string
	blockSize int64
	readOnly  bool
	lock      vfs.LockLevel
	locks     *lockState
}

func newFile(store ObjectStore, bucket, prefix string, blockSize int64, readOnly bool) *File {
	return &File{
		store:     store,
		bucket:    bucket,
		prefix:    prefix,
		blockSize: blockSize,
		readOnly:  readOnly,
		locks:     acquireLockState(bucket, prefix),
	}
}

// lockState is the SHARED/RESERVED/PENDING/EXCLUSIVE coordination a
// SQLite connection expects from any VFS, adapted from the upstream
// in-process memory VFS's lock bookkeeping. Cross-process coordination
// is out of scope (§1 Non-goals: an object store has no locking
// primitive of its own), but within a single process, multiple File
// handles opened against the same bucket+prefix -- e.g. two
// connections sharing one *sql.DB -- must still observe SQLite's
// locking protocol, or a writer and a reader in the same process can
// interleave torn reads.
type lockState struct {
	refs int32 // +checklocks:lockRegistryMu

	mu       sync.Mutex
	shared   int32
	pending  bool
	reserved bool
}

var (
	lockRegistryMu sync.Mutex
	lockRegistry   = map[string]*lockState{}
)

func lockKey(bucket, prefix string) string { return bucket + "/" + prefix }

func acquireLockState(bucket, prefix string) *lockState {
	key := lockKey(bucket, prefix)
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()
	ls := lockRegistry[key]
	if ls == nil {
		ls = &lockState{}
		lockRegistry[key] = ls
	}
	ls.refs++
	return ls
}

func releaseLockState(bucket, prefix string, ls *lockState) {
	key := lockKey(bucket, prefix)
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()
	if ls.refs--; ls.refs == 0 && lockRegistry[key] == ls {
		delete(lockRegistry, key)
	}
}

const lockSpinWait = 25 * time.Microsecond

// fetchBlock returns the stored payload for the given block, or nil if
// the block does not exist (treated as B zero bytes by every caller
// that needs full-block semantics).
func (f *File) fetchBlock(ctx context.Context, block int64) ([]byte, error) {
	b, err := f.store.Get(ctx, f.bucket, blockKey(f.prefix, block))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, &TransportError{Op: "Get", Err: err}
	}
	if int64(len(b)) > f.blockSize {
		return nil, &ContractViolationError{Reason: "block payload longer than configured block size"}
	}
	return b, nil
}

// ioErrCode maps an error from fetchBlock or store.Put to the sqlite3
// extended result code a caller should return: a *ContractViolationError
// means the store holds data this VFS could not have produced itself
// (§7), which SQLite should see as CORRUPT -- a fail-fast signal --
// rather than a retryable I/O error. Everything else maps to fallback.
func ioErrCode(err error, fallback error) error {
	var cv *ContractViolationError
	if errors.As(err, &cv) {
		return sqlite3.CORRUPT
	}
	return fallback
}

// zeroPadded returns block bytes right-padded with zeros to length B,
// used wherever a full-size block is required (everywhere except the
// final block of the file).
func zeroPadded(b []byte, size int64) []byte {
	if int64(len(b)) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

// ReadAt implements the Read(amount, offset) operation from §4.3: each
// triple from the block walk is fetched and sliced; a short or missing
// block contributes zero bytes for its remainder. The caller always
// gets back exactly len(p) bytes.
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, sqlite3.RANGE
	}
	ctx := context.Background()

	run := newBlockRun(off, int64(len(p)), f.blockSize)
	for {
		block, start, length, ok := run.next()
		if !ok {
			break
		}
		raw, ferr := f.fetchBlock(ctx, block)
		if ferr != nil {
			return n, ioErrCode(ferr, sqlite3.IOERR_READ)
		}
		dst := p[n : n+int(length)]
		if int64(len(raw)) <= start {
			clear(dst)
		} else {
			avail := int64(len(raw)) - start
			if avail > length {
				avail = length
			}
			copy(dst, raw[start:start+avail])
			if avail < length {
				clear(dst[avail:])
			}
		}
		n += int(length)
	}
	return n, nil
}

// WriteAt implements the Write(data, offset) operation from §4.3,
// including the full-block-replacement fast path and the byte-lock-page
// backfill.
func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, sqlite3.RANGE
	}
	ctx := context.Background()

	if err := f.backfillByteLockGap(ctx, off, int64(len(p))); err != nil {
		return 0, ioErrCode(err, sqlite3.IOERR_WRITE)
	}

	run := newBlockRun(off, int64(len(p)), f.blockSize)
	for {
		block, start, length, ok := run.next()
		if !ok {
			break
		}
		src := p[n : n+int(length)]

		var newBlock []byte
		if start == 0 && length == f.blockSize {
			newBlock = src
		} else {
			raw, ferr := f.fetchBlock(ctx, block)
			if ferr != nil {
				return n, ioErrCode(ferr, sqlite3.IOERR_WRITE)
			}
			if int64(len(raw)) < start {
				raw = zeroPadded(raw, start)
			}
			newBlock = make([]byte, 0, f.blockSize)
			newBlock = append(newBlock, raw[:start]...)
			newBlock = append(newBlock, src...)
			if tailStart := start + length; int64(len(raw)) > tailStart {
				newBlock = append(newBlock, raw[tailStart:]...)
			}
		}

		if err := f.store.Put(ctx, f.bucket, blockKey(f.prefix, block), newBlock); err != nil {
			return n, ioErrCode(err, sqlite3.IOERR_WRITE)
		}
		n += int(length)
	}
	return n, nil
}

// backfillByteLockGap implements the byte-lock-page special case from
// §4.3. SQLite never writes the byte-lock page itself, so the very
// first write past it (offset == byteLockPage + pageSize, which in
// practice is the first write whose offset equals the byte immediately
// following that page) leaves a hole in the block sequence: on a real
// filesystem a sparse file reads that hole back as zeros for free, but
// an object store has no representation for "the object that would
// live here doesn't exist, and that's fine" beyond literally treating a
// missing key as zero -- which this VFS already does on read, EXCEPT
// that a missing intermediate block also makes enumeration (Size,
// serialize_iter) skip straight past it, under-counting the file's
// length relative to a reference single-file database. So before the
// first write past the byte-lock page, walk backwards from the block
// below it and backfill every short block up to (and including) the
// one containing byteLockPage, stopping as soon as a full-size block is
// found (anything below it must already be full).
func (f *File) backfillByteLockGap(ctx context.Context, off, amount int64) error {
	if amount <= 0 || off <= byteLockPage {
		return nil
	}
	// Only the write that starts exactly one page past the lock byte
	// triggers the backfill; amount is the size of that write (the
	// page size), so off-amount is where the byte-lock page itself
	// starts.
	if off-amount != byteLockPage {
		return nil
	}

	lockBlock := byteLockPage / f.blockSize
	firstBlock := off / f.blockSize

	for block := firstBlock - 1; block >= lockBlock; block-- {
		raw, err := f.fetchBlock(ctx, block)
		if err != nil {
			return err
		}
		if int64(len(raw)) == f.blockSize {
			break
		}
		if err := f.store.Put(ctx, f.bucket, blockKey(f.prefix, block), zeroPadded(raw, f.blockSize)); err != nil {
			return err
		}
	}
	return nil
}

// Truncate implements §4.3's running-total trim algorithm: walk blocks
// in ascending order, and once the cumulative payload total would
// exceed newSize, trim or delete blocks accordingly.
func (f *File) Truncate(newSize int64) error {
	if newSize < 0 {
		return sqlite3.RANGE
	}
	ctx := context.Background()

	it, err := f.store.List(ctx, f.bucket, f.prefix+"/")
	if err != nil {
		return sqlite3.IOERR_TRUNCATE
	}

	var total int64
	for {
		entry, ok := it.Next(ctx)
		if !ok {
			break
		}
		s := entry.Size
		total += s
		keep := total - newSize
		if keep < 0 {
			keep = 0
		} else if keep > s {
			keep = s
		}
		// keep is how many trailing bytes of this block to discard;
		// the amount to retain is s - keep.
		retain := s - keep
		switch {
		case retain == 0:
			if derr := f.store.Delete(ctx, f.bucket, entry.Key); derr != nil {
				return sqlite3.IOERR_TRUNCATE
			}
		case retain < s:
			raw, ferr := f.store.Get(ctx, f.bucket, entry.Key)
			if ferr != nil && !IsNotFound(ferr) {
				return sqlite3.IOERR_TRUNCATE
			}
			if int64(len(raw)) > retain {
				raw = raw[:retain]
			}
			if perr := f.store.Put(ctx, f.bucket, entry.Key, raw); perr != nil {
				return sqlite3.IOERR_TRUNCATE
			}
		}
	}
	if err := it.Err(); err != nil {
		return sqlite3.IOERR_TRUNCATE
	}
	return nil
}

// Size implements §4.3: the logical file size is the sum of the payload
// sizes of all blocks under the prefix.
func (f *File) Size() (int64, error) {
	ctx := context.Background()
	it, err := f.store.List(ctx, f.bucket, f.prefix+"/")
	if err != nil {
		return 0, sqlite3.IOERR_FSTAT
	}
	var total int64
	for {
		entry, ok := it.Next(ctx)
		if !ok {
			break
		}
		total += entry.Size
	}
	if err := it.Err(); err != nil {
		return 0, sqlite3.IOERR_FSTAT
	}
	return total, nil
}

// Sync is a no-op: every Put is itself the commit boundary, there is no
// separate durability signal to give the object store.
func (f *File) Sync(flags vfs.SyncFlag) error { return nil }

// Lock implements the SHARED/RESERVED/PENDING/EXCLUSIVE escalation
// SQLite's locking protocol expects, coordinating with every other
// File in this process open against the same bucket+prefix via
// f.locks. True multi-writer safety across processes is explicitly out
// of scope (§1 Non-goals): an object store has no locking primitive to
// enforce this against another process, so this only prevents
// same-process connections from interleaving torn reads and writes.
func (f *File) Lock(lock vfs.LockLevel) error {
	if f.lock >= lock {
		return nil
	}
	if f.readOnly && lock >= vfs.LOCK_RESERVED {
		return sqlite3.IOERR_LOCK
	}

	ls := f.locks
	ls.mu.Lock()
	defer ls.mu.Unlock()

	switch lock {
	case vfs.LOCK_SHARED:
		if ls.pending {
			return sqlite3.BUSY
		}
		ls.shared++

	case vfs.LOCK_RESERVED:
		if ls.reserved {
			return sqlite3.BUSY
		}
		ls.reserved = true

	case vfs.LOCK_EXCLUSIVE:
		if f.lock < vfs.LOCK_PENDING {
			ls.pending = true
		}
		for before := time.Now(); ls.shared > 1; {
			if time.Since(before) > lockSpinWait*10 {
				return sqlite3.BUSY_RECOVERY
			}
			ls.mu.Unlock()
			runtime.Gosched()
			ls.mu.Lock()
		}
	}

	f.lock = lock
	return nil
}

// Unlock releases f's hold on whatever shared lock-level bookkeeping
// it contributed to at acquisition time, mirroring Lock's escalation
// in reverse.
func (f *File) Unlock(lock vfs.LockLevel) error {
	if f.lock <= lock {
		return nil
	}

	ls := f.locks
	ls.mu.Lock()
	defer ls.mu.Unlock()

	old := f.lock
	if old >= vfs.LOCK_PENDING && lock < vfs.LOCK_PENDING {
		ls.pending = false
	}
	if old >= vfs.LOCK_RESERVED && lock < vfs.LOCK_RESERVED {
		ls.reserved = false
	}
	if old >= vfs.LOCK_SHARED && lock < vfs.LOCK_SHARED {
		if ls.shared > 0 {
			ls.shared--
		}
	}

	f.lock = lock
	return nil
}

// CheckReservedLock reports whether any File sharing f.locks holds a
// RESERVED lock or higher.
func (f *File) CheckReservedLock() (bool, error) {
	ls := f.locks
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.reserved || f.lock >= vfs.LOCK_EXCLUSIVE, nil
}

// LockState implements vfs.FileLockState.
func (f *File) LockState() vfs.LockLevel { return f.lock }

// Close releases f's reference to its shared lock-state entry and
// drops any lock f still holds. It does not touch the object store:
// the handle holds no local resources beyond the lock bookkeeping.
// This VFS does not implement the optional vfs.FileControl interface:
// SQLite falls back to declining every file control when a File
// doesn't implement it, which is exactly the behavior §4.3 specifies.
func (f *File) Close() error {
	err := f.Unlock(vfs.LOCK_NONE)
	releaseLockState(f.bucket, f.prefix, f.locks)
	return err
}
