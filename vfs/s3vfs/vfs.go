package s3vfs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/vfs"
)

// bgCtx is used by the vfs.VFS-level methods (Access, Delete), which,
// like vfs.File's methods, don't themselves carry a context: per §5,
// cancellation and timeout policy live entirely in the ObjectStore
// implementation and whatever HTTP client backs it.
func bgCtx() context.Context { return context.Background() }

const defaultBlockSize = 4096

// Config is the explicit configuration value this VFS is constructed
// from, replacing the keyword-argument construction of the reference
// implementation (§9 Design Note).
type Config struct {
	// Bucket is the target S3 bucket name. Required.
	Bucket string

	// Client is the block store adapter (§4.2). Use [NewS3Store] for
	// production use, or [NewMemStore] for tests and examples.
	// Required.
	Client ObjectStore

	// BlockSize is B, the fixed block size in bytes. Defaults to 4096.
	// Should be >= any intended SQLite page size for best
	// interoperability, but need not divide or be divided by it.
	BlockSize int64

	// Name is the name this VFS registers under. If empty, a
	// process-unique name is generated.
	Name string
}

// VFS implements the vfs.VFS contract (§4.4): it opens, deletes, and
// checks the existence of logical files, producing [File] handles for
// open logical files.
type VFS struct {
	name      string
	bucket    string
	client    ObjectStore
	blockSize int64
}

var (
	_ vfs.VFS = VFS{}

	registryMu sync.Mutex
	// registry tracks every VFS instance this process has registered,
	// by name, per the "process-wide VFS registry" Design Note: a VFS
	// must remain reachable for as long as any connection referencing
	// it by name stays open, so instances are never garbage collected
	// out from under a live connection merely because the Go value
	// that created them went out of scope.
	registry = map[string]*VFS{}
)

// New builds a VFS from cfg without registering it. Most callers want
// [Open] or [Register] instead.
func New(cfg Config) (*VFS, error) {
	if cfg.Bucket == "" {
		return nil, &RangeError{Op: "New", Value: 0}
	}
	if cfg.Client == nil {
		return nil, &ContractViolationError{Reason: "Config.Client is required"}
	}
	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = defaultBlockSize
	}
	if blockSize < 0 {
		return nil, &RangeError{Op: "New", Value: blockSize}
	}

	name := cfg.Name
	if name == "" {
		name = "s3vfs-" + uuid.NewString()
	}

	v := &VFS{
		name:      name,
		bucket:    cfg.Bucket,
		client:    cfg.Client,
		blockSize: blockSize,
	}
	return v, nil
}

// Register registers v under its Name with the go-sqlite3 vfs package,
// so database/sql connections can select it with "file:...?vfs=<name>".
func Register(v *VFS) {
	registryMu.Lock()
	registry[v.name] = v
	registryMu.Unlock()
	vfs.Register(v.name, *v)
}

// Deregister removes v from both this package's registry and
// go-sqlite3's. It is the caller's responsibility to ensure no
// connection still references v by name.
func Deregister(v *VFS) {
	registryMu.Lock()
	delete(registry, v.name)
	registryMu.Unlock()
	vfs.Unregister(v.name)
}

// Open builds a VFS from cfg, registers it, and returns it in one step
// -- the common case for a process that only ever talks to one bucket.
func Open(cfg Config) (*VFS, error) {
	v, err := New(cfg)
	if err != nil {
		return nil, err
	}
	Register(v)
	return v, nil
}

// Name returns the name v is (or will be) registered under.
func (v VFS) Name() string { return v.name }

// Open implements vfs.VFS. By the time go-sqlite3 calls Open, any
// "file:" URI scheme and query parameters have already been parsed out
// by the driver layer; name is the bare filename, which this VFS uses
// directly as the key prefix (§4.4).
func (v VFS) Open(name string, flags vfs.OpenFlag) (vfs.File, vfs.OpenFlag, error) {
	if name == "" && flags&vfs.OPEN_CREATE == 0 {
		return nil, flags, sqlite3.CANTOPEN
	}

	readOnly := flags&vfs.OPEN_READONLY != 0
	f := newFile(v.client, v.bucket, name, v.blockSize, readOnly)
	return f, flags, nil
}

// Delete implements vfs.VFS: every object under prefix+"/" is removed.
func (v VFS) Delete(name string, syncDir bool) error {
	if err := v.client.DeletePrefix(bgCtx(), v.bucket, name+"/"); err != nil {
		return sqlite3.IOERR_DELETE
	}
	return nil
}

// Access implements vfs.VFS (§4.4): existence checks actually probe the
// store; read/read-write checks are permissive, since ACL enforcement
// is delegated to the store and the host engine treats these as hints.
func (v VFS) Access(name string, flag vfs.AccessFlag) (bool, error) {
	switch flag {
	case vfs.ACCESS_EXISTS:
		it, err := v.client.List(bgCtx(), v.bucket, name+"/")
		if err != nil {
			return false, sqlite3.IOERR_ACCESS
		}
		_, ok := it.Next(bgCtx())
		if err := it.Err(); err != nil {
			return false, sqlite3.IOERR_ACCESS
		}
		return ok, nil
	case vfs.ACCESS_READ, vfs.ACCESS_READWRITE:
		return true, nil
	default:
		return false, nil
	}
}

// FullPathname implements vfs.VFS: there is no local path resolution,
// the logical name is the key prefix, verbatim.
func (v VFS) FullPathname(name string) (string, error) {
	return name, nil
}
