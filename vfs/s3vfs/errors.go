package s3vfs

import "fmt"

// NotFoundError is returned by an [ObjectStore] when a block object does
// not exist. The file handle and the serializer treat it as an empty
// block rather than surfacing it: a missing block reads back as B zero
// bytes, and enumeration-driven code skips it.
type NotFoundError struct {
	Bucket string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("s3vfs: no such object: %s/%s", e.Bucket, e.Key)
}

// TransportError wraps any object store failure other than a missing
// key: network errors, permission errors, throttling, and so on. It is
// surfaced to the caller of the VFS operation that triggered it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("s3vfs: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ContractViolationError indicates the object store holds data that
// could not have been written by a correctly configured instance of this
// VFS: a block payload longer than the configured block size, most
// likely because another writer used a different block size against the
// same prefix. [New] also returns it when Config.Client is nil.
type ContractViolationError struct {
	Reason string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("s3vfs: contract violation: %s", e.Reason)
}

// RangeError is returned by [New] for an out-of-domain configuration
// value: an empty bucket name or a negative block size. File methods
// report a negative read or write offset, or a negative truncate size,
// to SQLite as sqlite3.RANGE.
type RangeError struct {
	Op    string
	Value int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("s3vfs: %s: invalid range argument %d", e.Op, e.Value)
}
