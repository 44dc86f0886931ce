// Package s3vfs implements the "s3vfs" SQLite VFS.
//
// A logical database file is not stored as one object in the target S3
// bucket. Instead it is sharded into fixed-size blocks, each block living
// under its own key, all sharing a common key prefix (the logical
// filename). Reads and writes issued by SQLite through
// [github.com/ncruces/go-sqlite3] are translated into block-granular
// GetObject/PutObject calls against that prefix.
//
// Importing package s3vfs does not register anything by itself; call
// [New] with a [Config] and [Register] the result, or use [Open] to do
// both in one step.
package s3vfs
