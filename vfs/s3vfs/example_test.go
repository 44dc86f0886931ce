package s3vfs_test

import (
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"

	"github.com/uktrade/sqlite-s3vfs-go/vfs/s3vfs"
)

// TestExample demonstrates wiring this package into database/sql: a
// MemStore-backed VFS stands in for an S3 bucket, registered under a
// process-unique name, and addressed from a "file:" DSN exactly as any
// other go-sqlite3 VFS would be.
func TestExample(t *testing.T) {
	v, err := s3vfs.Open(s3vfs.Config{
		Bucket: "example-bucket",
		Client: s3vfs.NewMemStore(),
	})
	require.NoError(t, err)
	defer s3vfs.Deregister(v)

	dsn := "file:cool.db?vfs=" + v.Name()
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (id, name) VALUES (0, 'go'), (1, 'zig'), (2, 'whatever')`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (id, name) VALUES (3, 'rust')`)
	require.NoError(t, err)

	rows, err := db.Query(`SELECT id, name FROM users ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var actual [][]string
	for rows.Next() {
		var id, name string
		require.NoError(t, rows.Scan(&id, &name))
		actual = append(actual, []string{id, name})
	}
	require.NoError(t, rows.Err())

	expected := [][]string{
		{"0", "go"},
		{"1", "zig"},
		{"2", "whatever"},
		{"3", "rust"},
	}
	require.Equal(t, expected, actual)
}

// TestExampleReopen demonstrates that a database written by one VFS
// instance can be read back by a second one opened against the same
// bucket and client, the way a process restart would: nothing but the
// object store's contents carries state across the two.
func TestExampleReopen(t *testing.T) {
	store := s3vfs.NewMemStore()

	func() {
		v, err := s3vfs.Open(s3vfs.Config{Bucket: "b", Client: store, Name: "reopen-write"})
		require.NoError(t, err)
		defer s3vfs.Deregister(v)

		db, err := sql.Open("sqlite3", "file:shared.db?vfs="+v.Name())
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`CREATE TABLE t (v TEXT)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO t VALUES ('persisted')`)
		require.NoError(t, err)
	}()

	v, err := s3vfs.Open(s3vfs.Config{Bucket: "b", Client: store, Name: "reopen-read"})
	require.NoError(t, err)
	defer s3vfs.Deregister(v)

	db, err := sql.Open("sqlite3", "file:shared.db?vfs="+v.Name())
	require.NoError(t, err)
	defer db.Close()

	var got string
	require.NoError(t, db.QueryRow(`SELECT v FROM t`).Scan(&got))
	require.Equal(t, "persisted", got)
}
