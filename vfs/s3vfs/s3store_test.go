package s3vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialS3StaticCredentials(t *testing.T) {
	// With an explicit region and static credentials, LoadDefaultConfig
	// resolves entirely from opts and never reaches out over the
	// network (no IMDS/SSO lookups), so this is safe to
	// run without a live endpoint.
	client, err := DialS3(context.Background(), ClientOptions{
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NotNil(t, client)

	store := NewS3Store(client)
	require.NotNil(t, store)
}

func TestIsNoSuchKey(t *testing.T) {
	require.False(t, isNoSuchKey(nil))
	require.False(t, isNoSuchKey(&NotFoundError{Bucket: "b", Key: "k"}))
}
