package s3vfs

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// ClientOptions configures [DialS3]'s construction of an *s3.Client. All
// fields are optional; the zero value yields the SDK's ordinary default
// credential and region resolution chain, suitable for a real AWS
// bucket.
type ClientOptions struct {
	// Endpoint overrides the service endpoint, for S3-compatible but
	// non-AWS targets such as MinIO or a local test double.
	Endpoint string

	// Region is passed to the default config loader. Required by most
	// S3-compatible endpoints even when Endpoint is set.
	Region string

	// AccessKeyID, SecretAccessKey, and SessionToken, if AccessKeyID is
	// non-empty, are used to build a static credentials provider instead
	// of the SDK's default chain (environment, shared config, EC2/ECS
	// metadata).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style bucket addressing
	// (https://host/bucket/key instead of https://bucket.host/key), which
	// most non-AWS S3-compatible servers require.
	UsePathStyle bool
}

// DialS3 builds an *s3.Client from opts, using
// github.com/aws/aws-sdk-go-v2/config's default resolution chain plus
// github.com/aws/aws-sdk-go-v2/credentials for the static-credentials
// override. The result can be passed directly to [NewS3Store].
func DialS3(ctx context.Context, opts ClientOptions) (*s3.Client, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, &TransportError{Op: "LoadDefaultConfig", Err: err}
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// maxDeleteBatch is the maximum number of keys the S3 DeleteObjects API
// accepts in a single request, mirroring
// perkeep.org/pkg/blobserver/s3's use of the same limit.
const maxDeleteBatch = 1000

// S3Store is the production [ObjectStore], backed by an
// github.com/aws/aws-sdk-go-v2/service/s3 client.
type S3Store struct {
	client *s3.Client
}

// NewS3Store wraps an already-configured S3 client (constructed with
// s3.NewFromConfig, optionally with a custom BaseEndpoint for
// S3-compatible-but-not-AWS targets such as MinIO).
func NewS3Store(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, &NotFoundError{Bucket: bucket, Key: key}
		}
		return nil, &TransportError{Op: "GetObject", Err: err}
	}
	defer out.Body.Close()

	buf, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &TransportError{Op: "GetObject", Err: err}
	}
	return buf, nil
}

func (s *S3Store) GetChunks(ctx context.Context, bucket, key string) (*ChunkReader, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, &NotFoundError{Bucket: bucket, Key: key}
		}
		return nil, &TransportError{Op: "GetObject", Err: err}
	}
	return newChunkReader(out.Body), nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return &TransportError{Op: "PutObject", Err: err}
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &TransportError{Op: "DeleteObject", Err: err}
	}
	return nil
}

// DeletePrefix lists then batch-deletes every object under prefix,
// maxDeleteBatch keys at a time.
func (s *S3Store) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	it, err := s.List(ctx, bucket, prefix)
	if err != nil {
		return err
	}

	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: batch},
		})
		batch = batch[:0]
		if err != nil {
			return &TransportError{Op: "DeleteObjects", Err: err}
		}
		return nil
	}

	for {
		entry, ok := it.Next(ctx)
		if !ok {
			break
		}
		batch = append(batch, types.ObjectIdentifier{Key: aws.String(entry.Key)})
		if len(batch) == maxDeleteBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := it.Err(); err != nil {
		return &TransportError{Op: "ListObjectsV2", Err: err}
	}
	return flush()
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) (*ObjectIter, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	return newObjectIter(&s3Page{paginator: paginator}), nil
}

type s3Page struct {
	paginator *s3.ListObjectsV2Paginator
}

func (p *s3Page) hasNext() bool { return p.paginator.HasMorePages() }

func (p *s3Page) next(ctx context.Context) ([]ObjectEntry, error) {
	out, err := p.paginator.NextPage(ctx)
	if err != nil {
		return nil, &TransportError{Op: "ListObjectsV2", Err: err}
	}
	entries := make([]ObjectEntry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		entries = append(entries, ObjectEntry{
			Key:  aws.ToString(obj.Key),
			Size: aws.ToInt64(obj.Size),
		})
	}
	return entries, nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var notFound *smithyhttp.ResponseError
	if errors.As(err, &notFound) && notFound.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
