package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned by Get when the key does not exist in the bucket.
var ErrNotFound = errors.New("object not found")

// publicRead is the canned ACL applied to every uploaded object.
const publicRead = "public-read"

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Object is a stored object opened for reading. Callers must close Body.
type Object struct {
	Body io.ReadCloser
	Info ObjectInfo
}

// Receipt confirms a completed upload.
type Receipt struct {
	Bucket    string
	Key       string
	ETag      string
	VersionID string
	Size      int64
}

// MinIOClient is an S3-compatible object store client backed by MinIO.
type MinIOClient struct {
	client *minio.Client
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string // e.g., "localhost:9000"
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Buckets are checked at startup and created when missing.
	Buckets []string

	// Transport overrides the HTTP transport, e.g. for a custom CA pool.
	Transport http.RoundTripper
}

// NewMinIOClient creates a new MinIO storage client.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	for _, bucket := range cfg.Buckets {
		if bucket == "" {
			continue
		}
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket %q existence: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", bucket, err)
		}
	}

	return &MinIOClient{client: client}, nil
}

// Put uploads the stream under key with public-read access. The size does not
// need to be known in advance.
func (m *MinIOClient) Put(ctx context.Context, bucket, key string, reader io.Reader) (Receipt, error) {
	info, err := m.client.PutObject(ctx, bucket, key, reader, -1, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"x-amz-acl": publicRead},
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}

	return Receipt{
		Bucket:    info.Bucket,
		Key:       info.Key,
		ETag:      info.ETag,
		VersionID: info.VersionID,
		Size:      info.Size,
	}, nil
}

// Get opens the object for streaming. A missing key yields ErrNotFound before
// any byte is read.
func (m *MinIOClient) Get(ctx context.Context, bucket, key string) (*Object, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(err, bucket, key)
	}

	// GetObject is lazy; Stat surfaces a missing key now.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, translateError(err, bucket, key)
	}

	return &Object{Body: obj, Info: toObjectInfo(stat)}, nil
}

// List returns every object whose key starts with prefix, in the order the
// store returns them.
func (m *MinIOClient) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s/%s*: %w", bucket, prefix, obj.Err)
		}
		objects = append(objects, toObjectInfo(obj))
	}
	return objects, nil
}

func toObjectInfo(obj minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          obj.Key,
		Size:         obj.Size,
		LastModified: obj.LastModified,
		ContentType:  obj.ContentType,
		ETag:         obj.ETag,
	}
}

func translateError(err error, bucket, key string) error {
	if isNotFound(err) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s/%s: %w", bucket, key, err)
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
