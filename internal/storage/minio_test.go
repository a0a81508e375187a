package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
)

func TestNewMinIOClient_InvalidEndpoint(t *testing.T) {
	cfg := MinIOConfig{
		Endpoint:  "invalid-endpoint:port:scheme",
		AccessKey: "minio",
		SecretKey: "minio123",
		Buckets:   []string{"test-bucket"},
	}

	_, err := NewMinIOClient(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error with invalid endpoint, got nil")
	}
}

func TestNewMinIOClient_ConnectionRefused(t *testing.T) {
	cfg := MinIOConfig{
		Endpoint:  "localhost:12345",
		AccessKey: "minio",
		SecretKey: "minio123",
		Buckets:   []string{"test-bucket"},
	}

	// minio.New() doesn't connect, BucketExists does.
	_, err := NewMinIOClient(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error connecting to non-existent minio, got nil")
	}
}

func TestNewMinIOClient_NoBucketsSkipsNetwork(t *testing.T) {
	cfg := MinIOConfig{
		Endpoint:  "localhost:12345",
		AccessKey: "minio",
		SecretKey: "minio123",
	}

	if _, err := NewMinIOClient(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error without buckets to check: %v", err)
	}
}

func TestTranslateError(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404, Message: "The specified key does not exist."}
	err := translateError(notFound, "cache", "d1-x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	err = translateError(denied, "cache", "d1-x")
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("AccessDenied must not be reported as not found: %v", err)
	}
	if !strings.Contains(err.Error(), "cache/d1-x") {
		t.Fatalf("expected bucket/key in error, got %v", err)
	}
}

func loadMinIOConfigFromEnv(t *testing.T) MinIOConfig {
	t.Helper()
	godotenv.Load("../../.env.test")

	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	if endpoint == "" || accessKey == "" || secretKey == "" {
		t.Skip("MINIO_ENDPOINT, MINIO_ACCESS_KEY, and MINIO_SECRET_KEY must be set for integration tests")
	}

	return MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    useSSL,
	}
}

func TestMinIOClient_PutGetList_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := loadMinIOConfigFromEnv(t)
	bucket := "test-bucket-" + time.Now().Format("20060102-150405")
	cfg.Buckets = []string{bucket}

	ctx := context.Background()
	client, err := NewMinIOClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to initialize minio client: %v", err)
	}

	for i, suffix := range []string{"1", "3", "2"} {
		key := BagPrefix("d1") + suffix
		content := fmt.Sprintf("bag %d", i)
		receipt, err := client.Put(ctx, bucket, key, strings.NewReader(content))
		if err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
		if receipt.Key != key {
			t.Fatalf("receipt key = %s, want %s", receipt.Key, key)
		}
	}
	if _, err := client.Put(ctx, bucket, "d2.bag.1", strings.NewReader("other")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	objects, err := client.List(ctx, bucket, BagPrefix("d1"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	slices.Sort(keys)
	if want := []string{"d1.bag.1", "d1.bag.2", "d1.bag.3"}; !slices.Equal(keys, want) {
		t.Fatalf("List() keys = %v, want %v", keys, want)
	}

	obj, err := client.Get(ctx, bucket, "d2.bag.1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if string(data) != "other" {
		t.Fatalf("unexpected content: got %q, want %q", string(data), "other")
	}
	if obj.Info.Size != int64(len("other")) {
		t.Fatalf("unexpected size: got %d", obj.Info.Size)
	}

	if _, err := client.Get(ctx, bucket, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}
}
