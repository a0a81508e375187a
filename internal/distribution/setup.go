package distribution

import (
	"context"
	"fmt"
	"time"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/adapters/rmm"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/archive"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/bags"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/config"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/storage"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/transport"
)

// Setup builds a Service and its clients from configuration. It contacts the
// object store to make sure the configured buckets exist.
func Setup(ctx context.Context, cfg *config.Config) (*Service, error) {
	tlsCfg := transport.TLSConfig{CAFile: cfg.TLSCAFile, InsecureSkipVerify: cfg.TLSInsecureSkipVerify}

	metadataHTTP, err := transport.NewClient(transport.Config{TLS: tlsCfg, ResponseHeaderTimeout: cfg.MetadataTimeout})
	if err != nil {
		return nil, fmt.Errorf("metadata client: %w", err)
	}
	resolver := rmm.NewClient(rmm.Config{
		BaseURL:    cfg.RMMBaseURL,
		HTTPClient: metadataHTTP,
		Timeout:    cfg.MetadataTimeout,
		Retries:    cfg.MetadataRetries,
	})

	downloadHTTP, err := transport.NewClient(transport.Config{
		TLS:                   tlsCfg,
		ResponseHeaderTimeout: time.Minute,
		MaxIdleConnsPerHost:   cfg.FetchConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("download client: %w", err)
	}
	assembler, err := archive.NewAssembler(archive.NewHTTPFetcher(downloadHTTP), archive.Config{
		Concurrency:      cfg.FetchConcurrency,
		FetchTimeout:     cfg.FetchTimeout,
		CompressionLevel: cfg.CompressionLevel,
		Policy:           cfg.ArchivePolicy,
	})
	if err != nil {
		return nil, err
	}

	storeTransport, err := transport.NewTransport(transport.Config{TLS: tlsCfg})
	if err != nil {
		return nil, fmt.Errorf("object store transport: %w", err)
	}
	store, err := storage.NewMinIOClient(ctx, storage.MinIOConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
		Buckets:   []string{cfg.CacheBucket},
		Transport: storeTransport,
	})
	if err != nil {
		return nil, err
	}

	return NewService(resolver, assembler, bags.NewResolver(store, cfg.CacheBucket), store, cfg.CacheBucket), nil
}
