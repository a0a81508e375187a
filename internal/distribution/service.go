// Package distribution serves dataset downloads: zip archives assembled on the
// fly from a dataset's metadata record, and precomputed bags and cached files
// from the cache bucket.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/archive"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/model"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/storage"
)

// ErrNotFound is returned when a bag or cached file does not exist.
var ErrNotFound = errors.New("not found")

// UploadError reports that an archive could not be stored.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload archive to %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// MetadataResolver resolves an identifier to its metadata record.
type MetadataResolver interface {
	Resolve(ctx context.Context, id model.Identifier) (model.Record, error)
}

// Assembler streams components into an archive.
type Assembler interface {
	Assemble(ctx context.Context, w io.Writer, root string, components iter.Seq[model.Component]) (archive.Manifest, error)
}

// BagFinder locates bags and cached files.
type BagFinder interface {
	FindBundles(ctx context.Context, datasetID string) ([]string, error)
	FindHeadBundle(ctx context.Context, datasetID string) (string, bool, error)
	FindCachedFile(ctx context.Context, datasetID, distributionID string) (string, bool, error)
}

// ObjectStorage reads and writes objects.
type ObjectStorage interface {
	Get(ctx context.Context, bucket, key string) (*storage.Object, error)
	Put(ctx context.Context, bucket, key string, data io.Reader) (storage.Receipt, error)
}

// Service wires the download pipeline together.
type Service struct {
	resolver    MetadataResolver
	assembler   Assembler
	bags        BagFinder
	store       ObjectStorage
	cacheBucket string
}

// NewService creates a new distribution service.
func NewService(resolver MetadataResolver, assembler Assembler, bags BagFinder, store ObjectStorage, cacheBucket string) *Service {
	return &Service{
		resolver:    resolver,
		assembler:   assembler,
		bags:        bags,
		store:       store,
		cacheBucket: cacheBucket,
	}
}

// Plan is a resolved archive request that has not been written yet.
type Plan struct {
	Identifier model.Identifier
	Root       string
	Record     model.Record

	assembler Assembler
}

// FileName is the download name of the archive.
func (p *Plan) FileName() string {
	return p.Root + ".zip"
}

// Files yields the components that will become archive entries.
func (p *Plan) Files() iter.Seq[model.Component] {
	return model.DataFiles(p.Record.Components)
}

// Write assembles the archive into w.
func (p *Plan) Write(ctx context.Context, w io.Writer) (archive.Manifest, error) {
	start := time.Now()
	manifest, err := p.assembler.Assemble(ctx, w, p.Root, p.Files())
	if err != nil {
		slog.ErrorContext(ctx, "archive failed", "identifier", p.Identifier, "entries_written", len(manifest.Entries), "error", err)
		return manifest, err
	}

	var total int64
	for _, e := range manifest.Entries {
		total += e.Bytes
	}
	slog.InfoContext(ctx, "archive complete",
		"identifier", p.Identifier,
		"file_name", p.FileName(),
		"entries", len(manifest.Entries),
		"skipped", len(manifest.Skipped),
		"bytes", total,
		"duration", time.Since(start),
	)
	return manifest, nil
}

// ArchiveResult describes a written archive.
type ArchiveResult struct {
	FileName string
	Manifest archive.Manifest
}

// Prepare validates the identifier and resolves its metadata record. No
// archive byte is produced.
func (s *Service) Prepare(ctx context.Context, id model.Identifier) (*Plan, error) {
	root, err := id.RootName()
	if err != nil {
		return nil, err
	}

	record, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Identifier: id, Root: root, Record: record, assembler: s.assembler}
	eligible := 0
	for range plan.Files() {
		eligible++
	}
	slog.InfoContext(ctx, "archive planned", "identifier", id, "root", root, "components", len(record.Components), "data_files", eligible)
	return plan, nil
}

// Archive resolves the identifier and writes its archive into w.
func (s *Service) Archive(ctx context.Context, id model.Identifier, w io.Writer) (ArchiveResult, error) {
	plan, err := s.Prepare(ctx, id)
	if err != nil {
		return ArchiveResult{}, err
	}
	manifest, err := plan.Write(ctx, w)
	return ArchiveResult{FileName: plan.FileName(), Manifest: manifest}, err
}

// UploadArchive assembles the archive straight into the cache bucket under key.
// A failed assembly never completes the upload.
func (s *Service) UploadArchive(ctx context.Context, id model.Identifier, key string) (storage.Receipt, ArchiveResult, error) {
	plan, err := s.Prepare(ctx, id)
	if err != nil {
		return storage.Receipt{}, ArchiveResult{}, err
	}
	if key == "" {
		key = plan.FileName()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	result := ArchiveResult{FileName: plan.FileName()}
	var writeErr error
	done := make(chan struct{})
	writeFailed := make(chan struct{})
	go func() {
		defer close(done)
		result.Manifest, writeErr = plan.Write(ctx, pw)
		if writeErr != nil {
			close(writeFailed)
		}
		pw.CloseWithError(writeErr)
	}()

	receipt, putErr := s.store.Put(ctx, s.cacheBucket, key, pr)
	assemblyFirst := false
	if putErr != nil {
		select {
		case <-writeFailed:
			assemblyFirst = true
		default:
		}
		// unblock the writer and stop downloads
		pr.CloseWithError(putErr)
		cancel()
	}
	pr.Close()
	<-done

	switch {
	case putErr != nil && !assemblyFirst:
		return storage.Receipt{}, result, &UploadError{Bucket: s.cacheBucket, Key: key, Err: putErr}
	case writeErr != nil:
		return storage.Receipt{}, result, writeErr
	case putErr != nil:
		return storage.Receipt{}, result, &UploadError{Bucket: s.cacheBucket, Key: key, Err: putErr}
	}

	slog.InfoContext(ctx, "archive uploaded", "identifier", id, "bucket", receipt.Bucket, "key", receipt.Key, "size", receipt.Size)
	return receipt, result, nil
}

// Bundles lists the bag keys of a dataset, newest first.
func (s *Service) Bundles(ctx context.Context, datasetID string) ([]string, error) {
	return s.bags.FindBundles(ctx, datasetID)
}

// HeadBundle returns the key of the newest bag of a dataset.
func (s *Service) HeadBundle(ctx context.Context, datasetID string) (string, error) {
	key, found, err := s.bags.FindHeadBundle(ctx, datasetID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("bag of %s: %w", datasetID, ErrNotFound)
	}
	return key, nil
}

// OpenHeadBundle opens the newest bag of a dataset for streaming.
func (s *Service) OpenHeadBundle(ctx context.Context, datasetID string) (*storage.Object, error) {
	key, err := s.HeadBundle(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, key)
}

// OpenCachedFile opens the cached file of a dataset distribution for streaming.
func (s *Service) OpenCachedFile(ctx context.Context, datasetID, distributionID string) (*storage.Object, error) {
	key, found, err := s.bags.FindCachedFile(ctx, datasetID, distributionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("cached file %s-%s: %w", datasetID, distributionID, ErrNotFound)
	}
	return s.open(ctx, key)
}

func (s *Service) open(ctx context.Context, key string) (*storage.Object, error) {
	obj, err := s.store.Get(ctx, s.cacheBucket, key)
	if errors.Is(err, storage.ErrNotFound) {
		// listed but not readable yet: the store may lag behind fresh writes
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "object opened", "key", obj.Info.Key, "size", obj.Info.Size)
	return obj, nil
}
