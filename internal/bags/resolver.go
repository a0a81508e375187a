// Package bags locates precomputed dataset bundles ("bags") and cached
// distribution files in the cache bucket.
package bags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/storage"
)

// ErrEmptyID is returned when a dataset or distribution id is empty. An empty
// id would turn into a prefix matching unrelated keys.
var ErrEmptyID = errors.New("id cannot be empty")

// Lister lists object keys by prefix.
type Lister interface {
	List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
}

// Resolver finds bags and cached files in one bucket.
type Resolver struct {
	lister Lister
	bucket string
}

// NewResolver creates a bag resolver searching bucket.
func NewResolver(lister Lister, bucket string) *Resolver {
	return &Resolver{lister: lister, bucket: bucket}
}

// Bucket returns the bucket the resolver searches.
func (r *Resolver) Bucket() string {
	return r.bucket
}

// FindBundles returns the keys of every bag of the dataset, newest first.
// Freshness is the raw key order: a greater string is a newer bag.
func (r *Resolver) FindBundles(ctx context.Context, datasetID string) ([]string, error) {
	if strings.TrimSpace(datasetID) == "" {
		return nil, fmt.Errorf("dataset %w", ErrEmptyID)
	}

	objects, err := r.lister.List(ctx, r.bucket, storage.BagPrefix(datasetID))
	if err != nil {
		return nil, fmt.Errorf("list bags of %s: %w", datasetID, err)
	}

	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		if storage.IsBagKey(datasetID, o.Key) {
			keys = append(keys, o.Key)
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		return strings.Compare(b, a)
	})

	slog.DebugContext(ctx, "bags found", "dataset_id", datasetID, "count", len(keys))
	return keys, nil
}

// FindHeadBundle returns the newest bag of the dataset. found is false when the
// dataset has no bags.
func (r *Resolver) FindHeadBundle(ctx context.Context, datasetID string) (key string, found bool, err error) {
	keys, err := r.FindBundles(ctx, datasetID)
	if err != nil {
		return "", false, err
	}
	if len(keys) == 0 {
		return "", false, nil
	}
	return keys[0], true, nil
}

// FindCachedFile returns the first key the store lists under
// "<datasetId>-<distributionId>". When several keys match, the store's order
// decides.
func (r *Resolver) FindCachedFile(ctx context.Context, datasetID, distributionID string) (key string, found bool, err error) {
	if strings.TrimSpace(datasetID) == "" {
		return "", false, fmt.Errorf("dataset %w", ErrEmptyID)
	}
	if strings.TrimSpace(distributionID) == "" {
		return "", false, fmt.Errorf("distribution %w", ErrEmptyID)
	}

	prefix := storage.CachedFilePrefix(datasetID, distributionID)
	objects, err := r.lister.List(ctx, r.bucket, prefix)
	if err != nil {
		return "", false, fmt.Errorf("list cached files %s: %w", prefix, err)
	}
	if len(objects) == 0 {
		return "", false, nil
	}
	if len(objects) > 1 {
		slog.WarnContext(ctx, "several cached files match, using first listed", "prefix", prefix, "count", len(objects), "key", objects[0].Key)
	}
	return objects[0].Key, true, nil
}
