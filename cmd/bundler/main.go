package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/adapters/rmm"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/archive"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/config"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/distribution"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/exitcode"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/model"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/storage"
)

// defaultKey is the --upload value when the flag is given without a key.
const defaultKey = "-"

type options struct {
	id     model.Identifier
	out    string
	upload string
	dryRun bool
}

type archiver interface {
	Prepare(ctx context.Context, id model.Identifier) (*distribution.Plan, error)
	UploadArchive(ctx context.Context, id model.Identifier, key string) (storage.Receipt, distribution.ArchiveResult, error)
}

func main() {
	// Configure the global logger
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	// Parse CLI flags
	id := pflag.String("id", "", "Dataset identifier, e.g. ark:/88434/mds2-2106")
	out := pflag.StringP("out", "o", "", "Output file (default <name>.zip in the current directory)")
	upload := pflag.String("upload", "", "Upload the archive to the cache bucket under KEY instead of writing a file")
	pflag.Lookup("upload").NoOptDefVal = defaultKey
	dryRun := pflag.Bool("dry-run", false, "Resolve the record and list the archive entries without downloading")
	configPath := pflag.String("config", "", "YAML config file (environment variables take precedence)")
	pflag.Parse()

	if *id == "" {
		slog.Error("id is required")
		fmt.Fprintf(os.Stderr, "Usage: bundler --id IDENTIFIER [--out FILE | --upload [KEY]] [--dry-run]\n")
		os.Exit(exitcode.ConfigError)
	}
	if *out != "" && *upload != "" {
		slog.Error("--out and --upload are mutually exclusive")
		os.Exit(exitcode.ConfigError)
	}

	// Ensure environment variables are loaded
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load env vars", "error", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}

	// Create a cancellable context (for graceful shutdown)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := distribution.Setup(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize service", "error", err)
		os.Exit(exitcode.StorageError)
	}

	opts := options{id: model.Identifier(*id), out: *out, upload: *upload, dryRun: *dryRun}
	if err := run(ctx, opts, svc); err != nil {
		slog.Error("application error", "error", err)
		cancel()
		os.Exit(exitCodeFor(err))
	}

	slog.Info("shutdown complete")
}

func run(ctx context.Context, opts options, svc archiver) error {
	if opts.upload != "" && !opts.dryRun {
		key := opts.upload
		if key == defaultKey {
			key = ""
		}
		receipt, result, err := svc.UploadArchive(ctx, opts.id, key)
		if err != nil {
			return err
		}
		slog.Info("archive stored", "bucket", receipt.Bucket, "key", receipt.Key, "entries", len(result.Manifest.Entries))
		return nil
	}

	plan, err := svc.Prepare(ctx, opts.id)
	if err != nil {
		return err
	}

	if opts.dryRun {
		index := 0
		for c := range plan.Files() {
			slog.Info("archive entry", "entry", archive.EntryName(plan.Root, c, index), "url", c.DownloadURL)
			index++
		}
		return nil
	}

	out := opts.out
	if out == "" {
		out = plan.FileName()
	}
	return writeFile(ctx, plan, out)
}

// writeFile writes the archive next to path and renames it into place, so a
// failed run never leaves a partial archive behind.
func writeFile(ctx context.Context, plan *distribution.Plan, path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	manifest, err := plan.Write(ctx, f)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}

	slog.Info("archive written", "path", path, "entries", len(manifest.Entries), "skipped", len(manifest.Skipped))
	return nil
}

func exitCodeFor(err error) int {
	var (
		resErr    *rmm.ResolutionError
		uploadErr *distribution.UploadError
	)
	switch {
	case errors.Is(err, model.ErrInvalidIdentifier):
		return exitcode.DataError
	case errors.As(err, &resErr):
		return exitcode.ResolutionError
	case errors.As(err, &uploadErr):
		return exitcode.StorageError
	default:
		return exitcode.FetchError
	}
}
