// Package archive streams dataset components into a single zip archive.
//
// Components are fetched ahead of the writer by up to Concurrency workers, but
// entries are always written by one goroutine in component order. Nothing is
// buffered beyond one copy buffer per archive; a fetched body stays open until
// its entry has been written.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/model"
)

const defaultBufferSize = 32 * 1024

// errFetchTimeout is the cancel cause of a component that ran out of time.
var errFetchTimeout = fmt.Errorf("component fetch timeout: %w", context.DeadlineExceeded)

// Policy decides what a failed component fetch does to the archive.
type Policy int

const (
	// FailFast aborts the archive on the first failed component.
	FailFast Policy = iota
	// BestEffort leaves out components whose download could not be started.
	BestEffort
)

// ParsePolicy parses "fail-fast" or "best-effort".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-fast":
		return FailFast, nil
	case "best-effort":
		return BestEffort, nil
	default:
		return FailFast, fmt.Errorf("unknown archive policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Config holds archive assembly settings.
type Config struct {
	// Concurrency is how many component downloads may be open at once.
	Concurrency int

	// FetchTimeout bounds each phase of one component: the request until
	// response headers, and the copy of its body into the archive. Time a
	// prefetched body spends waiting for the writer is not counted.
	// Zero means no limit.
	FetchTimeout time.Duration

	// BufferSize is the copy buffer size in bytes.
	BufferSize int

	// CompressionLevel is a flate level (-2..9).
	CompressionLevel int

	Policy Policy
}

// Entry is one file written to the archive.
type Entry struct {
	Name   string
	Source string
	Bytes  int64
}

// Skip is a component left out under BestEffort.
type Skip struct {
	Component string
	Source    string
	Reason    string
}

// Manifest describes a finished (or aborted) archive.
type Manifest struct {
	Root    string
	Entries []Entry
	Skipped []Skip
}

// Assembler writes zip archives of remote components.
type Assembler struct {
	fetcher Fetcher
	cfg     Config
}

// NewAssembler creates an Assembler, applying defaults and validating cfg.
func NewAssembler(fetcher Fetcher, cfg Config) (*Assembler, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.CompressionLevel < flate.HuffmanOnly || cfg.CompressionLevel > flate.BestCompression {
		return nil, fmt.Errorf("compression level %d out of range", cfg.CompressionLevel)
	}
	if cfg.Policy != FailFast && cfg.Policy != BestEffort {
		return nil, fmt.Errorf("unknown archive policy %v", cfg.Policy)
	}
	return &Assembler{fetcher: fetcher, cfg: cfg}, nil
}

// pending is a component whose download has been queued.
type pending struct {
	index     int
	component model.Component
	ctx       context.Context
	cancel    context.CancelCauseFunc
	ready     chan fetched
}

type fetched struct {
	body io.ReadCloser
	err  error
}

func (p *pending) fetch(f Fetcher, timeout time.Duration) {
	stop := p.startTimer(timeout)
	body, err := f.Fetch(p.ctx, p.component.DownloadURL)
	stop()
	p.ready <- fetched{body: body, err: err}
}

// startTimer cancels the download once timeout elapses, unless stopped first.
func (p *pending) startTimer(timeout time.Duration) (stop func() bool) {
	if timeout <= 0 {
		return func() bool { return true }
	}
	t := time.AfterFunc(timeout, func() { p.cancel(errFetchTimeout) })
	return t.Stop
}

// timedOut replaces err with a timeout FetchError when the component ran out
// of time.
func (p *pending) timedOut(err error) error {
	if errors.Is(context.Cause(p.ctx), errFetchTimeout) {
		return &FetchError{URL: p.component.DownloadURL, Err: errFetchTimeout}
	}
	return err
}

// discard waits for the download to settle and releases it unread.
func (p *pending) discard() {
	r := <-p.ready
	if r.body != nil {
		r.body.Close()
	}
	p.cancel(nil)
}

// Assemble writes one zip entry per component to w, named
// "<root>/<component path>", in the order the sequence yields them. On error
// the archive is left unfinished: the zip central directory is only written
// once every component has been copied.
func (a *Assembler) Assemble(ctx context.Context, w io.Writer, root string, components iter.Seq[model.Component]) (Manifest, error) {
	manifest := Manifest{Root: root}
	if root == "" {
		return manifest, errors.New("archive: empty root name")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	zw := zip.NewWriter(w)
	level := a.cfg.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	// queue capacity plus the entry being written bounds open downloads
	queue := make(chan *pending, a.cfg.Concurrency-1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		index := 0
		for c := range components {
			// no deadline here: the clock starts with the fetch itself
			p := &pending{index: index, component: c, ready: make(chan fetched, 1)}
			p.ctx, p.cancel = context.WithCancelCause(gctx)
			select {
			case queue <- p:
			case <-gctx.Done():
				p.cancel(nil)
				return gctx.Err()
			}
			g.Go(func() error {
				p.fetch(a.fetcher, a.cfg.FetchTimeout)
				return nil
			})
			index++
		}
		return nil
	})

	buf := make([]byte, a.cfg.BufferSize)
	names := make(map[string]struct{})
	var assembleErr error
	for p := range queue {
		if assembleErr != nil {
			p.discard()
			continue
		}
		if err := a.writeEntry(ctx, zw, root, p, buf, names, &manifest); err != nil {
			assembleErr = err
			// stop queueing and abort downloads still in flight
			cancel()
		}
	}

	waitErr := g.Wait()
	if assembleErr != nil {
		return manifest, assembleErr
	}
	if waitErr != nil {
		return manifest, fmt.Errorf("archive: %w", waitErr)
	}
	// skipped downloads may hide a caller that gave up
	if err := ctx.Err(); err != nil {
		return manifest, fmt.Errorf("archive: %w", err)
	}

	if err := zw.Close(); err != nil {
		return manifest, fmt.Errorf("archive: finalize: %w", err)
	}
	return manifest, nil
}

func (a *Assembler) writeEntry(
	ctx context.Context,
	zw *zip.Writer,
	root string,
	p *pending,
	buf []byte,
	names map[string]struct{},
	manifest *Manifest,
) error {
	defer p.cancel(nil)

	c := p.component
	res := <-p.ready
	if res.err != nil {
		res.err = p.timedOut(res.err)
		if a.cfg.Policy == BestEffort {
			slog.WarnContext(ctx, "skipping component", "component", componentName(c), "url", c.DownloadURL, "error", res.err)
			manifest.Skipped = append(manifest.Skipped, Skip{
				Component: componentName(c),
				Source:    c.DownloadURL,
				Reason:    res.err.Error(),
			})
			return nil
		}
		return &AssemblyError{Component: componentName(c), Index: p.index, Err: res.err}
	}
	defer res.body.Close()

	name := EntryName(root, c, p.index)
	if _, dup := names[name]; dup {
		slog.WarnContext(ctx, "duplicate archive entry name", "entry", name, "component", componentName(c))
	}
	names[name] = struct{}{}

	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return &AssemblyError{Component: componentName(c), Index: p.index, Entry: name, Err: err}
	}

	stop := p.startTimer(a.cfg.FetchTimeout)
	defer stop()

	src := &sourceReader{r: res.body}
	n, err := io.CopyBuffer(fw, src, buf)
	if err != nil {
		if src.err != nil {
			err = p.timedOut(&FetchError{URL: c.DownloadURL, Err: src.err})
		}
		return &AssemblyError{Component: componentName(c), Index: p.index, Entry: name, Err: err}
	}

	slog.DebugContext(ctx, "archive entry written", "entry", name, "bytes", n)
	manifest.Entries = append(manifest.Entries, Entry{Name: name, Source: c.DownloadURL, Bytes: n})
	return nil
}

// EntryName is "<root>/<filepath>" with the component path cleaned so it cannot
// climb out of root. Components without a filepath are named after the last
// segment of their download URL.
func EntryName(root string, c model.Component, index int) string {
	rel := c.FilePath
	if strings.TrimSpace(rel) == "" {
		if u, err := url.Parse(c.DownloadURL); err == nil {
			rel = path.Base(u.Path)
		}
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		rel = fmt.Sprintf("component-%d", index)
	}
	return root + "/" + rel
}

func componentName(c model.Component) string {
	switch {
	case c.ID != "":
		return c.ID
	case c.FilePath != "":
		return c.FilePath
	default:
		return c.DownloadURL
	}
}
