package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/kacper-wojtaszczyk/oar-distribution/internal/adapters/rmm"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/archive"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/bags"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/distribution"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/model"
	"github.com/kacper-wojtaszczyk/oar-distribution/internal/storage"
)

// Service is what the handlers need from the distribution pipeline.
type Service interface {
	Prepare(ctx context.Context, id model.Identifier) (*distribution.Plan, error)
	Bundles(ctx context.Context, datasetID string) ([]string, error)
	HeadBundle(ctx context.Context, datasetID string) (string, error)
	OpenHeadBundle(ctx context.Context, datasetID string) (*storage.Object, error)
	OpenCachedFile(ctx context.Context, datasetID, distributionID string) (*storage.Object, error)
}

// Options controls how archives are delivered.
type Options struct {
	// Stream writes the archive straight to the response. Otherwise it is
	// spooled to a temp file in SpoolDir first so a failure can still be
	// reported with a proper status.
	Stream   bool
	SpoolDir string
}

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	service Service
	opts    Options
}

// NewHandler creates a new Handler.
func NewHandler(service Service, opts Options) *Handler {
	return &Handler{service: service, opts: opts}
}

// RegisterRoutes attaches all routes to the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /zip", h.handleZip)
	mux.HandleFunc("GET /bags/{dsId}", h.handleBags)
	mux.HandleFunc("GET /bags/{dsId}/head", h.handleHeadBag)
	mux.HandleFunc("GET /bags/{dsId}/head/content", h.handleHeadBagContent)
	mux.HandleFunc("GET /cache/{dsId}/{distId}", h.handleCachedFile)
}

// handleHealth returns 204 No Content for liveness checks.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleZip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(ctx, w, http.StatusBadRequest, errors.New("missing id query parameter"))
		return
	}

	plan, err := h.service.Prepare(ctx, model.Identifier(id))
	if err != nil {
		writeError(ctx, w, statusFor(err), err)
		return
	}

	if h.opts.Stream {
		h.streamArchive(w, r, plan)
		return
	}
	h.spoolArchive(w, r, plan)
}

func (h *Handler) spoolArchive(w http.ResponseWriter, r *http.Request, plan *distribution.Plan) {
	ctx := r.Context()
	f, err := os.CreateTemp(h.opts.SpoolDir, "archive-*.zip")
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	if _, err := plan.Write(ctx, f); err != nil {
		writeError(ctx, w, statusFor(err), err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		writeError(ctx, w, http.StatusInternalServerError, err)
		return
	}

	setAttachment(w, plan.FileName(), "application/octet-stream")
	http.ServeContent(w, r, plan.FileName(), time.Time{}, f)
}

func (h *Handler) streamArchive(w http.ResponseWriter, r *http.Request, plan *distribution.Plan) {
	ctx := r.Context()
	setAttachment(w, plan.FileName(), "application/octet-stream")

	cw := &countingWriter{w: w}
	_, err := plan.Write(ctx, cw)
	if err == nil {
		return
	}
	if cw.n == 0 {
		w.Header().Del("Content-Disposition")
		writeError(ctx, w, statusFor(err), err)
		return
	}
	// headers are gone: the only signal left is a broken connection
	slog.ErrorContext(ctx, "aborting archive stream", "request_id", requestIDFrom(ctx), "bytes_sent", cw.n, "error", err)
	panic(http.ErrAbortHandler)
}

func (h *Handler) handleBags(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.Bundles(r.Context(), r.PathValue("dsId"))
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(r.Context(), w, http.StatusOK, keys)
}

func (h *Handler) handleHeadBag(w http.ResponseWriter, r *http.Request) {
	key, err := h.service.HeadBundle(r.Context(), r.PathValue("dsId"))
	if errors.Is(err, distribution.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, key)
}

func (h *Handler) handleHeadBagContent(w http.ResponseWriter, r *http.Request) {
	obj, err := h.service.OpenHeadBundle(r.Context(), r.PathValue("dsId"))
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return
	}
	serveObject(w, r, obj)
}

func (h *Handler) handleCachedFile(w http.ResponseWriter, r *http.Request) {
	obj, err := h.service.OpenCachedFile(r.Context(), r.PathValue("dsId"), r.PathValue("distId"))
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return
	}
	serveObject(w, r, obj)
}

// serveObject streams a stored object as an attachment named after its key.
func serveObject(w http.ResponseWriter, r *http.Request, obj *storage.Object) {
	defer obj.Body.Close()

	contentType := obj.Info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	setAttachment(w, obj.Info.Key, contentType)

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, obj.Info.Key, obj.Info.LastModified, rs)
		return
	}
	if obj.Info.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, obj.Body); err != nil {
		slog.WarnContext(r.Context(), "object stream interrupted", "request_id", requestIDFrom(r.Context()), "key", obj.Info.Key, "bytes_sent", n, "error", err)
	}
}

func setAttachment(w http.ResponseWriter, fileName, contentType string) {
	w.Header().Set("Content-Type", contentType)
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": fileName}); v != "" {
		w.Header().Set("Content-Disposition", v)
	}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var (
		resErr   *rmm.ResolutionError
		asmErr   *archive.AssemblyError
		fetchErr *archive.FetchError
	)
	switch {
	case errors.Is(err, model.ErrInvalidIdentifier), errors.Is(err, bags.ErrEmptyID):
		return http.StatusBadRequest
	case errors.Is(err, rmm.ErrNoRecords), errors.Is(err, distribution.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &resErr), errors.As(err, &asmErr), errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "request failed", "request_id", requestIDFrom(ctx), "status", status, "error", err)
	writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(ctx, "failed to write response", "request_id", requestIDFrom(ctx), "error", err)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
