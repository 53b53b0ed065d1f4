package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sagarc03/splice"
)

const (
	// multipartOverhead is the allowance for form fields and part headers on
	// top of MaxChunkSize.
	multipartOverhead = 1 << 20
	// formMemory is the part of a multipart form kept in memory; the rest
	// spills to temporary files.
	formMemory = 32 << 20
)

type Service interface {
	UploadChunk(ctx context.Context, chunk splice.Chunk, content io.Reader) (splice.AcceptResult, error)
	List(ctx context.Context) (splice.ListResult, error)
	Open(ctx context.Context, name string) (splice.BlobInfo, io.ReadSeekCloser, error)
	Delete(ctx context.Context, name string) error
}

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type HandlerConfig struct {
	// MaxChunkSize bounds the file part of a chunk upload. Zero means no limit.
	MaxChunkSize int64
	CORS         CORSConfig
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
}

// Handler provides HTTP handlers for chunked uploads.
type Handler struct {
	config  HandlerConfig
	service Service
}

// NewHandler creates a new Handler with the given configuration and service.
func NewHandler(config *HandlerConfig, service Service) *Handler {
	return &Handler{
		config:  *config,
		service: service,
	}
}

// Router returns an http.Handler with every route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Head("/", h.handleProbe)

	r.Route("/objects", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleUpload)

		r.With(NameValidationMiddleware).Get("/{name}", h.handleGet)
		r.With(NameValidationMiddleware).Delete("/{name}", h.handleDelete)
	})

	if h.config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.config.Metrics)
	}

	return r
}

func (h *Handler) handleProbe(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.List(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	cr, err := splice.ParseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_range", "Missing or malformed Content-Range header")
		return
	}

	if h.config.MaxChunkSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxChunkSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(formMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			HandleError(w, err)
			return
		}
		WriteError(w, http.StatusBadRequest, "bad_request", "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	index, err := formInt(r, "chunkIndex")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	total, err := formInt(r, "totalChunks")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", "Missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	if h.config.MaxChunkSize > 0 && header.Size > h.config.MaxChunkSize {
		WriteError(w, http.StatusRequestEntityTooLarge, "chunk_too_large", "Chunk exceeds size limit")
		return
	}

	chunk := splice.Chunk{
		Name:      header.Filename,
		Index:     index,
		Total:     total,
		TotalSize: cr.Size,
	}

	result, err := h.service.UploadChunk(r.Context(), chunk, file)
	if err != nil {
		HandleError(w, err)
		return
	}

	if result.SessionComplete {
		writeText(w, http.StatusOK, "File uploaded successfully")
		return
	}

	w.Header().Set("Range", fmt.Sprintf("bytes %d-%d", cr.Start, cr.End))
	writeText(w, http.StatusPartialContent, fmt.Sprintf("Chunk %d received", index))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, content, err := h.service.Open(r.Context(), name)
	if err != nil {
		HandleError(w, err)
		return
	}
	defer func() { _ = content.Close() }()

	http.ServeContent(w, r, name, info.ModTime, content)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func formInt(r *http.Request, field string) (int, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return 0, fmt.Errorf("missing %s field", field)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", field)
	}
	return v, nil
}
