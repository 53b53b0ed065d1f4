package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sagarc03/splice"
	splicehttp "github.com/sagarc03/splice/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// readSeekNopCloser wraps an io.ReadSeeker to add a no-op Close method
type readSeekNopCloser struct {
	io.ReadSeeker
}

func (r readSeekNopCloser) Close() error { return nil }

// MockService is a mock implementation of http.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) UploadChunk(ctx context.Context, chunk splice.Chunk, content io.Reader) (splice.AcceptResult, error) {
	// Drain so the call sees the bytes a real service would store.
	data, _ := io.ReadAll(content)
	args := m.Called(ctx, chunk, string(data))
	return args.Get(0).(splice.AcceptResult), args.Error(1)
}

func (m *MockService) List(ctx context.Context) (splice.ListResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(splice.ListResult), args.Error(1)
}

func (m *MockService) Open(ctx context.Context, name string) (splice.BlobInfo, io.ReadSeekCloser, error) {
	args := m.Called(ctx, name)
	if args.Get(1) == nil {
		return args.Get(0).(splice.BlobInfo), nil, args.Error(2)
	}
	return args.Get(0).(splice.BlobInfo), args.Get(1).(io.ReadSeekCloser), args.Error(2)
}

func (m *MockService) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// chunkRequest builds a POST /objects request carrying one chunk.
func chunkRequest(t *testing.T, name string, index, total int, payload, contentRange string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("chunkIndex", fmt.Sprint(index)))
	require.NoError(t, mw.WriteField("totalChunks", fmt.Sprint(total)))
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/objects", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if contentRange != "" {
		req.Header.Set("Content-Range", contentRange)
	}
	return req
}

func newTestHandler(service splicehttp.Service) http.Handler {
	return splicehttp.NewHandler(&splicehttp.HandlerConfig{}, service).Router()
}

func TestHandler_HandleProbe(t *testing.T) {
	service := new(MockService)

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, httptest.NewRequest("HEAD", "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	service.AssertExpectations(t)
}

func TestHandler_HandleList(t *testing.T) {
	service := new(MockService)

	uploaded, total, finalizing := 1, 3, false
	service.On("List", mock.Anything).Return(splice.ListResult{Items: []splice.ObjectEntry{
		{Path: "/done.bin", NBytes: 6, Completed: true},
		{Path: "/x.bin", NBytes: 100, UploadedChunks: &uploaded, TotalChunks: &total, Finalizing: &finalizing},
	}}, nil)

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, httptest.NewRequest("GET", "/objects", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string][]map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body["items"], 2)

	done := body["items"][0]
	assert.Equal(t, "/done.bin", done["path"])
	assert.EqualValues(t, 6, done["nBytes"])
	assert.Equal(t, true, done["completed"])
	assert.NotContains(t, done, "uploadedChunks")

	partial := body["items"][1]
	assert.EqualValues(t, 1, partial["uploadedChunks"])
	assert.EqualValues(t, 3, partial["totalChunks"])
	assert.Equal(t, false, partial["finalizing"])

	service.AssertExpectations(t)
}

func TestHandler_HandleList_InternalError(t *testing.T) {
	service := new(MockService)
	service.On("List", mock.Anything).Return(splice.ListResult{}, fmt.Errorf("list: %w", splice.ErrStorageUnavailable))

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, httptest.NewRequest("GET", "/objects", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage_unavailable")
}

func TestHandler_HandleUpload_NonTerminal(t *testing.T) {
	service := new(MockService)
	service.On("UploadChunk", mock.Anything,
		splice.Chunk{Name: "x.bin", Index: 0, Total: 3, TotalSize: 6}, "AAA").
		Return(splice.AcceptResult{BytesWritten: 3, UploadedChunks: 1}, nil)

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, chunkRequest(t, "x.bin", 0, 3, "AAA", "bytes 0-2/6"))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-2", rec.Header().Get("Range"))
	assert.Equal(t, "Chunk 0 received", rec.Body.String())
	service.AssertExpectations(t)
}

func TestHandler_HandleUpload_Completing(t *testing.T) {
	service := new(MockService)
	service.On("UploadChunk", mock.Anything,
		splice.Chunk{Name: "x.bin", Index: 2, Total: 3, TotalSize: 6}, "C").
		Return(splice.AcceptResult{SessionComplete: true, BytesWritten: 1, UploadedChunks: 3}, nil)

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, chunkRequest(t, "x.bin", 2, 3, "C", "bytes 5-5/6"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "File uploaded successfully", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Range"))
	service.AssertExpectations(t)
}

func TestHandler_HandleUpload_ContentRange(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"garbage", "nonsense"},
		{"wrong unit", "items 0-2/6"},
		{"start after end", "bytes 4-2/6"},
		{"end past size", "bytes 0-9/6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)

			rec := httptest.NewRecorder()
			newTestHandler(service).ServeHTTP(rec, chunkRequest(t, "x.bin", 0, 3, "AAA", tt.header))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_range")
			service.AssertNotCalled(t, "UploadChunk", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandler_HandleUpload_BadFields(t *testing.T) {
	t.Run("non integer index", func(t *testing.T) {
		service := new(MockService)

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("chunkIndex", "one"))
		require.NoError(t, mw.WriteField("totalChunks", "3"))
		part, err := mw.CreateFormFile("file", "x.bin")
		require.NoError(t, err)
		_, _ = part.Write([]byte("AAA"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest("POST", "/objects", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Content-Range", "bytes 0-2/6")

		rec := httptest.NewRecorder()
		newTestHandler(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "chunkIndex must be an integer")
	})

	t.Run("missing file", func(t *testing.T) {
		service := new(MockService)

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("chunkIndex", "0"))
		require.NoError(t, mw.WriteField("totalChunks", "3"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest("POST", "/objects", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Content-Range", "bytes 0-2/6")

		rec := httptest.NewRecorder()
		newTestHandler(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Missing file field")
	})

	t.Run("not multipart", func(t *testing.T) {
		service := new(MockService)

		req := httptest.NewRequest("POST", "/objects", strings.NewReader("AAA"))
		req.Header.Set("Content-Range", "bytes 0-2/6")

		rec := httptest.NewRecorder()
		newTestHandler(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "bad_request")
	})
}

func TestHandler_HandleUpload_ServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"index out of range", splice.ErrInvalidRange, http.StatusBadRequest},
		{"unsafe name", splice.ErrPathUnsafe, http.StatusBadRequest},
		{"storage", splice.ErrStorageUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			service.On("UploadChunk", mock.Anything, mock.Anything, mock.Anything).
				Return(splice.AcceptResult{}, fmt.Errorf("accept chunk: %w", tt.err))

			rec := httptest.NewRecorder()
			newTestHandler(service).ServeHTTP(rec, chunkRequest(t, "x.bin", 0, 3, "AAA", "bytes 0-2/6"))

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestHandler_HandleUpload_MaxChunkSize(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		service := new(MockService)
		service.On("UploadChunk", mock.Anything, mock.Anything, "AAA").
			Return(splice.AcceptResult{UploadedChunks: 1}, nil)

		handler := splicehttp.NewHandler(&splicehttp.HandlerConfig{MaxChunkSize: 3}, service).Router()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, chunkRequest(t, "x.bin", 0, 2, "AAA", "bytes 0-2/6"))

		assert.Equal(t, http.StatusPartialContent, rec.Code)
	})

	t.Run("over limit", func(t *testing.T) {
		service := new(MockService)

		handler := splicehttp.NewHandler(&splicehttp.HandlerConfig{MaxChunkSize: 3}, service).Router()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, chunkRequest(t, "x.bin", 0, 2, "AAAA", "bytes 0-3/8"))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "chunk_too_large")
		service.AssertNotCalled(t, "UploadChunk", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandler_HandleGet(t *testing.T) {
	service := new(MockService)
	modTime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	service.On("Open", mock.Anything, "x.bin").Return(
		splice.BlobInfo{Key: "completed/x.bin", Name: "x.bin", Size: 6, ModTime: modTime},
		readSeekNopCloser{strings.NewReader("AAABBC")}, nil)

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, httptest.NewRequest("GET", "/objects/x.bin", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAABBC", rec.Body.String())
	assert.Equal(t, modTime.Format(http.TimeFormat), rec.Header().Get("Last-Modified"))
	service.AssertExpectations(t)
}

func TestHandler_HandleGet_Range(t *testing.T) {
	service := new(MockService)
	service.On("Open", mock.Anything, "x.bin").Return(
		splice.BlobInfo{Name: "x.bin", Size: 6},
		readSeekNopCloser{strings.NewReader("AAABBC")}, nil)

	req := httptest.NewRequest("GET", "/objects/x.bin", nil)
	req.Header.Set("Range", "bytes=3-4")

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "BB", rec.Body.String())
}

func TestHandler_HandleGet_NotFound(t *testing.T) {
	service := new(MockService)
	service.On("Open", mock.Anything, "missing.bin").Return(splice.BlobInfo{}, nil, splice.ErrNotFound)

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, httptest.NewRequest("GET", "/objects/missing.bin", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestHandler_HandleDelete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		service := new(MockService)
		service.On("Delete", mock.Anything, "x.bin").Return(nil)

		rec := httptest.NewRecorder()
		newTestHandler(service).ServeHTTP(rec, httptest.NewRequest("DELETE", "/objects/x.bin", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		service.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		service := new(MockService)
		service.On("Delete", mock.Anything, "x.bin").Return(fmt.Errorf("delete: %w", splice.ErrNotFound))

		rec := httptest.NewRecorder()
		newTestHandler(service).ServeHTTP(rec, httptest.NewRequest("DELETE", "/objects/x.bin", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "not_found")
	})

	t.Run("invalid name", func(t *testing.T) {
		service := new(MockService)

		rec := httptest.NewRecorder()
		newTestHandler(service).ServeHTTP(rec, httptest.NewRequest("DELETE", "/objects/..", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		service.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestHandler_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("splice_chunks_accepted_total 0\n"))
	})

	t.Run("mounted", func(t *testing.T) {
		handler := splicehttp.NewHandler(&splicehttp.HandlerConfig{Metrics: metrics}, new(MockService)).Router()

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "splice_chunks_accepted_total")
	})

	t.Run("not mounted", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestHandler(new(MockService)).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_CORS_Disabled(t *testing.T) {
	service := new(MockService)
	service.On("List", mock.Anything).Return(splice.ListResult{Items: []splice.ObjectEntry{}}, nil)

	req := httptest.NewRequest("GET", "/objects", nil)
	req.Header.Set("Origin", "http://example.com")

	rec := httptest.NewRecorder()
	newTestHandler(service).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandler_CORS_Enabled_Preflight(t *testing.T) {
	config := &splicehttp.HandlerConfig{
		CORS: splicehttp.CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://example.com"},
			AllowedMethods: []string{"GET", "POST", "DELETE"},
			AllowedHeaders: []string{"Content-Range", "Content-Type"},
			ExposedHeaders: []string{"Range"},
			MaxAge:         300,
		},
	}
	handler := splicehttp.NewHandler(config, new(MockService)).Router()

	req := httptest.NewRequest("OPTIONS", "/objects", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Range")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}
