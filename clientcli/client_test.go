package clientcli_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/clientcli"
	"github.com/sagarc03/splice/filesystem"
	splicehttp "github.com/sagarc03/splice/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSpliceServer runs the real router over a temp directory with inline finalize.
func newSpliceServer(t *testing.T) *httptest.Server {
	t.Helper()

	root, err := os.OpenRoot(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	svc, err := splice.NewSpliceService(filesystem.NewFileStorage(root), splice.ServiceConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(t.Context()) })

	server := httptest.NewServer(splicehttp.NewHandler(&splicehttp.HandlerConfig{}, svc).Router())
	t.Cleanup(server.Close)
	return server
}

func newClient(t *testing.T, endpoint string, cfg clientcli.Config) *clientcli.Client {
	t.Helper()
	cfg.Endpoint = endpoint
	client, err := clientcli.New(&cfg, clientcli.WithRetryInterval(time.Millisecond))
	require.NoError(t, err)
	return client
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// chunkRecorder is a fake server that accepts every chunk and remembers what it saw.
type chunkRecorder struct {
	mu     sync.Mutex
	ranges []string
	index  []string
	totals []string
	names  []string
}

func (c *chunkRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/objects", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		c.ranges = append(c.ranges, r.Header.Get("Content-Range"))
		c.index = append(c.index, r.FormValue("chunkIndex"))
		c.totals = append(c.totals, r.FormValue("totalChunks"))
		c.names = append(c.names, header.Filename)
		c.mu.Unlock()

		w.WriteHeader(http.StatusPartialContent)
	}
}

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := clientcli.New(nil)
		assert.ErrorIs(t, err, clientcli.ErrConfigRequired)
	})

	t.Run("empty endpoint uses default", func(t *testing.T) {
		client, err := clientcli.New(&clientcli.Config{})
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("trailing slash removed", func(t *testing.T) {
		var paths []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.Path)
			_, _ = w.Write([]byte(`{"items":[]}`))
		}))
		defer server.Close()

		client := newClient(t, server.URL+"/", clientcli.Config{})
		_, err := client.List(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"/objects"}, paths)
	})
}

func TestClient_Upload_RoundTrip(t *testing.T) {
	server := newSpliceServer(t)
	client := newClient(t, server.URL, clientcli.Config{ChunkSize: 3, Parallel: 3})

	data := []byte("hello, splice!")
	local := writeTempFile(t, "greeting.txt", data)

	var progress atomic.Int64
	result, err := client.Upload(t.Context(), clientcli.UploadOptions{
		LocalPath: local,
		Progress:  func(sent, total int) { progress.Add(1); assert.Equal(t, 5, total) },
	})
	require.NoError(t, err)

	assert.Equal(t, "greeting.txt", result.Name)
	assert.Equal(t, int64(len(data)), result.Size)
	assert.Equal(t, 5, result.Chunks)
	assert.True(t, result.Completed)
	assert.Equal(t, int64(5), progress.Load())

	list, err := client.List(t.Context())
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "/greeting.txt", list.Items[0].Path)
	assert.True(t, list.Items[0].Completed)
	assert.Equal(t, int64(len(data)), list.Items[0].NBytes)

	dest := filepath.Join(t.TempDir(), "out", "copy.txt")
	dl, body, err := client.Download(t.Context(), clientcli.DownloadOptions{Name: "greeting.txt", LocalPath: dest})
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.Equal(t, int64(len(data)), dl.Size)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestClient_Upload_ExplicitName(t *testing.T) {
	server := newSpliceServer(t)
	client := newClient(t, server.URL, clientcli.Config{ChunkSize: 4})

	local := writeTempFile(t, "local.bin", []byte("AAAABBBBC"))
	result, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local, Name: "remote.bin"})
	require.NoError(t, err)
	assert.Equal(t, "remote.bin", result.Name)

	_, body, err := client.Download(t.Context(), clientcli.DownloadOptions{Name: "remote.bin", LocalPath: "-"})
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "AAAABBBBC", string(got))
}

func TestClient_Upload_EmptyFile(t *testing.T) {
	rec := &chunkRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	client := newClient(t, server.URL, clientcli.Config{})
	local := writeTempFile(t, "empty.txt", nil)

	result, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, []string{"bytes 0-0/0"}, rec.ranges)
	assert.Equal(t, []string{"0"}, rec.index)
	assert.Equal(t, []string{"1"}, rec.totals)
}

func TestClient_Upload_ChunkRequests(t *testing.T) {
	rec := &chunkRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	client := newClient(t, server.URL, clientcli.Config{ChunkSize: 4, Parallel: 2})
	local := writeTempFile(t, "data.bin", []byte("0123456789"))

	result, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local})
	require.NoError(t, err)
	assert.False(t, result.Completed)

	sort.Strings(rec.ranges)
	sort.Strings(rec.index)
	assert.Equal(t, []string{"bytes 0-3/10", "bytes 4-7/10", "bytes 8-9/10"}, rec.ranges)
	assert.Equal(t, []string{"0", "1", "2"}, rec.index)
	assert.Equal(t, []string{"3", "3", "3"}, rec.totals)
	assert.Equal(t, []string{"data.bin", "data.bin", "data.bin"}, rec.names)
}

func TestClient_Upload_Retries(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		var attempts atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.Header().Set("Accept-Ranges", "bytes")
				return
			}
			_, _ = io.Copy(io.Discard, r.Body)
			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"storage_unavailable","message":"try later"}`))
				return
			}
			_, _ = w.Write([]byte("File uploaded successfully"))
		}))
		defer server.Close()

		client := newClient(t, server.URL, clientcli.Config{Retries: 3})
		local := writeTempFile(t, "a.txt", []byte("abc"))

		result, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local})
		require.NoError(t, err)
		assert.True(t, result.Completed)
		assert.Equal(t, int64(3), attempts.Load())
	})

	t.Run("gives up after retries", func(t *testing.T) {
		var attempts atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.Header().Set("Accept-Ranges", "bytes")
				return
			}
			_, _ = io.Copy(io.Discard, r.Body)
			attempts.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := newClient(t, server.URL, clientcli.Config{Retries: 2})
		local := writeTempFile(t, "a.txt", []byte("abc"))

		_, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local})
		require.Error(t, err)
		assert.True(t, errors.Is(err, &clientcli.APIError{StatusCode: http.StatusInternalServerError}))
		assert.Equal(t, int64(3), attempts.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var attempts atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.Header().Set("Accept-Ranges", "bytes")
				return
			}
			_, _ = io.Copy(io.Discard, r.Body)
			attempts.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_range","message":"bad range"}`))
		}))
		defer server.Close()

		client := newClient(t, server.URL, clientcli.Config{Retries: 5})
		local := writeTempFile(t, "a.txt", []byte("abc"))

		_, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local})
		require.ErrorIs(t, err, clientcli.ErrBadRequest)
		assert.Equal(t, int64(1), attempts.Load())

		var apiErr *clientcli.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "invalid_range", apiErr.Code)
		assert.Equal(t, "bad range", apiErr.Message)
	})
}

func TestClient_Upload_Validation(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Accept-Ranges", "bytes")
	}))
	defer server.Close()

	client := newClient(t, server.URL, clientcli.Config{})

	t.Run("empty path", func(t *testing.T) {
		_, err := client.Upload(t.Context(), clientcli.UploadOptions{})
		assert.ErrorIs(t, err, clientcli.ErrEmptyPath)
	})

	t.Run("invalid name", func(t *testing.T) {
		local := writeTempFile(t, "a.txt", []byte("x"))
		_, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local, Name: "../escape"})
		assert.ErrorIs(t, err, clientcli.ErrInvalidName)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: filepath.Join(t.TempDir(), "nope")})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("too many chunks", func(t *testing.T) {
		local := writeTempFile(t, "big.bin", bytes.Repeat([]byte{'x'}, splice.MaxTotalChunks+1))
		_, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local, ChunkSize: 1})
		assert.ErrorIs(t, err, clientcli.ErrTooManyChunks)
	})

	assert.Zero(t, requests.Load())
}

func TestClient_Probe(t *testing.T) {
	t.Run("ranges supported", func(t *testing.T) {
		server := newSpliceServer(t)
		client := newClient(t, server.URL, clientcli.Config{})
		assert.NoError(t, client.Probe(t.Context()))
	})

	t.Run("ranges not advertised", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer server.Close()

		client := newClient(t, server.URL, clientcli.Config{})
		assert.ErrorIs(t, client.Probe(t.Context()), clientcli.ErrRangeUnsupported)

		local := writeTempFile(t, "a.txt", []byte("abc"))
		_, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local})
		assert.ErrorIs(t, err, clientcli.ErrRangeUnsupported)
	})
}

func TestClient_Download(t *testing.T) {
	server := newSpliceServer(t)
	client := newClient(t, server.URL, clientcli.Config{})

	t.Run("missing object", func(t *testing.T) {
		_, _, err := client.Download(t.Context(), clientcli.DownloadOptions{Name: "missing.txt", LocalPath: filepath.Join(t.TempDir(), "x")})
		assert.ErrorIs(t, err, clientcli.ErrNotFound)
	})

	t.Run("empty name", func(t *testing.T) {
		_, _, err := client.Download(t.Context(), clientcli.DownloadOptions{})
		assert.ErrorIs(t, err, clientcli.ErrEmptyName)
	})
}

func TestClient_Delete(t *testing.T) {
	server := newSpliceServer(t)
	client := newClient(t, server.URL, clientcli.Config{})

	local := writeTempFile(t, "doomed.txt", []byte("bye"))
	_, err := client.Upload(t.Context(), clientcli.UploadOptions{LocalPath: local})
	require.NoError(t, err)

	results, err := client.Delete(t.Context(), clientcli.DeleteOptions{Names: []string{"doomed.txt", "ghost.txt"}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Deleted)
	assert.NoError(t, results[0].Err)
	assert.False(t, results[1].Deleted)
	assert.ErrorIs(t, results[1].Err, clientcli.ErrNotFound)
	assert.True(t, clientcli.HasDeleteErrors(results))

	list, err := client.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, list.Items)

	_, err = client.Delete(t.Context(), clientcli.DeleteOptions{})
	assert.ErrorIs(t, err, clientcli.ErrNoNames)
}

func TestClient_List_InProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"path":"/done.bin","nBytes":10,"completed":true},
			{"path":"/partial.bin","nBytes":4,"completed":false,"finalizing":false,"uploadedChunks":1,"totalChunks":3}
		]}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, clientcli.Config{})
	list, err := client.List(t.Context())
	require.NoError(t, err)
	require.Len(t, list.Items, 2)

	partial := list.Items[1]
	assert.False(t, partial.Completed)
	require.NotNil(t, partial.UploadedChunks)
	assert.Equal(t, 1, *partial.UploadedChunks)
	assert.Equal(t, int64(10), clientcli.TotalSize(list))
}

func TestAPIError(t *testing.T) {
	err := &clientcli.APIError{StatusCode: http.StatusNotFound, Body: "nope"}
	assert.ErrorIs(t, err, clientcli.ErrNotFound)
	assert.NotErrorIs(t, err, clientcli.ErrBadRequest)
	assert.True(t, err.IsNotFound())
	assert.Equal(t, "server error: 404 - nope", err.Error())

	withMessage := &clientcli.APIError{StatusCode: 413, Code: "chunk_too_large", Message: "too big"}
	assert.Equal(t, "server error: 413 chunk_too_large: too big", withMessage.Error())
	assert.ErrorIs(t, withMessage, clientcli.ErrChunkTooLarge)
}
