package clientcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sagarc03/splice"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout is the default HTTP client timeout. It bounds a single
	// chunk request, not a whole upload.
	DefaultTimeout = 5 * time.Minute

	// DefaultRetryInterval is the first delay between chunk retries.
	DefaultRetryInterval = 500 * time.Millisecond

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 64 << 10
)

// Client performs operations against a splice server.
type Client struct {
	config        *Config
	httpClient    *http.Client
	retryInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetryInterval sets the initial backoff between chunk retries.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// New creates a new Client with the given config and options.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}

	cfg = cfg.WithDefaults()
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")

	c := &Client{
		config:        cfg,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		retryInterval: DefaultRetryInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Probe checks that the server advertises ranged uploads on HEAD /.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.Endpoint+"/", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseServerError(resp.StatusCode, nil)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return ErrRangeUnsupported
	}
	return nil
}

// Upload splits a local file into chunks and posts them to the server,
// at most opts.Parallel at a time. Each chunk is retried on transport
// errors and 5xx responses.
//
// An empty file is sent as a single empty chunk.
func (c *Client) Upload(ctx context.Context, opts UploadOptions) (*UploadResult, error) {
	if opts.LocalPath == "" {
		return nil, fmt.Errorf("upload: %w", ErrEmptyPath)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(opts.LocalPath)
	}
	if !splice.IsValidName(name) {
		return nil, fmt.Errorf("upload %q: %w", name, ErrInvalidName)
	}

	chunkSize := orDefault(opts.ChunkSize, c.config.ChunkSize)
	parallel := int(orDefault(int64(opts.Parallel), int64(c.config.Parallel)))
	retries := int(orDefault(int64(opts.Retries), int64(c.config.Retries)))

	file, err := os.Open(opts.LocalPath) //#nosec G304 -- localPath is user-provided input
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("upload %s: is a directory", opts.LocalPath)
	}

	size := info.Size()
	total := chunkCount(size, chunkSize)
	if total > splice.MaxTotalChunks {
		return nil, fmt.Errorf("upload %s: %w: %d chunks", name, ErrTooManyChunks, total)
	}

	if err := c.Probe(ctx); err != nil {
		return nil, fmt.Errorf("probe server: %w", err)
	}

	var (
		sent      atomic.Int64
		completed atomic.Bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i := range total {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			start := int64(i) * chunkSize
			part := chunkPart{
				name:  name,
				index: i,
				total: total,
				start: start,
				n:     min(chunkSize, size-start),
				size:  size,
			}
			done, err := c.sendChunkWithRetry(gctx, file, part, retries)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			if done {
				completed.Store(true)
			}
			n := sent.Add(1)
			if opts.Progress != nil {
				opts.Progress(int(n), total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	return &UploadResult{
		LocalPath: opts.LocalPath,
		Name:      name,
		Size:      size,
		Chunks:    total,
		Completed: completed.Load(),
	}, nil
}

// chunkPart locates one chunk inside the local file.
type chunkPart struct {
	name  string
	index int
	total int
	start int64
	n     int64
	size  int64
}

func (p chunkPart) contentRange() string {
	if p.size == 0 {
		return "bytes 0-0/0"
	}
	return fmt.Sprintf("bytes %d-%d/%d", p.start, p.start+p.n-1, p.size)
}

func (c *Client) sendChunkWithRetry(ctx context.Context, file io.ReaderAt, part chunkPart, retries int) (bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx) //#nosec G115 -- retries is non-negative

	return backoff.RetryWithData(func() (bool, error) {
		done, err := c.sendChunk(ctx, file, part)
		if err != nil && !retryable(err) {
			return false, backoff.Permanent(err)
		}
		return done, err
	}, policy)
}

// sendChunk posts one chunk as multipart/form-data. The body is streamed
// through a pipe so a chunk is never held in memory. It reports whether
// the server answered that the object is now complete.
func (c *Client) sendChunk(ctx context.Context, file io.ReaderAt, part chunkPart) (bool, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		_ = pw.CloseWithError(writeChunkForm(mw, part, io.NewSectionReader(file, part.start, part.n)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/objects", pr)
	if err != nil {
		_ = pr.Close()
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Content-Range", part.contentRange())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	case http.StatusPartialContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, parseServerError(resp.StatusCode, body)
	}
}

func writeChunkForm(mw *multipart.Writer, part chunkPart, data io.Reader) error {
	if err := mw.WriteField("chunkIndex", strconv.Itoa(part.index)); err != nil {
		return err
	}
	if err := mw.WriteField("totalChunks", strconv.Itoa(part.total)); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", part.name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, data); err != nil {
		return fmt.Errorf("read chunk %d: %w", part.index, err)
	}
	return mw.Close()
}

// retryable reports whether a failed chunk is worth sending again.
// Client errors are final, cancellation is final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// chunkCount returns how many chunks a file of size bytes needs.
func chunkCount(size, chunkSize int64) int {
	if size == 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// orDefault returns v when positive, otherwise fallback.
func orDefault(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}

func objectURL(endpoint, name string) string {
	return endpoint + "/objects/" + url.PathEscape(name)
}

// Download fetches a completed object.
// If opts.LocalPath is "-", the content is returned via the io.ReadCloser and must be closed by the caller.
// Otherwise, the content is written to the file and the io.ReadCloser is nil.
func (c *Client) Download(ctx context.Context, opts DownloadOptions) (*DownloadResult, io.ReadCloser, error) {
	if opts.Name == "" {
		return nil, nil, fmt.Errorf("download: %w", ErrEmptyName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objectURL(c.config.Endpoint, opts.Name), http.NoBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, nil, parseServerError(resp.StatusCode, body)
	}

	result := &DownloadResult{
		Name:        opts.Name,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}

	if opts.LocalPath == "-" {
		result.LocalPath = "-"
		return result, resp.Body, nil
	}

	localPath := opts.LocalPath
	if localPath == "" {
		localPath = opts.Name
	}
	result.LocalPath = localPath

	dir := filepath.Dir(localPath)
	if dir != "" && dir != "." {
		if mkdirErr := os.MkdirAll(dir, 0o750); mkdirErr != nil {
			_ = resp.Body.Close()
			return nil, nil, fmt.Errorf("create directory: %w", mkdirErr)
		}
	}

	file, createErr := os.Create(localPath) //#nosec G304 -- localPath is user-provided input
	if createErr != nil {
		_ = resp.Body.Close()
		return nil, nil, fmt.Errorf("create file: %w", createErr)
	}

	written, copyErr := io.Copy(file, resp.Body)
	_ = resp.Body.Close()
	if copyErr != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("write file: %w", copyErr)
	}

	if closeErr := file.Close(); closeErr != nil {
		return nil, nil, fmt.Errorf("close file: %w", closeErr)
	}

	result.Size = written
	return result, nil, nil
}

// Delete removes one or more objects, completed or still uploading.
// Continues on error, collecting results for all names.
func (c *Client) Delete(ctx context.Context, opts DeleteOptions) ([]DeleteResult, error) {
	if len(opts.Names) == 0 {
		return nil, ErrNoNames
	}

	results := make([]DeleteResult, 0, len(opts.Names))
	for _, name := range opts.Names {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.deleteSingle(ctx, name))
	}

	return results, nil
}

func (c *Client) deleteSingle(ctx context.Context, name string) DeleteResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, objectURL(c.config.Endpoint, name), http.NoBody)
	if err != nil {
		return DeleteResult{Name: name, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DeleteResult{Name: name, Err: fmt.Errorf("do request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return DeleteResult{Name: name, Deleted: true}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return DeleteResult{Name: name, Err: parseServerError(resp.StatusCode, body)}
}

// HasDeleteErrors returns true if any delete operation failed.
func HasDeleteErrors(results []DeleteResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// List fetches the catalog of completed objects and in-progress uploads.
func (c *Client) List(ctx context.Context) (*ListResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/objects", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, parseServerError(resp.StatusCode, body)
	}

	var result ListResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &result, nil
}

// TotalSize sums the bytes of completed objects in a listing.
func TotalSize(r *ListResult) int64 {
	var total int64
	for _, item := range r.Items {
		if item.Completed {
			total += item.NBytes
		}
	}
	return total
}

// parseServerError builds an APIError, decoding the JSON envelope when present.
func parseServerError(statusCode int, body []byte) error {
	apiErr := &APIError{
		StatusCode: statusCode,
		Body:       string(body),
	}
	var env serverError
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error
		apiErr.Message = env.Message
	}
	return apiErr
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Code       string // machine readable code, e.g. "invalid_range"
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return "server error: " + strconv.Itoa(e.StatusCode) + " " + e.Code + ": " + e.Message
	}
	return "server error: " + strconv.Itoa(e.StatusCode) + " - " + e.Body
}

// Is reports whether target matches this error.
// It matches if target is an *APIError with the same StatusCode.
func (e *APIError) Is(target error) bool {
	var t *APIError
	ok := errors.As(target, &t)
	if !ok {
		return false
	}
	return t.StatusCode == e.StatusCode
}

// IsNotFound returns true if the error is a 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Sentinel errors for common API error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrNotFound is returned when the object or session does not exist (404).
	ErrNotFound = &APIError{StatusCode: http.StatusNotFound}

	// ErrBadRequest is returned for a malformed chunk request (400).
	ErrBadRequest = &APIError{StatusCode: http.StatusBadRequest}

	// ErrChunkTooLarge is returned when a chunk exceeds the server limit (413).
	ErrChunkTooLarge = &APIError{StatusCode: http.StatusRequestEntityTooLarge}

	// ErrUnavailable is returned when the server cannot reach its storage (503).
	ErrUnavailable = &APIError{StatusCode: http.StatusServiceUnavailable}
)
