package splice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

var errMalformedMetadata = errors.New("malformed session metadata")

// DefaultRetryWindow is how long the receipt of a published upload keeps
// recognizing retried chunks.
const DefaultRetryWindow = 15 * time.Minute

// Tracker records chunk arrivals and reports per-session progress. It keeps
// no state of its own: everything is read back from the BlobStore.
type Tracker struct {
	store       BlobStore
	retryWindow time.Duration
	now         func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithRetryWindow sets how long after publishing a retried chunk is answered
// from the upload's receipt. Non-positive values keep the default.
func WithRetryWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.retryWindow = d
		}
	}
}

// NewTracker creates a Tracker over store.
func NewTracker(store BlobStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: store, retryWindow: DefaultRetryWindow, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AcceptChunk persists one chunk and reports whether the session now holds
// every chunk.
//
// The session metadata is created by the first chunk seen for a name. Later
// chunks must agree on totalChunks; a chunk that disagrees fails with
// ErrInvalidRange and nothing is written. Chunk writes overwrite, so a retried
// chunk is safe.
//
// Completeness is decided by counting the chunk blobs present after the
// write, so chunks may arrive in any order. Two concurrent requests can both
// observe a complete session; the finalize lease resolves that.
//
// A chunk arriving after its upload was published is checked against the
// upload's receipt. A repeat of a published chunk is reported with Published
// set and is not stored. Anything else starts a new session for the name.
func (t *Tracker) AcceptChunk(ctx context.Context, chunk Chunk, content io.Reader) (AcceptResult, error) {
	if err := ctx.Err(); err != nil {
		return AcceptResult{}, fmt.Errorf("accept chunk: %w", err)
	}

	if err := chunk.Validate(); err != nil {
		return AcceptResult{}, fmt.Errorf("accept chunk %q %d/%d: %w", chunk.Name, chunk.Index, chunk.Total, err)
	}

	prefix, err := SessionPrefix(chunk.Name)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept chunk: %w", err)
	}

	meta, err := readMetadata(ctx, t.store, prefix)
	switch {
	case err == nil && meta.Finalized():
		return t.acceptAfterPublish(ctx, chunk, prefix, meta, content)
	case err == nil:
		if meta.TotalChunks != chunk.Total {
			return AcceptResult{}, fmt.Errorf("accept chunk %q: %w: session has %d chunks, got %d",
				chunk.Name, ErrInvalidRange, meta.TotalChunks, chunk.Total)
		}
	case errors.Is(err, ErrNotFound), errors.Is(err, errMalformedMetadata):
		meta = SessionMetadata{TotalChunks: chunk.Total, TotalSize: chunk.TotalSize}
		if writeErr := writeMetadata(ctx, t.store, prefix, meta); writeErr != nil {
			return AcceptResult{}, fmt.Errorf("accept chunk %q: %w", chunk.Name, writeErr)
		}
	default:
		return AcceptResult{}, fmt.Errorf("accept chunk %q: %w", chunk.Name, err)
	}

	key := ChunkKey(prefix, chunk.Index)
	digest := xxhash.New()
	n, err := t.store.Put(ctx, key, io.TeeReader(content, digest))
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept chunk %q %d: %w", chunk.Name, chunk.Index, storageErr(err))
	}

	// A finalize may have published the session between reading the
	// metadata and writing the chunk.
	if current, err := readMetadata(ctx, t.store, prefix); err == nil && current.Finalized() {
		return t.settleLateChunk(ctx, chunk, prefix, current, key, n, formatDigest(digest))
	}

	return t.countChunks(ctx, chunk.Name, prefix, meta.TotalChunks, n)
}

// acceptAfterPublish handles a chunk for a name whose metadata is a receipt.
// The content is parked under a temporary key until it is known whether it
// repeats a published chunk.
func (t *Tracker) acceptAfterPublish(ctx context.Context, chunk Chunk, prefix string, receipt SessionMetadata, content io.Reader) (AcceptResult, error) {
	tmp := IncomingKey(prefix, uuid.NewString())
	digest := xxhash.New()
	n, err := t.store.Put(ctx, tmp, io.TeeReader(content, digest))
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept chunk %q %d: %w", chunk.Name, chunk.Index, storageErr(err))
	}

	if t.recognizes(receipt, chunk, formatDigest(digest)) {
		t.discard(ctx, tmp)
		slog.Debug("retried chunk of published upload", "name", chunk.Name, "index", chunk.Index)
		return publishedResult(receipt, n), nil
	}

	meta := SessionMetadata{TotalChunks: chunk.Total, TotalSize: chunk.TotalSize}
	if err := writeMetadata(ctx, t.store, prefix, meta); err != nil {
		t.discard(ctx, tmp)
		return AcceptResult{}, fmt.Errorf("accept chunk %q: %w", chunk.Name, err)
	}
	if err := t.store.Rename(ctx, tmp, ChunkKey(prefix, chunk.Index)); err != nil {
		t.discard(ctx, tmp)
		return AcceptResult{}, fmt.Errorf("accept chunk %q %d: %w", chunk.Name, chunk.Index, storageErr(err))
	}
	slog.Debug("new upload replaces published receipt", "name", chunk.Name, "total_chunks", chunk.Total)

	return t.countChunks(ctx, chunk.Name, prefix, meta.TotalChunks, n)
}

// settleLateChunk handles a chunk written to its key while the session was
// being published. A repeat is removed again; anything else turns the receipt
// back into a session.
func (t *Tracker) settleLateChunk(ctx context.Context, chunk Chunk, prefix string, receipt SessionMetadata, key string, n int64, digest string) (AcceptResult, error) {
	if t.recognizes(receipt, chunk, digest) {
		t.discard(ctx, key)
		return publishedResult(receipt, n), nil
	}

	meta := SessionMetadata{TotalChunks: chunk.Total, TotalSize: chunk.TotalSize}
	if err := writeMetadata(ctx, t.store, prefix, meta); err != nil {
		return AcceptResult{}, fmt.Errorf("accept chunk %q: %w", chunk.Name, err)
	}
	return t.countChunks(ctx, chunk.Name, prefix, meta.TotalChunks, n)
}

func (t *Tracker) recognizes(receipt SessionMetadata, chunk Chunk, digest string) bool {
	if t.now().Sub(receipt.FinalizedAt) > t.retryWindow {
		return false
	}
	return receipt.repeats(chunk, digest)
}

func (t *Tracker) discard(ctx context.Context, key string) {
	if err := t.store.Delete(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, ErrNotFound) {
		slog.Warn("failed to remove chunk", "key", key, "error", err)
	}
}

func (t *Tracker) countChunks(ctx context.Context, name, prefix string, total int, n int64) (AcceptResult, error) {
	entries, err := t.store.List(ctx, prefix)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept chunk %q: count chunks: %w", name, storageErr(err))
	}
	present, _ := summarize(entries, total)

	return AcceptResult{
		SessionComplete: present == total,
		BytesWritten:    n,
		UploadedChunks:  present,
	}, nil
}

func publishedResult(receipt SessionMetadata, n int64) AcceptResult {
	return AcceptResult{
		SessionComplete: true,
		Published:       true,
		BytesWritten:    n,
		UploadedChunks:  receipt.TotalChunks,
	}
}

// formatDigest renders a chunk digest the way receipts store it.
func formatDigest(d *xxhash.Digest) string {
	return strconv.FormatUint(d.Sum64(), 16)
}

// Progress reads a session's metadata and counts its chunk blobs.
//
// Returns ErrNotFound if the session has neither metadata nor blobs. When the
// prefix exists but metadata is missing or unreadable, a degraded single-unit
// report is returned instead of an error so listings keep working.
func (t *Tracker) Progress(ctx context.Context, name string) (Progress, error) {
	if err := ctx.Err(); err != nil {
		return Progress{}, fmt.Errorf("progress: %w", err)
	}

	prefix, err := SessionPrefix(name)
	if err != nil {
		return Progress{}, fmt.Errorf("progress: %w", err)
	}

	entries, err := t.store.List(ctx, prefix)
	if err != nil {
		return Progress{}, fmt.Errorf("progress %q: %w", name, storageErr(err))
	}

	meta, metaErr := readMetadata(ctx, t.store, prefix)
	if metaErr != nil && !errors.Is(metaErr, ErrNotFound) && !errors.Is(metaErr, errMalformedMetadata) {
		return Progress{}, fmt.Errorf("progress %q: %w", name, metaErr)
	}

	if len(entries) == 0 && errors.Is(metaErr, ErrNotFound) {
		return Progress{}, fmt.Errorf("progress %q: %w", name, ErrNotFound)
	}

	if metaErr == nil && meta.Finalized() {
		return Progress{
			Name:           name,
			UploadedChunks: meta.TotalChunks,
			TotalChunks:    meta.TotalChunks,
			TotalSize:      meta.TotalSize,
			Finalized:      true,
			UpdatedAt:      meta.FinalizedAt,
		}, nil
	}

	present, newest := summarize(entries, meta.TotalChunks)

	if metaErr != nil {
		return Progress{
			Name:           name,
			UploadedChunks: 1,
			TotalChunks:    1,
			Degraded:       true,
			UpdatedAt:      newest,
		}, nil
	}

	return Progress{
		Name:           name,
		UploadedChunks: present,
		TotalChunks:    meta.TotalChunks,
		TotalSize:      meta.TotalSize,
		Finalizing:     meta.Finalizing,
		UpdatedAt:      newest,
	}, nil
}

// summarize counts chunk blobs with an index below total and returns the
// newest modification time among all entries.
func summarize(entries []BlobInfo, total int) (int, time.Time) {
	var present int
	var newest time.Time
	for _, e := range entries {
		if e.ModTime.After(newest) {
			newest = e.ModTime
		}
		if e.Dir {
			continue
		}
		if index, ok := ParseChunkIndex(e.Name); ok && index < total {
			present++
		}
	}
	return present, newest
}

func readMetadata(ctx context.Context, store BlobStore, prefix string) (SessionMetadata, error) {
	rc, err := store.Get(ctx, MetadataKey(prefix))
	if err != nil {
		return SessionMetadata{}, storageErr(err)
	}
	defer func() { _ = rc.Close() }()

	var meta SessionMetadata
	if err := json.NewDecoder(rc).Decode(&meta); err != nil {
		return SessionMetadata{}, fmt.Errorf("%w: %w", errMalformedMetadata, err)
	}
	if meta.TotalChunks < 1 || meta.TotalChunks > MaxTotalChunks {
		return SessionMetadata{}, fmt.Errorf("%w: totalChunks %d", errMalformedMetadata, meta.TotalChunks)
	}
	return meta, nil
}

func writeMetadata(ctx context.Context, store BlobStore, prefix string, meta SessionMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	if _, err := store.Put(ctx, MetadataKey(prefix), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write session metadata: %w", storageErr(err))
	}
	return nil
}

// storageErr marks a blob store failure as ErrStorageUnavailable. Not-found
// and context errors pass through unchanged so callers can branch on them.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrExists),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
}
