package splice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultLeaseTTL bounds how long a crashed finalizer can block another one.
const DefaultLeaseTTL = 15 * time.Minute

// Finalizer assembles a complete session into its published object.
type Finalizer struct {
	store    BlobStore
	locker   Locker
	leaseTTL time.Duration
	observer Observer
}

// NewFinalizer creates a Finalizer. A nil locker falls back to a BlobLocker
// on the same store and a nil observer discards events.
func NewFinalizer(store BlobStore, locker Locker, leaseTTL time.Duration, observer Observer) *Finalizer {
	if locker == nil {
		locker = NewBlobLocker(store)
	}
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Finalizer{store: store, locker: locker, leaseTTL: leaseTTL, observer: observer}
}

// Finalize concatenates chunks 0..N-1 into completed/{name} and replaces the
// session with a receipt of the published upload.
//
// Only the holder of the finalize lease proceeds; everyone else gets
// ErrRaceLost, as does a caller that finds the session already gone or
// published. Chunks are streamed into a staging blob inside the session
// prefix, then renamed into the completed namespace, so readers never see a
// partial object. The work is bounded by the lease lifetime.
//
// Returns ErrIncomplete if a chunk is missing when the lease is taken.
func (f *Finalizer) Finalize(ctx context.Context, name string) (result FinalizeResult, err error) {
	start := time.Now()
	defer func() {
		switch {
		case err == nil:
			f.observer.FinalizeCompleted(time.Since(start), result.Size)
		case errors.Is(err, ErrRaceLost):
			f.observer.FinalizeRaceLost()
		default:
			f.observer.FinalizeFailed(err)
		}
	}()

	prefix, err := SessionPrefix(name)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize: %w", err)
	}

	if _, err := f.sessionMetadata(ctx, name, prefix); err != nil {
		return FinalizeResult{}, err
	}

	// Past the lease expiry another finalizer may take over, so assembly and
	// publishing must end before it.
	deadline := time.Now().Add(f.leaseTTL)
	lease, err := f.locker.Acquire(ctx, name, f.leaseTTL)
	if errors.Is(err, ErrLeaseHeld) {
		return FinalizeResult{}, fmt.Errorf("finalize %q: %w", name, ErrRaceLost)
	}
	if err != nil {
		// A sweep removing the session while the marker is created can fail
		// the acquire with a storage error.
		if _, metaErr := readMetadata(ctx, f.store, prefix); errors.Is(metaErr, ErrNotFound) {
			return FinalizeResult{}, fmt.Errorf("finalize %q: session not found: %w", name, ErrRaceLost)
		}
		return FinalizeResult{}, fmt.Errorf("finalize %q: %w", name, err)
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			slog.Warn("failed to release finalize lease", "name", name, "error", relErr)
		}
	}()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// The previous holder may have published between our first read and
	// taking the lease.
	meta, err := f.sessionMetadata(ctx, name, prefix)
	if err != nil {
		return FinalizeResult{}, err
	}

	entries, err := f.store.List(ctx, prefix)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize %q: %w", name, storageErr(err))
	}
	if present, _ := summarize(entries, meta.TotalChunks); present != meta.TotalChunks {
		return FinalizeResult{}, fmt.Errorf("finalize %q: %w: %d of %d chunks present",
			name, ErrIncomplete, present, meta.TotalChunks)
	}

	meta.Finalizing = true
	if err := writeMetadata(ctx, f.store, prefix, meta); err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize %q: %w", name, err)
	}

	staging := StagingKey(prefix)
	chunks := newChunkReader(ctx, f.store, prefix, meta.TotalChunks)
	size, err := f.store.Put(ctx, staging, chunks)
	if closeErr := chunks.Close(); closeErr != nil {
		slog.Warn("failed to close chunk", "name", name, "error", closeErr)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return FinalizeResult{}, fmt.Errorf("finalize %q: chunk vanished during assembly: %w", name, ErrRaceLost)
		}
		return FinalizeResult{}, fmt.Errorf("finalize %q: assemble: %w", name, storageErr(err))
	}

	if meta.TotalSize > 0 && size != meta.TotalSize {
		slog.Warn("assembled size differs from declared size",
			"name", name, "declared", meta.TotalSize, "assembled", size)
	}

	dest, err := CompletedKey(name)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize: %w", err)
	}
	if err := f.store.Rename(ctx, staging, dest); err != nil {
		if errors.Is(err, ErrNotFound) {
			return FinalizeResult{}, fmt.Errorf("finalize %q: staging object vanished: %w", name, ErrRaceLost)
		}
		return FinalizeResult{}, fmt.Errorf("finalize %q: publish: %w", name, storageErr(err))
	}

	// The object is published at this point. The receipt lets a retried
	// chunk be answered without reopening the session. If it cannot be
	// written the session keeps its finalizing flag and its chunks, which
	// hides it from listings until the sweeper removes it.
	published := context.WithoutCancel(ctx)
	receipt := SessionMetadata{
		TotalChunks:  meta.TotalChunks,
		TotalSize:    meta.TotalSize,
		FinalizedAt:  time.Now().UTC(),
		ChunkDigests: chunks.digests,
	}
	if err := writeMetadata(published, f.store, prefix, receipt); err != nil {
		slog.Warn("failed to write upload receipt", "name", name, "error", err)
	} else {
		f.removeChunks(published, name, prefix)
	}

	slog.Info("upload finalized", "name", name, "chunks", meta.TotalChunks, "bytes", size,
		"duration", time.Since(start))

	return FinalizeResult{Name: name, Size: size, Chunks: meta.TotalChunks}, nil
}

func (f *Finalizer) sessionMetadata(ctx context.Context, name, prefix string) (SessionMetadata, error) {
	meta, err := readMetadata(ctx, f.store, prefix)
	switch {
	case err == nil && !meta.Finalized():
		return meta, nil
	case errors.Is(err, ErrNotFound):
		return SessionMetadata{}, fmt.Errorf("finalize %q: session not found: %w", name, ErrRaceLost)
	case err == nil && meta.Finalized():
		return SessionMetadata{}, fmt.Errorf("finalize %q: already published: %w", name, ErrRaceLost)
	case errors.Is(err, errMalformedMetadata):
		return SessionMetadata{}, fmt.Errorf("finalize %q: %w: %w", name, ErrIncomplete, err)
	default:
		return SessionMetadata{}, fmt.Errorf("finalize %q: %w", name, err)
	}
}

// removeChunks deletes the chunk blobs and staging leftovers of a published
// session, keeping its receipt.
func (f *Finalizer) removeChunks(ctx context.Context, name, prefix string) {
	entries, err := f.store.List(ctx, prefix)
	if err != nil {
		slog.Warn("failed to list finalized session", "name", name, "error", err)
		return
	}
	for _, e := range entries {
		if e.Dir {
			continue
		}
		if _, ok := ParseChunkIndex(e.Name); !ok && e.Name != stagingFileName {
			continue
		}
		key := prefix + "/" + e.Name
		if err := f.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("failed to remove finalized chunk", "name", name, "key", key, "error", err)
		}
	}
}

// chunkReader streams chunks 0..total-1 back to back, opening each one only
// when the previous is exhausted. The digest of every chunk is collected on
// the way.
type chunkReader struct {
	ctx     context.Context
	store   BlobStore
	prefix  string
	total   int
	next    int
	cur     io.ReadCloser
	digest  *xxhash.Digest
	digests []string
}

func newChunkReader(ctx context.Context, store BlobStore, prefix string, total int) *chunkReader {
	return &chunkReader{
		ctx:     ctx,
		store:   store,
		prefix:  prefix,
		total:   total,
		digest:  xxhash.New(),
		digests: make([]string, 0, total),
	}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= r.total {
				return 0, io.EOF
			}
			if err := r.ctx.Err(); err != nil {
				return 0, err
			}
			rc, err := r.store.Get(r.ctx, ChunkKey(r.prefix, r.next))
			if err != nil {
				return 0, fmt.Errorf("open chunk %d: %w", r.next, err)
			}
			r.cur = rc
			r.next++
			r.digest.Reset()
		}

		n, err := r.cur.Read(p)
		_, _ = r.digest.Write(p[:n])
		if errors.Is(err, io.EOF) {
			if closeErr := r.cur.Close(); closeErr != nil {
				return n, fmt.Errorf("close chunk %d: %w", r.next-1, closeErr)
			}
			r.cur = nil
			r.digests = append(r.digests, formatDigest(r.digest))
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *chunkReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
