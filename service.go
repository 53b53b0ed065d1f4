package splice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// SpliceService is the entry point used by transports. It wires the Tracker,
// Finalizer and Catalog over one BlobStore and decides whether finalize runs
// on the request path or in the background Scheduler.
type SpliceService struct {
	store       BlobStore
	tracker     *Tracker
	finalizer   *Finalizer
	catalog     *Catalog
	scheduler   *Scheduler
	observer    Observer
	retryWindow time.Duration
}

// ServiceConfig holds configuration options for SpliceService.
type ServiceConfig struct {
	// DeferFinalize runs finalize in the background after the completing
	// chunk has been acknowledged. When false the completing request waits
	// for the object to be published.
	DeferFinalize   bool
	Workers         int           // Concurrent background finalizations (default: 4)
	FinalizeTimeout time.Duration // Per-attempt finalize timeout (default: 10m)
	Attempts        int           // Background finalize attempts (default: 3)
	LeaseTTL        time.Duration // Finalize lease lifetime (default: 15m)
	RetryWindow     time.Duration // How long retried chunks of a published upload are recognized (default: 15m)
	Locker          Locker        // Lease provider (default: BlobLocker on the store)
	Observer        Observer      // Event sink (default: discard)
}

// NewSpliceService creates a SpliceService over store. Zero config values
// take their defaults.
func NewSpliceService(store BlobStore, cfg ServiceConfig) (*SpliceService, error) {
	if store == nil {
		return nil, fmt.Errorf("new splice service: %w: blob store is required", ErrInvalidInput)
	}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	retryWindow := cfg.RetryWindow
	if retryWindow <= 0 {
		retryWindow = DefaultRetryWindow
	}

	tracker := NewTracker(store, WithRetryWindow(retryWindow))
	s := &SpliceService{
		store:       store,
		tracker:     tracker,
		finalizer:   NewFinalizer(store, cfg.Locker, cfg.LeaseTTL, observer),
		catalog:     NewCatalog(store, tracker),
		observer:    observer,
		retryWindow: retryWindow,
	}

	if cfg.DeferFinalize {
		s.scheduler = NewScheduler(s.runFinalize, SchedulerConfig{
			Workers:  cfg.Workers,
			Timeout:  cfg.FinalizeTimeout,
			Attempts: cfg.Attempts,
		})
	}

	return s, nil
}

// UploadChunk records one chunk and, when it completes the session, triggers
// finalize.
//
// In inline mode the returned result is only produced after the object is
// published; a finalize failure is returned so the client retries the chunk.
// Losing the finalize race to another request is not an error: the winner
// publishes the same bytes. A retried chunk of an upload that is already
// published is acknowledged as complete without finalizing again.
func (s *SpliceService) UploadChunk(ctx context.Context, chunk Chunk, content io.Reader) (AcceptResult, error) {
	res, err := s.tracker.AcceptChunk(ctx, chunk, content)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("upload chunk: %w", err)
	}
	s.observer.ChunkAccepted(res.BytesWritten)

	if !res.SessionComplete || res.Published {
		return res, nil
	}

	if s.scheduler != nil {
		if !s.scheduler.Schedule(chunk.Name) {
			slog.Warn("finalize not scheduled, service is closing", "name", chunk.Name)
		}
		return res, nil
	}

	if err := s.runFinalize(ctx, chunk.Name); err != nil {
		return AcceptResult{}, fmt.Errorf("upload chunk: %w", err)
	}
	return res, nil
}

// Finalize runs finalize for name on the caller's goroutine. Unlike the
// upload path, ErrRaceLost and ErrIncomplete are returned to the caller.
func (s *SpliceService) Finalize(ctx context.Context, name string) (FinalizeResult, error) {
	if err := ctx.Err(); err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize: %w", err)
	}
	return s.finalizer.Finalize(ctx, name)
}

// runFinalize is the finalize path shared by inline uploads and the
// Scheduler.
func (s *SpliceService) runFinalize(ctx context.Context, name string) error {
	_, err := s.finalizer.Finalize(ctx, name)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRaceLost), errors.Is(err, ErrIncomplete):
		// Chunks seen complete by the caller were consumed by a concurrent
		// finalize in the meantime.
		slog.Debug("finalize skipped", "name", name, "reason", err)
		return nil
	default:
		slog.Error("finalize failed", "name", name, "error", err)
		return err
	}
}

// Progress reports the upload session of name.
func (s *SpliceService) Progress(ctx context.Context, name string) (Progress, error) {
	return s.tracker.Progress(ctx, name)
}

// List returns completed objects and in-progress sessions.
func (s *SpliceService) List(ctx context.Context) (ListResult, error) {
	return s.catalog.List(ctx)
}

// Delete removes the completed object name.
func (s *SpliceService) Delete(ctx context.Context, name string) error {
	return s.catalog.Delete(ctx, name)
}

// Open returns the completed object name. The caller must close the reader.
func (s *SpliceService) Open(ctx context.Context, name string) (BlobInfo, io.ReadSeekCloser, error) {
	return s.catalog.Open(ctx, name)
}

// Resume finalizes every session whose chunks are all present. It covers a
// process that stopped after the last chunk was written but before finalize
// ran. In deferred mode the sessions are scheduled and Resume returns
// without waiting.
//
// Returns the number of sessions scheduled or finalized.
func (s *SpliceService) Resume(ctx context.Context) (int, error) {
	sessions, err := s.sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}

	resumed := 0
	for _, p := range sessions {
		if err := ctx.Err(); err != nil {
			return resumed, fmt.Errorf("resume: %w", err)
		}
		if !p.Complete() {
			continue
		}

		if s.scheduler != nil {
			if s.scheduler.Schedule(p.Name) {
				resumed++
			}
			continue
		}

		if err := s.runFinalize(ctx, p.Name); err != nil {
			return resumed, fmt.Errorf("resume %q: %w", p.Name, err)
		}
		resumed++
	}

	if resumed > 0 {
		slog.Info("resumed complete sessions", "count", resumed)
	}
	return resumed, nil
}

// Sweep removes incomplete sessions that have not received a chunk within
// olderThan. Complete sessions are left for Resume. Receipts of published
// uploads are removed once the retry window has passed.
//
// If a session has already vanished the sweep continues.
//
// Returns the number of sessions removed.
func (s *SpliceService) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("sweep: %w: age must be positive", ErrInvalidInput)
	}

	sessions, err := s.sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	now := time.Now()
	cutoff := now.Add(-olderThan)
	receiptCutoff := now.Add(-s.retryWindow)
	swept := 0
	for _, p := range sessions {
		if err := ctx.Err(); err != nil {
			return swept, fmt.Errorf("sweep: %w", err)
		}
		if p.Complete() {
			continue
		}
		if p.Finalized && p.UpdatedAt.After(receiptCutoff) {
			continue
		}
		if !p.Finalized && p.UpdatedAt.After(cutoff) {
			continue
		}

		prefix, err := SessionPrefix(p.Name)
		if err != nil {
			continue
		}
		if err := s.store.DeleteAll(ctx, prefix); err != nil {
			return swept, fmt.Errorf("sweep %q: %w", p.Name, storageErr(err))
		}
		if p.Finalized {
			slog.Debug("upload receipt removed", "name", p.Name, "finalized_at", p.UpdatedAt)
		} else {
			slog.Info("abandoned upload session removed", "name", p.Name,
				"uploaded_chunks", p.UploadedChunks, "total_chunks", p.TotalChunks, "updated_at", p.UpdatedAt)
		}
		swept++
	}

	return swept, nil
}

// sessions reads progress for every session prefix. Prefixes without any
// blobs are reported with a zero UpdatedAt so Sweep can clear them.
func (s *SpliceService) sessions(ctx context.Context) ([]Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirs, err := s.store.List(ctx, UploadsNamespace)
	if err != nil {
		return nil, storageErr(err)
	}

	result := make([]Progress, 0, len(dirs))
	for _, dir := range dirs {
		if !dir.Dir {
			continue
		}
		name, ok := NameFromSessionDir(dir.Name)
		if !ok {
			continue
		}

		p, err := s.tracker.Progress(ctx, name)
		if errors.Is(err, ErrNotFound) {
			result = append(result, Progress{Name: name, Degraded: true})
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// Close waits for background finalizations to finish or ctx to end.
func (s *SpliceService) Close(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}
	if err := s.scheduler.Close(ctx); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
