package splice

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Catalog lists completed objects alongside in-progress sessions and serves
// completed objects back to readers.
type Catalog struct {
	store   BlobStore
	tracker *Tracker
}

func NewCatalog(store BlobStore, tracker *Tracker) *Catalog {
	return &Catalog{store: store, tracker: tracker}
}

// List returns one entry per completed object followed by one entry per
// upload session.
//
// Sessions that disappear while listing are skipped, as are receipts of
// published uploads. A session whose finalizing flag is set and whose
// completed object already exists is left out, so a finished object is not
// reported twice.
func (c *Catalog) List(ctx context.Context) (ListResult, error) {
	if err := ctx.Err(); err != nil {
		return ListResult{}, fmt.Errorf("list objects: %w", err)
	}

	completed, err := c.store.List(ctx, CompletedNamespace)
	if err != nil {
		return ListResult{}, fmt.Errorf("list objects: %w", storageErr(err))
	}

	items := make([]ObjectEntry, 0, len(completed))
	published := make(map[string]bool, len(completed))
	for _, blob := range completed {
		if blob.Dir || !IsValidName(blob.Name) {
			continue
		}
		items = append(items, ObjectEntry{
			Path:      "/" + blob.Name,
			NBytes:    blob.Size,
			Completed: true,
		})
		published[blob.Name] = true
	}

	sessions, err := c.store.List(ctx, UploadsNamespace)
	if err != nil {
		return ListResult{}, fmt.Errorf("list objects: %w", storageErr(err))
	}

	for _, dir := range sessions {
		if !dir.Dir {
			continue
		}
		name, ok := NameFromSessionDir(dir.Name)
		if !ok {
			continue
		}

		p, err := c.tracker.Progress(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return ListResult{}, fmt.Errorf("list objects: %w", err)
		}

		if p.Finalized || (p.Finalizing && published[name]) {
			continue
		}
		items = append(items, sessionEntry(p))
	}

	return ListResult{Items: items}, nil
}

func sessionEntry(p Progress) ObjectEntry {
	finalizing := p.Finalizing
	uploaded := p.UploadedChunks
	total := p.TotalChunks
	return ObjectEntry{
		Path:           "/" + p.Name,
		NBytes:         p.TotalSize,
		Completed:      false,
		Finalizing:     &finalizing,
		UploadedChunks: &uploaded,
		TotalChunks:    &total,
	}
}

// Open returns the completed object's info and content. The caller must
// close the reader.
func (c *Catalog) Open(ctx context.Context, name string) (BlobInfo, io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return BlobInfo{}, nil, fmt.Errorf("open object: %w", err)
	}

	key, err := CompletedKey(name)
	if err != nil {
		return BlobInfo{}, nil, fmt.Errorf("open object: %w", err)
	}

	info, err := c.store.Stat(ctx, key)
	if err != nil {
		return BlobInfo{}, nil, fmt.Errorf("open object %q: %w", name, storageErr(err))
	}

	rc, err := c.store.Get(ctx, key)
	if err != nil {
		return BlobInfo{}, nil, fmt.Errorf("open object %q: %w", name, storageErr(err))
	}

	return info, rc, nil
}

// Delete removes a completed object. In-progress sessions are not touched.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	key, err := CompletedKey(name)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete object %q: %w", name, storageErr(err))
	}

	return nil
}
