// Package filesystem provides a local file system BlobStore for splice.
// Every write goes to a temp file in the store root and is renamed into
// place, so readers never observe a partially written blob.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"github.com/sagarc03/splice"
)

// Store provides file system storage operations.
type Store struct {
	root *os.Root
}

// NewFileStorage creates a new Store with the given root directory.
// The root provides sandboxed file operations preventing path traversal.
func NewFileStorage(root *os.Root) *Store {
	return &Store{root: root}
}

// Get opens a blob for reading. Returns splice.ErrNotFound if the blob does not
// exist or is a directory.
func (s *Store) Get(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.root.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, splice.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close file", "key", key, "err", closeErr)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		return nil, splice.ErrNotFound
	}

	return f, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Put atomically writes content to key using a temp file and rename.
// It creates intermediate directories as needed and returns the number of
// bytes written. The operation respects context cancellation.
func (s *Store) Put(ctx context.Context, key string, content io.Reader) (int64, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}

	tmpFile, n, err := s.writeTemp(ctx, content)
	if err != nil {
		return 0, err
	}

	success := false
	defer func() {
		if !success {
			s.removeTemp(tmpFile)
		}
	}()

	if err := s.mkdirParent(key); err != nil {
		return 0, err
	}

	if renameErr := s.root.Rename(tmpFile, key); renameErr != nil {
		return 0, fmt.Errorf("failed to rename file: %w", renameErr)
	}

	success = true
	return n, nil
}

// PutIfAbsent writes content to key only when key does not exist yet. The
// content is fully written to a temp file and then hard linked into place,
// which fails atomically if key is taken.
func (s *Store) PutIfAbsent(ctx context.Context, key string, content io.Reader) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	tmpFile, _, err := s.writeTemp(ctx, content)
	if err != nil {
		return err
	}
	defer s.removeTemp(tmpFile)

	if err := s.mkdirParent(key); err != nil {
		return err
	}

	if linkErr := s.root.Link(tmpFile, key); linkErr != nil {
		if errors.Is(linkErr, os.ErrExist) {
			return splice.ErrExists
		}
		return fmt.Errorf("failed to link file: %w", linkErr)
	}

	return nil
}

func (s *Store) writeTemp(ctx context.Context, content io.Reader) (string, int64, error) {
	tmpFile := tmpFileName()
	t, createErr := s.root.Create(tmpFile)
	if createErr != nil {
		return "", 0, fmt.Errorf("could not open temp file: %w", createErr)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			slog.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			s.removeTemp(tmpFile)
		}
	}()

	n, err := io.Copy(t, &ctxReader{ctx: ctx, r: content})
	if err != nil {
		return "", 0, fmt.Errorf("could not copy file contents: %w", err)
	}

	if err := t.Sync(); err != nil {
		return "", 0, fmt.Errorf("could not sync written file: %w", err)
	}

	success = true
	return tmpFile, n, nil
}

func (s *Store) removeTemp(name string) {
	if rmErr := s.root.Remove(name); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		slog.Warn("failed to remove tmp file", "err", rmErr)
	}
}

func (s *Store) mkdirParent(key string) error {
	destDir := filepath.Dir(key)
	if destDir == "." {
		return nil
	}
	if err := s.root.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("could not create intermediate directories: %w", err)
	}
	return nil
}

// Stat returns the size and modification time of a blob. Directories are
// reported as splice.ErrNotFound.
func (s *Store) Stat(ctx context.Context, key string) (splice.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return splice.BlobInfo{}, err
	}

	info, err := s.root.Stat(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return splice.BlobInfo{}, splice.ErrNotFound
		}
		return splice.BlobInfo{}, fmt.Errorf("could not stat file: %w", err)
	}
	if info.IsDir() {
		return splice.BlobInfo{}, splice.ErrNotFound
	}

	return blobInfo(path.Dir(key), info), nil
}

// List returns the direct children of prefix sorted by name. A missing
// prefix yields an empty slice.
func (s *Store) List(ctx context.Context, prefix string) ([]splice.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := fs.ReadDir(s.root.FS(), prefix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []splice.BlobInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	entries := make([]splice.BlobInfo, 0, len(dirEntries))
	for _, entry := range dirEntries {
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("list files: %w", err)
		}
		entries = append(entries, blobInfo(prefix, info))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes a blob. Returns splice.ErrNotFound if the blob does not exist.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.root.Remove(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return splice.ErrNotFound
		}
		return fmt.Errorf("could not delete file: %w", err)
	}
	return nil
}

// deleteAllAttempts bounds retries when a concurrent writer adds a file
// while the tree is being removed.
const deleteAllAttempts = 3

// DeleteAll removes prefix and everything below it.
func (s *Store) DeleteAll(ctx context.Context, prefix string) error {
	var err error
	for range deleteAllAttempts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.root.RemoveAll(prefix)
		if err == nil || !errors.Is(err, syscall.ENOTEMPTY) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("could not delete directory: %w", err)
	}
	return nil
}

// Rename moves src to dst, creating dst's parent directories.
func (s *Store) Rename(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.root.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return splice.ErrNotFound
		}
		return fmt.Errorf("could not stat file: %w", err)
	}

	if err := s.mkdirParent(dst); err != nil {
		return err
	}

	if err := s.root.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return splice.ErrNotFound
		}
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func blobInfo(dir string, info fs.FileInfo) splice.BlobInfo {
	return splice.BlobInfo{
		Key:     path.Join(dir, info.Name()),
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Dir:     info.IsDir(),
	}
}

func tmpFileName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
}
