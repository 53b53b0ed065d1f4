package splice_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/filesystem"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type SpyBlobStore struct {
	mock.Mock
}

func (s *SpyBlobStore) Put(ctx context.Context, key string, content io.Reader) (int64, error) {
	args := s.Called(ctx, key, content)
	return args.Get(0).(int64), args.Error(1)
}

func (s *SpyBlobStore) PutIfAbsent(ctx context.Context, key string, content io.Reader) error {
	args := s.Called(ctx, key, content)
	return args.Error(0)
}

func (s *SpyBlobStore) Get(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	args := s.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadSeekCloser)
	return rc, args.Error(1)
}

func (s *SpyBlobStore) Stat(ctx context.Context, key string) (splice.BlobInfo, error) {
	args := s.Called(ctx, key)
	return args.Get(0).(splice.BlobInfo), args.Error(1)
}

func (s *SpyBlobStore) List(ctx context.Context, prefix string) ([]splice.BlobInfo, error) {
	args := s.Called(ctx, prefix)
	entries, _ := args.Get(0).([]splice.BlobInfo)
	return entries, args.Error(1)
}

func (s *SpyBlobStore) Delete(ctx context.Context, key string) error {
	args := s.Called(ctx, key)
	return args.Error(0)
}

func (s *SpyBlobStore) DeleteAll(ctx context.Context, prefix string) error {
	args := s.Called(ctx, prefix)
	return args.Error(0)
}

func (s *SpyBlobStore) Rename(ctx context.Context, src, dst string) error {
	args := s.Called(ctx, src, dst)
	return args.Error(0)
}

type SpyObserver struct {
	mock.Mock
}

func (s *SpyObserver) ChunkAccepted(n int64) { s.Called(n) }

func (s *SpyObserver) FinalizeCompleted(_ time.Duration, n int64) { s.Called(n) }

func (s *SpyObserver) FinalizeFailed(err error) { s.Called(err) }

func (s *SpyObserver) FinalizeRaceLost() { s.Called() }

type nopReadSeekCloser struct {
	*bytes.Reader
}

func (nopReadSeekCloser) Close() error { return nil }

func readCloser(data string) io.ReadSeekCloser {
	return nopReadSeekCloser{bytes.NewReader([]byte(data))}
}

// newFSStore returns a filesystem store rooted in a fresh temp dir and the
// dir path for direct inspection.
func newFSStore(t *testing.T) (*filesystem.Store, string) {
	t.Helper()

	dir := t.TempDir()
	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	return filesystem.NewFileStorage(root), dir
}

// uploadAll sends payloads as chunks of name in the given index order.
func uploadAll(t *testing.T, svc *splice.SpliceService, name string, payloads []string, order []int) []splice.AcceptResult {
	t.Helper()

	var size int64
	for _, p := range payloads {
		size += int64(len(p))
	}

	results := make([]splice.AcceptResult, 0, len(order))
	for _, i := range order {
		res, err := svc.UploadChunk(context.Background(), splice.Chunk{
			Name:      name,
			Index:     i,
			Total:     len(payloads),
			TotalSize: size,
		}, bytes.NewReader([]byte(payloads[i])))
		require.NoError(t, err)
		results = append(results, res)
	}
	return results
}

func readObject(t *testing.T, svc *splice.SpliceService, name string) string {
	t.Helper()

	_, rc, err := svc.Open(context.Background(), name)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}
