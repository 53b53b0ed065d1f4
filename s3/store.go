// Package s3 provides a splice.BlobStore backed by an S3-compatible bucket,
// using the MinIO Go client.
//
// Keys map one to one onto object keys. S3 has no directories, so List
// reports common prefixes as Dir entries and DeleteAll removes every object
// under "prefix/".
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sagarc03/splice"
)

// Config holds the connection settings for Connect.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store implements splice.BlobStore on one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore wraps an existing client. The bucket must already exist.
func NewStore(client *minio.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Connect creates a MinIO client for cfg and makes sure the bucket exists.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	if err := EnsureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, err
	}

	return NewStore(client, cfg.Bucket), nil
}

// EnsureBucket checks if a bucket exists, and creates it if it does not.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", bucket, err)
		}
	}
	return nil
}

// Put uploads content to key. S3 publishes an object only once the upload
// completes, so readers never see a partial blob.
func (s *Store) Put(ctx context.Context, key string, content io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, content, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload object %q: %w", key, err)
	}
	return info.Size, nil
}

// PutIfAbsent uploads content with If-None-Match: * so the write fails when
// the key already exists.
func (s *Store) PutIfAbsent(ctx context.Context, key string, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	opts.SetMatchETagExcept("*")

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		if isConflict(err) {
			return splice.ErrExists
		}
		return fmt.Errorf("failed to upload object %q: %w", key, err)
	}
	return nil
}

// Get returns a seekable reader for key. Returns splice.ErrNotFound if the
// object does not exist.
func (s *Store) Get(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(key, err)
	}

	// GetObject is lazy; Stat surfaces a missing key before the first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapError(key, err)
	}

	return obj, nil
}

func (s *Store) Stat(ctx context.Context, key string) (splice.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return splice.BlobInfo{}, err
	}

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return splice.BlobInfo{}, mapError(key, err)
	}

	return splice.BlobInfo{
		Key:     key,
		Name:    path.Base(key),
		Size:    info.Size,
		ModTime: info.LastModified,
	}, nil
}

// List returns the objects and common prefixes directly under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]splice.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := strings.TrimSuffix(prefix, "/") + "/"
	opts := minio.ListObjectsOptions{Prefix: dir, Recursive: false}

	entries := []splice.BlobInfo{}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}

		name := strings.TrimPrefix(obj.Key, dir)
		isDir := strings.HasSuffix(name, "/")
		name = strings.TrimSuffix(name, "/")
		if name == "" {
			continue
		}

		entries = append(entries, splice.BlobInfo{
			Key:     dir + name,
			Name:    name,
			Size:    obj.Size,
			ModTime: obj.LastModified,
			Dir:     isDir,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes key. S3 deletes are idempotent, so the key is checked first
// to report splice.ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.Stat(ctx, key); err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// DeleteAll removes every object under prefix.
func (s *Store) DeleteAll(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    strings.TrimSuffix(prefix, "/") + "/",
		Recursive: true,
	})

	for rmErr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rmErr.Err != nil {
			return fmt.Errorf("failed to delete object %q: %w", rmErr.ObjectName, rmErr.Err)
		}
	}
	return ctx.Err()
}

// Rename copies src to dst server side and removes src. ComposeObject is
// used so sources larger than the single-copy limit work.
func (s *Store) Rename(ctx context.Context, src, dst string) error {
	if _, err := s.Stat(ctx, src); err != nil {
		return err
	}

	_, err := s.client.ComposeObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	)
	if err != nil {
		return mapError(src, err)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, src, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove renamed object %q: %w", src, err)
	}
	return nil
}

func mapError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return splice.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("object %q: %w", key, err)
}

func isConflict(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusPreconditionFailed ||
		resp.StatusCode == http.StatusConflict ||
		resp.Code == "PreconditionFailed"
}
