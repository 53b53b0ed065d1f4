package splice

import (
	"context"
	"io"
	"time"
)

// MaxTotalChunks bounds totalChunks so every index fits the five digit chunk key suffix.
const MaxTotalChunks = 100000

// SessionMetadata is the per-session document stored at MetadataKey.
//
// Once the object is published the document stays behind as a receipt:
// FinalizedAt is set and ChunkDigests holds the xxhash of every published
// chunk, so a chunk retried after finalize can be told apart from the first
// chunk of a new upload.
type SessionMetadata struct {
	TotalChunks  int       `json:"totalChunks"`
	TotalSize    int64     `json:"totalSize"`
	Finalizing   bool      `json:"finalizing"`
	FinalizedAt  time.Time `json:"finalizedAt,omitzero"`
	ChunkDigests []string  `json:"chunkDigests,omitempty"`
}

// Finalized reports whether the document is the receipt of a published upload.
func (m SessionMetadata) Finalized() bool {
	return !m.FinalizedAt.IsZero()
}

// repeats reports whether chunk, whose content hashes to digest, is one of
// the chunks the receipt's upload was published from.
func (m SessionMetadata) repeats(chunk Chunk, digest string) bool {
	if m.TotalChunks != chunk.Total || m.TotalSize != chunk.TotalSize {
		return false
	}
	if chunk.Index >= len(m.ChunkDigests) {
		return false
	}
	return m.ChunkDigests[chunk.Index] == digest
}

// Chunk identifies one byte-range segment of an upload. The bytes travel
// separately as an io.Reader.
type Chunk struct {
	Name      string
	Index     int
	Total     int
	TotalSize int64
}

// Validate checks the chunk's name and index bounds without touching storage.
func (c Chunk) Validate() error {
	if !IsValidName(c.Name) {
		return ErrPathUnsafe
	}
	if c.Total < 1 || c.Total > MaxTotalChunks {
		return ErrInvalidRange
	}
	if c.Index < 0 || c.Index >= c.Total {
		return ErrInvalidRange
	}
	if c.TotalSize < 0 {
		return ErrInvalidRange
	}
	return nil
}

// ContentRange is a parsed "bytes {start}-{end}/{size}" header.
type ContentRange struct {
	Start int64
	End   int64
	Size  int64
}

// AcceptResult reports the state of a session after one chunk was accepted.
type AcceptResult struct {
	SessionComplete bool
	// Published is set when the chunk repeats a chunk of an upload that is
	// already published. Nothing is stored and no finalize is needed.
	Published      bool
	BytesWritten   int64
	UploadedChunks int
}

// Progress is the state of one upload session as reconstructed from storage.
type Progress struct {
	Name           string
	UploadedChunks int
	TotalChunks    int
	TotalSize      int64
	Finalizing     bool
	// Finalized is set for the receipt of an upload that is already published.
	Finalized bool
	// Degraded is set when the session metadata was missing or unreadable.
	Degraded bool
	// UpdatedAt is the newest modification time seen among the session's
	// blobs, or the publish time for a receipt.
	UpdatedAt time.Time
}

// Complete reports whether every chunk of an unpublished session is present.
func (p Progress) Complete() bool {
	return !p.Degraded && !p.Finalized && p.TotalChunks > 0 && p.UploadedChunks == p.TotalChunks
}

// FinalizeResult describes a published object.
type FinalizeResult struct {
	Name   string
	Size   int64
	Chunks int
}

// ObjectEntry is one row of the catalog. Chunk progress fields are only set
// for in-progress uploads.
type ObjectEntry struct {
	Path           string `json:"path"`
	NBytes         int64  `json:"nBytes"`
	Completed      bool   `json:"completed"`
	Finalizing     *bool  `json:"finalizing,omitempty"`
	UploadedChunks *int   `json:"uploadedChunks,omitempty"`
	TotalChunks    *int   `json:"totalChunks,omitempty"`
}

// ListResult is the catalog listing returned by GET /objects.
type ListResult struct {
	Items []ObjectEntry `json:"items"`
}

// BlobInfo describes one entry returned by a BlobStore.
type BlobInfo struct {
	// Key is the full slash separated key, without a trailing slash.
	Key string
	// Name is the last segment of Key.
	Name    string
	Size    int64
	ModTime time.Time
	// Dir is set for directory-style prefixes returned by List.
	Dir bool
}

// BlobStore defines the interface for the durable blob storage the upload
// protocol runs on. Keys are slash separated relative paths.
//
// All methods accept a context for cancellation and timeout control.
type BlobStore interface {
	// Put writes content at key, replacing any existing blob. Implementations
	// must publish atomically: a concurrent reader sees either the previous
	// blob or the complete new one, never a partial write.
	Put(ctx context.Context, key string, content io.Reader) (int64, error)

	// PutIfAbsent writes content at key only if no blob exists there.
	// Returns ErrExists if the key is already present.
	PutIfAbsent(ctx context.Context, key string, content io.Reader) error

	// Get opens the blob at key. Returns ErrNotFound if it does not exist.
	// The caller is responsible for closing the returned reader.
	Get(ctx context.Context, key string) (io.ReadSeekCloser, error)

	// Stat returns size and modification time. Returns ErrNotFound if absent.
	Stat(ctx context.Context, key string) (BlobInfo, error)

	// List returns the direct children of prefix sorted by name. Nested
	// prefixes are returned with Dir set. A missing prefix yields an empty
	// slice.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)

	// Delete removes the blob at key. Returns ErrNotFound if absent.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes prefix and everything below it. A missing prefix is
	// not an error.
	DeleteAll(ctx context.Context, prefix string) error

	// Rename moves the blob at src to dst, replacing dst. Returns ErrNotFound
	// if src does not exist.
	Rename(ctx context.Context, src, dst string) error
}
