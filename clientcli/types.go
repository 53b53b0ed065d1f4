package clientcli

import "github.com/sagarc03/splice"

// UploadOptions configures a chunked upload of one local file.
type UploadOptions struct {
	LocalPath string
	Name      string // object name on the server, defaults to the base name of LocalPath

	// Zero values fall back to the client Config.
	ChunkSize int64
	Parallel  int
	Retries   int

	// Progress, when set, is called after every accepted chunk. It may be
	// called from several goroutines.
	Progress func(sent, total int)
}

// UploadResult represents the result of uploading a single file.
type UploadResult struct {
	LocalPath string `json:"local_path"`
	Name      string `json:"name"`
	Size      int64  `json:"size_bytes"`
	Chunks    int    `json:"chunks"`
	// Completed is true when one of the chunk responses reported the object
	// as assembled. With deferred finalize the server may still be working.
	Completed bool  `json:"completed"`
	Err       error `json:"-"` // nil on success
}

// DownloadOptions configures a download operation.
type DownloadOptions struct {
	Name      string
	LocalPath string // empty = same as name, "-" = stdout
}

// DownloadResult represents the result of downloading a file.
type DownloadResult struct {
	Name        string `json:"name"`
	LocalPath   string `json:"local_path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size_bytes"`
}

// DeleteOptions configures a delete operation.
type DeleteOptions struct {
	Names []string
}

// DeleteResult represents the result of deleting a single object.
type DeleteResult struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
	Err     error  `json:"-"` // nil on success
}

// ListResult is the catalog as returned by GET /objects.
type ListResult = splice.ListResult

// ObjectInfo is one catalog entry.
type ObjectInfo = splice.ObjectEntry

// serverError mirrors the JSON error envelope written by the server.
type serverError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
