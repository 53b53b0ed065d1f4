// Package splice coordinates chunked uploads on top of a plain blob store.
//
// A client sends a large file as independent byte-range chunks. Splice
// persists every chunk under a deterministic key, tracks progress per object
// name purely by inspecting storage, and assembles the chunks into a single
// completed object once every index has arrived.
//
// # Key Components
//
//   - Tracker: accepts chunks and reports per-session progress
//   - Finalizer: concatenates a complete session into the completed namespace
//   - Catalog: lists in-progress and completed objects, deletes completed ones
//   - Scheduler: runs deferred finalize work after the triggering request
//   - BlobStore: interface for the storage backend (filesystem, S3)
//   - Locker: finalize lease provider (blob marker by default, SQL optional)
//
// # Storage Layout
//
//	completed/{name}                       final object bytes
//	uploads/{name}.part/metadata.json      {totalChunks, totalSize, finalizing}
//	uploads/{name}.part/.part{index:05}    chunk blob
//
// # Example Usage
//
//	service, err := splice.NewSpliceService(store, splice.ServiceConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer service.Close(ctx)
//
//	chunk := splice.Chunk{Name: "video.mp4", Index: 0, Total: 3, TotalSize: 6 << 20}
//	result, err := service.UploadChunk(ctx, chunk, reader)
//
// See the http package for the REST API and the filesystem and s3 packages
// for storage backends.
package splice
