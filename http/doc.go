// Package http exposes the splice upload service over HTTP.
//
// # Routes
//
//   - HEAD /                 capability probe, answers with Accept-Ranges: bytes
//   - GET /objects           catalog of completed and in-progress objects
//   - POST /objects          one multipart chunk (file, chunkIndex, totalChunks)
//   - GET /objects/{name}    stream a completed object, Range requests honoured
//   - DELETE /objects/{name} remove a completed object
//   - GET /metrics           Prometheus scrape endpoint, when configured
//
// Every chunk upload must carry "Content-Range: bytes {start}-{end}/{totalSize}".
// The header is checked before the body is read, so a malformed request never
// touches storage.
//
// A chunk that leaves the session incomplete is answered with 206 Partial
// Content and a "Range: bytes {start}-{end}" header. The chunk that completes
// the session is answered with 200 OK; depending on how the service was built
// the object is either already published or will be shortly.
//
// # Usage
//
//	handler := http.NewHandler(&http.HandlerConfig{MaxChunkSize: 64 << 20}, service)
//	server := &nethttp.Server{Addr: ":8080", Handler: handler.Router()}
//
// # Errors
//
// Errors are written as JSON:
//
//	{"error": "invalid_range", "message": "Invalid Content-Range header"}
//
// HandleError maps the splice sentinel errors to status codes.
package http
