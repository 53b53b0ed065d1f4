package splice

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// UploadsNamespace holds one prefix per in-progress session.
	UploadsNamespace = "uploads"
	// CompletedNamespace holds finalized objects, flat by name.
	CompletedNamespace = "completed"

	sessionSuffix    = ".part"
	chunkPrefix      = ".part"
	chunkIndexWidth  = 5
	metadataFileName = "metadata.json"
	leasePrefix      = ".finalize.lease."
	stagingFileName  = ".assembled"
	incomingPrefix   = ".incoming-"
)

// SessionPrefix returns the uploads prefix holding every blob of name's session.
func SessionPrefix(name string) (string, error) {
	if !IsValidName(name) {
		return "", fmt.Errorf("session prefix %q: %w", name, ErrPathUnsafe)
	}
	return UploadsNamespace + "/" + name + sessionSuffix, nil
}

// CompletedKey returns the key of name's completed object.
func CompletedKey(name string) (string, error) {
	if !IsValidName(name) {
		return "", fmt.Errorf("completed key %q: %w", name, ErrPathUnsafe)
	}
	return CompletedNamespace + "/" + name, nil
}

// ChunkKey returns the key of chunk index inside a session prefix. The index
// is zero padded so keys sort in index order.
func ChunkKey(sessionPrefix string, index int) string {
	return fmt.Sprintf("%s/%s%0*d", sessionPrefix, chunkPrefix, chunkIndexWidth, index)
}

// MetadataKey returns the key of the session metadata document.
func MetadataKey(sessionPrefix string) string {
	return sessionPrefix + "/" + metadataFileName
}

// LeaseKey returns the key of generation gen of the session's finalize
// lease marker.
func LeaseKey(sessionPrefix string, gen int) string {
	return sessionPrefix + "/" + leasePrefix + strconv.Itoa(gen)
}

// StagingKey returns the key finalize assembles the object under before
// publishing it.
func StagingKey(sessionPrefix string) string {
	return sessionPrefix + "/" + stagingFileName
}

// IncomingKey returns a temporary key for a chunk whose session state is
// not decided until its content has been read.
func IncomingKey(sessionPrefix, id string) string {
	return sessionPrefix + "/" + incomingPrefix + id
}

// ParseLeaseGeneration returns the generation encoded in a lease marker's
// file name.
func ParseLeaseGeneration(fileName string) (int, bool) {
	digits, ok := strings.CutPrefix(fileName, leasePrefix)
	if !ok || digits == "" {
		return 0, false
	}
	gen, err := strconv.Atoi(digits)
	if err != nil || gen < 1 || strconv.Itoa(gen) != digits {
		return 0, false
	}
	return gen, true
}

// ParseChunkIndex returns the index encoded in a chunk blob's file name.
// Names that are not chunk blobs return false.
func ParseChunkIndex(fileName string) (int, bool) {
	digits, ok := strings.CutPrefix(fileName, chunkPrefix)
	if !ok || len(digits) < chunkIndexWidth {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return index, true
}

// NameFromSessionDir recovers the object name from a directory under the
// uploads namespace.
func NameFromSessionDir(dirName string) (string, bool) {
	name, ok := strings.CutSuffix(dirName, sessionSuffix)
	if !ok || !IsValidName(name) {
		return "", false
	}
	return name, true
}
