package splice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxNameLength is the longest object name accepted, in bytes.
const MaxNameLength = 255

// IsValidName validates that a client-supplied object name is safe to use as a
// single storage path component. It checks that the name:
//   - is not empty and not longer than MaxNameLength bytes
//   - is not "." and does not contain ".." (path traversal)
//   - does not contain "/" or "\" (namespace escape)
//   - is valid UTF-8
//   - does not contain null bytes, control characters (< 0x20) or DEL (0x7f)
//
// Returns true if the name is valid, false otherwise.
func IsValidName(name string) bool {
	if name == "" || name == "." || len(name) > MaxNameLength {
		return false
	}

	if strings.Contains(name, "..") {
		return false
	}

	if strings.ContainsAny(name, `/\`) {
		return false
	}

	if !utf8.ValidString(name) {
		return false
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}

	return true
}

var validTableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidTableName checks if a table name is valid (lowercase, alphanumeric with underscores, max 63 chars).
func IsValidTableName(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// ParseContentRange parses a header of the form "bytes {start}-{end}/{size}".
//
// start must not exceed end, and end must fall inside size unless size is
// zero (an empty upload is sent as "bytes 0-0/0").
func ParseContentRange(header string) (ContentRange, error) {
	unit, spec, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || unit != "bytes" {
		return ContentRange{}, fmt.Errorf("parse content range %q: %w: expected bytes unit", header, ErrInvalidInput)
	}

	rng, sizeStr, ok := strings.Cut(strings.TrimSpace(spec), "/")
	if !ok {
		return ContentRange{}, fmt.Errorf("parse content range %q: %w: missing total size", header, ErrInvalidInput)
	}

	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return ContentRange{}, fmt.Errorf("parse content range %q: %w: missing range separator", header, ErrInvalidInput)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ContentRange{}, fmt.Errorf("parse content range %q: %w: invalid start", header, ErrInvalidInput)
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return ContentRange{}, fmt.Errorf("parse content range %q: %w: invalid end", header, ErrInvalidInput)
	}

	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return ContentRange{}, fmt.Errorf("parse content range %q: %w: invalid total size", header, ErrInvalidInput)
	}

	if size > 0 && end >= size {
		return ContentRange{}, fmt.Errorf("parse content range %q: %w: range exceeds total size", header, ErrInvalidInput)
	}

	return ContentRange{Start: start, End: end, Size: size}, nil
}
