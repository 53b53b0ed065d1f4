package clientcli

import "errors"

// Errors for profile operations.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrNoProfiles      = errors.New("no profiles configured")
	ErrProfileExists   = errors.New("profile already exists")
)

// Errors for configuration and input validation.
var (
	ErrConfigRequired   = errors.New("config is required")
	ErrEmptyPath        = errors.New("local path is required")
	ErrNoNames          = errors.New("no object names provided")
	ErrEmptyName        = errors.New("object name is required")
	ErrInvalidName      = errors.New("invalid object name")
	ErrTooManyChunks    = errors.New("file needs too many chunks for the chunk size")
	ErrRangeUnsupported = errors.New("server does not accept ranged uploads")
)
