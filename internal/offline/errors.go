package offline

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkerStopped is returned when the worker is not running.
	ErrWorkerStopped = errors.New("offline worker stopped")

	// ErrNotInstalled is returned by Activate when the current store was
	// never installed.
	ErrNotInstalled = errors.New("current cache store is not installed")

	// ErrStoreClosed is returned by Store after Close.
	ErrStoreClosed = errors.New("cache store closed")
)

// ManifestNotFoundError occurs when the manifest file cannot be read.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when the manifest file is not valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when the manifest fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// StatusError occurs when the origin answers an asset request with a
// non-2xx status.
type StatusError struct {
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("origin returned status %d for '%s'", e.Status, e.Path)
}

// InstallError occurs when populating a store fails. Nothing is committed.
type InstallError struct {
	Store string
	Asset string
	Err   error
}

func (e *InstallError) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("failed to install cache '%s' (asset: %s): %v", e.Store, e.Asset, e.Err)
	}
	return fmt.Sprintf("failed to install cache '%s': %v", e.Store, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// EntryDecodeError occurs when a stored entry cannot be decoded.
type EntryDecodeError struct {
	Store string
	Key   string
	Err   error
}

func (e *EntryDecodeError) Error() string {
	return fmt.Sprintf("failed to decode cache entry '%s' in '%s': %v", e.Key, e.Store, e.Err)
}

func (e *EntryDecodeError) Unwrap() error {
	return e.Err
}
