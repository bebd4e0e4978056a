// Package errors provides the tagged error taxonomy used throughout the
// HLS client engine: a small ErrorCode range per component plus a single
// Error type that carries an optional wrapped cause.
package errors

import (
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

const (
	// ErrCodeUnknown represents an unknown error
	ErrCodeUnknown ErrorCode = 1000

	// Manifest errors (2000-2099) — returned by pkg/m3u8
	ErrCodeInvalidEncoding     ErrorCode = 2000
	ErrCodeInvalidFormat       ErrorCode = 2001
	ErrCodeMediaInsteadOfMaster ErrorCode = 2002

	// Loader errors (2100-2199) — returned by pkg/loader
	ErrCodeLoaderNetwork   ErrorCode = 2100
	ErrCodeLoaderInvalidURL ErrorCode = 2101

	// Fetch errors (2200-2299) — returned by pkg/fetch
	ErrCodeFetchNetwork   ErrorCode = 2200
	ErrCodeFetchCancelled ErrorCode = 2201

	// Producer errors (2300-2399) — returned by pkg/sampleproducer
	ErrCodeAssetUnopenable ErrorCode = 2300
	ErrCodeNoMatchingTrack ErrorCode = 2301

	// Player errors (2400-2499) — returned by pkg/player
	ErrCodeUnsupportedPlaylistShape ErrorCode = 2400
	ErrCodeMediaLoadFailed          ErrorCode = 2401

	// Configuration errors (2500-2599)
	ErrCodeInvalidConfig ErrorCode = 2500
	ErrCodeMissingConfig ErrorCode = 2501
)

// Error represents a custom error with code and message
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsErrorCode checks if the error has the given error code
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	if e, ok := err.(*Error); ok {
		return e.Code == code
	}

	return false
}

// GetErrorCode returns the error code from an error, or ErrCodeUnknown if not found
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeUnknown
	}

	if e, ok := err.(*Error); ok {
		return e.Code
	}

	return ErrCodeUnknown
}

// NewInvalidFormat creates a manifest parse error carrying the offending detail
func NewInvalidFormat(detail string) *Error {
	return New(ErrCodeInvalidFormat, detail)
}

// NewMediaInsteadOfMaster signals that a master parse hit a media-only tag;
// this is recovered by the playlist loader, which retries as a media parse.
func NewMediaInsteadOfMaster() *Error {
	return New(ErrCodeMediaInsteadOfMaster, "media-only tag encountered while parsing a master playlist")
}

// NewLoaderNetworkError wraps a transport-level failure from the playlist loader
func NewLoaderNetworkError(detail string, cause error) *Error {
	return Wrap(ErrCodeLoaderNetwork, detail, cause)
}

// NewFetchNetworkError wraps a transport-level failure from a byte-range fetcher
func NewFetchNetworkError(detail string, cause error) *Error {
	return Wrap(ErrCodeFetchNetwork, detail, cause)
}

// NewFetchCancelled reports that a fetcher was cancelled before completion
func NewFetchCancelled(detail string) *Error {
	return New(ErrCodeFetchCancelled, detail)
}

// NewNoMatchingTrackError reports that an asset has no track of the requested media type
func NewNoMatchingTrackError(mediaType string) *Error {
	return New(ErrCodeNoMatchingTrack, fmt.Sprintf("no matching track for media type %q", mediaType))
}

// NewUnsupportedPlaylistShapeError reports a top-level URL that resolved to
// a media playlist instead of the master playlist the player requires.
func NewUnsupportedPlaylistShapeError() *Error {
	return New(ErrCodeUnsupportedPlaylistShape, "only master-based HLS is supported")
}

// NewMediaLoadFailedError wraps a failure loading a chosen rendition's media playlist
func NewMediaLoadFailedError(detail string, cause error) *Error {
	return Wrap(ErrCodeMediaLoadFailed, detail, cause)
}
