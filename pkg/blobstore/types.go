// Package blobstore implements the content-addressed temp-file cache that
// sits behind the download session: segment and initialization-section
// bytes are written once per BytesKey and looked up by address on every
// subsequent request for the same range.
package blobstore

import (
	"fmt"
)

// BytesKey uniquely identifies a cached blob: the basename of the source
// URI plus the byte range fetched from it. Length == -1 denotes "whole
// resource" (a File-mode fetch with no explicit range).
type BytesKey struct {
	URIBasename string
	Offset      int64
	Length      int64
}

// IsWholeResource reports whether this key addresses an entire resource
// rather than a sub-range of it.
func (k BytesKey) IsWholeResource() bool {
	return k.Length == -1
}

func (k BytesKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.URIBasename, k.Offset, k.Length)
}

// Backend stores and retrieves blob bytes by filename. Filenames are
// produced by Store from a BytesKey and never reused for a different key,
// so a Backend never needs to reason about content addressing itself.
type Backend interface {
	// Put writes data under filename and returns a URL the caller can hand
	// to a sample producer (a file:// path for the local backend, a
	// pre-signed HTTPS URL for S3).
	Put(filename string, data []byte) (string, error)
	// Delete best-effort removes filename. Missing files are not an error.
	Delete(filename string) error
	// Close releases backend resources.
	Close() error
}
