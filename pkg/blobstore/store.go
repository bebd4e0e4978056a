package blobstore

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Store is the content-addressed blob cache described by the download
// session: blobs are written once per BytesKey and every later request for
// the same key is satisfied from the index without re-fetching.
//
// The source uses url.absoluteString.hashValue — a non-cryptographic,
// platform-dependent hash — to name blob files. This implementation uses
// blake2b-128 instead: deterministic per host, which is all the spec
// requires ("any deterministic content-addressable scheme suffices");
// cross-host filename equality is still not promised, matching the
// original's own caveat.
type Store struct {
	backend Backend
	index   Index
}

// New creates a Store over the given backend and index.
func New(backend Backend, index Index) *Store {
	if index == nil {
		index = NewMemoryIndex()
	}
	return &Store{backend: backend, index: index}
}

// Lookup returns the URL previously written for key, if any.
func (s *Store) Lookup(ctx context.Context, key BytesKey) (string, bool, error) {
	e, ok, err := s.index.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	return e.URL, true, nil
}

// Put writes data under a filename derived from sessionID, the source URI,
// key, and index — "{session_id}_{url_hash}_{index}_{offset}_{length}.mp4"
// — records the resulting URL in the index, and returns it.
func (s *Store) Put(ctx context.Context, sessionID, sourceURI string, key BytesKey, index int, data []byte) (string, error) {
	filename := Filename(sessionID, sourceURI, key, index)

	url, err := s.backend.Put(filename, data)
	if err != nil {
		return "", err
	}

	if err := s.index.Set(ctx, key, entry{URL: url, Filename: filename}); err != nil {
		return "", fmt.Errorf("blobstore: failed to index blob: %w", err)
	}

	return url, nil
}

// Purge clears the index and best-effort deletes every blob it referenced.
// Per spec, reissuing the same playlist request after Purge triggers full
// re-fetching: no cached blobs are reused.
func (s *Store) Purge(ctx context.Context) error {
	filenames, err := s.index.Purge(ctx)
	if err != nil {
		return err
	}
	for _, f := range filenames {
		_ = s.backend.Delete(f)
	}
	return nil
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Filename derives the blob filename for a (session, source URI, key,
// index) tuple. The url-hash component is a blake2b-128 digest of the
// source URI, hex-encoded.
func Filename(sessionID, sourceURI string, key BytesKey, index int) string {
	h, _ := blake2b.New(16, nil) // fixed output size, never errors
	h.Write([]byte(sourceURI))
	urlHash := hex.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("%s_%s_%d_%d_%d.mp4", sessionID, urlHash, index, key.Offset, key.Length)
}
