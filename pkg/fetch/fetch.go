// Package fetch implements the engine's byte-range fetchers: a streaming
// provider for open-ended ranged reads and a file provider for single
// closed-range whole-payload loads, sharing one pull-based consumption
// contract. The streaming provider pools its read scratch buffer through
// pkg/optimization's BufferPool (the teacher's zero-copy append buffer);
// the file provider's admission semaphore is grounded on the wait/notify
// idiom in the teacher's own ConnectionPool, stripped down to a bare gate.
package fetch

import (
	"fmt"
	"net/http"

	"github.com/aminofox/hlsplayer/pkg/logger"
)

// ByteRange names a (length, offset) sub-slice of a fetched resource, as
// passed to FileProvider.Start, which always requests it as a closed
// range. StreamingProvider takes no ByteRange, only a start offset.
type ByteRange struct {
	Offset int64
	Length int64
}

// Consumer removes and returns exactly n prefix bytes from a fetcher's
// internal buffer. n == -1 returns and removes everything currently
// buffered. n == 0 discards everything currently buffered without
// returning it — used by stream-mode consumers to skip leading bytes
// they don't want. For n > 0, ok is false if fewer than n bytes are
// currently available; the buffer is left untouched in that case.
type Consumer func(n int) (data []byte, ok bool)

// Callback is invoked on every data arrival with a Consumer bound to the
// fetcher's current state and the fetcher's current absolute stream
// offset (the position of the consumer's first byte within the whole
// resource). StreamingProvider holds its internal lock for the callback's
// entire duration, including however many times it calls consumer —
// per spec this is one atomic pull, not a lock-per-call. FileProvider
// calls each callback without its lock held, giving it its own buffer
// over the whole payload and an offset of 0.
type Callback func(consume Consumer, currentOffset int64)

// ErrorFunc reports a terminal fetcher failure (network or cancellation).
type ErrorFunc func(err *Error)

// Error distinguishes network failure from caller-initiated cancellation,
// the two FetchError cases the engine's error taxonomy names.
type Error struct {
	Cancelled bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cancelled {
		return "fetch: cancelled"
	}
	return fmt.Sprintf("fetch: network error: %v", e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// rangeHeader builds a standard Range header value. closed selects a
// closed range bytes=start-end; otherwise an open range bytes=start- is
// produced, or no header at all when start == 0 and the range is open
// (spec §4.3: "omitted if start is 0").
func rangeHeader(start, end int64, closed bool) (value string, omit bool) {
	if closed {
		return fmt.Sprintf("bytes=%d-%d", start, end), false
	}
	if start == 0 {
		return "", true
	}
	return fmt.Sprintf("bytes=%d-", start), false
}

func defaultClient() *http.Client {
	return &http.Client{}
}

func logOrNop(log logger.Logger) logger.Logger {
	if log != nil {
		return log
	}
	return logger.NewDefaultLogger(logger.ErrorLevel, "text")
}

// pullBuffer is the shared "byte slice addressed by a Consumer" primitive
// both providers use for their internal buffer. Callers must hold their
// own mutex across every call — pullBuffer itself does no locking, by
// design: the lock discipline belongs to the provider, which must hold it
// for a callback's entire duration (spec §4.3).
type pullBuffer struct {
	data   []byte
	offset int64 // absolute offset of data[0] within the source resource
}

func (b *pullBuffer) append(p []byte) {
	b.data = append(b.data, p...)
}

func (b *pullBuffer) len() int { return len(b.data) }

// consumer builds a Consumer bound to this buffer's current state.
func (b *pullBuffer) consumer() Consumer {
	return func(n int) ([]byte, bool) {
		switch {
		case n == -1:
			out := b.data
			b.data = nil
			b.offset += int64(len(out))
			return out, true
		case n == 0:
			b.offset += int64(len(b.data))
			b.data = nil
			return nil, true
		case n < 0:
			return nil, false
		default:
			if len(b.data) < n {
				return nil, false
			}
			out := make([]byte, n)
			copy(out, b.data[:n])
			b.data = b.data[n:]
			b.offset += int64(n)
			return out, true
		}
	}
}
