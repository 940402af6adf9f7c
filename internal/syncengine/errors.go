package syncengine

import "errors"

// Failure kinds seen by a sync session. Adapters wrap these with %w so the
// session can classify with errors.Is. None of them is fatal.
var (
	// ErrStoreUnreachable is a connection failure talking to the document
	// store. It switches the session to offline mode.
	ErrStoreUnreachable = errors.New("document store unreachable")

	// ErrRejected is a push the store refused (4xx). The edit is dropped.
	ErrRejected = errors.New("document store rejected the write")

	// ErrMalformedPayload marks a channel message, cache entry or response
	// body that could not be parsed. The payload is dropped.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrQuotaExceeded is a cache write larger than the cache allows. The
	// edit stays in memory only.
	ErrQuotaExceeded = errors.New("local cache quota exceeded")

	// ErrCacheMiss means the cache slot has never been written.
	ErrCacheMiss = errors.New("local cache slot empty")

	// ErrCancelled marks a push aborted by session teardown.
	ErrCancelled = errors.New("push cancelled")
)

// ErrSessionClosed is returned by session calls made after Close.
var ErrSessionClosed = errors.New("sync session closed")
