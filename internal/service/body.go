package service

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
)

// limitedBody streams a request body upstream while counting bytes against
// a per-backend limit. Once the limit is crossed it stops reading, cancels
// the upstream request and keeps returning ErrBodyTooLarge.
type limitedBody struct {
	src      io.ReadCloser
	limit    int64
	read     int64
	exceeded atomic.Bool
	abort    context.CancelFunc
}

func newLimitedBody(src io.ReadCloser, limit int64, abort context.CancelFunc) *limitedBody {
	return &limitedBody{src: src, limit: limit, abort: abort}
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.exceeded.Load() {
		return 0, ErrBodyTooLarge
	}
	n, err := b.src.Read(p)
	if b.read+int64(n) > b.limit {
		b.exceeded.Store(true)
		b.abort()
		return 0, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, b.limit)
	}
	b.read += int64(n)
	return n, err
}

// Close is a no-op: the inbound body belongs to the HTTP server, which
// closes it once the handler returns.
func (b *limitedBody) Close() error {
	return nil
}

// Exceeded reports whether the body crossed the limit.
func (b *limitedBody) Exceeded() bool {
	return b.exceeded.Load()
}
