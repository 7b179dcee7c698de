// Package anet provides asynchronous byte-stream sockets driven by an
// aio.Loop. All socket methods must be called from the owning loop's
// goroutine; completions are delivered there as well.
package anet

import (
	"errors"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/bytebuf"
)

var (
	// ErrClosed is returned by operations on a socket that was closed
	// without a cause.
	ErrClosed = errors.New("socket closed")

	// ErrReadReplaced settles a pending read when a newer read takes its
	// place. At most one read may be outstanding per socket.
	ErrReadReplaced = errors.New("read replaced by a newer read")
)

// Socket is a non-blocking byte stream.
type Socket interface {
	// Read resolves with the next chunk, or nil on orderly end of stream.
	// Ownership of the buffer transfers to the caller.
	Read() *aio.Promise[*bytebuf.Buf]

	// Write queues buf for sending and resolves once it is handed to the
	// transport. Ownership of buf transfers to the socket. A nil buf
	// closes the write side.
	Write(buf *bytebuf.Buf) *aio.Promise[aio.Void]

	// IsReadAvailable reports whether data is already buffered, making
	// the next Read resolve without waiting.
	IsReadAvailable() bool

	// CloseEx closes the socket with a cause. A nil cause is a regular
	// close. Pending operations are settled, never abandoned. Idempotent.
	CloseEx(err error)

	IsClosed() bool
}

// closeError is the error pending operations settle with when a socket
// closes: its cause, or ErrClosed for a regular close.
func closeError(cause error) error {
	if cause == nil {
		return ErrClosed
	}
	return cause
}
