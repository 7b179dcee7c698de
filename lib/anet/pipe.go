package anet

import (
	"io"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/bytebuf"
	"gfx.cafe/gfx/sgat/lib/util/ring"
)

// PipeSocket is one end of an in-memory socket pair. Both ends live on the
// same loop; writes complete immediately and deliver to the peer on the same
// tick, so tests driven through a pipe are fully deterministic.
type PipeSocket struct {
	loop *aio.Loop
	peer *PipeSocket

	inbox   ring.Ring[*bytebuf.Buf]
	eof     bool
	sentEOF bool
	read    *aio.Promise[*bytebuf.Buf]

	closed bool
	cause  error
}

var _ Socket = (*PipeSocket)(nil)

// Pipe returns a connected pair of in-memory sockets on loop.
func Pipe(loop *aio.Loop) (*PipeSocket, *PipeSocket) {
	a := &PipeSocket{loop: loop}
	b := &PipeSocket{loop: loop}
	a.peer = b
	b.peer = a
	return a, b
}

func (T *PipeSocket) Read() *aio.Promise[*bytebuf.Buf] {
	T.loop.Assert()

	if T.closed {
		return aio.Failed[*bytebuf.Buf](closeError(T.cause))
	}

	if T.read != nil {
		read := T.read
		T.read = nil
		read.Fail(ErrReadReplaced)
	}

	if buf, ok := T.inbox.PopFront(); ok {
		return aio.Completed(buf)
	}
	if T.eof {
		return aio.Completed[*bytebuf.Buf](nil)
	}

	promise := aio.NewPromise[*bytebuf.Buf]()
	T.read = promise
	return promise
}

func (T *PipeSocket) Write(buf *bytebuf.Buf) *aio.Promise[aio.Void] {
	T.loop.Assert()

	if T.closed {
		if buf != nil {
			buf.Recycle()
		}
		return aio.Failed[aio.Void](closeError(T.cause))
	}
	if T.sentEOF || T.peer.closed {
		if buf != nil {
			buf.Recycle()
		}
		return aio.Failed[aio.Void](io.ErrClosedPipe)
	}

	if buf == nil {
		T.sentEOF = true
		T.peer.deliverEOF()
		return aio.Completed(aio.Void{})
	}
	if !buf.CanRead() {
		buf.Recycle()
		return aio.Completed(aio.Void{})
	}

	T.peer.deliver(buf)
	return aio.Completed(aio.Void{})
}

func (T *PipeSocket) deliver(buf *bytebuf.Buf) {
	if read := T.read; read != nil {
		T.read = nil
		read.Complete(buf)
		return
	}
	T.inbox.PushBack(buf)
}

func (T *PipeSocket) deliverEOF() {
	T.eof = true
	if read := T.read; read != nil {
		T.read = nil
		read.Complete(nil)
	}
}

func (T *PipeSocket) IsReadAvailable() bool {
	return T.inbox.Length() > 0
}

func (T *PipeSocket) CloseEx(err error) {
	T.loop.Assert()

	if T.closed {
		return
	}
	T.closed = true
	T.cause = err

	for {
		buf, ok := T.inbox.PopFront()
		if !ok {
			break
		}
		buf.Recycle()
	}

	if T.read != nil {
		read := T.read
		T.read = nil
		read.Fail(closeError(err))
	}

	// like a regular close, the peer sees an orderly end of stream after
	// draining whatever was already delivered
	if !T.peer.closed {
		T.peer.deliverEOF()
	}
}

func (T *PipeSocket) IsClosed() bool {
	return T.closed
}
