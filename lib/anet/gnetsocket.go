package anet

import (
	"errors"

	"github.com/panjf2000/gnet/v2"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/bytebuf"
)

// GnetSocket exposes a gnet connection as a Socket. gnet pushes traffic from
// its own event loop; GnetServer copies it onto the socket's aio loop, where
// it is buffered until read.
type GnetSocket struct {
	loop *aio.Loop
	conn gnet.Conn

	inbox *bytebuf.Buf
	eof   bool
	read  *aio.Promise[*bytebuf.Buf]

	closed bool
	cause  error
}

var _ Socket = (*GnetSocket)(nil)

func newGnetSocket(loop *aio.Loop, conn gnet.Conn) *GnetSocket {
	return &GnetSocket{
		loop: loop,
		conn: conn,
	}
}

func (T *GnetSocket) Loop() *aio.Loop {
	return T.loop
}

// deliver runs on the loop with bytes copied out of gnet.
func (T *GnetSocket) deliver(buf *bytebuf.Buf) {
	if T.closed {
		buf.Recycle()
		return
	}
	if read := T.read; read != nil {
		T.read = nil
		read.Complete(buf)
		return
	}
	if T.inbox == nil {
		T.inbox = buf
		return
	}
	T.inbox.Write(buf.Bytes())
	buf.Recycle()
}

// peerClosed runs on the loop when gnet reports the connection gone.
func (T *GnetSocket) peerClosed(err error) {
	if T.closed {
		return
	}
	if err != nil {
		T.CloseEx(err)
		return
	}
	T.eof = true
	if read := T.read; read != nil {
		T.read = nil
		read.Complete(nil)
	}
}

func (T *GnetSocket) Read() *aio.Promise[*bytebuf.Buf] {
	T.loop.Assert()

	if T.closed {
		return aio.Failed[*bytebuf.Buf](closeError(T.cause))
	}

	if T.read != nil {
		read := T.read
		T.read = nil
		read.Fail(ErrReadReplaced)
	}

	if T.inbox != nil {
		buf := T.inbox
		T.inbox = nil
		return aio.Completed(buf)
	}
	if T.eof {
		return aio.Completed[*bytebuf.Buf](nil)
	}

	promise := aio.NewPromise[*bytebuf.Buf]()
	T.read = promise
	return promise
}

func (T *GnetSocket) Write(buf *bytebuf.Buf) *aio.Promise[aio.Void] {
	T.loop.Assert()

	if T.closed {
		if buf != nil {
			buf.Recycle()
		}
		return aio.Failed[aio.Void](closeError(T.cause))
	}
	if buf == nil {
		// gnet has no write side shutdown
		return aio.Failed[aio.Void](errors.ErrUnsupported)
	}
	if !buf.CanRead() {
		buf.Recycle()
		return aio.Completed(aio.Void{})
	}

	promise := aio.NewPromise[aio.Void]()
	err := T.conn.AsyncWrite(buf.Bytes(), func(c gnet.Conn, err error) error {
		// gnet invokes this on its event loop once the write lands
		T.loop.Post(func() {
			buf.Recycle()
			if promise.Settled() {
				return
			}
			if err != nil {
				T.CloseEx(err)
				promise.Fail(err)
				return
			}
			promise.Complete(aio.Void{})
		})
		return nil
	})
	if err != nil {
		buf.Recycle()
		return aio.Failed[aio.Void](err)
	}
	return promise
}

func (T *GnetSocket) IsReadAvailable() bool {
	return T.inbox != nil && T.inbox.CanRead()
}

func (T *GnetSocket) CloseEx(err error) {
	T.loop.Assert()

	if T.closed {
		return
	}
	T.closed = true
	T.cause = err

	if T.inbox != nil {
		T.inbox.Recycle()
		T.inbox = nil
	}
	if T.read != nil {
		read := T.read
		T.read = nil
		read.Fail(closeError(err))
	}

	_ = T.conn.Close()
}

func (T *GnetSocket) IsClosed() bool {
	return T.closed
}
