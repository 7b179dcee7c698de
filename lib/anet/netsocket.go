package anet

import (
	"errors"
	"io"
	"net"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/bytebuf"
	"gfx.cafe/gfx/sgat/lib/util/ring"
)

const defaultReadBufferSize = 16 * 1024

type netWrite struct {
	buf     *bytebuf.Buf
	promise *aio.Promise[aio.Void]
}

// NetSocket adapts a net.Conn to the Socket contract. Blocking reads and
// writes run on two io goroutines that post their results onto the loop.
// The io goroutines exit when the socket closes.
type NetSocket struct {
	loop *aio.Loop
	conn net.Conn

	readBufferSize int

	read    *aio.Promise[*bytebuf.Buf]
	reading bool
	eof     bool
	readc   chan struct{}

	inflight *netWrite
	writeq   ring.Ring[netWrite]
	writec   chan netWrite

	closed bool
	cause  error
}

var _ Socket = (*NetSocket)(nil)

func NewNetSocket(loop *aio.Loop, conn net.Conn) *NetSocket {
	T := &NetSocket{
		loop:           loop,
		conn:           conn,
		readBufferSize: defaultReadBufferSize,
		readc:          make(chan struct{}, 1),
		writec:         make(chan netWrite, 1),
	}
	go T.reader()
	go T.writer()
	return T
}

// Loop returns the loop this socket is bound to.
func (T *NetSocket) Loop() *aio.Loop {
	return T.loop
}

func (T *NetSocket) LocalAddr() net.Addr {
	return T.conn.LocalAddr()
}

func (T *NetSocket) RemoteAddr() net.Addr {
	return T.conn.RemoteAddr()
}

func (T *NetSocket) reader() {
	for range T.readc {
		buf := bytebuf.Alloc(T.readBufferSize)
		var (
			n   int
			err error
		)
		for {
			n, err = T.conn.Read(buf.Space())
			if n > 0 || err != nil {
				break
			}
		}
		if n > 0 {
			buf.Extend(n)
		}
		T.loop.Post(func() {
			T.readDone(buf, err)
		})
	}
}

func (T *NetSocket) readDone(buf *bytebuf.Buf, err error) {
	T.reading = false

	read := T.read
	T.read = nil

	if T.closed || read == nil {
		buf.Recycle()
		return
	}

	if err != nil {
		if errors.Is(err, io.EOF) {
			T.eof = true
			if buf.CanRead() {
				read.Complete(buf)
			} else {
				buf.Recycle()
				read.Complete(nil)
			}
		} else {
			buf.Recycle()
			T.CloseEx(err)
			read.Fail(err)
		}
		return
	}

	read.Complete(buf)
}

func (T *NetSocket) Read() *aio.Promise[*bytebuf.Buf] {
	T.loop.Assert()

	if T.closed {
		return aio.Failed[*bytebuf.Buf](closeError(T.cause))
	}
	if T.eof {
		return aio.Completed[*bytebuf.Buf](nil)
	}

	if T.read != nil {
		read := T.read
		T.read = nil
		read.Fail(ErrReadReplaced)
	}

	promise := aio.NewPromise[*bytebuf.Buf]()
	T.read = promise
	if !T.reading {
		T.reading = true
		T.readc <- struct{}{}
	}
	return promise
}

type closeWriter interface {
	CloseWrite() error
}

func (T *NetSocket) closeWrite() error {
	if cw, ok := T.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}

func (T *NetSocket) writer() {
	for w := range T.writec {
		var err error
		if w.buf == nil {
			err = T.closeWrite()
		} else {
			_, err = T.conn.Write(w.buf.Bytes())
		}
		T.loop.Post(func() {
			T.writeDone(w, err)
		})
	}
}

func (T *NetSocket) writeDone(w netWrite, err error) {
	if w.buf != nil {
		w.buf.Recycle()
	}

	if T.closed {
		if !w.promise.Settled() {
			w.promise.Fail(closeError(T.cause))
		}
		return
	}

	T.inflight = nil

	if err != nil {
		T.CloseEx(err)
		w.promise.Fail(err)
		return
	}

	w.promise.Complete(aio.Void{})

	if next, ok := T.writeq.PopFront(); ok {
		T.inflight = &next
		T.writec <- next
	}
}

func (T *NetSocket) Write(buf *bytebuf.Buf) *aio.Promise[aio.Void] {
	T.loop.Assert()

	if T.closed {
		if buf != nil {
			buf.Recycle()
		}
		return aio.Failed[aio.Void](closeError(T.cause))
	}

	if buf != nil && !buf.CanRead() {
		buf.Recycle()
		return aio.Completed(aio.Void{})
	}

	w := netWrite{
		buf:     buf,
		promise: aio.NewPromise[aio.Void](),
	}
	if T.inflight == nil {
		T.inflight = &w
		T.writec <- w
	} else {
		T.writeq.PushBack(w)
	}
	return w.promise
}

func (T *NetSocket) IsReadAvailable() bool {
	// reads complete through promises; nothing is buffered socket side
	return false
}

func (T *NetSocket) CloseEx(err error) {
	T.loop.Assert()

	if T.closed {
		return
	}
	T.closed = true
	T.cause = err

	// unblocks the io goroutines
	_ = T.conn.Close()
	close(T.readc)
	close(T.writec)

	if T.read != nil {
		read := T.read
		T.read = nil
		read.Fail(closeError(err))
	}

	for {
		w, ok := T.writeq.PopFront()
		if !ok {
			break
		}
		if w.buf != nil {
			w.buf.Recycle()
		}
		w.promise.Fail(closeError(err))
	}

	// the inflight buf is recycled by writeDone once the writer lets go of it
	if T.inflight != nil && !T.inflight.promise.Settled() {
		T.inflight.promise.Fail(closeError(err))
	}
}

func (T *NetSocket) IsClosed() bool {
	return T.closed
}
