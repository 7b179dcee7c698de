package ssl

import (
	"fmt"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/anet"
	"gfx.cafe/gfx/sgat/lib/bytebuf"
	"gfx.cafe/gfx/sgat/lib/util/decorator"
)

// Config adjusts per-socket close behavior.
type Config struct {
	// StrictClose rejects a pending read with ErrCloseWithoutNotify when
	// the transport ends before the peer's close notification arrives.
	// The default resolves such a read to end of stream instead. Either
	// way the socket closes with ErrCloseWithoutNotify as its cause.
	StrictClose bool
}

// how many Wrap calls CloseEx will spend trying to emit the close
// notification before giving up
const maxCloseWraps = 8

// Socket pumps bytes between a transport and a session engine. Plaintext
// written by the application is wrapped into records for the transport;
// records read from the transport are unwrapped into plaintext for the
// application. All methods must run on the loop.
type Socket struct {
	noCopy decorator.NoCopy

	loop      *aio.Loop
	pool      *aio.Pool
	transport anet.Socket
	engine    Engine
	config    Config

	// buffers are nil when empty
	net2engine *bytebuf.Buf // records from the transport, not yet unwrapped
	engine2app *bytebuf.Buf // plaintext waiting for a read
	app2engine *bytebuf.Buf // plaintext waiting to be wrapped

	// the peer's close notification arrived; the next read is end of stream
	shouldReturnEOF bool

	read  *aio.Promise[*bytebuf.Buf]
	write *aio.Promise[aio.Void]

	netReading bool
	netWriting bool
	// records produced while a transport write was in flight
	netQueue *bytebuf.Buf
	// close the transport once the in-flight write settles
	closeDeferred bool

	closed bool
	cause  error
}

var _ anet.Socket = (*Socket)(nil)

// NewSocket wraps transport in a session driven by engine. The handshake
// starts immediately. Delegated tasks run on pool.
func NewSocket(
	loop *aio.Loop,
	pool *aio.Pool,
	transport anet.Socket,
	engine Engine,
	config Config,
) *Socket {
	T := &Socket{
		loop:      loop,
		pool:      pool,
		transport: transport,
		engine:    engine,
		config:    config,
	}
	T.sync()
	return T
}

func (T *Socket) Read() *aio.Promise[*bytebuf.Buf] {
	T.loop.Assert()

	if read := T.read; read != nil {
		T.read = nil
		read.Fail(anet.ErrReadReplaced)
	}

	if T.shouldReturnEOF {
		T.shouldReturnEOF = false
		return aio.Completed[*bytebuf.Buf](nil)
	}

	if T.closed {
		return aio.Failed[*bytebuf.Buf](T.closeError())
	}

	if T.engine2app != nil {
		buf := T.engine2app
		T.engine2app = nil
		return aio.Completed(buf)
	}

	read := aio.NewPromise[*bytebuf.Buf]()
	T.read = read
	T.sync()
	return read
}

func (T *Socket) Write(buf *bytebuf.Buf) *aio.Promise[aio.Void] {
	T.loop.Assert()

	if T.closed {
		if buf != nil {
			buf.Recycle()
		}
		return aio.Failed[aio.Void](T.closeError())
	}

	if buf == nil {
		return aio.Failed[aio.Void](ErrHalfClose)
	}

	if !buf.CanRead() {
		buf.Recycle()
		if T.write != nil {
			return T.write
		}
		return aio.Completed(aio.Void{})
	}

	if T.app2engine == nil {
		T.app2engine = buf
	} else {
		T.app2engine.Write(buf.Bytes())
		buf.Recycle()
	}

	// writes waiting on the same flush share one promise
	if T.write != nil {
		return T.write
	}

	write := aio.NewPromise[aio.Void]()
	T.write = write
	T.sync()
	return write
}

func (T *Socket) IsReadAvailable() bool {
	T.loop.Assert()
	return T.engine2app != nil
}

func (T *Socket) IsClosed() bool {
	T.loop.Assert()
	return T.closed
}

// Established reports whether the handshake finished and the socket is
// still open.
func (T *Socket) Established() bool {
	T.loop.Assert()
	return !T.closed && T.engine.HandshakeStatus() == NotHandshaking
}

// CloseEx tears the socket down: best effort close notification to the
// peer, transport closed (after any in-flight write settles), pending
// read and write resolved. err is the recorded cause; nil means a
// graceful close. Repeated calls do nothing.
func (T *Socket) CloseEx(err error) {
	T.loop.Assert()

	if T.closed {
		return
	}
	T.closed = true
	T.cause = err

	if T.net2engine != nil {
		T.net2engine.Recycle()
		T.net2engine = nil
	}
	if T.engine2app != nil {
		T.engine2app.Recycle()
		T.engine2app = nil
	}

	T.tryCloseOutbound()

	// recycled only now, the close notification wraps above may still
	// read from it
	if T.app2engine != nil {
		T.app2engine.Recycle()
		T.app2engine = nil
	}

	if read := T.read; read != nil {
		T.read = nil
		// a graceful close ends the stream; only an abrupt one is an error
		if T.shouldReturnEOF || err == nil {
			T.shouldReturnEOF = false
			read.Complete(nil)
		} else {
			read.Fail(T.closeError())
		}
	}

	if write := T.write; write != nil {
		T.write = nil
		write.Fail(T.closeError())
	}

	if T.netWriting {
		T.closeDeferred = true
	} else {
		T.transport.CloseEx(err)
	}
}

func (T *Socket) closeError() error {
	if T.cause == nil {
		return anet.ErrClosed
	}
	return T.cause
}

// tryCloseOutbound pumps the engine's close notification toward the
// transport. Errors are ignored, the socket is going away regardless.
func (T *Socket) tryCloseOutbound() {
	if T.engine.IsOutboundDone() {
		return
	}
	T.engine.CloseOutbound()
	for i := 0; i < maxCloseWraps && !T.engine.IsOutboundDone(); i++ {
		result, err := T.tryToWrap()
		if err != nil {
			break
		}
		if result.Status == Closed {
			break
		}
	}
}

// sync runs one pump pass, closing the socket on engine errors.
func (T *Socket) sync() {
	if err := T.doSync(); err != nil {
		T.CloseEx(err)
	}
}

func (T *Socket) doSync() error {
	if T.closed {
		return nil
	}

	if T.engine.HandshakeStatus() != NotHandshaking {
		return T.doHandshake()
	}

	var result Result

	// flush queued plaintext into the engine
	if T.app2engine != nil {
		for {
			var err error
			result, err = T.tryToWrap()
			if err != nil {
				return err
			}
			if T.closed || T.app2engine == nil {
				break
			}
			if result.Consumed == 0 && result.Produced == 0 {
				break
			}
		}
	}

	if T.closed {
		return nil
	}

	// drain transport records into plaintext
	if T.net2engine != nil {
		for {
			var err error
			result, err = T.tryToUnwrap()
			if err != nil {
				return err
			}
			if T.net2engine == nil {
				break
			}
			if result.Consumed == 0 && result.Produced == 0 {
				break
			}
		}

		// the peer announced its close; whatever is buffered still
		// reaches the application first
		if result.Status == Closed {
			T.shouldReturnEOF = true
		}

		if T.read != nil && T.engine2app != nil {
			read := T.read
			T.read = nil
			buf := T.engine2app
			T.engine2app = nil
			read.Complete(buf)
		}
	}

	if result.Status == Closed {
		T.CloseEx(nil)
		return nil
	}

	// keep one transport read ahead unless plaintext is already waiting
	// with nobody asking for it
	if !T.closed && (T.read != nil || T.engine2app == nil) {
		T.doRead()
	}
	return nil
}

// doHandshake steps the engine until it suspends on transport bytes, a
// delegated task, or handshake completion.
func (T *Socket) doHandshake() error {
	var result Result
	for !T.closed {
		if result.Status == Closed {
			T.CloseEx(nil)
			return nil
		}

		switch T.engine.HandshakeStatus() {
		case NeedWrap:
			var err error
			result, err = T.tryToWrap()
			if err != nil {
				return err
			}

		case NeedUnwrap:
			var err error
			result, err = T.tryToUnwrap()
			if err != nil {
				return err
			}
			if result.Status == Underflow {
				T.doRead()
				return nil
			}

		case NeedTask:
			T.executeTask()
			return nil

		default:
			return T.doSync()
		}
	}
	return nil
}

// executeTask runs one delegated task on the pool and resumes the
// handshake on the loop when it settles. At most one task is in flight;
// re-entry while it runs finds no task and suspends again.
func (T *Socket) executeTask() {
	task := T.engine.DelegatedTask()
	if task == nil {
		return
	}
	promise := aio.Blocking(T.loop, T.pool, func() (aio.Void, error) {
		return aio.Void{}, task()
	})
	promise.When(func(_ aio.Void, err error) {
		if T.closed {
			return
		}
		if err != nil {
			T.CloseEx(err)
			return
		}
		if err := T.doHandshake(); err != nil {
			T.CloseEx(err)
		}
	})
}

// tryToWrap moves plaintext through the engine, forwarding any produced
// records to the transport.
func (T *Socket) tryToWrap() (Result, error) {
	dst := bytebuf.Alloc(T.engine.PacketSize())

	var src []byte
	if T.app2engine != nil {
		src = T.app2engine.Bytes()
	}

	result, err := T.engine.Wrap(src, dst.Space())
	if err != nil {
		dst.Recycle()
		return result, err
	}

	if result.Consumed > 0 {
		T.app2engine.Skip(result.Consumed)
	}
	T.app2engine = recycleIfEmpty(T.app2engine)

	if result.Produced > 0 {
		dst.Extend(result.Produced)
		T.doWrite(dst)
	} else {
		dst.Recycle()
	}
	return result, nil
}

// tryToUnwrap moves transport records through the engine, buffering any
// produced plaintext for the application.
func (T *Socket) tryToUnwrap() (Result, error) {
	dst := bytebuf.Alloc(T.engine.PacketSize())

	var src []byte
	if T.net2engine != nil {
		src = T.net2engine.Bytes()
	}

	result, err := T.engine.Unwrap(src, dst.Space())
	if err != nil {
		dst.Recycle()
		return result, err
	}

	if result.Consumed > 0 {
		T.net2engine.Skip(result.Consumed)
	}
	T.net2engine = recycleIfEmpty(T.net2engine)

	if result.Produced > 0 && !T.closed {
		dst.Extend(result.Produced)
		if T.engine2app == nil {
			T.engine2app = dst
		} else {
			T.engine2app.Write(dst.Bytes())
			dst.Recycle()
		}
	} else {
		dst.Recycle()
	}
	return result, nil
}

// doRead asks the transport for more records. At most one transport read
// is in flight.
func (T *Socket) doRead() {
	if T.netReading {
		return
	}
	T.netReading = true
	T.transport.Read().When(func(buf *bytebuf.Buf, err error) {
		T.netReading = false
		T.readDone(buf, err)
	})
}

func (T *Socket) readDone(buf *bytebuf.Buf, err error) {
	if err != nil {
		T.CloseEx(err)
		return
	}
	if T.closed {
		if buf != nil {
			buf.Recycle()
		}
		return
	}

	if buf != nil {
		if T.net2engine == nil {
			T.net2engine = buf
		} else {
			T.net2engine.Write(buf.Bytes())
			buf.Recycle()
		}
		T.sync()
		return
	}

	// transport end of stream
	if T.engine.IsInboundDone() {
		return
	}
	if err := T.engine.CloseInbound(); err != nil {
		if !T.config.StrictClose {
			if read := T.read; read != nil {
				T.read = nil
				read.Complete(nil)
			}
		}
		T.CloseEx(fmt.Errorf("%w: %w", ErrCloseWithoutNotify, err))
		return
	}
	T.shouldReturnEOF = true
	T.CloseEx(nil)
}

// doWrite hands one record buffer to the transport, keeping at most one
// transport write in flight. Records produced meanwhile queue up behind
// it and flush when it settles.
func (T *Socket) doWrite(buf *bytebuf.Buf) {
	if T.netWriting {
		if T.netQueue == nil {
			T.netQueue = buf
		} else {
			T.netQueue.Write(buf.Bytes())
			buf.Recycle()
		}
		return
	}
	T.netWriting = true
	T.transport.Write(buf).When(func(_ aio.Void, err error) {
		T.netWriting = false
		T.writeDone(err)
	})
}

func (T *Socket) writeDone(err error) {
	if err != nil {
		if !T.closed {
			T.CloseEx(err)
			return
		}
		if T.netQueue != nil {
			T.netQueue.Recycle()
			T.netQueue = nil
		}
		if T.closeDeferred {
			T.closeDeferred = false
			T.transport.CloseEx(T.cause)
		}
		return
	}

	if T.netQueue != nil {
		buf := T.netQueue
		T.netQueue = nil
		T.doWrite(buf)
		return
	}

	if T.closed {
		if T.closeDeferred {
			T.closeDeferred = false
			T.transport.CloseEx(T.cause)
		}
		return
	}

	if T.engine.IsOutboundDone() {
		T.CloseEx(nil)
		return
	}

	// more plaintext queued up while that write was in flight
	if T.app2engine != nil {
		T.sync()
		return
	}

	// everything the application queued is on the wire
	if T.engine.HandshakeStatus() == NotHandshaking && T.write != nil {
		write := T.write
		T.write = nil
		write.Complete(aio.Void{})
	}
}

func recycleIfEmpty(buf *bytebuf.Buf) *bytebuf.Buf {
	if buf == nil || buf.CanRead() {
		return buf
	}
	buf.Recycle()
	return nil
}
