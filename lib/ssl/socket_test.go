package ssl

import (
	"errors"
	"strings"
	"testing"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/anet"
	"gfx.cafe/gfx/sgat/lib/bytebuf"
)

// mockTransport is a hand-driven anet.Socket. Reads park until the test
// delivers bytes; writes park until the test acks them (unless autoAck).
type mockTransport struct {
	t *testing.T

	autoAck bool

	inbox [][]byte
	eof   bool
	read  *aio.Promise[*bytebuf.Buf]

	writes []string
	acks   []*aio.Promise[aio.Void]

	closed bool
	cause  error
}

var _ anet.Socket = (*mockTransport)(nil)

func (T *mockTransport) Read() *aio.Promise[*bytebuf.Buf] {
	if T.read != nil {
		T.t.Error("transport read issued while one is in flight")
	}
	if T.closed {
		return aio.Failed[*bytebuf.Buf](anet.ErrClosed)
	}
	if len(T.inbox) > 0 {
		data := T.inbox[0]
		T.inbox = T.inbox[1:]
		return aio.Completed(bytebuf.Wrap(data))
	}
	if T.eof {
		return aio.Completed[*bytebuf.Buf](nil)
	}
	read := aio.NewPromise[*bytebuf.Buf]()
	T.read = read
	return read
}

func (T *mockTransport) Write(buf *bytebuf.Buf) *aio.Promise[aio.Void] {
	if T.closed {
		T.t.Error("transport write after close")
	}
	T.writes = append(T.writes, string(buf.Bytes()))
	buf.Recycle()
	if T.autoAck {
		return aio.Completed(aio.Void{})
	}
	ack := aio.NewPromise[aio.Void]()
	T.acks = append(T.acks, ack)
	return ack
}

func (T *mockTransport) IsReadAvailable() bool {
	return len(T.inbox) > 0
}

func (T *mockTransport) CloseEx(err error) {
	if T.closed {
		return
	}
	T.closed = true
	T.cause = err
	if read := T.read; read != nil {
		T.read = nil
		if err == nil {
			err = anet.ErrClosed
		}
		read.Fail(err)
	}
}

func (T *mockTransport) IsClosed() bool {
	return T.closed
}

func (T *mockTransport) deliver(data string) {
	if read := T.read; read != nil {
		T.read = nil
		read.Complete(bytebuf.Wrap([]byte(data)))
		return
	}
	T.inbox = append(T.inbox, []byte(data))
}

func (T *mockTransport) deliverEOF() {
	T.eof = true
	if read := T.read; read != nil {
		T.read = nil
		read.Complete(nil)
	}
}

func (T *mockTransport) failRead(err error) {
	read := T.read
	if read == nil {
		T.t.Error("no transport read to fail")
		return
	}
	T.read = nil
	read.Fail(err)
}

func (T *mockTransport) ack() {
	if len(T.acks) == 0 {
		T.t.Error("no transport write to ack")
		return
	}
	ack := T.acks[0]
	T.acks = T.acks[1:]
	ack.Complete(aio.Void{})
}

func (T *mockTransport) failAck(err error) {
	if len(T.acks) == 0 {
		T.t.Error("no transport write to fail")
		return
	}
	ack := T.acks[0]
	T.acks = T.acks[1:]
	ack.Fail(err)
}

// frameEngine is a toy codec for exercising the pump: records are a one
// byte length followed by the payload, and a zero length is the close
// notification. No handshake, no tasks.
type frameEngine struct {
	outClosed bool
	outDone   bool
	inDone    bool
}

var _ Engine = (*frameEngine)(nil)

func (T *frameEngine) HandshakeStatus() HandshakeStatus {
	return NotHandshaking
}

func (T *frameEngine) Wrap(src []byte, dst []byte) (Result, error) {
	if T.outClosed {
		if T.outDone {
			return Result{Status: Closed}, nil
		}
		dst[0] = 0
		T.outDone = true
		return Result{Status: Closed, Produced: 1}, nil
	}
	n := len(src)
	if n > 255 {
		n = 255
	}
	if n > len(dst)-1 {
		n = len(dst) - 1
	}
	if n == 0 {
		return Result{}, nil
	}
	dst[0] = byte(n)
	copy(dst[1:], src[:n])
	return Result{Consumed: n, Produced: n + 1}, nil
}

func (T *frameEngine) Unwrap(src []byte, dst []byte) (Result, error) {
	if T.inDone {
		return Result{Status: Closed}, nil
	}
	if len(src) == 0 {
		return Result{Status: Underflow}, nil
	}
	n := int(src[0])
	if n == 0 {
		T.inDone = true
		return Result{Status: Closed, Consumed: 1}, nil
	}
	if len(src) < 1+n {
		return Result{Status: Underflow}, nil
	}
	copy(dst, src[1:1+n])
	return Result{Consumed: 1 + n, Produced: n}, nil
}

func (T *frameEngine) DelegatedTask() func() error {
	return nil
}

func (T *frameEngine) CloseOutbound() {
	T.outClosed = true
}

func (T *frameEngine) IsOutboundDone() bool {
	return T.outDone
}

func (T *frameEngine) IsInboundDone() bool {
	return T.inDone
}

func (T *frameEngine) CloseInbound() error {
	if T.inDone {
		return nil
	}
	return errors.New("close notification never arrived")
}

func (T *frameEngine) PacketSize() int {
	return 64
}

// scriptEngine replays a fixed list of expected Wrap and Unwrap calls,
// failing the test on any call out of order.
type scriptStep struct {
	op     string
	result Result
	out    string
	status HandshakeStatus
}

type scriptEngine struct {
	t       *testing.T
	status  HandshakeStatus
	steps   []scriptStep
	tasks   []func() error
	outDone bool
	inDone  bool
}

var _ Engine = (*scriptEngine)(nil)

func (T *scriptEngine) step(op string, src []byte, dst []byte) (Result, error) {
	if len(T.steps) == 0 {
		T.t.Error("unexpected engine call", op)
		return Result{}, errors.New("unexpected " + op)
	}
	s := T.steps[0]
	T.steps = T.steps[1:]
	if s.op != op {
		T.t.Error("expected engine call", s.op, "but got", op)
		return Result{}, errors.New("unexpected " + op)
	}
	if s.result.Consumed > len(src) {
		T.t.Error("step consumes", s.result.Consumed, "but src has", len(src))
	}
	copy(dst, s.out)
	T.status = s.status
	return s.result, nil
}

func (T *scriptEngine) HandshakeStatus() HandshakeStatus {
	return T.status
}

func (T *scriptEngine) Wrap(src []byte, dst []byte) (Result, error) {
	return T.step("wrap", src, dst)
}

func (T *scriptEngine) Unwrap(src []byte, dst []byte) (Result, error) {
	return T.step("unwrap", src, dst)
}

func (T *scriptEngine) DelegatedTask() func() error {
	if len(T.tasks) == 0 {
		return nil
	}
	task := T.tasks[0]
	T.tasks = T.tasks[1:]
	return task
}

func (T *scriptEngine) CloseOutbound() {
	T.outDone = true
}

func (T *scriptEngine) IsOutboundDone() bool {
	return T.outDone
}

func (T *scriptEngine) IsInboundDone() bool {
	return T.inDone
}

func (T *scriptEngine) CloseInbound() error {
	T.inDone = true
	return nil
}

func (T *scriptEngine) PacketSize() int {
	return 64
}

func startSocket(t *testing.T, engine Engine, config Config, autoAck bool) (*aio.Loop, *mockTransport, *Socket) {
	loop := aio.NewLoop()
	go loop.Run()
	t.Cleanup(loop.Stop)

	pool, err := aio.NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = pool.Close()
	})

	tr := &mockTransport{t: t, autoAck: autoAck}
	var sock *Socket
	aio.Call(loop, func() aio.Void {
		sock = NewSocket(loop, pool, tr, engine, config)
		return aio.Void{}
	})
	return loop, tr, sock
}

func do(loop *aio.Loop, fn func()) {
	aio.Call(loop, func() aio.Void {
		fn()
		return aio.Void{}
	})
}

func wrap(data string) *bytebuf.Buf {
	return bytebuf.Wrap([]byte(data))
}

func expectData(t *testing.T, loop *aio.Loop, promise *aio.Promise[*bytebuf.Buf], expected string) {
	t.Helper()
	buf, err := aio.Await(loop, promise)
	if err != nil {
		t.Error("expected read of", expected, "but got error:", err)
		return
	}
	if buf == nil {
		t.Error("expected read of", expected, "but got end of stream")
		return
	}
	if string(buf.Bytes()) != expected {
		t.Error("expected", expected, "but got", string(buf.Bytes()))
	}
	buf.Recycle()
}

func TestSocket_ReadWrite(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	var wp *aio.Promise[aio.Void]
	do(loop, func() {
		wp = sock.Write(wrap("hello"))
	})
	if _, err := aio.Await(loop, wp); err != nil {
		t.Fatal(err)
	}
	do(loop, func() {
		if len(tr.writes) != 1 || tr.writes[0] != "\x05hello" {
			t.Error("expected one record \\x05hello but got", tr.writes)
		}
	})

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
		tr.deliver("\x05world")
	})
	expectData(t, loop, rp, "world")
}

func TestSocket_ReadAvailable(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	do(loop, func() {
		tr.deliver("\x02hi")
	})
	do(loop, func() {
		if !sock.IsReadAvailable() {
			t.Error("expected plaintext to be buffered")
		}
		// buffered plaintext with no reader must not pull more records
		if tr.read != nil {
			t.Error("expected no transport read while plaintext waits")
		}
	})

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
	})
	expectData(t, loop, rp, "hi")
	do(loop, func() {
		if sock.IsReadAvailable() {
			t.Error("expected plaintext to be drained")
		}
	})
}

func TestSocket_Underflow(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
		tr.deliver("\x05wo")
	})
	do(loop, func() {
		if rp.Settled() {
			t.Error("expected read to wait for the rest of the record")
		}
		if tr.read == nil {
			t.Error("expected a follow-up transport read")
		}
		tr.deliver("rld")
	})
	expectData(t, loop, rp, "world")
}

func TestSocket_WriteQueue(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, false)

	// 100 bytes against a 64 byte packet size: two records from one write
	var wp *aio.Promise[aio.Void]
	do(loop, func() {
		wp = sock.Write(wrap(strings.Repeat("a", 100)))
	})
	do(loop, func() {
		if len(tr.writes) != 1 {
			t.Error("expected a single in-flight transport write but got", len(tr.writes))
		}
		tr.ack()
	})
	do(loop, func() {
		if len(tr.writes) != 2 {
			t.Error("expected the second record after the ack but got", len(tr.writes))
		}
		if wp.Settled() {
			t.Error("expected write to wait for the final ack")
		}
		tr.ack()
	})
	if _, err := aio.Await(loop, wp); err != nil {
		t.Fatal(err)
	}
}

func TestSocket_WriteCoalesce(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, false)

	var wp1, wp2 *aio.Promise[aio.Void]
	do(loop, func() {
		wp1 = sock.Write(wrap("aa"))
		wp2 = sock.Write(wrap("bb"))
	})
	if wp1 != wp2 {
		t.Error("expected writes to share one promise")
	}
	do(loop, func() {
		if len(tr.writes) != 1 || tr.writes[0] != "\x02aa" {
			t.Error("expected only the first record but got", tr.writes)
		}
		tr.ack()
	})
	do(loop, func() {
		if len(tr.writes) != 2 || tr.writes[1] != "\x02bb" {
			t.Error("expected the queued record but got", tr.writes)
		}
		tr.ack()
	})
	if _, err := aio.Await(loop, wp1); err != nil {
		t.Fatal(err)
	}
}

func TestSocket_PeerClose(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
		tr.deliver("\x05salut\x00")
	})
	// buffered data beats the close notification
	expectData(t, loop, rp, "salut")

	var rp2 *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		if !sock.IsClosed() {
			t.Error("expected socket to close after the notification")
		}
		rp2 = sock.Read()
	})
	if buf, err := aio.Await(loop, rp2); err != nil || buf != nil {
		t.Error("expected end of stream but got", buf, err)
	}

	var rp3 *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp3 = sock.Read()
	})
	if _, err := aio.Await(loop, rp3); !errors.Is(err, anet.ErrClosed) {
		t.Error("expected", anet.ErrClosed, "but got", err)
	}

	do(loop, func() {
		// our own notification answered before the transport closed
		if len(tr.writes) != 1 || tr.writes[0] != "\x00" {
			t.Error("expected an answering close notification but got", tr.writes)
		}
		if !tr.closed || tr.cause != nil {
			t.Error("expected a clean transport close but got", tr.closed, tr.cause)
		}
	})
}

func TestSocket_Close(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
	})
	do(loop, func() {
		sock.CloseEx(nil)
	})
	// a graceful close resolves the pending read to end of stream
	if buf, err := aio.Await(loop, rp); err != nil || buf != nil {
		t.Error("expected end of stream but got", buf, err)
	}

	do(loop, func() {
		if len(tr.writes) != 1 || tr.writes[0] != "\x00" {
			t.Error("expected the close notification but got", tr.writes)
		}
		if !tr.closed || tr.cause != nil {
			t.Error("expected a clean transport close but got", tr.closed, tr.cause)
		}
		// close is single use, the first cause sticks
		sock.CloseEx(errors.New("too late"))
		if tr.cause != nil {
			t.Error("expected the original cause but got", tr.cause)
		}
	})

	var wp *aio.Promise[aio.Void]
	do(loop, func() {
		wp = sock.Write(wrap("nope"))
	})
	if _, err := aio.Await(loop, wp); !errors.Is(err, anet.ErrClosed) {
		t.Error("expected", anet.ErrClosed, "but got", err)
	}
}

func TestSocket_CloseDeferred(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, false)

	var wp *aio.Promise[aio.Void]
	do(loop, func() {
		wp = sock.Write(wrap("aa"))
	})
	do(loop, func() {
		sock.CloseEx(nil)
	})
	if _, err := aio.Await(loop, wp); !errors.Is(err, anet.ErrClosed) {
		t.Error("expected", anet.ErrClosed, "but got", err)
	}

	do(loop, func() {
		// the in-flight record holds the transport open
		if tr.closed {
			t.Error("expected transport close to wait for the ack")
		}
		if len(tr.writes) != 1 {
			t.Error("expected the close notification to queue but got", tr.writes)
		}
		tr.ack()
	})
	do(loop, func() {
		if len(tr.writes) != 2 || tr.writes[1] != "\x00" {
			t.Error("expected the queued close notification but got", tr.writes)
		}
		if tr.closed {
			t.Error("expected transport close to wait for the notification ack")
		}
		tr.ack()
	})
	do(loop, func() {
		if !tr.closed || tr.cause != nil {
			t.Error("expected a clean transport close but got", tr.closed, tr.cause)
		}
	})
}

func TestSocket_CloseWithoutNotify(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
		tr.deliverEOF()
	})
	// lenient mode treats the truncation as end of stream for the reader
	if buf, err := aio.Await(loop, rp); err != nil || buf != nil {
		t.Error("expected end of stream but got", buf, err)
	}

	var rp2 *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		if !sock.IsClosed() {
			t.Error("expected socket to close")
		}
		rp2 = sock.Read()
	})
	if _, err := aio.Await(loop, rp2); !errors.Is(err, ErrCloseWithoutNotify) {
		t.Error("expected", ErrCloseWithoutNotify, "but got", err)
	}
	do(loop, func() {
		if !errors.Is(tr.cause, ErrCloseWithoutNotify) {
			t.Error("expected", ErrCloseWithoutNotify, "but got", tr.cause)
		}
	})
}

func TestSocket_CloseWithoutNotifyStrict(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{StrictClose: true}, true)

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
		tr.deliverEOF()
	})
	if _, err := aio.Await(loop, rp); !errors.Is(err, ErrCloseWithoutNotify) {
		t.Error("expected", ErrCloseWithoutNotify, "but got", err)
	}
}

func TestSocket_HalfClose(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	var wp *aio.Promise[aio.Void]
	do(loop, func() {
		wp = sock.Write(nil)
	})
	if _, err := aio.Await(loop, wp); !errors.Is(err, ErrHalfClose) {
		t.Error("expected", ErrHalfClose, "but got", err)
	}

	// the socket survives the rejected shutdown
	do(loop, func() {
		if sock.IsClosed() {
			t.Error("expected socket to stay open")
		}
		wp = sock.Write(wrap("ok"))
	})
	if _, err := aio.Await(loop, wp); err != nil {
		t.Fatal(err)
	}
	do(loop, func() {
		if len(tr.writes) != 1 || tr.writes[0] != "\x02ok" {
			t.Error("expected the record but got", tr.writes)
		}
	})
}

func TestSocket_ReadReplaced(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	var rp1, rp2 *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp1 = sock.Read()
		rp2 = sock.Read()
	})
	if _, err := aio.Await(loop, rp1); !errors.Is(err, anet.ErrReadReplaced) {
		t.Error("expected", anet.ErrReadReplaced, "but got", err)
	}
	do(loop, func() {
		tr.deliver("\x03abc")
	})
	expectData(t, loop, rp2, "abc")
}

func TestSocket_TransportReadError(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, true)

	boom := errors.New("boom")
	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
	})
	do(loop, func() {
		tr.failRead(boom)
	})
	if _, err := aio.Await(loop, rp); !errors.Is(err, boom) {
		t.Error("expected", boom, "but got", err)
	}
	do(loop, func() {
		if !sock.IsClosed() {
			t.Error("expected socket to close")
		}
		if !errors.Is(tr.cause, boom) {
			t.Error("expected", boom, "but got", tr.cause)
		}
	})
}

func TestSocket_TransportWriteError(t *testing.T) {
	loop, tr, sock := startSocket(t, &frameEngine{}, Config{}, false)

	boom := errors.New("boom")
	var wp *aio.Promise[aio.Void]
	do(loop, func() {
		wp = sock.Write(wrap("aa"))
	})
	do(loop, func() {
		tr.failAck(boom)
	})
	if _, err := aio.Await(loop, wp); !errors.Is(err, boom) {
		t.Error("expected", boom, "but got", err)
	}
	do(loop, func() {
		if !sock.IsClosed() {
			t.Error("expected socket to close")
		}
	})
}

func TestSocket_Handshake(t *testing.T) {
	started := make(chan struct{})
	trigger := make(chan struct{})

	engine := &scriptEngine{
		t:      t,
		status: NeedWrap,
		steps: []scriptStep{
			{op: "wrap", result: Result{Produced: 6}, out: "HELLO1", status: NeedUnwrap},
			{op: "unwrap", result: Result{Status: Underflow}, status: NeedUnwrap},
			{op: "unwrap", result: Result{Consumed: 6}, status: NeedTask},
			{op: "wrap", result: Result{Produced: 6}, out: "FINISH", status: NotHandshaking},
			{op: "wrap", result: Result{Consumed: 4, Produced: 4}, out: "data", status: NotHandshaking},
		},
	}
	engine.tasks = []func() error{func() error {
		close(started)
		<-trigger
		engine.status = NeedWrap
		return nil
	}}

	loop, tr, sock := startSocket(t, engine, Config{}, true)

	do(loop, func() {
		if len(tr.writes) != 1 || tr.writes[0] != "HELLO1" {
			t.Error("expected the opening record but got", tr.writes)
		}
		tr.deliver("HELLO2")
	})
	<-started

	// the handshake must sit still until the task finishes
	var wp *aio.Promise[aio.Void]
	do(loop, func() {
		if len(tr.writes) != 1 {
			t.Error("expected no records during the task but got", tr.writes)
		}
		if len(engine.steps) != 2 {
			t.Error("expected no engine calls during the task,", len(engine.steps), "steps left")
		}
		if tr.read != nil {
			t.Error("expected no transport read during the task")
		}
		wp = sock.Write(wrap("data"))
	})
	do(loop, func() {
		if len(engine.steps) != 2 {
			t.Error("expected the queued write to stay queued,", len(engine.steps), "steps left")
		}
	})
	close(trigger)

	if _, err := aio.Await(loop, wp); err != nil {
		t.Fatal(err)
	}
	do(loop, func() {
		expected := []string{"HELLO1", "FINISH", "data"}
		if len(tr.writes) != len(expected) {
			t.Error("expected", expected, "but got", tr.writes)
			return
		}
		for i, data := range expected {
			if tr.writes[i] != data {
				t.Error("expected", expected, "but got", tr.writes)
				return
			}
		}
		if len(engine.steps) != 0 {
			t.Error("expected the script to be spent,", len(engine.steps), "steps left")
		}
	})
}

func TestSocket_HandshakeServer(t *testing.T) {
	engine := &scriptEngine{
		t:      t,
		status: NeedUnwrap,
		steps: []scriptStep{
			{op: "unwrap", result: Result{Status: Underflow}, status: NeedUnwrap},
			{op: "unwrap", result: Result{Consumed: 6}, status: NeedWrap},
			{op: "wrap", result: Result{Produced: 6}, out: "HELLO2", status: NotHandshaking},
		},
	}

	loop, tr, _ := startSocket(t, engine, Config{}, true)

	do(loop, func() {
		// nothing leaves until the peer speaks first
		if len(tr.writes) != 0 {
			t.Error("expected no records before the peer hello but got", tr.writes)
		}
		tr.deliver("HELLO1")
	})
	do(loop, func() {
		if len(tr.writes) != 1 || tr.writes[0] != "HELLO2" {
			t.Error("expected the answering record but got", tr.writes)
		}
	})
}

func TestSocket_HandshakeAbort(t *testing.T) {
	engine := &scriptEngine{
		t:      t,
		status: NeedWrap,
		steps: []scriptStep{
			{op: "wrap", result: Result{Produced: 6}, out: "HELLO1", status: NeedUnwrap},
			{op: "unwrap", result: Result{Status: Underflow}, status: NeedUnwrap},
			{op: "unwrap", result: Result{Status: Underflow}, status: NeedUnwrap},
			{op: "unwrap", result: Result{Status: Closed, Consumed: 1}, status: NeedUnwrap},
		},
	}

	loop, tr, sock := startSocket(t, engine, Config{}, true)

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
		tr.deliver("\x00")
	})
	// the peer bailed out cleanly, so the read ends the stream
	if buf, err := aio.Await(loop, rp); err != nil || buf != nil {
		t.Error("expected end of stream but got", buf, err)
	}
	do(loop, func() {
		if !sock.IsClosed() {
			t.Error("expected socket to close on the mid-handshake notification")
		}
		if !tr.closed {
			t.Error("expected transport to close")
		}
	})
}

func TestSocket_TaskFailure(t *testing.T) {
	boom := errors.New("boom")
	engine := &scriptEngine{
		t:      t,
		status: NeedTask,
	}
	engine.tasks = []func() error{func() error {
		return boom
	}}

	loop, tr, sock := startSocket(t, engine, Config{}, true)

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
	})
	if _, err := aio.Await(loop, rp); !errors.Is(err, boom) {
		t.Error("expected", boom, "but got", err)
	}
	do(loop, func() {
		if !sock.IsClosed() {
			t.Error("expected socket to close on task failure")
		}
		if !errors.Is(tr.cause, boom) {
			t.Error("expected", boom, "but got", tr.cause)
		}
	})
}

func TestSocket_StatusStrings(t *testing.T) {
	if NeedWrap.String() != "need wrap" {
		t.Error("expected need wrap but got", NeedWrap.String())
	}
	if Underflow.String() != "underflow" {
		t.Error("expected underflow but got", Underflow.String())
	}
}

func TestSocket_SlowTaskKeepsBuffers(t *testing.T) {
	started := make(chan struct{})
	trigger := make(chan struct{})

	engine := &scriptEngine{
		t:      t,
		status: NeedUnwrap,
		steps: []scriptStep{
			{op: "unwrap", result: Result{Status: Underflow}, status: NeedUnwrap},
			{op: "unwrap", result: Result{Status: Underflow}, status: NeedUnwrap},
			{op: "unwrap", result: Result{Consumed: 2}, status: NeedTask},
			{op: "unwrap", result: Result{Consumed: 2, Produced: 2}, out: "ok", status: NotHandshaking},
		},
	}
	engine.tasks = []func() error{func() error {
		close(started)
		<-trigger
		engine.status = NotHandshaking
		return nil
	}}

	loop, tr, sock := startSocket(t, engine, Config{}, true)

	var rp *aio.Promise[*bytebuf.Buf]
	do(loop, func() {
		rp = sock.Read()
		// the application record rides in with the handshake record and
		// must sit buffered until the task finishes
		tr.deliver("hsok")
	})
	<-started
	do(loop, func() {
		if rp.Settled() {
			t.Error("expected read to wait out the task")
		}
		if len(engine.steps) != 1 {
			t.Error("expected the buffered record to wait,", len(engine.steps), "steps left")
		}
	})
	close(trigger)
	expectData(t, loop, rp, "ok")
}
