package anet

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/bytebuf"
)

// GnetServer accepts connections on a gnet event engine and exposes them as
// GnetSockets, each bound to a loop picked by Loops.
type GnetServer struct {
	Logger *zap.Logger
	Loops  func() *aio.Loop

	ready  chan struct{}
	conns  chan *GnetSocket
	closed chan error

	gnet.BuiltinEventEngine
	eng       gnet.Engine
	connected atomic.Int64
}

func NewGnetServer(logger *zap.Logger, loops func() *aio.Loop) *GnetServer {
	return &GnetServer{
		Logger: logger,
		Loops:  loops,
		ready:  make(chan struct{}),
		conns:  make(chan *GnetSocket),
		closed: make(chan error, 1),
	}
}

// Start runs the engine and returns once it is accepting, ctx is done, or
// startup fails.
func (T *GnetServer) Start(ctx context.Context, addr string, opts ...gnet.Option) error {
	go func() {
		err := gnet.Run(T, addr, opts...)
		if err != nil {
			T.closed <- err
		}
		close(T.closed)
	}()
	select {
	case err := <-T.closed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-T.ready:
		return nil
	}
}

func (T *GnetServer) Accept() (*GnetSocket, error) {
	sock, ok := <-T.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return sock, nil
}

func (T *GnetServer) Connected() int64 {
	return T.connected.Load()
}

func (T *GnetServer) Shutdown(ctx context.Context) error {
	return T.eng.Stop(ctx)
}

func (T *GnetServer) OnBoot(eng gnet.Engine) gnet.Action {
	T.eng = eng
	close(T.ready)
	return gnet.None
}

func (T *GnetServer) OnShutdown(eng gnet.Engine) {
	close(T.conns)
}

func (T *GnetServer) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	loop := T.Loops()
	sock := newGnetSocket(loop, c)
	c.SetContext(sock)
	T.connected.Add(1)
	// hand off without stalling the event loop
	go func() {
		T.conns <- sock
	}()
	return nil, gnet.None
}

func (T *GnetServer) OnTraffic(c gnet.Conn) gnet.Action {
	sock, _ := c.Context().(*GnetSocket)
	if sock == nil {
		return gnet.Close
	}

	bts, err := c.Next(-1)
	if err != nil {
		T.Logger.Error("read failed",
			zap.String("conn", c.RemoteAddr().String()),
			zap.Error(err))
		return gnet.Close
	}
	if len(bts) > 0 {
		// bts is only valid during this handler
		buf := bytebuf.Alloc(len(bts))
		buf.Write(bts)
		sock.loop.Post(func() {
			sock.deliver(buf)
		})
	}
	return gnet.None
}

func (T *GnetServer) OnClose(c gnet.Conn, err error) gnet.Action {
	sock, _ := c.Context().(*GnetSocket)
	if sock != nil {
		sock.loop.Post(func() {
			sock.peerClosed(err)
		})
	}
	T.connected.Add(-1)
	return gnet.None
}
