package anet

import (
	"net"

	"gfx.cafe/gfx/sgat/lib/aio"
)

// Listener accepts connections and hands each to fn as a NetSocket, on the
// goroutine of the loop Loops picks for it.
type Listener struct {
	Listener net.Listener
	Loops    func() *aio.Loop
}

func (T *Listener) Accept(fn func(*NetSocket)) error {
	raw, err := T.Listener.Accept()
	if err != nil {
		return err
	}
	loop := T.Loops()
	loop.Post(func() {
		fn(NewNetSocket(loop, raw))
	})
	return nil
}

func (T *Listener) Close() error {
	return T.Listener.Close()
}

// Dial connects to address in the background and resolves, on loop, to a
// socket bound to that loop.
func Dial(loop *aio.Loop, network, address string) *aio.Promise[*NetSocket] {
	promise := aio.NewPromise[*NetSocket]()
	go func() {
		conn, err := net.Dial(network, address)
		loop.Post(func() {
			if err != nil {
				promise.Fail(err)
				return
			}
			promise.Complete(NewNetSocket(loop, conn))
		})
	}()
	return promise
}
