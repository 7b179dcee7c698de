package gate

import (
	"sync/atomic"

	"gfx.cafe/gfx/sgat/lib/aio"
)

// Loops is a fixed group of event loops. Connections are dealt onto them
// round robin so one busy session cannot starve the rest.
type Loops struct {
	loops []*aio.Loop
	next  atomic.Uint64
}

func NewLoops(count int) *Loops {
	if count < 1 {
		count = 1
	}
	T := &Loops{
		loops: make([]*aio.Loop, count),
	}
	for i := range T.loops {
		T.loops[i] = aio.NewLoop()
	}
	return T
}

func (T *Loops) Start() {
	for _, loop := range T.loops {
		go loop.Run()
	}
}

func (T *Loops) Stop() {
	for _, loop := range T.loops {
		loop.Stop()
	}
}

// Next picks the loop for the next connection.
func (T *Loops) Next() *aio.Loop {
	return T.loops[T.next.Add(1)%uint64(len(T.loops))]
}
