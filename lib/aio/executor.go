package aio

import (
	"github.com/panjf2000/ants/v2"
)

// Pool runs blocking work off the loop goroutine.
type Pool struct {
	workers *ants.Pool
}

func NewPool(size int) (*Pool, error) {
	workers, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &Pool{
		workers: workers,
	}, nil
}

func (T *Pool) Close() error {
	T.workers.Release()
	return nil
}

// Blocking runs fn on a pool worker and settles the returned promise on the
// loop. This is the only place results cross goroutines; fn must not touch
// loop-owned state.
func Blocking[R any](loop *Loop, pool *Pool, fn func() (R, error)) *Promise[R] {
	promise := NewPromise[R]()
	err := pool.workers.Submit(func() {
		value, err := fn()
		loop.Post(func() {
			promise.Settle(value, err)
		})
	})
	if err != nil {
		return Failed[R](err)
	}
	return promise
}
