package aio

// Void is the result type of promises that carry no value.
type Void struct{}

// Promise is a one-shot settable result. All methods must be called from the
// owning loop's goroutine; Await is the only off-loop bridge.
type Promise[R any] struct {
	settled   bool
	value     R
	err       error
	callbacks []func(R, error)
}

func NewPromise[R any]() *Promise[R] {
	return &Promise[R]{}
}

// Completed returns a promise already settled with value.
func Completed[R any](value R) *Promise[R] {
	return &Promise[R]{
		settled: true,
		value:   value,
	}
}

// Failed returns a promise already settled with err.
func Failed[R any](err error) *Promise[R] {
	return &Promise[R]{
		settled: true,
		err:     err,
	}
}

func (T *Promise[R]) Settled() bool {
	return T.settled
}

// Settle completes the promise and runs registered callbacks inline, in
// registration order. Settling twice is a programmer error and panics.
func (T *Promise[R]) Settle(value R, err error) {
	if T.settled {
		panic("aio: promise settled twice")
	}
	T.settled = true
	T.value = value
	T.err = err

	callbacks := T.callbacks
	T.callbacks = nil
	for _, fn := range callbacks {
		fn(value, err)
	}
}

func (T *Promise[R]) Complete(value R) {
	T.Settle(value, nil)
}

func (T *Promise[R]) Fail(err error) {
	T.Settle(*new(R), err)
}

// When registers fn to run when the promise settles. If the promise is
// already settled, fn runs inline before When returns.
func (T *Promise[R]) When(fn func(R, error)) {
	if T.settled {
		fn(T.value, T.err)
		return
	}
	T.callbacks = append(T.callbacks, fn)
}

// Result returns the settled value and error. Panics if still pending.
func (T *Promise[R]) Result() (R, error) {
	if !T.settled {
		panic("aio: promise not settled")
	}
	return T.value, T.err
}

// Await blocks until promise settles and returns its result. Must not be
// called from the loop goroutine.
func Await[R any](loop *Loop, promise *Promise[R]) (R, error) {
	if loop.InLoop() {
		panic("aio: Await from the loop goroutine")
	}

	var (
		value R
		err   error
	)
	done := make(chan struct{})
	loop.Post(func() {
		promise.When(func(v R, e error) {
			value = v
			err = e
			close(done)
		})
	})
	<-done
	return value, err
}
