// Package aio provides a single-goroutine task loop and one-shot promises.
//
// All callbacks scheduled on a Loop run on the loop goroutine, one at a time,
// so code driven by a loop never locks its own state. Other goroutines hand
// work to the loop with Post; blocking work leaves the loop through a Pool
// and comes back through Post.
package aio

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

type Loop struct {
	mu    sync.Mutex
	queue []func()
	stop  bool

	wake chan struct{}
	gid  atomic.Uint64
}

func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post schedules fn to run on the loop goroutine. Safe to call from any
// goroutine. Order is preserved between calls from the same goroutine.
func (T *Loop) Post(fn func()) {
	T.mu.Lock()
	T.queue = append(T.queue, fn)
	T.mu.Unlock()

	select {
	case T.wake <- struct{}{}:
	default:
	}
}

// Run executes posted tasks until Stop is called and the queue drains.
// Must be called exactly once.
func (T *Loop) Run() {
	T.gid.Store(goid())
	defer T.gid.Store(0)

	var tasks []func()
	for {
		T.mu.Lock()
		stop := T.stop
		tasks, T.queue = T.queue, tasks[:0]
		T.mu.Unlock()

		if len(tasks) == 0 {
			if stop {
				return
			}
			<-T.wake
			continue
		}

		for i, task := range tasks {
			task()
			tasks[i] = nil
		}
	}
}

// Stop makes Run return once already-posted tasks finish. Tasks posted
// after Run returns never run. Safe to call from any goroutine, including
// the loop.
func (T *Loop) Stop() {
	T.mu.Lock()
	T.stop = true
	T.mu.Unlock()

	select {
	case T.wake <- struct{}{}:
	default:
	}
}

// InLoop reports whether the caller is running on the loop goroutine.
func (T *Loop) InLoop() bool {
	return T.gid.Load() == goid()
}

// Assert panics if the caller is not on the loop goroutine.
func (T *Loop) Assert() {
	if !T.InLoop() {
		panic("aio: called off the loop goroutine")
	}
}

// Call runs fn on the loop and blocks until it returns. Must not be called
// from the loop goroutine (it would deadlock waiting on itself).
func Call[R any](loop *Loop, fn func() R) R {
	if loop.InLoop() {
		panic("aio: Call from the loop goroutine")
	}

	var value R
	done := make(chan struct{})
	loop.Post(func() {
		value = fn()
		close(done)
	})
	<-done
	return value
}

func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(s[:i], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
