package aio

import (
	"errors"
	"testing"
)

func TestBlocking(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Stop()

	pool, err := NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = pool.Close()
	}()

	promise := Call(loop, func() *Promise[int] {
		return Blocking(loop, pool, func() (int, error) {
			if loop.InLoop() {
				t.Error("expected blocking fn to run off the loop")
			}
			return 6 * 7, nil
		})
	})

	var settledInLoop bool
	done := Call(loop, func() *Promise[Void] {
		p := NewPromise[Void]()
		promise.When(func(int, error) {
			settledInLoop = loop.InLoop()
			p.Complete(Void{})
		})
		return p
	})
	if _, err := Await(loop, done); err != nil {
		t.Fatal(err)
	}

	v, err := Await(loop, promise)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Error("expected 42 but got", v)
	}
	if !settledInLoop {
		t.Error("expected promise to settle on the loop")
	}
}

func TestBlocking_Error(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Stop()

	pool, err := NewPool(1)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = pool.Close()
	}()

	expected := errors.New("task failed")
	promise := Call(loop, func() *Promise[int] {
		return Blocking(loop, pool, func() (int, error) {
			return 0, expected
		})
	})

	_, err = Await(loop, promise)
	if !errors.Is(err, expected) {
		t.Error("expected", expected, "but got", err)
	}
}
