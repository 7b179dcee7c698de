package aio

import (
	"errors"
	"testing"
)

func TestPromise_WhenBeforeSettle(t *testing.T) {
	promise := NewPromise[int]()

	var got int
	promise.When(func(v int, err error) {
		got = v
	})
	if got != 0 {
		t.Error("expected callback to wait for settle")
	}

	promise.Complete(7)
	if got != 7 {
		t.Error("expected 7 but got", got)
	}
}

func TestPromise_WhenAfterSettle(t *testing.T) {
	promise := Completed(7)

	var got int
	promise.When(func(v int, err error) {
		got = v
	})
	if got != 7 {
		t.Error("expected 7 but got", got)
	}
}

func TestPromise_CallbackOrder(t *testing.T) {
	promise := NewPromise[Void]()

	var order []int
	promise.When(func(Void, error) {
		order = append(order, 1)
	})
	promise.When(func(Void, error) {
		order = append(order, 2)
	})
	promise.Complete(Void{})

	for i, v := range order {
		if v != i+1 {
			t.Error("expected callback", i+1, "but got", v)
		}
	}
}

func TestPromise_Fail(t *testing.T) {
	expected := errors.New("nope")
	promise := NewPromise[int]()

	var got error
	promise.When(func(v int, err error) {
		got = err
	})
	promise.Fail(expected)

	if !errors.Is(got, expected) {
		t.Error("expected", expected, "but got", got)
	}
	if !promise.Settled() {
		t.Error("expected promise to be settled")
	}
}

func TestPromise_SettleTwice(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected second settle to panic")
		}
	}()

	promise := NewPromise[int]()
	promise.Complete(1)
	promise.Complete(2)
}

func TestAwait(t *testing.T) {
	loop := NewLoop()
	go loop.Run()
	defer loop.Stop()

	promise := Call(loop, func() *Promise[string] {
		p := NewPromise[string]()
		loop.Post(func() {
			p.Complete("done")
		})
		return p
	})

	v, err := Await(loop, promise)
	if err != nil {
		t.Fatal(err)
	}
	if v != "done" {
		t.Error("expected done but got", v)
	}
}
