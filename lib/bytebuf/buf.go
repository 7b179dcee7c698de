// Package bytebuf provides pooled byte buffers with explicit ownership.
// A Buf is alive from Alloc or Wrap until Recycle; touching it afterwards
// panics. Handing a Buf to another component transfers ownership.
package bytebuf

import (
	"gfx.cafe/gfx/sgat/lib/util/decorator"
)

// Buf is a byte buffer with separate read and write positions. The readable
// window is Bytes(); the writable window is Space(). Not safe for concurrent
// use.
type Buf struct {
	noCopy decorator.NoCopy

	data []byte
	head int
	tail int

	pooled   bool
	recycled bool
}

// Alloc returns an empty Buf with capacity for at least size bytes, drawn
// from the pool.
func Alloc(size int) *Buf {
	data := allocBytes(size)
	return &Buf{
		data:   data[:cap(data)],
		pooled: true,
	}
}

// Wrap returns a Buf reading from data. The slice is used directly and is
// not returned to the pool on Recycle.
func Wrap(data []byte) *Buf {
	return &Buf{
		data: data,
		tail: len(data),
	}
}

func (T *Buf) assert() {
	// this check can be turned off when in production mode (for dev, this is helpful though)
	if T.recycled {
		panic("bytebuf: use after recycle")
	}
}

// Len is the number of readable bytes.
func (T *Buf) Len() int {
	T.assert()
	return T.tail - T.head
}

func (T *Buf) CanRead() bool {
	return T.Len() > 0
}

// Bytes is the readable window. Valid until the next mutating call.
func (T *Buf) Bytes() []byte {
	T.assert()
	return T.data[T.head:T.tail]
}

// Skip consumes n readable bytes.
func (T *Buf) Skip(n int) {
	T.assert()
	if n < 0 || n > T.tail-T.head {
		panic("bytebuf: skip out of range")
	}
	T.head += n
	if T.head == T.tail {
		T.head = 0
		T.tail = 0
	}
}

// Free is the number of bytes that can be written without growing.
func (T *Buf) Free() int {
	T.assert()
	return len(T.data) - T.tail
}

// Space is the writable window. After writing n bytes into it, call Extend(n).
func (T *Buf) Space() []byte {
	T.assert()
	return T.data[T.tail:]
}

// Extend marks n bytes of Space as written.
func (T *Buf) Extend(n int) {
	T.assert()
	if n < 0 || n > len(T.data)-T.tail {
		panic("bytebuf: extend out of range")
	}
	T.tail += n
}

// Write appends p, growing if needed.
func (T *Buf) Write(p []byte) {
	T.EnsureFree(len(p))
	copy(T.data[T.tail:], p)
	T.tail += len(p)
}

// EnsureFree grows or compacts the buffer so that Free() >= n.
func (T *Buf) EnsureFree(n int) {
	T.assert()
	if len(T.data)-T.tail >= n {
		return
	}

	length := T.tail - T.head
	if len(T.data)-length >= n {
		copy(T.data, T.data[T.head:T.tail])
		T.head = 0
		T.tail = length
		return
	}

	data := allocBytes(length + n)
	data = data[:cap(data)]
	copy(data, T.data[T.head:T.tail])
	if T.pooled {
		recycleBytes(T.data)
	}
	T.data = data
	T.head = 0
	T.tail = length
	T.pooled = true
}

// Recycle returns the buffer to the pool. The Buf must not be used again.
func (T *Buf) Recycle() {
	T.assert()
	T.recycled = true
	if T.pooled {
		recycleBytes(T.data)
	}
	T.data = nil
}
