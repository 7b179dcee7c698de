package bytebuf

import (
	"sync"

	"gfx.cafe/gfx/sgat/lib/util/pools"
)

var (
	bytesPool pools.Log2[byte]
	bytesMu   sync.Mutex
)

func allocBytes(length int) []byte {
	if length <= 0 {
		return nil
	}
	bytesMu.Lock()
	defer bytesMu.Unlock()
	return bytesPool.Get(int32(length))
}

func recycleBytes(v []byte) {
	bytesMu.Lock()
	defer bytesMu.Unlock()
	bytesPool.Put(v)
}
