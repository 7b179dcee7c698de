package gate

import (
	"gfx.cafe/gfx/sgat/lib/ssl"
)

// EngineProvider mints one session engine per connection. Which side of the
// handshake the engine plays is decided by the module providing it.
type EngineProvider interface {
	NewEngine() (ssl.Engine, error)
}
