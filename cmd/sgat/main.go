package main

import (
	"context"

	"gfx.cafe/util/go/gotel"
	caddycmd "github.com/caddyserver/caddy/v2/cmd"
	_ "github.com/caddyserver/caddy/v2/modules/metrics"

	_ "gfx.cafe/gfx/sgat/lib/gate"
	_ "gfx.cafe/gfx/sgat/lib/gate/engines/veil_client"
	_ "gfx.cafe/gfx/sgat/lib/gate/engines/veil_server"
)

func main() {
	fn, _ := gotel.InitTracing(context.Background(), gotel.WithServiceName("sgat"))
	defer fn(context.Background())

	caddycmd.Main()
}
