package gate

import (
	"fmt"
	"runtime"

	"github.com/caddyserver/caddy/v2"
	"go.uber.org/zap"

	"gfx.cafe/gfx/sgat/lib/aio"
)

type Config struct {
	// Loops is the number of event loops shared by all listeners. Defaults
	// to GOMAXPROCS.
	Loops int `json:"loops,omitempty"`
	// Workers bounds the pool running delegated engine work.
	Workers int              `json:"workers,omitempty"`
	Listen  []ListenerConfig `json:"listen"`
}

func init() {
	caddy.RegisterModule((*App)(nil))
}

type App struct {
	Config

	loops *Loops
	pool  *aio.Pool

	listen []*Listener

	log *zap.Logger
}

func (T *App) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID: "sgat",
		New: func() caddy.Module {
			return new(App)
		},
	}
}

func (T *App) Provision(ctx caddy.Context) error {
	T.log = ctx.Logger()

	loops := T.Loops
	if loops == 0 {
		loops = runtime.GOMAXPROCS(0)
	}
	T.loops = NewLoops(loops)

	workers := T.Workers
	if workers == 0 {
		workers = loops
	}
	var err error
	T.pool, err = aio.NewPool(workers)
	if err != nil {
		return fmt.Errorf("creating worker pool: %v", err)
	}

	T.listen = make([]*Listener, 0, len(T.Listen))
	for _, config := range T.Listen {
		listener := &Listener{
			ListenerConfig: config,

			loops: T.loops,
			pool:  T.pool,
		}
		if err = listener.Provision(ctx); err != nil {
			return err
		}
		T.listen = append(T.listen, listener)
	}

	return nil
}

func (T *App) Start() error {
	T.loops.Start()

	for _, listener := range T.listen {
		if err := listener.Start(); err != nil {
			return err
		}
	}

	T.log.Info("started", zap.Int("listeners", len(T.listen)))

	return nil
}

func (T *App) Stop() error {
	for _, listener := range T.listen {
		if err := listener.Stop(); err != nil {
			return err
		}
	}

	T.loops.Stop()
	_ = T.pool.Close()

	return nil
}

var _ caddy.Module = (*App)(nil)
var _ caddy.Provisioner = (*App)(nil)
var _ caddy.App = (*App)(nil)
