package veil_server

import (
	"crypto/ecdh"
	"errors"
	"os"

	"github.com/caddyserver/caddy/v2"

	"gfx.cafe/gfx/sgat/lib/gate"
	"gfx.cafe/gfx/sgat/lib/ssl"
	"gfx.cafe/gfx/sgat/lib/ssl/engines/veil"
	"gfx.cafe/gfx/sgat/lib/util/keys"
)

func init() {
	caddy.RegisterModule((*Server)(nil))
}

// Server provides accepting veil engines from a fixed identity key.
type Server struct {
	// KeyFile is the path of the PEM identity key.
	KeyFile string `json:"key_file,omitempty"`
	// Key is the identity key as inline PEM, used when KeyFile is empty.
	Key string `json:"key,omitempty"`

	key *ecdh.PrivateKey
}

func (T *Server) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID: "sgat.engines.veil_server",
		New: func() caddy.Module {
			return new(Server)
		},
	}
}

func (T *Server) Provision(ctx caddy.Context) error {
	data := []byte(T.Key)
	if T.KeyFile != "" {
		var err error
		data, err = os.ReadFile(T.KeyFile)
		if err != nil {
			return err
		}
	}
	if len(data) == 0 {
		return errors.New("either key_file or key is required")
	}

	var err error
	T.key, err = keys.ParsePrivate(data)
	return err
}

func (T *Server) NewEngine() (ssl.Engine, error) {
	return veil.NewServer(veil.Config{
		Key: T.key,
	})
}

var _ gate.EngineProvider = (*Server)(nil)
var _ caddy.Module = (*Server)(nil)
var _ caddy.Provisioner = (*Server)(nil)
