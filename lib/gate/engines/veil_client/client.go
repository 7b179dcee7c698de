package veil_client

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
	caddy.RegisterModule((*Client)(nil))
}

// Client provides initiating veil engines pinned to one server key.
type Client struct {
	// PeerFile is the path of the server's PEM public key.
	PeerFile string `json:"peer_file,omitempty"`
	// Peer is the server's public key as inline PEM, used when PeerFile is
	// empty.
	Peer string `json:"peer,omitempty"`

	peer *ecdh.PublicKey
}

func (T *Client) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID: "sgat.engines.veil_client",
		New: func() caddy.Module {
			return new(Client)
		},
	}
}

func (T *Client) Provision(ctx caddy.Context) error {
	data := []byte(T.Peer)
	if T.PeerFile != "" {
		var err error
		data, err = os.ReadFile(T.PeerFile)
		if err != nil {
			return err
		}
	}
	if len(data) == 0 {
		return errors.New("either peer_file or peer is required")
	}

	var err error
	T.peer, err = keys.ParsePublic(data)
	return err
}

func (T *Client) NewEngine() (ssl.Engine, error) {
	return veil.NewClient(veil.Config{
		Peer: T.peer,
	})
}

var _ gate.EngineProvider = (*Client)(nil)
var _ caddy.Module = (*Client)(nil)
var _ caddy.Provisioner = (*Client)(nil)
