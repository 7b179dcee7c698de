package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/caddyserver/caddy/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/anet"
	"gfx.cafe/gfx/sgat/lib/instrumentation/prom"
	"gfx.cafe/gfx/sgat/lib/ssl"
	"gfx.cafe/gfx/sgat/lib/util/dur"
	"gfx.cafe/gfx/sgat/lib/util/maps"
)

const defaultPort = 5601

type ListenerConfig struct {
	// Address is the host:port or unix path to listen on.
	Address string `json:"address"`
	// Gnet accepts on a gnet event engine instead of a standard accept
	// loop. Only tcp addresses are supported.
	Gnet bool `json:"gnet,omitempty"`
	// Mode selects which side wears the encryption. "terminate" decrypts
	// accepted sessions and relays plaintext upstream, "originate" accepts
	// plaintext and encrypts toward the upstream.
	Mode string `json:"mode"`
	// Upstream is dialed once per accepted connection.
	Upstream string `json:"upstream"`
	// Engine provides the per-session engine.
	Engine json.RawMessage `json:"engine" caddy:"namespace=sgat.engines inline_key=engine"`

	MaxConnections int `json:"max_connections,omitempty"`
	// HandshakeTimeout aborts sessions whose handshake is still pending
	// after this long. Zero waits forever.
	HandshakeTimeout dur.Duration `json:"handshake_timeout,omitempty"`
	StrictClose      bool         `json:"strict_close,omitempty"`
}

type Listener struct {
	ListenerConfig

	loops *Loops
	pool  *aio.Pool

	networkAddress  caddy.NetworkAddress
	upstreamNetwork string
	upstreamAddress string
	engine          EngineProvider

	listener *anet.Listener
	server   *anet.GnetServer
	open     atomic.Int64
	sessions maps.RWLocked[uuid.UUID, *Session]

	tracer trace.Tracer
	log    *zap.Logger
}

func (T *Listener) Provision(ctx caddy.Context) error {
	T.log = ctx.Logger()
	T.tracer = otel.Tracer("sgat", trace.WithInstrumentationAttributes(
		attribute.String("component", "gfx.cafe/gfx/sgat/lib/gate/listener.go"),
	))

	if strings.HasPrefix(T.Address, "/") {
		// unix address
		T.networkAddress = caddy.NetworkAddress{
			Network: "unix",
			Host:    T.Address,
		}
	} else {
		// tcp address
		host, rawPort, ok := strings.Cut(T.Address, ":")

		var port = defaultPort
		if ok {
			var err error
			port, err = strconv.Atoi(rawPort)
			if err != nil {
				return fmt.Errorf("parsing port: %v", err)
			}
		}

		T.networkAddress = caddy.NetworkAddress{
			Network:   "tcp",
			Host:      host,
			StartPort: uint(port),
			EndPort:   uint(port),
		}
	}

	if T.Gnet && T.networkAddress.Network != "tcp" {
		return errors.New("gnet only supports tcp addresses")
	}

	switch T.Mode {
	case "terminate", "originate":
	default:
		return fmt.Errorf(`mode must be "terminate" or "originate", not %q`, T.Mode)
	}

	if T.Upstream == "" {
		return errors.New("upstream address is required")
	}
	if strings.HasPrefix(T.Upstream, "/") {
		T.upstreamNetwork = "unix"
		T.upstreamAddress = T.Upstream
	} else {
		T.upstreamNetwork = "tcp"
		T.upstreamAddress = T.Upstream
		if !strings.Contains(T.Upstream, ":") {
			T.upstreamAddress = net.JoinHostPort(T.Upstream, strconv.Itoa(defaultPort))
		}
	}

	if T.Engine == nil {
		return errors.New("an engine module is required")
	}
	val, err := ctx.LoadModule(T, "Engine")
	if err != nil {
		return fmt.Errorf("loading engine module: %v", err)
	}
	T.engine = val.(EngineProvider)

	return nil
}

func (T *Listener) Start() error {
	if T.Gnet {
		T.server = anet.NewGnetServer(T.log, T.loops.Next)
		err := T.server.Start(context.Background(), "tcp://"+T.networkAddress.JoinHostPort(0))
		if err != nil {
			return err
		}

		go T.acceptGnet()
	} else {
		if T.networkAddress.Network == "unix" {
			if err := os.MkdirAll(filepath.Dir(T.networkAddress.Host), 0o660); err != nil {
				return err
			}
		}
		listener, err := T.networkAddress.Listen(context.Background(), 0, net.ListenConfig{})
		if err != nil {
			return err
		}
		T.listener = &anet.Listener{
			Listener: listener.(net.Listener),
			Loops:    T.loops.Next,
		}

		go T.acceptLoop()
	}

	T.log.Info("listening", zap.String("address", T.networkAddress.String()))

	return nil
}

func (T *Listener) acceptLoop() {
	for {
		err := T.listener.Accept(func(sock *anet.NetSocket) {
			T.serve(sock.Loop(), sock)
		})
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			T.log.Warn("error accepting client", zap.Error(err))
		}
	}
}

func (T *Listener) acceptGnet() {
	for {
		sock, err := T.server.Accept()
		if err != nil {
			return
		}
		loop := sock.Loop()
		loop.Post(func() {
			T.serve(loop, sock)
		})
	}
}

// serve runs on the loop the accepted socket was dealt onto.
func (T *Listener) serve(loop *aio.Loop, sock anet.Socket) {
	labels := prom.ListenerLabels{ListenAddr: T.networkAddress.String()}
	prom.Listener.Incoming(labels).Inc()

	count := T.open.Add(1)
	if T.MaxConnections != 0 && int(count) > T.MaxConnections {
		T.open.Add(-1)
		T.log.Warn("too many connections", zap.String("address", T.networkAddress.String()))
		sock.CloseEx(nil)
		return
	}
	prom.Listener.Accepted(labels).Inc()
	prom.Listener.Client(labels).Inc()

	done := func() {
		T.open.Add(-1)
		prom.Listener.Client(labels).Dec()
	}

	engine, err := T.engine.NewEngine()
	if err != nil {
		T.log.Error("creating engine", zap.Error(err))
		sock.CloseEx(err)
		done()
		return
	}

	config := ssl.Config{StrictClose: T.StrictClose}

	// terminating sessions handshake while the upstream dial is underway
	var client anet.Socket = sock
	if T.Mode == "terminate" {
		client = ssl.NewSocket(loop, T.pool, sock, engine, config)
	}

	anet.Dial(loop, T.upstreamNetwork, T.upstreamAddress).When(func(upstream *anet.NetSocket, err error) {
		if err != nil {
			T.log.Warn("dialing upstream", zap.String("upstream", T.upstreamAddress), zap.Error(err))
			client.CloseEx(err)
			done()
			return
		}

		var up anet.Socket = upstream
		if T.Mode == "originate" {
			up = ssl.NewSocket(loop, T.pool, upstream, engine, config)
		}

		var session *Session
		session = NewSession(loop, SessionConfig{
			Mode:             T.Mode,
			HandshakeTimeout: T.HandshakeTimeout,
		}, client, up, T.tracer, T.log, func() {
			T.sessions.Delete(session.ID())
			done()
		})
		T.sessions.Store(session.ID(), session)
		session.Start()
	})
}

func (T *Listener) Stop() error {
	var err error
	switch {
	case T.server != nil:
		err = T.server.Shutdown(context.Background())
	case T.listener != nil:
		err = T.listener.Close()
	}

	T.sessions.Range(func(_ uuid.UUID, session *Session) bool {
		session.Shutdown()
		return true
	})

	return err
}

var _ caddy.Provisioner = (*Listener)(nil)
