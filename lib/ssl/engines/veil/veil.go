// Package veil is a session engine speaking the veil 1 protocol: an
// X25519 key exchange with an HKDF key schedule and ChaCha20-Poly1305
// records. The responder holds a static identity key; the initiator pins
// the responder's public key and stays anonymous.
//
// The handshake is three messages: the initiator's hello (ephemeral key
// and random), the responder's hello plus an encrypted finish proof, and
// the initiator's finish proof. Key derivation runs as a delegated task.
package veil

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"

	"gfx.cafe/gfx/sgat/lib/ssl"
)

var (
	// ErrVerify means the peer's finish proof did not check out: wrong
	// identity key, tampered records, or a peer speaking something else.
	ErrVerify = errors.New("peer verification failed")

	// ErrNoNotify is returned by CloseInbound when the peer never sent
	// its close notification.
	ErrNoNotify = errors.New("stream ended before the peer's close notification")
)

// Config carries the long-lived key material for an engine.
type Config struct {
	// Key is this side's static identity key. Responders require one.
	Key *ecdh.PrivateKey

	// Peer pins the remote identity. Initiators require one.
	Peer *ecdh.PublicKey

	// Rand is the entropy source, crypto/rand when nil.
	Rand io.Reader
}

func (T Config) rand() io.Reader {
	if T.Rand != nil {
		return T.Rand
	}
	return rand.Reader
}

type role int

const (
	roleClient role = iota
	roleServer
)

type state int

const (
	// the client hello is being sent (client) or awaited (server)
	stateClientHello state = iota
	// the key schedule runs as a delegated task
	stateDeriving
	// the server hello is being sent
	stateServerHello
	// the server finish is being sent (server) or awaited (client)
	stateServerFinish
	// the client finish is being sent (client) or awaited (server)
	stateClientFinish
	stateEstablished
)

// Engine is one side of a veil session. Methods are safe to call while a
// delegated task runs; everything shares one mutex.
type Engine struct {
	mu sync.Mutex

	role   role
	state  state
	config Config

	priv       *ecdh.PrivateKey
	random     [32]byte
	peerPub    []byte
	peerRandom [32]byte

	task func() error

	send       cipher.AEAD
	recv       cipher.AEAD
	sendSeq    uint64
	recvSeq    uint64
	sendFinish [32]byte
	recvFinish [32]byte

	outClosed bool
	outDone   bool
	inDone    bool
}

var _ ssl.Engine = (*Engine)(nil)

// NewClient builds an initiating engine pinned to the responder identity
// in config.Peer.
func NewClient(config Config) (*Engine, error) {
	if config.Peer == nil {
		return nil, errors.New("veil: initiator requires the responder's public key")
	}
	return newEngine(roleClient, config)
}

// NewServer builds a responding engine identified by config.Key.
func NewServer(config Config) (*Engine, error) {
	if config.Key == nil {
		return nil, errors.New("veil: responder requires an identity key")
	}
	return newEngine(roleServer, config)
}

func newEngine(r role, config Config) (*Engine, error) {
	T := &Engine{
		role:   r,
		state:  stateClientHello,
		config: config,
	}
	var err error
	T.priv, err = ecdh.X25519().GenerateKey(config.rand())
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	if _, err = io.ReadFull(config.rand(), T.random[:]); err != nil {
		return nil, fmt.Errorf("generate random: %w", err)
	}
	return T, nil
}

func (T *Engine) HandshakeStatus() ssl.HandshakeStatus {
	T.mu.Lock()
	defer T.mu.Unlock()

	switch T.state {
	case stateDeriving:
		return ssl.NeedTask
	case stateEstablished:
		return ssl.NotHandshaking
	}

	if T.role == roleClient {
		switch T.state {
		case stateClientHello, stateClientFinish:
			return ssl.NeedWrap
		default:
			return ssl.NeedUnwrap
		}
	}
	switch T.state {
	case stateServerHello, stateServerFinish:
		return ssl.NeedWrap
	default:
		return ssl.NeedUnwrap
	}
}

func (T *Engine) Wrap(src []byte, dst []byte) (ssl.Result, error) {
	T.mu.Lock()
	defer T.mu.Unlock()

	if T.outClosed {
		if T.outDone {
			return ssl.Result{Status: ssl.Closed}, nil
		}
		putHeader(dst, recordAlert, 1)
		dst[headerSize] = alertClose
		T.outDone = true
		return ssl.Result{Status: ssl.Closed, Produced: headerSize + 1}, nil
	}

	switch {
	case T.role == roleClient && T.state == stateClientHello:
		n := T.putHello(dst, msgClientHello)
		T.state = stateServerHello
		return ssl.Result{Produced: n}, nil

	case T.role == roleServer && T.state == stateServerHello:
		n := T.putHello(dst, msgServerHello)
		T.state = stateServerFinish
		return ssl.Result{Produced: n}, nil

	case T.role == roleServer && T.state == stateServerFinish:
		n := T.putFinished(dst)
		T.state = stateClientFinish
		return ssl.Result{Produced: n}, nil

	case T.role == roleClient && T.state == stateClientFinish:
		n := T.putFinished(dst)
		T.state = stateEstablished
		return ssl.Result{Produced: n}, nil

	case T.state == stateEstablished:
		if len(src) == 0 {
			return ssl.Result{}, nil
		}
		n := len(src)
		if n > maxPlaintext {
			n = maxPlaintext
		}
		produced := T.seal(dst, recordData, src[:n])
		return ssl.Result{Consumed: n, Produced: produced}, nil

	default:
		return ssl.Result{}, nil
	}
}

func (T *Engine) Unwrap(src []byte, dst []byte) (ssl.Result, error) {
	T.mu.Lock()
	defer T.mu.Unlock()

	if T.inDone {
		return ssl.Result{Status: ssl.Closed}, nil
	}

	typ, n, ok, err := parseHeader(src)
	if err != nil {
		return ssl.Result{}, err
	}
	if !ok || len(src) < headerSize+n {
		return ssl.Result{Status: ssl.Underflow}, nil
	}
	header := src[:headerSize]
	payload := src[headerSize : headerSize+n]
	consumed := headerSize + n

	switch typ {
	case recordAlert:
		if n != 1 || payload[0] != alertClose {
			return ssl.Result{}, fmt.Errorf("unknown alert %v", payload)
		}
		T.inDone = true
		return ssl.Result{Status: ssl.Closed, Consumed: consumed}, nil

	case recordHandshake:
		if err := T.handshakeRecord(header, payload); err != nil {
			return ssl.Result{}, err
		}
		return ssl.Result{Consumed: consumed}, nil

	case recordData:
		if T.state != stateEstablished {
			return ssl.Result{}, errors.New("application record during handshake")
		}
		plaintext, err := T.open(header, payload, dst[:0])
		if err != nil {
			return ssl.Result{}, err
		}
		return ssl.Result{Consumed: consumed, Produced: len(plaintext)}, nil

	default:
		return ssl.Result{}, fmt.Errorf("unknown record type %d", typ)
	}
}

// handshakeRecord advances the handshake with one incoming message.
// Called with the lock held.
func (T *Engine) handshakeRecord(header, payload []byte) error {
	switch {
	case T.role == roleServer && T.state == stateClientHello:
		if err := T.readHello(payload, msgClientHello); err != nil {
			return err
		}
		T.stageDerive()
		return nil

	case T.role == roleClient && T.state == stateServerHello:
		if err := T.readHello(payload, msgServerHello); err != nil {
			return err
		}
		T.stageDerive()
		return nil

	case T.role == roleClient && T.state == stateServerFinish:
		if err := T.readFinished(header, payload); err != nil {
			return err
		}
		T.state = stateClientFinish
		return nil

	case T.role == roleServer && T.state == stateClientFinish:
		if err := T.readFinished(header, payload); err != nil {
			return err
		}
		T.state = stateEstablished
		return nil

	default:
		return fmt.Errorf("handshake record in state %d", T.state)
	}
}

func (T *Engine) putHello(dst []byte, msg byte) int {
	putHeader(dst, recordHandshake, helloSize)
	dst[headerSize] = msg
	copy(dst[headerSize+1:], T.priv.PublicKey().Bytes())
	copy(dst[headerSize+33:], T.random[:])
	return headerSize + helloSize
}

func (T *Engine) readHello(payload []byte, msg byte) error {
	if len(payload) != helloSize || payload[0] != msg {
		return errors.New("malformed hello")
	}
	T.peerPub = append([]byte(nil), payload[1:33]...)
	copy(T.peerRandom[:], payload[33:65])
	return nil
}

func (T *Engine) putFinished(dst []byte) int {
	var msg [33]byte
	msg[0] = msgFinished
	copy(msg[1:], T.sendFinish[:])
	return T.seal(dst, recordHandshake, msg[:])
}

func (T *Engine) readFinished(header, payload []byte) error {
	plaintext, err := T.open(header, payload, nil)
	if err != nil {
		return err
	}
	if len(plaintext) != 33 || plaintext[0] != msgFinished {
		return ErrVerify
	}
	if subtle.ConstantTimeCompare(plaintext[1:], T.recvFinish[:]) != 1 {
		return ErrVerify
	}
	return nil
}

// stageDerive queues the key schedule as a delegated task. The peer
// hello is already stored; the task does the curve math off the loop and
// installs the session keys when it finishes. Called with the lock held.
func (T *Engine) stageDerive() {
	T.state = stateDeriving

	priv := T.priv
	static := T.config.Key
	pinned := T.config.Peer
	peerPub := T.peerPub
	r := T.role
	var clientRandom, serverRandom [32]byte
	if r == roleClient {
		clientRandom = T.random
		serverRandom = T.peerRandom
	} else {
		clientRandom = T.peerRandom
		serverRandom = T.random
	}

	T.task = func() error {
		peer, err := ecdh.X25519().NewPublicKey(peerPub)
		if err != nil {
			return fmt.Errorf("peer ephemeral key: %w", err)
		}

		ee, err := priv.ECDH(peer)
		if err != nil {
			return fmt.Errorf("ephemeral exchange: %w", err)
		}

		var es []byte
		if r == roleClient {
			es, err = priv.ECDH(pinned)
		} else {
			es, err = static.ECDH(peer)
		}
		if err != nil {
			return fmt.Errorf("static exchange: %w", err)
		}

		keys, err := deriveKeys(ee, es, clientRandom, serverRandom)
		if err != nil {
			return fmt.Errorf("derive keys: %w", err)
		}

		T.mu.Lock()
		defer T.mu.Unlock()
		if r == roleClient {
			T.send = keys.clientCipher
			T.recv = keys.serverCipher
			T.sendFinish = keys.clientFinish
			T.recvFinish = keys.serverFinish
			T.state = stateServerFinish
		} else {
			T.send = keys.serverCipher
			T.recv = keys.clientCipher
			T.sendFinish = keys.serverFinish
			T.recvFinish = keys.clientFinish
			T.state = stateServerHello
		}
		return nil
	}
}

// seal writes one encrypted record to dst and returns its full size.
// Called with the lock held.
func (T *Engine) seal(dst []byte, typ byte, plaintext []byte) int {
	putHeader(dst, typ, len(plaintext)+tagSize)
	nonce := recordNonce(T.sendSeq)
	T.send.Seal(dst[headerSize:headerSize], nonce[:], plaintext, dst[:headerSize])
	T.sendSeq++
	return headerSize + len(plaintext) + tagSize
}

// open authenticates and decrypts one record payload. Called with the
// lock held.
func (T *Engine) open(header, payload []byte, dst []byte) ([]byte, error) {
	nonce := recordNonce(T.recvSeq)
	plaintext, err := T.recv.Open(dst, nonce[:], payload, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerify, err)
	}
	T.recvSeq++
	return plaintext, nil
}

func (T *Engine) DelegatedTask() func() error {
	T.mu.Lock()
	defer T.mu.Unlock()
	task := T.task
	T.task = nil
	return task
}

func (T *Engine) CloseOutbound() {
	T.mu.Lock()
	defer T.mu.Unlock()
	T.outClosed = true
}

func (T *Engine) IsOutboundDone() bool {
	T.mu.Lock()
	defer T.mu.Unlock()
	return T.outDone
}

func (T *Engine) IsInboundDone() bool {
	T.mu.Lock()
	defer T.mu.Unlock()
	return T.inDone
}

func (T *Engine) CloseInbound() error {
	T.mu.Lock()
	defer T.mu.Unlock()
	if T.inDone {
		return nil
	}
	T.inDone = true
	return ErrNoNotify
}

func (T *Engine) PacketSize() int {
	return maxRecord
}
