// Package ssl adapts a session engine onto the anet.Socket contract. A
// Socket encrypts written plaintext into records for its transport and
// decrypts transport records back into plaintext, driving the engine's
// handshake as a side effect. The engine supplies the cryptography; the
// socket supplies the synchronization.
package ssl

import (
	"errors"
)

// HandshakeStatus is what the engine needs next to make progress.
type HandshakeStatus int

const (
	// NotHandshaking means application data flows freely.
	NotHandshaking HandshakeStatus = iota
	// NeedWrap means the engine has handshake records to emit.
	NeedWrap
	// NeedUnwrap means the engine waits on a record from the peer.
	NeedUnwrap
	// NeedTask means a delegated task must run before anything else.
	NeedTask
)

func (T HandshakeStatus) String() string {
	switch T {
	case NotHandshaking:
		return "not handshaking"
	case NeedWrap:
		return "need wrap"
	case NeedUnwrap:
		return "need unwrap"
	case NeedTask:
		return "need task"
	default:
		return "unknown"
	}
}

// Status reports how a Wrap or Unwrap call ended.
type Status int

const (
	// OK means the call made normal progress.
	OK Status = iota
	// Underflow means src held less than one full record.
	Underflow
	// Closed means the close notification passed through the engine.
	Closed
)

func (T Status) String() string {
	switch T {
	case OK:
		return "ok"
	case Underflow:
		return "underflow"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Wrap or Unwrap call.
type Result struct {
	Status   Status
	Consumed int
	Produced int
}

// Engine is a stateful session codec. Engines are driven from a single
// goroutine, except for delegated tasks, which run elsewhere; an engine
// that uses tasks synchronizes internally.
//
// The role (initiating or responding) is fixed when the engine is built,
// and the handshake starts with the first Wrap or Unwrap call.
type Engine interface {
	HandshakeStatus() HandshakeStatus

	// Wrap encodes plaintext from src into records in dst, returning how
	// much of each buffer it used. During the handshake src may be
	// ignored; after CloseOutbound only the close notification is
	// produced. dst is always at least PacketSize bytes.
	Wrap(src []byte, dst []byte) (Result, error)

	// Unwrap decodes records from src into plaintext in dst. Returns
	// Underflow when src holds less than one full record and Closed once
	// the peer's close notification is consumed. dst is always at least
	// PacketSize bytes.
	Unwrap(src []byte, dst []byte) (Result, error)

	// DelegatedTask removes and returns pending handshake work to run off
	// the driving goroutine, or nil if there is none.
	DelegatedTask() func() error

	// CloseOutbound makes subsequent Wrap calls emit the close
	// notification and nothing else.
	CloseOutbound()

	// IsOutboundDone reports whether the close notification has been
	// produced by Wrap.
	IsOutboundDone() bool

	// IsInboundDone reports whether the peer's close notification has
	// been consumed by Unwrap.
	IsInboundDone() bool

	// CloseInbound marks the inbound side done, failing if the peer never
	// sent its close notification.
	CloseInbound() error

	// PacketSize is the largest record the engine can produce. Buffers
	// this large never overflow Wrap or Unwrap.
	PacketSize() int
}

var (
	// ErrHalfClose rejects write-side shutdown attempts: a session closes
	// with its own notification exchange, never a transport half close.
	ErrHalfClose = errors.New("session sockets do not support half close")

	// ErrCloseWithoutNotify is the close cause when the transport hits end
	// of stream before the peer sent a close notification.
	ErrCloseWithoutNotify = errors.New("peer closed without close notification")
)
