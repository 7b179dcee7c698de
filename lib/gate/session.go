package gate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gfx.cafe/gfx/sgat/lib/aio"
	"gfx.cafe/gfx/sgat/lib/anet"
	"gfx.cafe/gfx/sgat/lib/bytebuf"
	"gfx.cafe/gfx/sgat/lib/instrumentation/prom"
	"gfx.cafe/gfx/sgat/lib/ssl"
	"gfx.cafe/gfx/sgat/lib/util/dur"
)

var ErrHandshakeTimeout = errors.New("handshake timed out")

type SessionConfig struct {
	Mode string
	// HandshakeTimeout aborts sessions whose handshake is still pending
	// after this long. Zero waits forever.
	HandshakeTimeout dur.Duration
}

// Session relays bytes between an accepted client and a dialed upstream
// until either side closes. Exactly one of the two sockets wears the
// session engine; which one depends on the listener mode.
type Session struct {
	SessionConfig

	id uuid.UUID

	loop     *aio.Loop
	client   anet.Socket
	upstream anet.Socket

	span    trace.Span
	started time.Time
	timer   *time.Timer

	established bool
	closed      bool
	cause       error
	done        func()

	log *zap.Logger
}

func NewSession(loop *aio.Loop, config SessionConfig, client, upstream anet.Socket, tracer trace.Tracer, log *zap.Logger, done func()) *Session {
	id := uuid.New()
	_, span := tracer.Start(context.Background(), "session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("session.id", id.String()),
			attribute.String("session.mode", config.Mode),
		),
	)
	return &Session{
		SessionConfig: config,
		id:            id,
		loop:          loop,
		client:        client,
		upstream:      upstream,
		span:          span,
		started:       time.Now(),
		done:          done,
		log:           log.With(zap.String("session", id.String()), zap.String("mode", config.Mode)),
	}
}

func (T *Session) ID() uuid.UUID {
	return T.id
}

// Start begins both relay directions. Must run on the session's loop.
func (T *Session) Start() {
	T.loop.Assert()

	prom.Session.Current(prom.SessionLabels{Mode: T.Mode}).Inc()
	T.log.Debug("session started")

	if timeout := T.HandshakeTimeout.Duration(); timeout > 0 {
		T.timer = time.AfterFunc(timeout, func() {
			T.loop.Post(T.checkEstablished)
		})
	}

	T.relay(T.client, T.upstream, "client_to_upstream")
	T.relay(T.upstream, T.client, "upstream_to_client")
}

// Shutdown asks the session to close. Safe to call from any goroutine.
func (T *Session) Shutdown() {
	T.loop.Post(func() {
		T.CloseEx(nil)
	})
}

// relay moves one buffer from src to dst and reschedules itself once the
// write lands, so each direction keeps at most one buffer in flight.
func (T *Session) relay(src, dst anet.Socket, direction string) {
	src.Read().When(func(buf *bytebuf.Buf, err error) {
		if err != nil {
			T.CloseEx(err)
			return
		}
		if buf == nil {
			T.CloseEx(nil)
			return
		}
		count := len(buf.Bytes())
		dst.Write(buf).When(func(_ aio.Void, err error) {
			if err != nil {
				T.CloseEx(err)
				return
			}
			T.establish()
			prom.Relay.Bytes(prom.RelayLabels{Mode: T.Mode, Direction: direction}).Add(float64(count))
			T.relay(src, dst, direction)
		})
	})
}

// establish marks the session live. A buffer can only cross the engine
// boundary after the handshake finishes, so the first completed relay
// round trip is the signal.
func (T *Session) establish() {
	if T.established {
		return
	}
	T.established = true

	if T.timer != nil {
		T.timer.Stop()
		T.timer = nil
	}

	labels := prom.SessionLabels{Mode: T.Mode}
	prom.Session.Handshakes(labels).Inc()
	prom.Session.HandshakeMs(labels).Observe(float64(time.Since(T.started)) / float64(time.Millisecond))
	T.span.AddEvent("established")
	T.log.Debug("session established")
}

// checkEstablished aborts the session if the handshake is still pending
// once the timeout elapses. A session that finished its handshake but has
// not moved bytes yet is left alone.
func (T *Session) checkEstablished() {
	if T.closed || T.established {
		return
	}
	if ready(T.client) && ready(T.upstream) {
		return
	}
	T.CloseEx(ErrHandshakeTimeout)
}

func ready(sock anet.Socket) bool {
	type established interface {
		Established() bool
	}
	if e, ok := sock.(established); ok {
		return e.Established()
	}
	return true
}

// CloseEx tears down both sides. The first cause wins; later calls are
// ignored.
func (T *Session) CloseEx(err error) {
	T.loop.Assert()
	if T.closed {
		return
	}
	T.closed = true
	T.cause = err

	if T.timer != nil {
		T.timer.Stop()
		T.timer = nil
	}

	cause := "graceful"
	switch {
	case err == nil:
	case errors.Is(err, ssl.ErrCloseWithoutNotify):
		cause = "no_notify"
	case errors.Is(err, ErrHandshakeTimeout):
		cause = "timeout"
	default:
		cause = "error"
	}

	T.client.CloseEx(err)
	T.upstream.CloseEx(err)

	labels := prom.SessionLabels{Mode: T.Mode}
	prom.Session.Current(labels).Dec()
	prom.Session.Closed(prom.SessionCloseLabels{Mode: T.Mode, Cause: cause}).Inc()

	if err != nil {
		T.span.RecordError(err)
		T.span.SetStatus(codes.Error, err.Error())
		T.log.Warn("session closed", zap.Error(err))
	} else {
		T.span.SetStatus(codes.Ok, "")
		T.log.Debug("session closed")
	}
	T.span.End()

	if T.done != nil {
		T.done()
	}
}
