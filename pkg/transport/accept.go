package transport

import (
	"time"

	"github.com/quic-go/quic-go"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/framer"
	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/wire"
)

// acceptLoop accepts inbound QUIC connections until the engine is closed,
// bounding concurrent inbound connections with acceptSem (a slot is held
// until the connection ends). quic.Listener.Accept
// only returns once the handshake has completed, so by the time a connection
// reaches handleInbound the server's VerifyPeerCertificate callback has
// already pinned the presented key; handleInbound only needs to recover the
// resulting agent id.
func (e *Engine) acceptLoop() {
	for {
		conn, err := e.listener.Accept(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.log.WithError(err).Warn("accept failed")
			continue
		}

		select {
		case e.acceptSem <- struct{}{}:
		case <-e.ctx.Done():
			_ = conn.CloseWithError(0, "shutting down")
			return
		}

		go func() {
			defer func() { <-e.acceptSem }()
			e.handleInbound(conn)
		}()
	}
}

// handleInbound derives the peer's agent id from the now-verified TLS state,
// registers the connection, and dispatches its uni and bidi streams for the
// remainder of its life.
func (e *Engine) handleInbound(conn quic.Conn) {
	peerCerts := conn.ConnectionState().TLS.PeerCertificates
	if len(peerCerts) == 0 {
		_ = conn.CloseWithError(2, "no peer certificate")
		return
	}
	pub, err := leafPublicKey([][]byte{peerCerts[0].Raw})
	if err != nil {
		_ = conn.CloseWithError(2, "identity rejected")
		return
	}
	remoteID := identity.DeriveAgentID(pub)

	entry := e.registerConnection(remoteID, pub, conn)

	go e.acceptUniStreams(entry, conn)
	go e.acceptBidiStreams(entry, conn)

	<-conn.Context().Done()
	e.ClosePeer(remoteID)
}

func (e *Engine) registerConnection(id identity.AgentID, pub []byte, conn quic.Conn) *ConnectionEntry {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	entry := &ConnectionEntry{
		agentID:     id,
		pubkey:      pub,
		conn:        conn,
		state:       StateAuthenticated,
		outstanding: make(map[string]chan wire.Envelope),
	}
	e.conns[id] = entry
	return entry
}

// acceptUniStreams dispatches fire-and-forget envelopes: every unidirectional
// stream carries exactly one message and no reply is possible.
func (e *Engine) acceptUniStreams(entry *ConnectionEntry, conn quic.Conn) {
	for {
		s, err := conn.AcceptUniStream(e.ctx)
		if err != nil {
			return
		}
		go e.dispatchUniStream(entry, s)
	}
}

// dispatchUniStream decodes and routes a single unidirectional stream. It
// takes framer.ReadStream rather than a concrete quic type so the dispatch
// logic can be exercised against fakes independent of a real QUIC endpoint.
func (e *Engine) dispatchUniStream(entry *ConnectionEntry, s framer.ReadStream) {
	env, err := framer.Decode(e.ctx, s, time.Now().Add(InboundReadTimeout))
	if err != nil {
		e.log.WithError(err).WithField("peer", entry.agentID).Debug("dropping malformed uni stream")
		return
	}
	if env.Kind == wire.KindRequest {
		// A request on a unidirectional stream can never be answered;
		// the protocol-violation matrix treats this as a malformed
		// delivery and the stream is simply dropped.
		return
	}
	e.publish(InboundRecord{From: entry.agentID, Envelope: env})
}

// acceptBidiStreams dispatches request/response envelopes. Replies for
// requests arriving on a bidirectional stream are written back on the same
// stream via the Reply closure; if no subscriber calls Reply within
// DefaultRequestTimeout, an "unhandled" error envelope is written instead.
func (e *Engine) acceptBidiStreams(entry *ConnectionEntry, conn quic.Conn) {
	for {
		s, err := conn.AcceptStream(e.ctx)
		if err != nil {
			return
		}
		go e.dispatchBidiStream(entry, s)
	}
}

// dispatchBidiStream decodes and routes a single bidirectional stream,
// enforcing the stream-mapping rule: only a request kind gets routed to a
// subscriber for a response; every other outcome (unknown kind, known
// non-request kind, malformed frame) is terminal for the stream. It takes
// framer.Stream rather than a concrete quic type so the dispatch logic can
// be exercised against fakes independent of a real QUIC endpoint.
func (e *Engine) dispatchBidiStream(entry *ConnectionEntry, s framer.Stream) {
	env, err := framer.Decode(e.ctx, s, time.Now().Add(InboundReadTimeout))
	if err != nil {
		e.log.WithError(err).WithField("peer", entry.agentID).Debug("dropping malformed bidi stream")
		_ = s.Close()
		return
	}

	if env.Kind == wire.KindUnknown {
		if err := framer.Encode(s, wire.Reply(wire.KindError, env.ID, unknownKindPayload)); err != nil {
			e.log.WithError(err).WithField("peer", entry.agentID).Debug("failed to write unknown_kind reply")
		}
		_ = s.Close()
		return
	}

	if env.Kind != wire.KindRequest {
		// Only a request can be answered on a bidirectional stream;
		// anything else known (message/response/error) violates the
		// stream-mapping rule and gets a structured rejection instead
		// of a forwarded delivery.
		if err := framer.Encode(s, wire.Reply(wire.KindError, env.ID, invalidReplyKindPayload)); err != nil {
			e.log.WithError(err).WithField("peer", entry.agentID).Debug("failed to write invalid_reply_kind reply")
		}
		_ = s.Close()
		return
	}

	replied := make(chan struct{}, 1)
	reply := func(resp wire.Envelope) {
		select {
		case replied <- struct{}{}:
		default:
			return
		}
		if err := framer.Encode(s, resp); err != nil {
			e.log.WithError(err).WithField("peer", entry.agentID).Debug("failed to write reply")
		}
	}

	e.publish(InboundRecord{From: entry.agentID, Envelope: env, Reply: reply})

	select {
	case <-replied:
	case <-e.ctx.Done():
	case <-time.After(DefaultRequestTimeout):
		reply(wire.Reply(wire.KindError, env.ID, unhandledPayload))
	}
}

var unhandledPayload = []byte(`{"code":"unhandled","retryable":false,"message":"no handler registered for this request"}`)

var invalidReplyKindPayload = []byte(`{"code":"` + string(axerr.CodeInvalidReplyKind) + `","retryable":false,"message":"only a request envelope may be sent on a bidirectional stream"}`)

var unknownKindPayload = []byte(`{"code":"` + string(axerr.CodeUnknownKind) + `","retryable":false,"message":"envelope kind is not recognized"}`)
