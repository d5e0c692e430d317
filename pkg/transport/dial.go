package transport

import (
	"context"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/framer"
	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/wire"
)

// SendFireAndForget opens a unidirectional stream to to, encodes envelope
// onto it, and returns once the send side has been closed. It does not wait
// for the peer to read anything and there is no reply.
func (e *Engine) SendFireAndForget(ctx context.Context, to identity.AgentID, envelope wire.Envelope) error {
	entry, err := e.ensureConnection(ctx, to)
	if err != nil {
		return err
	}
	s, err := entry.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return axerr.Wrap(axerr.CodePeerUnreachable, "open uni stream", err)
	}
	return framer.Encode(s, envelope)
}

// SendRequest opens a bidirectional stream to to, writes a request envelope,
// and waits for a single reply within timeout. It fails with
// invalid_reply_kind if the peer replies with anything other than a
// response or error envelope.
func (e *Engine) SendRequest(ctx context.Context, to identity.AgentID, envelope wire.Envelope, timeout time.Duration) (wire.Envelope, error) {
	entry, err := e.ensureConnection(ctx, to)
	if err != nil {
		return wire.Envelope{}, err
	}
	s, err := entry.conn.OpenStreamSync(ctx)
	if err != nil {
		return wire.Envelope{}, axerr.Wrap(axerr.CodePeerUnreachable, "open bidi stream", err)
	}
	if err := framer.Encode(s, envelope); err != nil {
		return wire.Envelope{}, err
	}

	reply, err := framer.Decode(ctx, s, time.Now().Add(timeout))
	if err != nil {
		return wire.Envelope{}, err
	}
	if reply.Kind != wire.KindResponse && reply.Kind != wire.KindError {
		return wire.Envelope{}, axerr.New(axerr.CodeInvalidReplyKind,
			"expected response or error, got "+string(reply.Kind))
	}
	return reply, nil
}

// Connect proactively dials id if no usable connection already exists, for
// use by the reconnect scheduler rather than a send path.
func (e *Engine) Connect(ctx context.Context, id identity.AgentID) error {
	_, err := e.ensureConnection(ctx, id)
	return err
}

// IsConnected reports whether id currently has an authenticated connection,
// whichever side initiated it.
func (e *Engine) IsConnected(id identity.AgentID) bool {
	e.connMu.RLock()
	entry, ok := e.conns[id]
	e.connMu.RUnlock()
	return ok && entry.usable()
}

// ensureConnection returns the cached connection for id, dialing a new one
// if none exists or the cached one is no longer usable. Concurrent callers
// racing to dial the same peer are serialized through dialMu so only one
// handshake is ever in flight per peer.
func (e *Engine) ensureConnection(ctx context.Context, id identity.AgentID) (*ConnectionEntry, error) {
	e.connMu.RLock()
	entry, ok := e.conns[id]
	e.connMu.RUnlock()
	if ok && entry.usable() {
		return entry, nil
	}

	lockAny, _ := e.dialMu.LoadOrStore(id, &dialLock{})
	lock := lockAny.(*dialLock)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	e.connMu.RLock()
	entry, ok = e.conns[id]
	e.connMu.RUnlock()
	if ok && entry.usable() {
		return entry, nil
	}

	addr, ok := e.resolver.Resolve(id)
	if !ok {
		return nil, axerr.New(axerr.CodeUnknownPeer, "no known address for "+string(id))
	}

	dialCtx, cancel := context.WithTimeout(ctx, HandshakeDeadline)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, addr, clientTLSConfig(e.cert, e.pubkeyMap, id), &quic.Config{
		KeepAlivePeriod: KeepAlivePeriod,
		MaxIdleTimeout:  IdleTimeout,
	})
	if err != nil {
		return nil, axerr.Wrap(axerr.CodeHandshakeFailed, "dial "+string(id), err)
	}

	peerCerts := conn.ConnectionState().TLS.PeerCertificates
	if len(peerCerts) == 0 {
		_ = conn.CloseWithError(2, "no peer certificate")
		return nil, axerr.New(axerr.CodeHandshakeFailed, "peer presented no certificate")
	}
	pub, err := leafPublicKey([][]byte{peerCerts[0].Raw})
	if err != nil {
		_ = conn.CloseWithError(2, "identity rejected")
		return nil, axerr.Wrap(axerr.CodeHandshakeFailed, "extract peer public key", err)
	}

	entry = e.registerConnection(id, pub, conn)

	go e.acceptUniStreams(entry, conn)
	go e.acceptBidiStreams(entry, conn)
	go func() {
		<-conn.Context().Done()
		e.ClosePeer(id)
	}()

	return entry, nil
}

type dialLock struct {
	mu sync.Mutex
}

func (e *ConnectionEntry) usable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateAuthenticated
}
