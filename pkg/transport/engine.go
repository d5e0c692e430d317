// Package transport implements AXON's ConnectionEngine: QUIC endpoint
// binding with mutual TLS authentication pinned through IdentityBinder,
// a per-peer connection cache with in-flight dial deduplication, inbound
// accept loops enforcing the stream-type/kind mapping, and
// request/response correlation for bidirectional streams.
package transport

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/wire"
)

// InboundRecord is a validated envelope delivered from an authenticated
// peer. Reply is non-nil only for envelopes received on a bidirectional
// stream carrying a request; calling it (at most once) supplies the
// response written back on that stream.
type InboundRecord struct {
	From     identity.AgentID
	Envelope wire.Envelope
	Reply    func(wire.Envelope)
}

// Engine is the ConnectionEngine: the QUIC endpoint plus everything needed
// to dial, accept, and route streams for a single local identity.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	local     *identity.Identity
	pubkeyMap identity.PubkeyMap
	resolver  AddressResolver
	cert      tls.Certificate

	listener *quic.Listener
	log      *logrus.Entry

	connMu sync.RWMutex
	conns  map[identity.AgentID]*ConnectionEntry
	dialMu sync.Map // identity.AgentID -> *dialLock, dedups concurrent dials

	acceptSem chan struct{}

	subMu sync.Mutex
	subs  []chan InboundRecord
}

// Option configures an Engine at bind time.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithInboundCapacity overrides the inbound connection semaphore size
// (default 128).
func WithInboundCapacity(n int) Option {
	return func(e *Engine) { e.acceptSem = make(chan struct{}, n) }
}

// Bind initializes the secure-transport endpoint: it requires client
// certificates on the server side, wires both client- and server-side
// verifiers to IdentityBinder.VerifyPinned against pubkeyMap, sets ALPN to
// axon/1, and disables 0-RTT (quic-go does not opt into 0-RTT unless
// Allow0RTT is set, so simply not setting it is sufficient).
func Bind(ctx context.Context, local *identity.Identity, listenAddr string, pubkeyMap identity.PubkeyMap, resolver AddressResolver, opts ...Option) (*Engine, error) {
	runCtx, cancel := context.WithCancel(ctx)

	e := &Engine{
		ctx:       runCtx,
		cancel:    cancel,
		local:     local,
		pubkeyMap: pubkeyMap,
		resolver:  resolver,
		conns:     make(map[identity.AgentID]*ConnectionEntry),
		acceptSem: make(chan struct{}, DefaultInboundCap),
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}

	tlsCert, err := selfSignedCertificate(local)
	if err != nil {
		cancel()
		return nil, err
	}
	e.cert = tlsCert

	quicConf := &quic.Config{
		KeepAlivePeriod: KeepAlivePeriod,
		MaxIdleTimeout:  IdleTimeout,
	}
	ln, err := quic.ListenAddr(listenAddr, serverTLSConfig(tlsCert, pubkeyMap), quicConf)
	if err != nil {
		cancel()
		return nil, axerr.Wrap(axerr.CodeInternal, "bind quic listener", err)
	}
	e.listener = ln

	go e.acceptLoop()
	return e, nil
}

// LocalAddr returns the bound listener address.
func (e *Engine) LocalAddr() string {
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// SubscribeInbound returns a channel delivering validated inbound
// envelopes. The channel is buffered (256 records); when it is full, an
// envelope is dropped for that subscriber with a warning, so callers must
// drain it promptly.
func (e *Engine) SubscribeInbound() <-chan InboundRecord {
	ch := make(chan InboundRecord, 256)
	e.subMu.Lock()
	e.subs = append(e.subs, ch)
	e.subMu.Unlock()
	return ch
}

func (e *Engine) publish(rec InboundRecord) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- rec:
		default:
			e.log.Warn("inbound subscriber channel full, dropping envelope for that subscriber")
		}
	}
}

// ClosePeer closes the connection to agentID, if any.
func (e *Engine) ClosePeer(id identity.AgentID) {
	e.connMu.Lock()
	entry, ok := e.conns[id]
	if ok {
		delete(e.conns, id)
	}
	e.connMu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.state = StateDraining
	conn := entry.conn
	entry.mu.Unlock()
	if conn != nil {
		_ = conn.CloseWithError(0, "closed by local peer")
	}
	entry.mu.Lock()
	entry.state = StateClosed
	entry.mu.Unlock()
}

// CloseAll tears down every connection and stops accepting new ones.
func (e *Engine) CloseAll() {
	e.cancel()
	if e.listener != nil {
		_ = e.listener.Close()
	}
	e.connMu.Lock()
	ids := make([]identity.AgentID, 0, len(e.conns))
	for id := range e.conns {
		ids = append(ids, id)
	}
	e.connMu.Unlock()
	for _, id := range ids {
		e.ClosePeer(id)
	}
}
