package transport

import (
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/wire"
)

// ALPN is the TLS Application-Layer Protocol Negotiation token AXON peers
// advertise and require of one another.
const ALPN = "axon/1"

// Timing defaults per the concurrency and resource model.
const (
	HandshakeDeadline     = 5 * time.Second
	InboundReadTimeout    = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	KeepAlivePeriod       = 15 * time.Second
	IdleTimeout           = 60 * time.Second
	DefaultInboundCap     = 128
)

// State is a ConnectionEntry's lifecycle state.
type State int

const (
	StateDialing State = iota
	StateAuthenticating
	StateAuthenticated
	StateDraining
	StateClosed
)

// AddressResolver looks up the network address to dial for a peer. The
// peertable.Table satisfies this directly.
type AddressResolver interface {
	Resolve(id identity.AgentID) (addr string, ok bool)
}

// ConnectionEntry tracks one live (or lifecycle-transitioning) peer
// connection and its in-flight bidirectional requests awaiting a reply
// from the router.
type ConnectionEntry struct {
	mu      sync.Mutex
	agentID identity.AgentID
	pubkey  []byte
	conn    quic.Conn
	state   State

	outstandingMu sync.Mutex
	outstanding   map[string]chan wire.Envelope
}
