// Package discovery produces peer arrival/loss events from collaborators
// that share a single event contract: mDNS on the LAN, and a one-shot
// replay of statically configured peers at startup.
package discovery

import "github.com/axon-project/axon/pkg/identity"

// Kind tags an Event as an arrival or a loss.
type Kind int

const (
	Arrive Kind = iota
	Lose
)

// Origin records which collaborator produced an Event, so the router can
// route arrivals to the matching PeerTable operation (UpsertStatic vs.
// UpsertDiscovered).
type Origin int

const (
	OriginMDNS Origin = iota
	OriginStatic
)

// Event is a single peer arrival or loss, as produced by any collaborator.
type Event struct {
	Kind    Kind
	Origin  Origin
	AgentID identity.AgentID
	Addr    string
	Pubkey  []byte
}
