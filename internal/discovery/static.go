package discovery

import (
	"context"
	"encoding/base64"

	"github.com/sirupsen/logrus"

	"github.com/axon-project/axon/pkg/identity"
)

// StaticPeer is one configured static peer to replay at startup.
type StaticPeer struct {
	AgentID   string
	Addr      string
	PubkeyB64 string
}

// Static replays a fixed peer list once, tagged OriginStatic so the router
// routes it to PeerTable.UpsertStatic instead of UpsertDiscovered.
type Static struct {
	peers []StaticPeer
	log   *logrus.Entry
}

// NewStatic builds a Static collaborator over the given peer list.
func NewStatic(peers []StaticPeer, log *logrus.Entry) *Static {
	return &Static{peers: peers, log: log}
}

// Run emits one Arrive event per configured peer and then returns.
func (s *Static) Run(ctx context.Context, events chan<- Event) {
	for _, p := range s.peers {
		pub, err := base64.StdEncoding.DecodeString(p.PubkeyB64)
		if err != nil {
			s.log.WithField("agent_id", p.AgentID).Warn("static peer has non-base64 pubkey, skipping")
			continue
		}
		ev := Event{
			Kind:    Arrive,
			Origin:  OriginStatic,
			AgentID: identity.AgentID(p.AgentID),
			Addr:    p.Addr,
			Pubkey:  pub,
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
