package discovery

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/libp2p/zeroconf/v2"
	"github.com/sirupsen/logrus"

	"github.com/axon-project/axon/pkg/identity"
)

const mdnsDomain = "local."

// MDNS advertises the local agent and browses for others over multicast DNS.
type MDNS struct {
	serviceName string
	log         *logrus.Entry
}

// NewMDNS creates an mDNS collaborator for the given service type
// (e.g. "_axon._udp").
func NewMDNS(serviceName string, log *logrus.Entry) *MDNS {
	return &MDNS{serviceName: serviceName, log: log}
}

// Advertise registers the local identity's agent_id and public key as TXT
// records on port. The returned server must be shut down on exit.
func (m *MDNS) Advertise(id *identity.Identity, port int) (*zeroconf.Server, error) {
	text := []string{
		"agent_id=" + string(id.ID),
		"pubkey=" + base64.StdEncoding.EncodeToString(id.Public),
	}
	return zeroconf.Register(string(id.ID), m.serviceName, mdnsDomain, port, text, nil)
}

// Run browses for peers until ctx is canceled, publishing an Arrive event
// for every resolved entry (including re-announcements, which the router
// treats as a refresh of last_seen).
func (m *MDNS) Run(ctx context.Context, events chan<- Event) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		for entry := range entries {
			ev, ok := m.parseEntry(entry)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return resolver.Browse(ctx, m.serviceName, mdnsDomain, entries)
}

func (m *MDNS) parseEntry(entry *zeroconf.ServiceEntry) (Event, bool) {
	var agentID, pubkeyB64 string
	for _, t := range entry.Text {
		k, v, ok := strings.Cut(t, "=")
		if !ok {
			continue
		}
		switch k {
		case "agent_id":
			agentID = v
		case "pubkey":
			pubkeyB64 = v
		}
	}
	if agentID == "" || pubkeyB64 == "" {
		m.log.WithField("instance", entry.Instance).Debug("ignoring mdns entry missing agent_id/pubkey TXT records")
		return Event{}, false
	}
	pub, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		m.log.WithField("agent_id", agentID).Debug("ignoring mdns entry with non-base64 pubkey")
		return Event{}, false
	}

	var addr string
	switch {
	case len(entry.AddrIPv4) > 0:
		addr = fmt.Sprintf("%s:%d", entry.AddrIPv4[0].String(), entry.Port)
	case len(entry.AddrIPv6) > 0:
		addr = fmt.Sprintf("[%s]:%d", entry.AddrIPv6[0].String(), entry.Port)
	default:
		return Event{}, false
	}

	return Event{
		Kind:    Arrive,
		Origin:  OriginMDNS,
		AgentID: identity.AgentID(agentID),
		Addr:    addr,
		Pubkey:  pub,
	}, true
}
