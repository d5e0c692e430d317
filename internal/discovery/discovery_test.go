package discovery

import (
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/libp2p/zeroconf/v2"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestStaticRunEmitsConfiguredPeers(t *testing.T) {
	peers := []StaticPeer{
		{AgentID: "ed25519.aaaa", Addr: "127.0.0.1:7777", PubkeyB64: base64.StdEncoding.EncodeToString([]byte("key-a"))},
		{AgentID: "ed25519.bbbb", Addr: "127.0.0.1:7778", PubkeyB64: "not-base64!!"},
	}
	s := NewStatic(peers, testLogger())

	events := make(chan Event, 4)
	s.Run(context.Background(), events)
	close(events)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	if len(got) != 1 {
		t.Fatalf("expected one event (bad pubkey entry skipped), got %d", len(got))
	}
	if got[0].AgentID != "ed25519.aaaa" || got[0].Origin != OriginStatic || got[0].Kind != Arrive {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestStaticRunStopsOnContextCancel(t *testing.T) {
	peers := []StaticPeer{
		{AgentID: "ed25519.aaaa", Addr: "a:1", PubkeyB64: base64.StdEncoding.EncodeToString([]byte("k"))},
	}
	s := NewStatic(peers, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan Event) // unbuffered and undrained: Run must not block forever
	done := make(chan struct{})
	go func() {
		s.Run(ctx, events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}

func TestParseEntryExtractsAgentIDAndPubkey(t *testing.T) {
	m := NewMDNS("_axon._udp", testLogger())
	pub := []byte("some-ed25519-pubkey")
	entry := &zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.5")},
		Instance: "peer-1",
		Text: []string{
			"agent_id=ed25519.cccc",
			"pubkey=" + base64.StdEncoding.EncodeToString(pub),
		},
		Port: 7777,
	}

	ev, ok := m.parseEntry(entry)
	if !ok {
		t.Fatalf("expected entry to parse")
	}
	if ev.AgentID != "ed25519.cccc" || ev.Addr != "192.168.1.5:7777" || ev.Origin != OriginMDNS {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if string(ev.Pubkey) != string(pub) {
		t.Fatalf("pubkey mismatch: got %q", ev.Pubkey)
	}
}

func TestParseEntryRejectsMissingFields(t *testing.T) {
	m := NewMDNS("_axon._udp", testLogger())
	entry := &zeroconf.ServiceEntry{
		Instance: "peer-1",
		Text:     []string{"agent_id=ed25519.cccc"}, // no pubkey
		Port:     7777,
		AddrIPv4: []net.IP{net.ParseIP("10.0.0.1")},
	}

	if _, ok := m.parseEntry(entry); ok {
		t.Fatalf("expected parse to fail without a pubkey TXT record")
	}
}

func TestParseEntryRejectsMissingAddress(t *testing.T) {
	m := NewMDNS("_axon._udp", testLogger())
	entry := &zeroconf.ServiceEntry{
		Instance: "peer-1",
		Text: []string{
			"agent_id=ed25519.cccc",
			"pubkey=" + base64.StdEncoding.EncodeToString([]byte("k")),
		},
		Port: 7777,
	}

	if _, ok := m.parseEntry(entry); ok {
		t.Fatalf("expected parse to fail without any resolved address")
	}
}
