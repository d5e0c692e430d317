// Package peertable owns the authoritative registry of known AXON peers
// and the PubkeyMap shared with the transport layer's cryptographic
// verifiers. A single write lock serializes all mutations so the peer
// record set and the pubkey map are always updated together.
package peertable

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axon-project/axon/pkg/identity"
)

// Source identifies how a PeerRecord entered the table.
type Source int

const (
	SourceStatic Source = iota
	SourceDiscovered
	SourceCached
)

func (s Source) String() string {
	switch s {
	case SourceStatic:
		return "static"
	case SourceDiscovered:
		return "discovered"
	case SourceCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Status is a PeerRecord's connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is a known remote agent. AgentID is its primary key.
type Record struct {
	AgentID        identity.AgentID
	NetworkAddress string
	PublicKey      []byte
	Source         Source
	Status         Status
	LastSeen       time.Time
	RTT            time.Duration
	HasRTT         bool
}

const defaultMaxDiscovered = 1024

// Table is the authoritative peer registry and PubkeyMap owner.
type Table struct {
	mu          sync.RWMutex
	records     map[identity.AgentID]Record
	byAddr      map[string]identity.AgentID // non-static occupant per address
	staticAddrs map[string]identity.AgentID // static occupant per address
	maxDisc     int
	log         *logrus.Entry
}

// Option configures a Table at construction time.
type Option func(*Table)

// WithMaxDiscovered overrides the discovered-peer capacity (default 1024).
func WithMaxDiscovered(n int) Option {
	return func(t *Table) { t.maxDisc = n }
}

// WithLogger attaches a logger used for capacity-drop warnings.
func WithLogger(log *logrus.Entry) Option {
	return func(t *Table) { t.log = log }
}

// New creates an empty Table.
func New(opts ...Option) *Table {
	t := &Table{
		records:     make(map[identity.AgentID]Record),
		byAddr:      make(map[string]identity.AgentID),
		staticAddrs: make(map[string]identity.AgentID),
		maxDisc:     defaultMaxDiscovered,
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// handle is the read-only PubkeyMap view passed to transport verifiers.
type handle struct {
	t *Table
}

func (h handle) Lookup(id identity.AgentID) ([]byte, bool) {
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	r, ok := h.t.records[id]
	if !ok {
		return nil, false
	}
	return r.PublicKey, true
}

// PubkeyMapHandle returns the shared read handle given to transport
// verifiers. Reads take a short read lock, safe to call from any goroutine.
func (t *Table) PubkeyMapHandle() identity.PubkeyMap {
	return handle{t: t}
}

// discoveredCount must be called with mu held.
func (t *Table) discoveredCount() int {
	n := 0
	for _, r := range t.records {
		if r.Source != SourceStatic {
			n++
		}
	}
	return n
}

// evictNonStaticAt removes any non-static record occupying addr, if any,
// and must be called with mu held.
func (t *Table) evictNonStaticAt(addr string) {
	if id, ok := t.byAddr[addr]; ok {
		if r, ok := t.records[id]; ok && r.Source != SourceStatic && r.NetworkAddress == addr {
			delete(t.records, id)
		}
		delete(t.byAddr, addr)
	}
}

// UpsertStatic inserts or updates a static peer, evicting any non-static
// occupant of the same address.
func (t *Table) UpsertStatic(r Record) {
	r.Source = SourceStatic
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictNonStaticAt(r.NetworkAddress)
	if existingID, ok := t.staticAddrs[r.NetworkAddress]; ok && existingID != r.AgentID {
		delete(t.records, existingID)
	}
	t.staticAddrs[r.NetworkAddress] = r.AgentID
	t.records[r.AgentID] = r
}

// UpsertDiscovered inserts or refreshes a discovered peer. A static
// occupant at the same address always wins (no-op). Otherwise any other
// non-static occupant at the address is evicted. A record passed in with
// SourceCached keeps that source; any other source is stored as
// SourceDiscovered.
func (t *Table) UpsertDiscovered(r Record) {
	if r.Source != SourceCached {
		r.Source = SourceDiscovered
	}
	if r.LastSeen.IsZero() {
		r.LastSeen = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if staticID, ok := t.staticAddrs[r.NetworkAddress]; ok && staticID != r.AgentID {
		return // static wins
	}

	if existing, ok := t.records[r.AgentID]; ok && existing.Source == SourceStatic {
		return // static identity wins even if addr differs (re-announced under same id)
	}

	// Evict any non-static occupant of this address before checking
	// capacity: a same-address replacement is a net-zero change in the
	// discovered count and must not be rejected as "capacity reached".
	t.evictNonStaticAt(r.NetworkAddress)

	if _, exists := t.records[r.AgentID]; !exists && t.discoveredCount() >= t.maxDisc {
		t.log.WithField("agent_id", r.AgentID).Warn("discovered peer capacity reached, dropping arrival")
		return
	}

	t.byAddr[r.NetworkAddress] = r.AgentID
	t.records[r.AgentID] = r
}

// MarkLost removes a discovered peer. Static peers are untouched.
func (t *Table) MarkLost(id identity.AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok || r.Source == SourceStatic {
		return
	}
	delete(t.records, id)
	delete(t.byAddr, r.NetworkAddress)
}

// MarkConnected transitions a peer to Connected, optionally recording RTT.
func (t *Table) MarkConnected(id identity.AgentID, rtt time.Duration, hasRTT bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return
	}
	r.Status = StatusConnected
	if hasRTT {
		r.RTT = rtt
		r.HasRTT = true
	}
	t.records[id] = r
}

// MarkDisconnected transitions a peer to Disconnected.
func (t *Table) MarkDisconnected(id identity.AgentID) {
	t.setStatus(id, StatusDisconnected)
}

// MarkFailed transitions a peer to Failed.
func (t *Table) MarkFailed(id identity.AgentID) {
	t.setStatus(id, StatusFailed)
}

// MarkConnecting transitions a peer to Connecting.
func (t *Table) MarkConnecting(id identity.AgentID) {
	t.setStatus(id, StatusConnecting)
}

func (t *Table) setStatus(id identity.AgentID, s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return
	}
	r.Status = s
	t.records[id] = r
}

// RemoveStale removes discovered peers whose LastSeen predates
// now-staleTimeout. Static and cached peers never expire.
func (t *Table) RemoveStale(now time.Time, staleTimeout time.Duration) []identity.AgentID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []identity.AgentID
	for id, r := range t.records {
		if r.Source == SourceStatic || r.Source == SourceCached {
			continue
		}
		if now.Sub(r.LastSeen) > staleTimeout {
			delete(t.records, id)
			delete(t.byAddr, r.NetworkAddress)
			removed = append(removed, id)
		}
	}
	return removed
}

// Snapshot returns a consistent copy of all peer records.
func (t *Table) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}

// Get returns the record for id, if present.
func (t *Table) Get(id identity.AgentID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[id]
	return r, ok
}

// Resolve looks up the network address to dial for id, satisfying
// transport.AddressResolver.
func (t *Table) Resolve(id identity.AgentID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[id]
	if !ok {
		return "", false
	}
	return r.NetworkAddress, true
}

// AddressOccupiedByStatic reports whether addr already hosts a static
// record under a different agent id than want.
func (t *Table) AddressOccupiedByStatic(addr string, want identity.AgentID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.staticAddrs[addr]
	return ok && id != want
}
