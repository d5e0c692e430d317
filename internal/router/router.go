// Package router implements the DaemonRouter: it drains discovery events
// into the peer table, runs the reconnect scheduler, fans inbound
// envelopes out to control clients, services control-socket commands, and
// persists the known-peers cache.
package router

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/axon-project/axon/internal/discovery"
	"github.com/axon-project/axon/internal/metrics"
	"github.com/axon-project/axon/internal/peercache"
	"github.com/axon-project/axon/internal/replay"
	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/peertable"
	"github.com/axon-project/axon/pkg/transport"
)

// Config carries the parts of the daemon configuration the router needs
// that are not already embedded in its collaborators.
type Config struct {
	ControlSocketPath string
	ControlQueueDepth int
	StaleTimeout      time.Duration
	CacheSavePeriod   time.Duration
	ReplayGuardTTL    time.Duration // zero disables the replay guard
	Version           string
}

// Router is the DaemonRouter.
type Router struct {
	cfg   Config
	local *identity.Identity
	table *peertable.Table
	eng   *transport.Engine
	log   *logrus.Entry
	mx    *metrics.Registry

	mdns   *discovery.MDNS
	static *discovery.Static

	cacheWriter *peercache.Writer
	replayGuard *replay.Guard

	startedAt time.Time

	backoffMu    sync.Mutex
	backoffState map[identity.AgentID]*backoffState

	clientsMu sync.Mutex
	clients   map[*controlClient]struct{}

	messagesSent     int64
	messagesReceived int64
	sentMu           sync.Mutex
	recvMu           sync.Mutex
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// New builds a Router over already-constructed collaborators. local, table,
// and eng are the same identity/table/engine instances the transport layer
// was bound with.
func New(cfg Config, local *identity.Identity, table *peertable.Table, eng *transport.Engine,
	mdns *discovery.MDNS, static *discovery.Static, cacheWriter *peercache.Writer,
	mx *metrics.Registry, log *logrus.Entry) *Router {

	var guard *replay.Guard
	if cfg.ReplayGuardTTL > 0 {
		guard = replay.NewGuard(cfg.ReplayGuardTTL)
	}

	return &Router{
		cfg:          cfg,
		local:        local,
		table:        table,
		eng:          eng,
		log:          log,
		mx:           mx,
		mdns:         mdns,
		static:       static,
		cacheWriter:  cacheWriter,
		replayGuard:  guard,
		startedAt:    time.Now(),
		backoffState: make(map[identity.AgentID]*backoffState),
		clients:      make(map[*controlClient]struct{}),
	}
}

// Run drives the daemon until ctx is canceled, then performs graceful
// shutdown: stop accepting new control clients, close all connections,
// persist the cache, and remove the control socket file.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	events := make(chan discovery.Event, 64)

	if r.static != nil {
		g.Go(func() error {
			r.static.Run(gctx, events)
			return nil
		})
	}
	if r.mdns != nil {
		g.Go(func() error {
			if err := r.mdns.Run(gctx, events); err != nil && gctx.Err() == nil {
				r.log.WithError(err).Warn("mdns browse stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		r.drainDiscovery(gctx, events)
		return nil
	})

	g.Go(func() error {
		r.runReconnectScheduler(gctx)
		return nil
	})

	g.Go(func() error {
		r.runStaleSweeper(gctx)
		return nil
	})

	g.Go(func() error {
		r.runCacheSaver(gctx)
		return nil
	})

	g.Go(func() error {
		r.runFanOut(gctx)
		return nil
	})

	g.Go(func() error {
		if err := r.serveControlSocket(gctx); err != nil && gctx.Err() == nil {
			r.log.WithError(err).Error("control socket server stopped")
			return err
		}
		return nil
	})

	<-gctx.Done()
	r.shutdown()
	return g.Wait()
}

func (r *Router) shutdown() {
	r.clientsMu.Lock()
	for c := range r.clients {
		c.Close()
	}
	r.clientsMu.Unlock()

	r.eng.CloseAll()
	r.saveCache()
	if r.cacheWriter != nil {
		r.cacheWriter.Close()
	}
}

func (r *Router) drainDiscovery(ctx context.Context, events <-chan discovery.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.handleDiscoveryEvent(ev)
		}
	}
}

func (r *Router) handleDiscoveryEvent(ev discovery.Event) {
	switch ev.Kind {
	case discovery.Arrive:
		rec := peertable.Record{
			AgentID:        ev.AgentID,
			NetworkAddress: ev.Addr,
			PublicKey:      ev.Pubkey,
			LastSeen:       time.Now(),
		}
		if ev.Origin == discovery.OriginStatic {
			r.table.UpsertStatic(rec)
		} else {
			r.table.UpsertDiscovered(rec)
		}
	case discovery.Lose:
		r.table.MarkLost(ev.AgentID)
	}
	r.saveCache()
}

func (r *Router) runStaleSweeper(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := r.table.RemoveStale(time.Now(), r.cfg.StaleTimeout)
			if len(removed) > 0 {
				r.saveCache()
			}
		}
	}
}

func (r *Router) runCacheSaver(ctx context.Context) {
	period := r.cfg.CacheSavePeriod
	if period <= 0 {
		period = 60 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.saveCache()
		}
	}
}

func (r *Router) saveCache() {
	if r.cacheWriter == nil {
		return
	}
	snapshot := r.table.Snapshot()
	entries := make([]peercache.Entry, 0, len(snapshot))
	for _, rec := range snapshot {
		entries = append(entries, peercache.Entry{
			AgentID:        string(rec.AgentID),
			NetworkAddress: rec.NetworkAddress,
			PublicKey:      base64.StdEncoding.EncodeToString(rec.PublicKey),
		})
	}
	r.cacheWriter.Save(entries)
}

func (r *Router) incSent() {
	r.sentMu.Lock()
	r.messagesSent++
	r.sentMu.Unlock()
	r.mx.MessagesSent.Inc()
}

func (r *Router) incReceived() {
	r.recvMu.Lock()
	r.messagesReceived++
	r.recvMu.Unlock()
	r.mx.MessagesReceived.Inc()
}

func (r *Router) counters() (sent, received int64) {
	r.sentMu.Lock()
	sent = r.messagesSent
	r.sentMu.Unlock()
	r.recvMu.Lock()
	received = r.messagesReceived
	r.recvMu.Unlock()
	return
}
