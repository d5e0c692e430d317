package router

import (
	"context"
	"time"

	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/peertable"
	"github.com/axon-project/axon/pkg/transport"
)

type backoffState struct {
	next     time.Time
	backoff  time.Duration
	inFlight bool
}

// runReconnectScheduler reconciles PeerTable status against the
// ConnectionEngine's live connections and retries disconnected/failed
// peers on a bounded exponential backoff.
func (r *Router) runReconnectScheduler(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileConnections()
			r.attemptReconnects(ctx)
		}
	}
}

func (r *Router) reconcileConnections() {
	snapshot := r.table.Snapshot()
	connectedCount := 0
	for _, rec := range snapshot {
		connected := r.eng.IsConnected(rec.AgentID)
		switch {
		case connected && rec.Status != peertable.StatusConnected:
			r.table.MarkConnected(rec.AgentID, 0, false)
			r.resetBackoff(rec.AgentID)
		case !connected && rec.Status == peertable.StatusConnected:
			r.table.MarkDisconnected(rec.AgentID)
		}
		if connected {
			connectedCount++
		}
	}
	r.mx.ConnectionsActive.Set(float64(connectedCount))
}

func (r *Router) attemptReconnects(ctx context.Context) {
	now := time.Now()
	for _, rec := range r.table.Snapshot() {
		if rec.Status != peertable.StatusDisconnected && rec.Status != peertable.StatusFailed {
			continue
		}

		r.backoffMu.Lock()
		st, ok := r.backoffState[rec.AgentID]
		if !ok {
			st = &backoffState{next: now, backoff: initialBackoff}
			r.backoffState[rec.AgentID] = st
		}
		if st.inFlight || now.Before(st.next) {
			r.backoffMu.Unlock()
			continue
		}
		st.inFlight = true
		r.backoffMu.Unlock()

		id := rec.AgentID
		r.table.MarkConnecting(id)
		r.mx.DialAttemptsTotal.Inc()

		go r.dialOnce(ctx, id)
	}
}

func (r *Router) dialOnce(ctx context.Context, id identity.AgentID) {
	dialCtx, cancel := context.WithTimeout(ctx, transport.HandshakeDeadline)
	defer cancel()
	err := r.eng.Connect(dialCtx, id)

	r.backoffMu.Lock()
	st := r.backoffState[id]
	st.inFlight = false
	if err != nil {
		st.next = time.Now().Add(st.backoff)
		st.backoff *= 2
		if st.backoff > maxBackoff {
			st.backoff = maxBackoff
		}
	} else {
		st.backoff = initialBackoff
	}
	r.backoffMu.Unlock()

	if err != nil {
		r.table.MarkFailed(id)
		r.log.WithError(err).WithField("peer", id).Debug("reconnect attempt failed")
		return
	}
	r.table.MarkConnected(id, 0, false)
}

func (r *Router) resetBackoff(id identity.AgentID) {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	if st, ok := r.backoffState[id]; ok {
		st.backoff = initialBackoff
	}
}
