package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/peertable"
	"github.com/axon-project/axon/pkg/wire"
)

const defaultRequestTimeout = 30 * time.Second

func (r *Router) handleSend(ctx context.Context, req commandRequest) []byte {
	if req.To == "" || len(req.Payload) == 0 {
		return errorReply(axerr.CodeInvalidCommand, "send requires \"to\" and \"payload\"")
	}
	to := identity.AgentID(req.To)
	if to == r.local.ID {
		return errorReply(axerr.CodeSelfSend, "cannot send to self")
	}
	if _, ok := r.table.Get(to); !ok {
		return errorReply(axerr.CodePeerNotFound, "peer not in table — use add_peer or enable discovery")
	}

	switch req.Kind {
	case "message":
		env := wire.NewMessage(req.Payload)
		env.Ref = req.Ref
		if err := r.eng.SendFireAndForget(ctx, to, env); err != nil {
			return errorReply(axerr.CodePeerUnreachable, "failed to deliver message: "+err.Error())
		}
		r.incSent()
		return mustMarshal(map[string]any{"ok": true, "msg_id": env.ID})

	case "request":
		timeout := defaultRequestTimeout
		if req.TimeoutSecs != nil && *req.TimeoutSecs > 0 {
			timeout = time.Duration(*req.TimeoutSecs * float64(time.Second))
		}
		env := wire.NewRequest(req.Payload)
		env.Ref = req.Ref
		reply, err := r.eng.SendRequest(ctx, to, env, timeout)
		if err != nil {
			if code, ok := axerr.CodeOf(err); ok && code == axerr.CodeTimeout {
				return errorReply(axerr.CodeTimeout, "request timed out")
			}
			return errorReply(axerr.CodePeerUnreachable, "failed to deliver request: "+err.Error())
		}
		r.incSent()
		return mustMarshal(map[string]any{"ok": true, "msg_id": env.ID, "response": reply})

	default:
		return errorReply(axerr.CodeInvalidCommand, "kind must be \"message\" or \"request\"")
	}
}

type peerView struct {
	AgentID string   `json:"agent_id"`
	Addr    string   `json:"addr"`
	Status  string   `json:"status"`
	RTTMs   *float64 `json:"rtt_ms,omitempty"`
	Source  string   `json:"source"`
}

func (r *Router) handlePeers() []byte {
	snapshot := r.table.Snapshot()
	views := make([]peerView, 0, len(snapshot))
	for _, rec := range snapshot {
		v := peerView{
			AgentID: string(rec.AgentID),
			Addr:    rec.NetworkAddress,
			Status:  rec.Status.String(),
			Source:  rec.Source.String(),
		}
		if rec.HasRTT {
			ms := float64(rec.RTT) / float64(time.Millisecond)
			v.RTTMs = &ms
		}
		views = append(views, v)
	}
	return mustMarshal(views)
}

func (r *Router) handleStatus() []byte {
	sent, received := r.counters()
	connected := 0
	for _, rec := range r.table.Snapshot() {
		if rec.Status == peertable.StatusConnected {
			connected++
		}
	}
	return mustMarshal(map[string]any{
		"uptime_secs":       int(time.Since(r.startedAt).Seconds()),
		"peers_connected":   connected,
		"messages_sent":     sent,
		"messages_received": received,
	})
}

func (r *Router) handleWhoami() []byte {
	return mustMarshal(map[string]any{
		"agent_id":    string(r.local.ID),
		"public_key":  base64.StdEncoding.EncodeToString(r.local.Public),
		"version":     r.cfg.Version,
		"uptime_secs": int(time.Since(r.startedAt).Seconds()),
	})
}

func (r *Router) handleAddPeer(req commandRequest) []byte {
	if req.Pubkey == "" || req.Addr == "" {
		return errorReply(axerr.CodeInvalidCommand, "add_peer requires \"pubkey\" and \"addr\"")
	}
	pub, err := base64.StdEncoding.DecodeString(req.Pubkey)
	if err != nil {
		return errorReply(axerr.CodeInvalidCommand, "pubkey is not valid base64")
	}
	agentID := identity.DeriveAgentID(pub)

	if r.table.AddressOccupiedByStatic(req.Addr, agentID) {
		return errorReply(axerr.CodeInvalidCommand, "address already hosts a different static peer")
	}

	r.table.UpsertStatic(peertable.Record{
		AgentID:        agentID,
		NetworkAddress: req.Addr,
		PublicKey:      pub,
		Status:         peertable.StatusDisconnected,
		LastSeen:       time.Now(),
	})
	r.saveCache()
	return mustMarshal(map[string]any{"ok": true, "agent_id": string(agentID)})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return errorReply(axerr.CodeInternal, "failed to marshal reply")
	}
	return b
}
