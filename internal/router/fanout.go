package router

import (
	"context"
	"encoding/json"
)

type inboundEvent struct {
	Event    string          `json:"event"`
	From     string          `json:"from"`
	Envelope json.RawMessage `json:"envelope"`
}

// runFanOut delivers every validated inbound envelope to every connected
// control client's bounded queue. A client whose queue is full is
// disconnected; delivery to other clients is unaffected.
func (r *Router) runFanOut(ctx context.Context) {
	inbound := r.eng.SubscribeInbound()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-inbound:
			if r.replayGuard != nil && r.replayGuard.Seen(rec.Envelope.ID) {
				continue
			}
			r.incReceived()

			envJSON, err := json.Marshal(rec.Envelope)
			if err != nil {
				r.log.WithError(err).Warn("failed to marshal inbound envelope for fan-out")
				continue
			}
			line, err := json.Marshal(inboundEvent{
				Event:    "inbound",
				From:     string(rec.From),
				Envelope: envJSON,
			})
			if err != nil {
				r.log.WithError(err).Warn("failed to marshal inbound fan-out event")
				continue
			}

			r.broadcast(line)
		}
	}
}

func (r *Router) broadcast(line []byte) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	for c := range r.clients {
		if !c.send(line) {
			delete(r.clients, c)
			r.mx.QueueDrops.Inc()
			c.Close()
		}
	}
	r.mx.ControlClients.Set(float64(len(r.clients)))
}
