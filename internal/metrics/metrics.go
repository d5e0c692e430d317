// Package metrics exposes AXON daemon health as Prometheus gauges and
// counters, scraped over an optional loopback HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Registry bundles the counters and gauges the daemon updates as it runs.
type Registry struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	DialAttemptsTotal prometheus.Counter
	MessagesSent      prometheus.Counter
	MessagesReceived  prometheus.Counter
	ControlClients    prometheus.Gauge
	QueueDrops        prometheus.Counter
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "axon_connections_active",
			Help: "Number of currently authenticated peer connections.",
		}),
		DialAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axon_dial_attempts_total",
			Help: "Total number of outbound connection attempts.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axon_messages_sent_total",
			Help: "Total number of envelopes sent to peers.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axon_messages_received_total",
			Help: "Total number of envelopes received from peers.",
		}),
		ControlClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "axon_control_clients",
			Help: "Number of connected control-socket clients.",
		}),
		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axon_queue_overflow_total",
			Help: "Total number of control clients disconnected for a full outbound queue.",
		}),
	}
	reg.MustRegister(
		r.ConnectionsActive,
		r.DialAttemptsTotal,
		r.MessagesSent,
		r.MessagesReceived,
		r.ControlClients,
		r.QueueDrops,
	)
	return r
}

// Serve exposes /metrics on addr until ctx is canceled.
func (r *Registry) Serve(ctx context.Context, addr string, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("metrics server exited")
		}
		return err
	}
}
