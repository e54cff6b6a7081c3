// Package telemetry exposes a per-protocol active-connections gauge as a
// Prometheus metric on a /metrics HTTP endpoint. The gauge holds whatever
// SetActiveConnections last recorded; BaseAdapter.ConnCount is not fed
// into it by the adapters.
package telemetry

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the active-connections gauge, labelled by protocol.
type Metrics struct {
	ActiveConnections *prometheus.GaugeVec
	registry          *prometheus.Registry
	server            *http.Server
}

// New creates a Metrics instance registered against its own registry (not
// the global default, so multiple test instances don't collide).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dittofs",
			Name:      "active_connections",
			Help:      "Current number of open connections per protocol adapter.",
		}, []string{"protocol"}),
	}
	reg.MustRegister(m.ActiveConnections)
	return m
}

// SetActiveConnections records the current connection count for protocol.
func (m *Metrics) SetActiveConnections(protocol string, count int32) {
	m.ActiveConnections.WithLabelValues(protocol).Set(float64(count))
}

// Serve starts the /metrics HTTP endpoint and blocks until ctx is
// cancelled, mirroring the protocol adapters' own Serve(ctx) contract.
func (m *Metrics) Serve(ctx context.Context, bindAddress string, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", net.JoinHostPort(bindAddress, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	m.server = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- m.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = m.server.Close()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Warn("telemetry: metrics server error", "error", err)
			return err
		}
		return nil
	}
}
