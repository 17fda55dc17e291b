package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the Prometheus instruments exposed on /metrics. These
// mirror the teacher's latency-histogram-per-backend idiom
// (db.query.latency, redis.command.latency), applied to this system's own
// backends: outbound RPC calls, 2PC outcomes, and heartbeat failures.
type Metrics struct {
	Registry *prometheus.Registry

	RPCCallDuration   *prometheus.HistogramVec
	RPCCallsTotal     *prometheus.CounterVec
	TwoPCOutcomes     *prometheus.CounterVec
	HeartbeatFailures *prometheus.CounterVec
	RoomsHosted       prometheus.Gauge
	MembersHosted     prometheus.Gauge
}

// NewMetrics registers every instrument against a fresh Prometheus
// registry (rather than the global default one) so a process can host
// more than one node's Metrics without a duplicate-registration panic,
// and returns the handle used to record observations.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RPCCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "noded_rpc_call_duration_seconds",
			Help: "Duration of outbound inter-node RPC calls by method.",
		}, []string{"method"}),
		RPCCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noded_rpc_calls_total",
			Help: "Outbound inter-node RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		TwoPCOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noded_twopc_outcomes_total",
			Help: "2PC room-deletion outcomes by result.",
		}, []string{"result"}),
		HeartbeatFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noded_heartbeat_failures_total",
			Help: "Heartbeat failures observed per peer node.",
		}, []string{"peer_node_id"}),
		RoomsHosted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "noded_rooms_hosted",
			Help: "Number of rooms currently administered by this node.",
		}),
		MembersHosted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "noded_members_hosted",
			Help: "Total member count across rooms administered by this node.",
		}),
	}
}
