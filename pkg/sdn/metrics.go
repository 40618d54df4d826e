package sdn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/appnet-org/sdnsim/pkg/transport/elements"
)

// Metrics defines the forwarding and bootstrap metrics of a network.
type Metrics struct {
	ForwardedTotal      *prometheus.CounterVec
	EscalatedTotal      *prometheus.CounterVec
	DroppedTotal        *prometheus.CounterVec
	BootstrapStarts     *prometheus.CounterVec
	BootstrapAcksTotal  *prometheus.CounterVec
	BootstrappedRouters prometheus.Gauge
	DeliveredTotal      *prometheus.CounterVec
	UndeliverableTotal  *prometheus.CounterVec
	Datagrams           *elements.DatagramMetrics
}

// NewMetrics registers the metrics with reg. Tests pass a fresh prometheus.NewRegistry so
// several networks can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ForwardedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdn_router_forwarded_total",
				Help: "Messages forwarded by a router, by kind of next hop.",
			},
			[]string{"router", "next_hop_kind"},
		),
		EscalatedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdn_router_escalated_total",
				Help: "Messages without a matching rule sent to the controller.",
			},
			[]string{"router"},
		),
		DroppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdn_router_dropped_total",
				Help: "Escalated messages dropped at the controller's instruction.",
			},
			[]string{"router"},
		),
		BootstrapStarts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdn_controller_bootstrap_starts_total",
				Help: "Times the controller triggered a router's start, retries included.",
			},
			[]string{"router"},
		),
		BootstrapAcksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdn_controller_flowmod_acks_total",
				Help: "FlowMod acknowledgments received from routers.",
			},
			[]string{"router"},
		),
		BootstrappedRouters: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sdn_controller_bootstrapped_routers",
				Help: "Routers that completed bootstrap.",
			},
		),
		DeliveredTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdn_enduser_delivered_total",
				Help: "Messages delivered to an end user.",
			},
			[]string{"end_user"},
		),
		UndeliverableTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdn_enduser_undeliverable_total",
				Help: "Sends refused because the end user has no attached router.",
			},
			[]string{"end_user"},
		),
		Datagrams: elements.NewDatagramMetrics(reg),
	}
}
