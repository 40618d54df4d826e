package elements

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/appnet-org/sdnsim/pkg/packet"
)

// DatagramMetrics counts datagrams per node, direction and packet type.
type DatagramMetrics struct {
	DatagramsTotal *prometheus.CounterVec
}

// NewDatagramMetrics registers the datagram counters with reg.
func NewDatagramMetrics(reg prometheus.Registerer) *DatagramMetrics {
	return &DatagramMetrics{
		DatagramsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdn_datagrams_total",
				Help: "Total number of datagrams sent or received by a node.",
			},
			[]string{"node", "direction", "type"},
		),
	}
}

// MetricsElement feeds DatagramMetrics for one node.
type MetricsElement struct {
	metrics *DatagramMetrics
	node    string
}

func NewMetricsElement(metrics *DatagramMetrics, node string) *MetricsElement {
	return &MetricsElement{metrics: metrics, node: node}
}

func (m *MetricsElement) OnReceive(pkt packet.Packet, _ *net.UDPAddr) error {
	m.metrics.DatagramsTotal.WithLabelValues(m.node, "in", pkt.Type().Name).Inc()
	return nil
}

func (m *MetricsElement) OnSend(pkt packet.Packet, _ *net.UDPAddr) error {
	m.metrics.DatagramsTotal.WithLabelValues(m.node, "out", pkt.Type().Name).Inc()
	return nil
}
