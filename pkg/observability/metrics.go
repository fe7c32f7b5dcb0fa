package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Stream outcomes recorded by the gateway
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Metrics owns the Prometheus registry served at /metrics.
// OpenTelemetry instruments are exported into the same registry.
type Metrics struct {
	Registry      *prometheus.Registry
	MeterProvider *metric.MeterProvider

	GatewayStreams  *prometheus.CounterVec
	GatewayDeltas   prometheus.Counter
	GatewayDuration prometheus.Histogram
	MemoryUpdates   *prometheus.CounterVec
}

// NewMetrics builds a fresh registry with the gateway and memory collectors
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	exp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(exp))

	m := &Metrics{
		Registry:      reg,
		MeterProvider: mp,
		GatewayStreams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentra_gateway_streams_total",
			Help: "Chat turns served by the streaming gateway, by outcome.",
		}, []string{"outcome"}),
		GatewayDeltas: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentra_gateway_deltas_total",
			Help: "Delta events written by the streaming gateway.",
		}),
		GatewayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentra_gateway_stream_duration_seconds",
			Help:    "Wall-clock duration of streamed chat turns.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		MemoryUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentra_cfm_updates_total",
			Help: "Memory summarization passes, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.GatewayStreams,
		m.GatewayDeltas,
		m.GatewayDuration,
		m.MemoryUpdates,
	)

	return m, nil
}

// SetGlobal makes the meter provider the otel global
func (m *Metrics) SetGlobal() {
	otel.SetMeterProvider(m.MeterProvider)
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
