package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tejusbharadwaj/domotik/internal/models"
)

// Metrics tracks cursor usage. A nil *Metrics records nothing.
type Metrics struct {
	OpenCursors prometheus.Gauge
	Rows        *prometheus.CounterVec
	Batches     *prometheus.CounterVec
	Errors      *prometheus.CounterVec
}

// NewMetrics creates the stream collectors and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpenCursors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "domotik_stream_open_cursors",
			Help: "Number of storage cursors currently held open",
		}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domotik_stream_rows_total",
			Help: "Number of records streamed per sensor kind",
		}, []string{"kind"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domotik_stream_batches_total",
			Help: "Number of non-empty batches fetched per sensor kind",
		}, []string{"kind"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domotik_stream_errors_total",
			Help: "Number of streams terminated by an error",
		}, []string{"kind", "stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.OpenCursors, m.Rows, m.Batches, m.Errors)
	}
	return m
}

func (m *Metrics) opened() {
	if m != nil {
		m.OpenCursors.Inc()
	}
}

func (m *Metrics) released() {
	if m != nil {
		m.OpenCursors.Dec()
	}
}

func (m *Metrics) fetched(kind models.SensorKind, n int) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(kind.Kind.String()).Inc()
	m.Rows.WithLabelValues(kind.Kind.String()).Add(float64(n))
}

func (m *Metrics) failed(kind models.SensorKind, stage string) {
	if m != nil {
		m.Errors.WithLabelValues(kind.Kind.String(), stage).Inc()
	}
}
