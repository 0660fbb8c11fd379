package filestore

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts Indexer activity. A nil *Metrics records nothing.
type Metrics struct {
	events     *prometheus.CounterVec
	errors     prometheus.Counter
	queueDepth prometheus.Gauge
	scanned    prometheus.Counter
}

// NewMetrics registers the Indexer metrics on reg. It returns nil when reg is
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedb_indexer_events_total",
			Help: "Filesystem events applied to the cache, by kind",
		}, []string{"kind"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipedb_indexer_errors_total",
			Help: "Documents that failed to sync",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipedb_indexer_queue_depth",
			Help: "Events waiting to be applied",
		}),
		scanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipedb_indexer_scanned_files_total",
			Help: "Documents loaded by the initial scan",
		}),
	}
	reg.MustRegister(m.events, m.errors, m.queueDepth, m.scanned)
	return m
}

func (m *Metrics) event(k EventKind) {
	if m != nil {
		m.events.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.errors.Inc()
	}
}

func (m *Metrics) depth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) scannedFile() {
	if m != nil {
		m.scanned.Inc()
	}
}
