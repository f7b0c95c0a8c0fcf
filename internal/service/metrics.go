package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts mapping engine operations. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Allocations      prometheus.Counter
	Repairs          *prometheus.CounterVec
	TombstonedChunks prometheus.Counter
	Errors           *prometheus.CounterVec
}

// NewMetrics creates the engine counters and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockmap_allocations_total",
			Help: "Parts allocated with a new chunk and blocks.",
		}),
		Repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockmap_repairs_total",
			Help: "Bad block reports by kind (write_realloc, read_observed).",
		}, []string{"kind"}),
		TombstonedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockmap_tombstoned_chunks_total",
			Help: "Chunks submitted for tombstoning.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockmap_operation_errors_total",
			Help: "Failed engine operations by operation name.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Allocations, m.Repairs, m.TombstonedChunks, m.Errors)
	}
	return m
}

func (m *Metrics) allocated() {
	if m != nil {
		m.Allocations.Inc()
	}
}

func (m *Metrics) repaired(kind string) {
	if m != nil {
		m.Repairs.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) tombstoned(chunks int) {
	if m != nil {
		m.TombstonedChunks.Add(float64(chunks))
	}
}

func (m *Metrics) failed(op string, err error) {
	if m != nil && err != nil {
		m.Errors.WithLabelValues(op).Inc()
	}
}
