package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DocumentsRegistered prometheus.Counter
	SignaturesCollected prometheus.Counter
	DocumentsCompleted  prometheus.Counter
	MintFailures        prometheus.Counter
	OperationDuration   *prometheus.HistogramVec
}

// New registers the document metrics with reg, or the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		DocumentsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_documents_registered_total",
			Help: "Total number of documents registered",
		}),
		SignaturesCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_signatures_collected_total",
			Help: "Total number of signatures accepted",
		}),
		DocumentsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_documents_completed_total",
			Help: "Total number of documents that reached full execution and minted",
		}),
		MintFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "signet_mint_failures_total",
			Help: "Total number of mint attempts that failed",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signet_document_operation_duration_seconds",
			Help:    "Duration of document workflow operations",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) IncrementRegistered() {
	m.DocumentsRegistered.Inc()
}

func (m *Metrics) IncrementSignatures() {
	m.SignaturesCollected.Inc()
}

func (m *Metrics) IncrementCompleted() {
	m.DocumentsCompleted.Inc()
}

func (m *Metrics) IncrementMintFailures() {
	m.MintFailures.Inc()
}

func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OperationDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
