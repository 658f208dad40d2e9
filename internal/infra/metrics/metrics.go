// Package metrics: счётчики операций склада и импорта для /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Spok95/binledger/internal/errs"
)

type Metrics struct {
	ops        *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	importRows *prometheus.CounterVec
}

// New регистрирует коллекторы в reg, при nil в prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binledger",
			Name:      "operations_total",
			Help:      "Ledger operations by op, mode and outcome.",
		}, []string{"op", "mode", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "binledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binledger",
			Name:      "import_rows_total",
			Help:      "Imported rows by entity and outcome.",
		}, []string{"entity", "outcome"}),
	}
	reg.MustRegister(m.ops, m.latency, m.importRows)
	return m
}

// Outcome: "ok" или вид ошибки.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errs.KindOf(err))
}

// ObserveOp безопасен на nil-получателе.
func (m *Metrics) ObserveOp(op, mode string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, mode, Outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) ImportRows(entity, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.importRows.WithLabelValues(entity, outcome).Add(float64(n))
}
